package geoip

import (
	"context"
	"net"

	"github.com/oschwald/geoip2-golang"

	"config-checker/internal/model"
)

const (
	Unavailable = "N/A"
	Unknown     = "UNKNOWN"
)

// Database is nil-safe: a nil *Database answers Unavailable.
type Database struct {
	reader   *geoip2.Reader
	resolver *net.Resolver
}

func Open(path string) (*Database, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &Database{reader: r, resolver: net.DefaultResolver}, nil
}

func (d *Database) Lookup(ip net.IP) string {
	if d == nil || d.reader == nil {
		return Unavailable
	}
	if ip == nil {
		return Unknown
	}

	record, err := d.reader.Country(ip)
	if err != nil || record.Country.IsoCode == "" {
		return Unknown
	}
	return record.Country.IsoCode
}

// Country resolves host when it is not an IP literal, then looks it up.
func (d *Database) Country(ctx context.Context, host string) string {
	if d == nil || d.reader == nil {
		return Unavailable
	}
	if ip := net.ParseIP(host); ip != nil {
		return d.Lookup(ip)
	}

	addrs, err := d.resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return Unknown
	}
	return d.Lookup(addrs[0].IP)
}

// Enrich fills Country on every outcome in place.
func (d *Database) Enrich(ctx context.Context, outcomes []model.Outcome) {
	if d == nil {
		return
	}
	for i := range outcomes {
		outcomes[i].Country = d.Country(ctx, outcomes[i].Candidate.Address)
	}
}

func (d *Database) Close() error {
	if d == nil || d.reader == nil {
		return nil
	}
	return d.reader.Close()
}
