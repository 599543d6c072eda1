package dedup

import (
	"fmt"
	"sync"

	"config-checker/internal/model"
	"config-checker/internal/parser"
)

type Filter struct {
	seen map[string]struct{}
	mu   sync.Mutex
}

func New() *Filter {
	return &Filter{
		seen: make(map[string]struct{}),
	}
}

// Key returns the canonical identity of a candidate. Cosmetic fields such
// as the display name never take part, so re-published copies collapse.
func Key(c model.Candidate) string {
	switch s := c.Settings.(type) {
	case model.VLESS:
		return fmt.Sprintf("vless:%s:%s:%d:%s:%s:%s:%s",
			s.UUID, c.Address, c.Port, s.Network, s.Security, s.Path, s.Host)
	case model.VMess:
		return fmt.Sprintf("vmess:%s:%s:%d:%s:%s:%s",
			s.UUID, c.Address, c.Port, s.Network, s.Path, s.Host)
	case model.Shadowsocks:
		return fmt.Sprintf("ss:%s:%s:%d", s.Method, c.Address, c.Port)
	case model.Trojan:
		return fmt.Sprintf("trojan:%s:%s:%d:%s:%s:%s",
			s.Password, c.Address, c.Port, s.Network, s.Path, s.SNI)
	}
	return c.RawLink
}

// Seen reports whether an equivalent candidate was already recorded, and
// records it otherwise. Safe for concurrent use.
func (f *Filter) Seen(c model.Candidate) bool {
	key := Key(c)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.seen[key]; exists {
		return true
	}
	f.seen[key] = struct{}{}
	return false
}

// Stats counts what Deduplicate dropped.
type Stats struct {
	Lines      int
	Malformed  int
	Duplicates int
}

// Deduplicate parses lines in order and keeps the first candidate for each
// canonical key. Lines that fail to parse are dropped and counted apart.
func Deduplicate(lines []string) ([]model.Candidate, Stats) {
	f := New()
	stats := Stats{Lines: len(lines)}
	out := make([]model.Candidate, 0, len(lines))

	for _, line := range lines {
		c, err := parser.ParseLink(line)
		if err != nil {
			stats.Malformed++
			continue
		}
		if f.Seen(c) {
			stats.Duplicates++
			continue
		}
		out = append(out, c)
	}
	return out, stats
}
