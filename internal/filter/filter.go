package filter

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"config-checker/internal/model"
)

// Result is the verdict of one cheap check plus a short diagnostic.
type Result struct {
	OK      bool
	Reason  string
	Elapsed time.Duration
}

// Pipeline manages the "Cheap Check" logic
type Pipeline struct {
	Timeout  time.Duration
	Resolver *net.Resolver

	// Limiter paces outgoing dials across all workers. Nil means unlimited.
	Limiter *rate.Limiter
}

func NewPipeline(timeout time.Duration) *Pipeline {
	return &Pipeline{Timeout: timeout, Resolver: net.DefaultResolver}
}

// Check resolves, connects and, for TLS-family endpoints, completes a TLS
// handshake. Every step is bounded by Timeout and the socket is always closed.
func (f *Pipeline) Check(ctx context.Context, c model.Candidate) Result {
	log := slog.With("target", c.HostPort(), "protocol", c.Type())
	start := time.Now()

	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return Result{Reason: "cancelled"}
		}
	}

	// 1. DNS (IPv4 only)
	ip, err := f.resolve(ctx, c.Address)
	if err != nil {
		log.Debug("dns_resolution_failed", "error", err)
		return Result{Reason: "DNS resolution failed"}
	}

	// 2. TCP Connectivity
	dialer := &net.Dialer{Timeout: f.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp4", net.JoinHostPort(ip.String(), strconv.Itoa(c.Port)))
	if err != nil {
		log.Debug("tcp_connect_failed", "duration", time.Since(start), "error", err)
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return Result{Reason: "TCP timeout"}
		}
		return Result{Reason: "TCP failed: " + short(err, 30)}
	}
	defer conn.Close()

	if !c.UsesTLS() && !model.IsTLSSecurity(c.Security()) {
		elapsed := time.Since(start)
		log.Debug("network_checks_passed", "note", "tls_skipped")
		return Result{OK: true, Reason: fmt.Sprintf("TCP OK - %dms", elapsed.Milliseconds()), Elapsed: elapsed}
	}

	// 3. TLS Handshake
	// Certificates are not verified: self-signed and Reality endpoints are
	// expected. Only the ability to complete a handshake is measured.
	sni := c.ServerName()
	_ = conn.SetDeadline(time.Now().Add(f.Timeout))
	tlsConn := tls.Client(conn, &tls.Config{
		InsecureSkipVerify: true,
		ServerName:         sni,
	})
	defer tlsConn.Close()

	hctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		log.Debug("tls_handshake_failed", "sni", sni, "duration", time.Since(start), "error", err)
		return Result{Reason: "SSL error: " + short(err, 30)}
	}
	if tlsConn.ConnectionState().CipherSuite == 0 {
		return Result{Reason: "SSL handshake failed"}
	}

	// The verdict is already decided by the handshake. A failed probe write
	// is logged and otherwise has no effect.
	if probe := handshakeProbe(c); probe != nil {
		if _, err := tlsConn.Write(probe); err != nil {
			log.Debug("handshake_probe_send_failed", "error", err)
		}
	}

	elapsed := time.Since(start)
	log.Debug("network_checks_passed", "sni", sni, "duration", elapsed)
	return Result{OK: true, Reason: fmt.Sprintf("SSL OK - %dms", elapsed.Milliseconds()), Elapsed: elapsed}
}

func (f *Pipeline) resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("not an ipv4 address: %s", host)
	}

	resolver := f.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	rctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	ips, err := resolver.LookupIP(rctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no ipv4 address for %s", host)
	}
	return ips[0], nil
}

// short keeps the first n runes of the error text.
func short(err error, n int) string {
	r := []rune(err.Error())
	if len(r) > n {
		return string(r[:n])
	}
	return string(r)
}
