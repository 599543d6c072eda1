package tester

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"config-checker/internal/model"
)

var (
	ErrEngineExited = errors.New("engine exited before probing")
	ErrCheckFailed  = errors.New("target check failed")
)

const (
	DefaultTarget       = "www.google.com:443"
	DefaultGrace        = 500 * time.Millisecond
	DefaultReadyTimeout = 2 * time.Second
	DefaultStopTimeout  = 3 * time.Second
)

// Runner validates a candidate by spawning the external engine with a
// generated configuration and driving SOCKS5 traffic through it.
type Runner struct {
	BinPath string
	// Args precede the config path on the engine command line.
	Args   []string
	Env    []string
	Flavor Flavor

	// Target is dialed through the engine. IPv4 literals get an HTTP
	// request, domain names a TLS handshake against CheckHost.
	Target    string
	CheckHost string
	TLSConfig *tls.Config

	Timeout      time.Duration
	Grace        time.Duration
	ReadyTimeout time.Duration
	StopTimeout  time.Duration
	TempDir      string
}

func NewRunner(binPath, target string, timeout time.Duration) *Runner {
	return &Runner{
		BinPath:      binPath,
		Args:         []string{"run", "-c"},
		Flavor:       FlavorXray,
		Target:       target,
		Timeout:      timeout,
		Grace:        DefaultGrace,
		ReadyTimeout: DefaultReadyTimeout,
		StopTimeout:  DefaultStopTimeout,
	}
}

// Verify never fails: every error becomes a failed outcome with latency -1.
func (r *Runner) Verify(ctx context.Context, c model.Candidate) model.Outcome {
	latency, err := r.Test(ctx, c)
	if err != nil {
		slog.Debug("functional_validation_failed", "target", c.HostPort(), "protocol", c.Type(), "error", err)
		return model.Outcome{Candidate: c}
	}
	return model.Outcome{Candidate: c, OK: true, Latency: latency}
}

// Test runs Configuring -> Spawning -> AwaitingReady -> Probing ->
// Terminating and returns the probe latency. The temporary config and the
// child process are released on every return path.
func (r *Runner) Test(ctx context.Context, c model.Candidate) (latency time.Duration, err error) {
	log := slog.With("target", c.HostPort(), "protocol", c.Type())

	// 1. Port Allocation
	port, err := getFreePort()
	if err != nil {
		log.Error("local_port_allocation_failed", "error", err)
		return 0, err
	}

	// 2. Config Generation
	configData, err := GenerateConfig(r.Flavor, c, port)
	if err != nil {
		log.Error("config_generation_failed", "error", err)
		return 0, err
	}

	configName, err := writeTempConfig(r.TempDir, string(r.flavor()), configData)
	if err != nil {
		return 0, err
	}
	defer os.Remove(configName)

	// 3. Process Execution
	args := append(append([]string{}, r.Args...), configName)
	engine, err := startEngine(r.BinPath, args, r.Env, r.stopTimeout())
	if err != nil {
		log.Debug("engine_process_start_failed", "error", err)
		return 0, err
	}
	defer func() {
		engine.Stop(r.stopTimeout())
		if out := engine.Output(); out != "" {
			log.Debug("engine_output", "ok", err == nil, "output", out)
		}
	}()

	// 4. Wait for Binding
	select {
	case <-time.After(r.grace()):
	case <-engine.Done():
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	if engine.Exited() {
		log.Debug("engine_exited_early", "local_port", port)
		return 0, fmt.Errorf("%w: %s", ErrEngineExited, engine.Output())
	}
	if !waitForPort(ctx, port, r.readyTimeout()) {
		log.Debug("engine_bind_timeout", "local_port", port)
		return 0, fmt.Errorf("process_bind_timeout")
	}

	// 5. SOCKS5 Probe
	latency, err = r.probe(ctx, port)
	if err != nil {
		log.Debug("socks_probe_failed", "error", err)
		return 0, err
	}
	if latency <= 0 {
		latency = time.Microsecond
	}
	return latency, nil
}

// probe measures greeting + CONNECT + target check through the local inbound.
func (r *Runner) probe(ctx context.Context, port int) (time.Duration, error) {
	host, targetPort, err := splitTarget(r.target())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCheckFailed, err)
	}

	start := time.Now()
	dialer := &net.Dialer{Timeout: r.timeout()}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return 0, fmt.Errorf("%w: dial local inbound: %v", ErrSOCKS, err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(r.timeout()))
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := socksGreeting(conn); err != nil {
		return 0, err
	}
	if err := socksConnect(conn, host, targetPort); err != nil {
		return 0, err
	}

	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
		err = r.checkHTTP(conn, host)
	} else {
		err = r.checkTLS(ctx, conn, host)
	}
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// checkHTTP requests /generate_204 over the tunnel and accepts any
// well-formed HTTP response.
func (r *Runner) checkHTTP(conn net.Conn, host string) error {
	hostHeader := r.CheckHost
	if hostHeader == "" {
		hostHeader = host
	}
	req := fmt.Sprintf("GET /generate_204 HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", hostHeader)
	if _, err := conn.Write([]byte(req)); err != nil {
		return fmt.Errorf("%w: write request: %v", ErrCheckFailed, err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrCheckFailed, err)
	}
	resp.Body.Close()
	return nil
}

// checkTLS completes a TLS handshake with CheckHost over the tunnel.
func (r *Runner) checkTLS(ctx context.Context, conn net.Conn, host string) error {
	cfg := &tls.Config{}
	if r.TLSConfig != nil {
		cfg = r.TLSConfig.Clone()
	}
	cfg.ServerName = r.CheckHost
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("%w: tls handshake: %v", ErrCheckFailed, err)
	}
	return nil
}

func (r *Runner) flavor() Flavor {
	if r.Flavor == "" {
		return FlavorXray
	}
	return r.Flavor
}

func (r *Runner) target() string {
	if r.Target == "" {
		return DefaultTarget
	}
	return r.Target
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout <= 0 {
		return 10 * time.Second
	}
	return r.Timeout
}

func (r *Runner) grace() time.Duration {
	if r.Grace <= 0 {
		return DefaultGrace
	}
	return r.Grace
}

func (r *Runner) readyTimeout() time.Duration {
	if r.ReadyTimeout <= 0 {
		return DefaultReadyTimeout
	}
	return r.ReadyTimeout
}

func (r *Runner) stopTimeout() time.Duration {
	if r.StopTimeout <= 0 {
		return DefaultStopTimeout
	}
	return r.StopTimeout
}

func writeTempConfig(dir, prefix string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, prefix+"_*.json")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func waitForPort(ctx context.Context, port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
	return false
}
