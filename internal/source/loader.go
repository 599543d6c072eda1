package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultSources are public aggregated subscription lists.
var DefaultSources = []string{
	"https://raw.githubusercontent.com/MatinGhanbari/v2ray-configs/main/subscriptions/v2ray/all_sub.txt",
	"https://raw.githubusercontent.com/barry-far/V2ray-Config/main/All_Configs_Sub.txt",
	"https://raw.githubusercontent.com/ebrasha/free-v2ray-public-list/main/all_extracted_configs.txt",
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// ReadLines returns trimmed non-empty lines, skipping "#" comments.
func ReadLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	// Increase buffer size for very long lines (some subscription links are huge)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func LoadFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadLines(file)
}

// Fetcher downloads descriptor lists from HTTP(S) sources.
type Fetcher struct {
	client *http.Client
}

// NewFetcher builds a fetcher. A non-empty proxyURL (e.g. socks5://host:port)
// routes every request through that upstream.
func NewFetcher(timeout time.Duration, proxyURL string) (*Fetcher, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid fetch proxy: %w", err)
		}
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("invalid fetch proxy: %w", err)
		}
		transport.Proxy = nil
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
	}

	return &Fetcher{client: &http.Client{Timeout: timeout, Transport: transport}}, nil
}

// FetchAll fetches every source concurrently. A failing source is logged
// and skipped; the result keeps source order.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []string {
	perSource := make([][]string, len(urls))

	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			lines, err := f.Fetch(ctx, u)
			if err != nil {
				slog.Warn("source_fetch_failed", "url", u, "error", err)
				return
			}
			slog.Info("source_fetched", "url", u, "lines", len(lines))
			perSource[i] = lines
		}(i, u)
	}
	wg.Wait()

	var all []string
	for _, lines := range perSource {
		all = append(all, lines...)
	}
	return all
}

// Fetch streams one source (e.g., Github raw) into lines.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return ReadLines(resp.Body)
}
