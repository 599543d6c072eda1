package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLines(t *testing.T) {
	in := "  vless://a@b:1  \n\n# comment\r\ntrojan://p@h:2\n"
	lines, err := ReadLines(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"vless://a@b:1", "trojan://p@h:2"}, lines)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.txt")
	require.NoError(t, os.WriteFile(path, []byte("ss://x@h:1\n"), 0o644))

	lines, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ss://x@h:1"}, lines)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestFetchAll_IndependentFailuresAndOrder(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, "a1\na2\n")
	}))
	defer slow.Close()

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		fmt.Fprint(w, "b1\n")
	}))
	defer fast.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer broken.Close()

	f, err := NewFetcher(2*time.Second, "")
	require.NoError(t, err)

	lines := f.FetchAll(context.Background(), []string{slow.URL, broken.URL, "http://127.0.0.1:1/unreachable", fast.URL})
	assert.Equal(t, []string{"a1", "a2", "b1"}, lines)
}

func TestFetch_Timeout(t *testing.T) {
	hang := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer hang.Close()

	f, err := NewFetcher(100*time.Millisecond, "")
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), hang.URL)
	assert.Error(t, err)
}

func TestNewFetcher_ProxyURL(t *testing.T) {
	_, err := NewFetcher(time.Second, "socks5://127.0.0.1:1080")
	require.NoError(t, err)

	_, err = NewFetcher(time.Second, "gopher://127.0.0.1:70")
	assert.Error(t, err)
}
