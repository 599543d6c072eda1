package model

import (
	"net"
	"strconv"
	"strings"
	"time"
)

type ProxyType string

const (
	TypeVLESS       ProxyType = "vless"
	TypeVMess       ProxyType = "vmess"
	TypeTrojan      ProxyType = "trojan"
	TypeShadowsocks ProxyType = "ss"
)

// Settings is the protocol-specific part of a Candidate. The set of
// implementations is closed: VLESS, VMess, Shadowsocks and Trojan.
type Settings interface {
	Type() ProxyType
	sealed()
}

// Transport holds the stream fields shared by the URI-style protocols.
type Transport struct {
	Network  string `json:"network"`
	Security string `json:"security"`
	Path     string `json:"path"`
	Host     string `json:"host"`
	SNI      string `json:"sni,omitempty"`
}

type Reality struct {
	PublicKey   string `json:"pbk,omitempty"`
	ShortID     string `json:"sid,omitempty"`
	Fingerprint string `json:"fp,omitempty"`
}

type VLESS struct {
	UUID string `json:"uuid"`
	Flow string `json:"flow,omitempty"`
	Transport
	Reality
}

type VMess struct {
	UUID    string `json:"uuid"`
	AlterID int    `json:"aid"`
	Transport
}

type Shadowsocks struct {
	Method   string `json:"method"`
	Password string `json:"password"`
}

type Trojan struct {
	Password string `json:"password"`
	Transport
	Fingerprint string `json:"fp,omitempty"`
}

func (VLESS) Type() ProxyType       { return TypeVLESS }
func (VMess) Type() ProxyType       { return TypeVMess }
func (Shadowsocks) Type() ProxyType { return TypeShadowsocks }
func (Trojan) Type() ProxyType      { return TypeTrojan }

func (VLESS) sealed()       {}
func (VMess) sealed()       {}
func (Shadowsocks) sealed() {}
func (Trojan) sealed()      {}

// Candidate is one parsed descriptor. It is passed by value and never
// mutated after the parser builds it.
type Candidate struct {
	// --- Identity ---
	RawLink string `json:"link"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`

	Settings Settings `json:"settings"`
}

func (c Candidate) Type() ProxyType {
	if c.Settings == nil {
		return ""
	}
	return c.Settings.Type()
}

// HostPort returns the dialable "address:port" of the endpoint.
func (c Candidate) HostPort() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// Security returns the declared security mode, or "" for protocols without one.
func (c Candidate) Security() string {
	switch s := c.Settings.(type) {
	case VLESS:
		return s.Security
	case VMess:
		return s.Security
	case Trojan:
		return s.Security
	}
	return ""
}

// UsesTLS reports whether the endpoint expects a TLS-family handshake.
func (c Candidate) UsesTLS() bool {
	switch s := c.Settings.(type) {
	case VLESS:
		return IsTLSSecurity(s.Security)
	case VMess:
		return s.Security == "tls"
	case Trojan:
		return true
	}
	return false
}

// ServerName picks the TLS server name: sni, then host header, then address.
func (c Candidate) ServerName() string {
	var t Transport
	switch s := c.Settings.(type) {
	case VLESS:
		t = s.Transport
	case VMess:
		t = s.Transport
	case Trojan:
		t = s.Transport
	}
	if t.SNI != "" {
		return t.SNI
	}
	if t.Host != "" {
		return t.Host
	}
	return c.Address
}

// IsTLSSecurity reports whether a security mode implies a TLS handshake.
func IsTLSSecurity(security string) bool {
	switch security {
	case "tls", "xtls", "reality":
		return true
	}
	return false
}

// Outcome is the result of functional validation for one candidate.
type Outcome struct {
	Candidate Candidate     `json:"candidate"`
	OK        bool          `json:"ok"`
	Latency   time.Duration `json:"latency"`

	// --- Enrichment ---
	Country string `json:"country,omitempty"` // e.g., "US", "IR", "DE"
}

// LatencyMs returns the latency in milliseconds, or -1 for failed outcomes.
func (o Outcome) LatencyMs() int64 {
	if !o.OK {
		return -1
	}
	return o.Latency.Milliseconds()
}

// Label is the uppercase protocol tag used in reports, e.g. "VLESS".
func (t ProxyType) Label() string {
	return strings.ToUpper(string(t))
}
