package tester

import (
	"encoding/json"
	"errors"
	"fmt"

	"config-checker/internal/model"

	"github.com/moqsien/vpnparser/pkgs/outbound"
)

var ErrUnsupportedProtocol = errors.New("unsupported protocol")

// Flavor selects the configuration schema of the external engine.
type Flavor string

const (
	FlavorXray    Flavor = "xray"
	FlavorSingBox Flavor = "sing-box"
)

// XrayConfig is the subset of the Xray schema the checker emits.
type XrayConfig struct {
	Log       XrayLog        `json:"log"`
	Inbounds  []XrayInbound  `json:"inbounds"`
	Outbounds []XrayOutbound `json:"outbounds"`
	Routing   XrayRouting    `json:"routing"`
}

type XrayLog struct {
	LogLevel string `json:"loglevel"`
}

type XrayInbound struct {
	Listen   string         `json:"listen"`
	Port     int            `json:"port"`
	Protocol string         `json:"protocol"`
	Settings SocksSettings  `json:"settings"`
	Sniffing SniffingConfig `json:"sniffing"`
}

type SocksSettings struct {
	Auth string `json:"auth"`
	UDP  bool   `json:"udp"`
	IP   string `json:"ip"`
}

type SniffingConfig struct {
	Enabled      bool     `json:"enabled"`
	DestOverride []string `json:"destOverride"`
}

type XrayOutbound struct {
	Protocol       string          `json:"protocol"`
	Tag            string          `json:"tag"`
	Settings       any             `json:"settings,omitempty"`
	StreamSettings *StreamSettings `json:"streamSettings,omitempty"`
}

type StreamSettings struct {
	Network         string           `json:"network,omitempty"`
	Security        string           `json:"security,omitempty"`
	TLSSettings     *TLSSettings     `json:"tlsSettings,omitempty"`
	RealitySettings *RealitySettings `json:"realitySettings,omitempty"`
	WSSettings      *WSSettings      `json:"wsSettings,omitempty"`
	GRPCSettings    *GRPCSettings    `json:"grpcSettings,omitempty"`
	HTTPSettings    *HTTPSettings    `json:"httpSettings,omitempty"`
}

type TLSSettings struct {
	ServerName    string `json:"serverName"`
	AllowInsecure bool   `json:"allowInsecure"`
	Fingerprint   string `json:"fingerprint,omitempty"`
}

type RealitySettings struct {
	ServerName  string `json:"serverName"`
	Fingerprint string `json:"fingerprint,omitempty"`
	PublicKey   string `json:"publicKey"`
	ShortID     string `json:"shortId,omitempty"`
	SpiderX     string `json:"spiderX"`
}

type WSSettings struct {
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
}

type GRPCSettings struct {
	ServiceName string `json:"serviceName"`
	MultiMode   bool   `json:"multiMode"`
}

type HTTPSettings struct {
	Path string   `json:"path"`
	Host []string `json:"host"`
}

type XrayRouting struct {
	Rules []RoutingRule `json:"rules"`
}

type RoutingRule struct {
	Type        string   `json:"type"`
	OutboundTag string   `json:"outboundTag"`
	IP          []string `json:"ip"`
}

type vnextSettings struct {
	Vnext []vnextServer `json:"vnext"`
}

type vnextServer struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Users   []any  `json:"users"`
}

type vlessUser struct {
	ID         string `json:"id"`
	Encryption string `json:"encryption"`
	Flow       string `json:"flow"`
}

type vmessUser struct {
	ID       string `json:"id"`
	AlterID  int    `json:"alterId"`
	Security string `json:"security"`
}

type serverSettings struct {
	Servers []serverEntry `json:"servers"`
}

type serverEntry struct {
	Address  string  `json:"address"`
	Port     int     `json:"port"`
	Method   string  `json:"method,omitempty"`
	Password string  `json:"password"`
	Flow     *string `json:"flow,omitempty"`
}

// BuildXrayConfig maps a candidate to an engine configuration with a
// no-auth SOCKS inbound on localPort and the candidate as the proxy outbound.
func BuildXrayConfig(c model.Candidate, localPort int) (*XrayConfig, error) {
	proxy, err := buildOutbound(c)
	if err != nil {
		return nil, err
	}

	return &XrayConfig{
		// "none" keeps the helper process silent.
		Log: XrayLog{LogLevel: "none"},
		Inbounds: []XrayInbound{
			{
				Listen:   "127.0.0.1",
				Port:     localPort,
				Protocol: "socks",
				Settings: SocksSettings{Auth: "noauth", UDP: true, IP: "127.0.0.1"},
				Sniffing: SniffingConfig{Enabled: true, DestOverride: []string{"http", "tls"}},
			},
		},
		Outbounds: []XrayOutbound{
			proxy,
			{Protocol: "freedom", Tag: "direct"},
		},
		Routing: XrayRouting{
			Rules: []RoutingRule{
				{Type: "field", OutboundTag: "direct", IP: []string{"geoip:private"}},
			},
		},
	}, nil
}

func buildOutbound(c model.Candidate) (XrayOutbound, error) {
	switch s := c.Settings.(type) {
	case model.VLESS:
		return vlessOutbound(c, s), nil
	case model.VMess:
		return vmessOutbound(c, s), nil
	case model.Shadowsocks:
		return shadowsocksOutbound(c, s), nil
	case model.Trojan:
		return trojanOutbound(c, s), nil
	}
	return XrayOutbound{}, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, c.Type())
}

func vlessOutbound(c model.Candidate, s model.VLESS) XrayOutbound {
	stream := &StreamSettings{Network: orDefault(s.Network, "tcp")}

	if c.UsesTLS() {
		serverName := c.ServerName()
		if s.Security == "reality" && s.PublicKey != "" {
			stream.Security = "reality"
			stream.RealitySettings = &RealitySettings{
				ServerName:  serverName,
				Fingerprint: s.Fingerprint,
				PublicKey:   s.PublicKey,
				ShortID:     s.ShortID,
			}
		} else {
			stream.Security = "tls"
			stream.TLSSettings = &TLSSettings{ServerName: serverName, Fingerprint: s.Fingerprint}
		}
	}

	applyTransport(stream, c, s.Transport, true)

	return XrayOutbound{
		Protocol: "vless",
		Tag:      "proxy",
		Settings: vnextSettings{Vnext: []vnextServer{{
			Address: c.Address,
			Port:    c.Port,
			Users:   []any{vlessUser{ID: s.UUID, Encryption: "none", Flow: s.Flow}},
		}}},
		StreamSettings: stream,
	}
}

func vmessOutbound(c model.Candidate, s model.VMess) XrayOutbound {
	stream := &StreamSettings{Network: orDefault(s.Network, "tcp")}

	if c.UsesTLS() {
		stream.Security = "tls"
		stream.TLSSettings = &TLSSettings{ServerName: orDefault(s.Host, c.Address)}
	}

	applyTransport(stream, c, s.Transport, false)

	return XrayOutbound{
		Protocol: "vmess",
		Tag:      "proxy",
		Settings: vnextSettings{Vnext: []vnextServer{{
			Address: c.Address,
			Port:    c.Port,
			Users:   []any{vmessUser{ID: s.UUID, AlterID: s.AlterID, Security: "auto"}},
		}}},
		StreamSettings: stream,
	}
}

func shadowsocksOutbound(c model.Candidate, s model.Shadowsocks) XrayOutbound {
	return XrayOutbound{
		Protocol: "shadowsocks",
		Tag:      "proxy",
		Settings: serverSettings{Servers: []serverEntry{{
			Address:  c.Address,
			Port:     c.Port,
			Method:   orDefault(s.Method, "aes-256-gcm"),
			Password: s.Password,
		}}},
		StreamSettings: &StreamSettings{},
	}
}

func trojanOutbound(c model.Candidate, s model.Trojan) XrayOutbound {
	stream := &StreamSettings{
		Network:     orDefault(s.Network, "tcp"),
		Security:    "tls",
		TLSSettings: &TLSSettings{ServerName: c.ServerName(), Fingerprint: s.Fingerprint},
	}

	applyTransport(stream, c, s.Transport, false)

	flow := ""
	return XrayOutbound{
		Protocol: "trojan",
		Tag:      "proxy",
		Settings: serverSettings{Servers: []serverEntry{{
			Address:  c.Address,
			Port:     c.Port,
			Password: s.Password,
			Flow:     &flow,
		}}},
		StreamSettings: stream,
	}
}

// applyTransport adds the ws/grpc (and, when allowed, h2) block.
func applyTransport(stream *StreamSettings, c model.Candidate, t model.Transport, allowH2 bool) {
	switch t.Network {
	case "ws":
		stream.WSSettings = &WSSettings{
			Path:    orDefault(t.Path, "/"),
			Headers: map[string]string{"Host": orDefault(t.Host, c.Address)},
		}
	case "grpc":
		stream.GRPCSettings = &GRPCSettings{ServiceName: t.Path}
	case "h2":
		if allowH2 {
			stream.HTTPSettings = &HTTPSettings{
				Path: orDefault(t.Path, "/"),
				Host: []string{orDefault(t.Host, c.Address)},
			}
		}
	}
}

// GenerateConfig renders the engine configuration for the given flavor.
func GenerateConfig(flavor Flavor, c model.Candidate, localPort int) ([]byte, error) {
	switch flavor {
	case FlavorSingBox:
		return GenerateSingBoxConfig(c, localPort)
	case FlavorXray, "":
		cfg, err := BuildXrayConfig(c, localPort)
		if err != nil {
			return nil, err
		}
		return json.MarshalIndent(cfg, "", "  ")
	}
	return nil, fmt.Errorf("unknown engine flavor %q", flavor)
}

// SingBoxConfig is the minimal structure Sing-box expects
type SingBoxConfig struct {
	Log       LogConfig       `json:"log"`
	Inbounds  []InboundConfig `json:"inbounds"`
	Outbounds []interface{}   `json:"outbounds"` // Interface because structure varies
}

type LogConfig struct {
	Level    string `json:"level"`
	Output   string `json:"output,omitempty"`
	Disabled bool   `json:"disabled"`
}

type InboundConfig struct {
	Type       string `json:"type"`
	Tag        string `json:"tag"`
	Listen     string `json:"listen"`
	ListenPort int    `json:"listen_port"`
}

// GenerateSingBoxConfig converts the raw link into a sing-box outbound and
// wraps it with a local SOCKS inbound.
func GenerateSingBoxConfig(c model.Candidate, localPort int) ([]byte, error) {
	if _, err := buildOutbound(c); err != nil {
		return nil, err
	}

	item := outbound.ParseRawUriToProxyItem(c.RawLink, outbound.SingBox)
	if item == nil {
		return nil, fmt.Errorf("failed to parse link for sing-box config generation")
	}

	var sbOutbound map[string]any
	if err := json.Unmarshal([]byte(item.GetOutbound()), &sbOutbound); err != nil {
		return nil, fmt.Errorf("failed to parse sing-box outbound json: %w", err)
	}
	if t, _ := sbOutbound["type"].(string); t != singBoxType(c.Type()) {
		return nil, fmt.Errorf("sing-box outbound type %q does not match %s link", t, c.Type())
	}

	config := SingBoxConfig{
		Log: LogConfig{
			Level:    "panic",
			Disabled: true,
		},
		Inbounds: []InboundConfig{
			{
				Type:       "socks",
				Tag:        "in-local",
				Listen:     "127.0.0.1",
				ListenPort: localPort,
			},
		},
		Outbounds: []interface{}{
			sbOutbound,
			map[string]string{
				"type": "direct",
				"tag":  "direct",
			},
		},
	}

	return json.MarshalIndent(config, "", "  ")
}

// singBoxType is the sing-box outbound type for a protocol.
func singBoxType(t model.ProxyType) string {
	if t == model.TypeShadowsocks {
		return "shadowsocks"
	}
	return string(t)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
