package parser

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"

	"config-checker/internal/model"
)

// ErrMalformed wraps every rejection. Callers drop the line.
var ErrMalformed = errors.New("malformed descriptor")

const defaultSSMethod = "aes-256-gcm"

// ParseLink decodes one descriptor line. Unknown schemes and any decode
// failure yield an ErrMalformed-wrapped error.
func ParseLink(raw string) (model.Candidate, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.Candidate{}, fmt.Errorf("%w: empty link", ErrMalformed)
	}

	switch {
	case strings.HasPrefix(raw, "vless://"):
		return parseVLESS(raw)
	case strings.HasPrefix(raw, "vmess://"):
		return parseVMess(raw)
	case strings.HasPrefix(raw, "ss://"):
		return parseShadowsocks(raw)
	case strings.HasPrefix(raw, "trojan://"):
		return parseTrojan(raw)
	}
	return model.Candidate{}, fmt.Errorf("%w: unknown scheme", ErrMalformed)
}

func parseVLESS(raw string) (model.Candidate, error) {
	u, name, err := splitURI(raw)
	if err != nil {
		return model.Candidate{}, err
	}
	host, port, err := endpoint(u)
	if err != nil {
		return model.Candidate{}, err
	}
	id := u.User.Username()
	if id == "" {
		return model.Candidate{}, fmt.Errorf("%w: vless without uuid", ErrMalformed)
	}

	q := u.Query()
	return model.Candidate{
		RawLink: raw,
		Name:    displayName(name, model.TypeVLESS, host),
		Address: host,
		Port:    port,
		Settings: model.VLESS{
			UUID: id,
			Flow: q.Get("flow"),
			Transport: model.Transport{
				Network:  param(q, "type", "tcp"),
				Security: param(q, "security", "none"),
				Path:     q.Get("path"),
				Host:     q.Get("host"),
				SNI:      param(q, "sni", q.Get("peer")),
			},
			Reality: model.Reality{
				PublicKey:   q.Get("pbk"),
				ShortID:     q.Get("sid"),
				Fingerprint: q.Get("fp"),
			},
		},
	}, nil
}

func parseTrojan(raw string) (model.Candidate, error) {
	u, name, err := splitURI(raw)
	if err != nil {
		return model.Candidate{}, err
	}
	host, port, err := endpoint(u)
	if err != nil {
		return model.Candidate{}, err
	}
	password := u.User.Username()
	if password == "" {
		return model.Candidate{}, fmt.Errorf("%w: trojan without password", ErrMalformed)
	}

	q := u.Query()
	return model.Candidate{
		RawLink: raw,
		Name:    displayName(name, model.TypeTrojan, host),
		Address: host,
		Port:    port,
		Settings: model.Trojan{
			Password: password,
			Transport: model.Transport{
				Network:  param(q, "type", "tcp"),
				Security: param(q, "security", "none"),
				Path:     q.Get("path"),
				Host:     q.Get("host"),
				SNI:      param(q, "sni", q.Get("peer")),
			},
			Fingerprint: q.Get("fp"),
		},
	}, nil
}

// vmessJSON mirrors the v2rayN share format. Numeric fields show up both
// as JSON numbers and as strings in the wild.
type vmessJSON struct {
	PS   flexString `json:"ps"`
	Add  flexString `json:"add"`
	Port flexString `json:"port"`
	ID   flexString `json:"id"`
	Aid  flexString `json:"aid"`
	Net  flexString `json:"net"`
	TLS  flexString `json:"tls"`
	Path flexString `json:"path"`
	Host flexString `json:"host"`
}

type flexString string

// UnmarshalJSON accepts strings, numbers, booleans and null. Booleans map
// to "" since a bare true/false carries no transport or security name.
func (f *flexString) UnmarshalJSON(b []byte) error {
	switch {
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	case string(b) == "null", string(b) == "true", string(b) == "false":
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt parses integral numbers written as "2", "2.0" or 2e0.
func flexInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	fl, err := strconv.ParseFloat(s, 64)
	if err != nil || fl != math.Trunc(fl) || math.IsInf(fl, 0) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(fl), nil
}

func parseVMess(raw string) (model.Candidate, error) {
	payload, err := decodeBase64(strings.TrimPrefix(raw, "vmess://"))
	if err != nil {
		return model.Candidate{}, fmt.Errorf("%w: vmess payload: %v", ErrMalformed, err)
	}

	var v vmessJSON
	if err := json.Unmarshal(payload, &v); err != nil {
		return model.Candidate{}, fmt.Errorf("%w: vmess json: %v", ErrMalformed, err)
	}

	host := strings.TrimSpace(string(v.Add))
	if host == "" {
		return model.Candidate{}, fmt.Errorf("%w: vmess without address", ErrMalformed)
	}
	port, err := flexInt(string(v.Port))
	if err != nil || port < 1 || port > 65535 {
		return model.Candidate{}, fmt.Errorf("%w: invalid port %q", ErrMalformed, v.Port)
	}
	aid := 0
	if v.Aid != "" {
		if aid, err = flexInt(string(v.Aid)); err != nil {
			return model.Candidate{}, fmt.Errorf("%w: vmess aid %q", ErrMalformed, v.Aid)
		}
	}

	return model.Candidate{
		RawLink: raw,
		Name:    displayName(string(v.PS), model.TypeVMess, host),
		Address: host,
		Port:    port,
		Settings: model.VMess{
			UUID:    string(v.ID),
			AlterID: aid,
			Transport: model.Transport{
				Network:  orDefault(string(v.Net), "tcp"),
				Security: orDefault(string(v.TLS), "none"),
				Path:     string(v.Path),
				Host:     string(v.Host),
			},
		},
	}, nil
}

func parseShadowsocks(raw string) (model.Candidate, error) {
	body, frag, _ := strings.Cut(strings.TrimPrefix(raw, "ss://"), "#")
	if !strings.Contains(body, "@") {
		return parseLegacyShadowsocks(raw, body, frag)
	}

	u, name, err := splitURI(raw)
	if err != nil {
		return model.Candidate{}, err
	}

	host, port, err := endpoint(u)
	if err != nil {
		return model.Candidate{}, err
	}
	if u.User == nil {
		return model.Candidate{}, fmt.Errorf("%w: ss without credentials", ErrMalformed)
	}

	var method, password string
	if pw, ok := u.User.Password(); ok {
		method, password = u.User.Username(), pw
	} else {
		userInfo := u.User.Username()
		decoded, derr := decodeBase64(userInfo)
		m, p, found := strings.Cut(string(decoded), ":")
		if derr != nil || !found {
			method, password = defaultSSMethod, userInfo
		} else {
			method, password = m, p
		}
	}

	return model.Candidate{
		RawLink: raw,
		Name:    displayName(name, model.TypeShadowsocks, host),
		Address: host,
		Port:    port,
		Settings: model.Shadowsocks{
			Method:   method,
			Password: password,
		},
	}, nil
}

// parseLegacyShadowsocks handles ss://base64(method:password@host:port)#tag.
// The payload is decoded whole, so the password may hold any byte.
func parseLegacyShadowsocks(raw, body, frag string) (model.Candidate, error) {
	body, _, _ = strings.Cut(body, "?")
	decoded, err := decodeBase64(strings.TrimSuffix(body, "/"))
	if err != nil {
		return model.Candidate{}, fmt.Errorf("%w: ss payload: %v", ErrMalformed, err)
	}

	at := strings.LastIndex(string(decoded), "@")
	if at < 0 {
		return model.Candidate{}, fmt.Errorf("%w: ss payload without endpoint", ErrMalformed)
	}
	creds, hostPort := string(decoded[:at]), string(decoded[at+1:])

	method, password, found := strings.Cut(creds, ":")
	if !found || method == "" || password == "" {
		return model.Candidate{}, fmt.Errorf("%w: ss without credentials", ErrMalformed)
	}
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil || host == "" {
		return model.Candidate{}, fmt.Errorf("%w: ss endpoint %q", ErrMalformed, hostPort)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return model.Candidate{}, err
	}

	name := fragmentName(frag)
	return model.Candidate{
		RawLink: raw,
		Name:    displayName(name, model.TypeShadowsocks, host),
		Address: host,
		Port:    port,
		Settings: model.Shadowsocks{
			Method:   method,
			Password: password,
		},
	}, nil
}

// splitURI separates the fragment before parsing so that loosely encoded
// display names do not reject an otherwise valid link.
func splitURI(raw string) (*url.URL, string, error) {
	rest, frag, _ := strings.Cut(raw, "#")
	u, err := url.Parse(rest)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return u, fragmentName(frag), nil
}

func fragmentName(frag string) string {
	name, err := url.PathUnescape(frag)
	if err != nil {
		name = frag
	}
	return strings.TrimSpace(name)
}

func endpoint(u *url.URL) (string, int, error) {
	host := u.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("%w: missing host", ErrMalformed)
	}
	if u.User == nil && u.Scheme != "ss" {
		return "", 0, fmt.Errorf("%w: missing credential", ErrMalformed)
	}
	port, err := parsePort(u.Port())
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: invalid port %q", ErrMalformed, s)
	}
	return port, nil
}

// decodeBase64 restores padding and accepts both the standard and the
// URL-safe alphabet.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty payload")
	}
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	if b, uerr := base64.URLEncoding.DecodeString(s); uerr == nil {
		return b, nil
	}
	return nil, err
}

func displayName(name string, t model.ProxyType, host string) string {
	if name != "" {
		return name
	}
	return string(t) + "_" + host
}

func param(q url.Values, key, def string) string {
	return orDefault(q.Get(key), def)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
