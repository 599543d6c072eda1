package tester

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"config-checker/internal/model"
	"config-checker/internal/parser"
)

func buildJSON(t *testing.T, line string) map[string]any {
	t.Helper()
	c, err := parser.ParseLink(line)
	require.NoError(t, err)

	data, err := GenerateConfig(FlavorXray, c, 10808)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func proxyOutbound(t *testing.T, m map[string]any) map[string]any {
	t.Helper()
	outbounds := m["outbounds"].([]any)
	require.Len(t, outbounds, 2)
	return outbounds[0].(map[string]any)
}

func stream(t *testing.T, m map[string]any) map[string]any {
	t.Helper()
	return proxyOutbound(t, m)["streamSettings"].(map[string]any)
}

func TestBuildXrayConfig_Envelope(t *testing.T) {
	m := buildJSON(t, "ss://YWVzLTI1Ni1nY206cGFzcw==@host:8388#s1")

	assert.Equal(t, "none", m["log"].(map[string]any)["loglevel"])

	in := m["inbounds"].([]any)[0].(map[string]any)
	assert.Equal(t, "socks", in["protocol"])
	assert.Equal(t, float64(10808), in["port"])
	settings := in["settings"].(map[string]any)
	assert.Equal(t, "noauth", settings["auth"])
	assert.Equal(t, true, settings["udp"])
	assert.Equal(t, true, in["sniffing"].(map[string]any)["enabled"])

	direct := m["outbounds"].([]any)[1].(map[string]any)
	assert.Equal(t, "freedom", direct["protocol"])
	assert.Equal(t, "direct", direct["tag"])

	rule := m["routing"].(map[string]any)["rules"].([]any)[0].(map[string]any)
	assert.Equal(t, "direct", rule["outboundTag"])
	assert.Equal(t, []any{"geoip:private"}, rule["ip"])
}

func TestBuildXrayConfig_Shadowsocks(t *testing.T) {
	out := proxyOutbound(t, buildJSON(t, "ss://YWVzLTI1Ni1nY206cGFzcw==@host:8388#s1"))
	assert.Equal(t, "shadowsocks", out["protocol"])
	assert.Equal(t, "proxy", out["tag"])

	server := out["settings"].(map[string]any)["servers"].([]any)[0].(map[string]any)
	assert.Equal(t, "host", server["address"])
	assert.Equal(t, float64(8388), server["port"])
	assert.Equal(t, "aes-256-gcm", server["method"])
	assert.Equal(t, "pass", server["password"])
	assert.Empty(t, out["streamSettings"])
}

func TestBuildXrayConfig_VLESSRealityWithKey(t *testing.T) {
	s := stream(t, buildJSON(t, "vless://id@1.2.3.4:443?security=reality&pbk=KEY&sid=01&fp=chrome&sni=www.microsoft.com"))
	assert.Equal(t, "reality", s["security"])
	assert.Nil(t, s["tlsSettings"])

	r := s["realitySettings"].(map[string]any)
	assert.Equal(t, "KEY", r["publicKey"])
	assert.Equal(t, "01", r["shortId"])
	assert.Equal(t, "chrome", r["fingerprint"])
	assert.Equal(t, "www.microsoft.com", r["serverName"])
}

func TestBuildXrayConfig_VLESSRealityWithoutKeyFallsBackToTLS(t *testing.T) {
	s := stream(t, buildJSON(t, "vless://id@1.2.3.4:443?security=reality"))
	assert.Equal(t, "tls", s["security"])
	assert.Nil(t, s["realitySettings"])
	assert.Equal(t, "1.2.3.4", s["tlsSettings"].(map[string]any)["serverName"])
}

func TestBuildXrayConfig_VLESSTransports(t *testing.T) {
	ws := stream(t, buildJSON(t, "vless://id@h:443?type=ws&host=cdn.example&security=tls"))
	assert.Equal(t, "ws", ws["network"])
	wsSettings := ws["wsSettings"].(map[string]any)
	assert.Equal(t, "/", wsSettings["path"])
	assert.Equal(t, "cdn.example", wsSettings["headers"].(map[string]any)["Host"])

	grpc := stream(t, buildJSON(t, "vless://id@h:443?type=grpc&path=svc"))
	grpcSettings := grpc["grpcSettings"].(map[string]any)
	assert.Equal(t, "svc", grpcSettings["serviceName"])
	assert.Equal(t, false, grpcSettings["multiMode"])
	assert.Nil(t, grpc["security"])

	h2 := stream(t, buildJSON(t, "vless://id@h:443?type=h2&path=/h"))
	httpSettings := h2["httpSettings"].(map[string]any)
	assert.Equal(t, "/h", httpSettings["path"])
	assert.Equal(t, []any{"h"}, httpSettings["host"])

	out := proxyOutbound(t, buildJSON(t, "vless://id@h:443?flow=xtls-rprx-vision"))
	user := out["settings"].(map[string]any)["vnext"].([]any)[0].(map[string]any)["users"].([]any)[0].(map[string]any)
	assert.Equal(t, "id", user["id"])
	assert.Equal(t, "none", user["encryption"])
	assert.Equal(t, "xtls-rprx-vision", user["flow"])
}

func TestBuildXrayConfig_VMess(t *testing.T) {
	c := model.Candidate{
		RawLink: "vmess://x",
		Address: "vm.example",
		Port:    443,
		Settings: model.VMess{
			UUID:      "u",
			AlterID:   1,
			Transport: model.Transport{Network: "h2", Security: "tls", Host: "front.example"},
		},
	}
	cfg, err := BuildXrayConfig(c, 1080)
	require.NoError(t, err)

	out := cfg.Outbounds[0]
	assert.Equal(t, "vmess", out.Protocol)
	require.NotNil(t, out.StreamSettings.TLSSettings)
	assert.Equal(t, "front.example", out.StreamSettings.TLSSettings.ServerName)
	assert.Nil(t, out.StreamSettings.HTTPSettings, "h2 block is VLESS only")

	users := out.Settings.(vnextSettings).Vnext[0].Users
	assert.Equal(t, vmessUser{ID: "u", AlterID: 1, Security: "auto"}, users[0])
}

func TestBuildXrayConfig_TrojanAlwaysTLS(t *testing.T) {
	m := buildJSON(t, "trojan://pw@tr.example:443?security=none&type=ws&path=/t")
	s := stream(t, m)
	assert.Equal(t, "tls", s["security"])
	assert.Equal(t, "tr.example", s["tlsSettings"].(map[string]any)["serverName"])
	assert.Equal(t, "/t", s["wsSettings"].(map[string]any)["path"])

	server := proxyOutbound(t, m)["settings"].(map[string]any)["servers"].([]any)[0].(map[string]any)
	assert.Equal(t, "pw", server["password"])
	assert.Equal(t, "", server["flow"])
}

func TestGenerateConfig_Errors(t *testing.T) {
	_, err := BuildXrayConfig(model.Candidate{Address: "h", Port: 1}, 1080)
	require.ErrorIs(t, err, ErrUnsupportedProtocol)

	_, err = GenerateConfig(FlavorSingBox, model.Candidate{Address: "h", Port: 1}, 1080)
	require.ErrorIs(t, err, ErrUnsupportedProtocol)

	c, err := parser.ParseLink("trojan://pw@h:443")
	require.NoError(t, err)
	_, err = GenerateConfig(Flavor("clash"), c, 1080)
	require.Error(t, err)
}

func TestGenerateSingBoxConfig_RealLinks(t *testing.T) {
	vmess := `{"v":"2","ps":"vm","add":"vm.example.com","port":"443","id":"b831381d-6324-4d53-ad4f-8cda48b30811","aid":"0","scy":"auto","net":"tcp","type":"none","tls":"tls","sni":"vm.example.com"}`
	cases := map[string]struct {
		link     string
		wantType string
	}{
		"vless": {
			link:     "vless://b831381d-6324-4d53-ad4f-8cda48b30811@vl.example.com:443?encryption=none&security=tls&sni=vl.example.com&type=tcp#vl",
			wantType: "vless",
		},
		"trojan": {
			link:     "trojan://secret@tr.example.com:443?security=tls&sni=tr.example.com&type=tcp#tr",
			wantType: "trojan",
		},
		"vmess": {
			link:     "vmess://" + base64.StdEncoding.EncodeToString([]byte(vmess)),
			wantType: "vmess",
		},
		"shadowsocks": {
			link:     "ss://YWVzLTI1Ni1nY206cGFzcw==@1.2.3.4:8388#s1",
			wantType: "shadowsocks",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := parser.ParseLink(tc.link)
			require.NoError(t, err)

			data, err := GenerateConfig(FlavorSingBox, c, 20808)
			require.NoError(t, err)

			var m map[string]any
			require.NoError(t, json.Unmarshal(data, &m))

			inbounds := m["inbounds"].([]any)
			require.Len(t, inbounds, 1)
			in := inbounds[0].(map[string]any)
			assert.Equal(t, "socks", in["type"])
			assert.Equal(t, "127.0.0.1", in["listen"])
			assert.Equal(t, float64(20808), in["listen_port"])

			outbounds := m["outbounds"].([]any)
			require.Len(t, outbounds, 2)
			proxy := outbounds[0].(map[string]any)
			assert.NotEmpty(t, proxy)
			assert.Equal(t, tc.wantType, proxy["type"])
			assert.Equal(t, "direct", outbounds[1].(map[string]any)["type"])
			assert.Equal(t, "direct", outbounds[1].(map[string]any)["tag"])
		})
	}
}

func TestSingBoxType(t *testing.T) {
	assert.Equal(t, "shadowsocks", singBoxType(model.TypeShadowsocks))
	assert.Equal(t, "vless", singBoxType(model.TypeVLESS))
	assert.Equal(t, "vmess", singBoxType(model.TypeVMess))
	assert.Equal(t, "trojan", singBoxType(model.TypeTrojan))
}
