package filter

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"

	"config-checker/internal/model"
)

// Fixed destinations announced in the post-handshake probe.
const (
	trojanProbeHost = "www.google.com"
	trojanProbePort = 443
	vlessProbeHost  = "google.com"
	vlessProbePort  = 80
)

// handshakeProbe builds a minimal connect request for protocols that can
// announce one right after TLS. Nil means nothing is sent.
func handshakeProbe(c model.Candidate) []byte {
	switch s := c.Settings.(type) {
	case model.Trojan:
		return trojanRequest(s.Password, trojanProbeHost, trojanProbePort)
	case model.VLESS:
		id, err := uuid.Parse(s.UUID)
		if err != nil {
			return nil
		}
		return vlessRequest(id, vlessProbeHost, vlessProbePort)
	}
	return nil
}

// trojanRequest: hex(sha224(password)) CRLF CMD ATYP DST.ADDR DST.PORT CRLF
func trojanRequest(password, host string, port uint16) []byte {
	sum := sha256.Sum224([]byte(password))
	buf := make([]byte, 0, 56+2+4+len(host)+2+2)
	buf = append(buf, hex.EncodeToString(sum[:])...)
	buf = append(buf, '\r', '\n')
	buf = append(buf, 0x01, 0x03, byte(len(host)))
	buf = append(buf, host...)
	buf = binary.BigEndian.AppendUint16(buf, port)
	buf = append(buf, '\r', '\n')
	return buf
}

// vlessRequest: VER UUID ADDONS_LEN CMD PORT ATYP ADDR
func vlessRequest(id uuid.UUID, host string, port uint16) []byte {
	buf := make([]byte, 0, 1+16+1+1+2+2+len(host))
	buf = append(buf, 0x00)
	buf = append(buf, id[:]...)
	buf = append(buf, 0x00, 0x01)
	buf = binary.BigEndian.AppendUint16(buf, port)
	buf = append(buf, 0x02, byte(len(host)))
	buf = append(buf, host...)
	return buf
}
