package tester

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
)

var ErrSOCKS = errors.New("socks5 negotiation failed")

const (
	socksVersion    = 0x05
	socksNoAuth     = 0x00
	socksCmdConnect = 0x01
	socksAtypIPv4   = 0x01
	socksAtypDomain = 0x03
	socksAtypIPv6   = 0x04
	socksReplyOK    = 0x00
)

// socksGreeting offers only "no authentication" and requires the server to
// select it.
func socksGreeting(conn net.Conn) error {
	if _, err := conn.Write([]byte{socksVersion, 0x01, socksNoAuth}); err != nil {
		return fmt.Errorf("%w: greeting write: %v", ErrSOCKS, err)
	}
	var resp [2]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return fmt.Errorf("%w: greeting read: %v", ErrSOCKS, err)
	}
	if resp[0] != socksVersion || resp[1] != socksNoAuth {
		return fmt.Errorf("%w: method 0x%02x not accepted", ErrSOCKS, resp[1])
	}
	return nil
}

// socksConnect issues CONNECT for host:port. An IPv4 literal is sent as
// ATYP 1, anything else as a domain name.
func socksConnect(conn net.Conn, host string, port uint16) error {
	req := []byte{socksVersion, socksCmdConnect, 0x00}
	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
		req = append(req, socksAtypIPv4)
		req = append(req, ip.To4()...)
	} else {
		if len(host) == 0 || len(host) > 255 {
			return fmt.Errorf("%w: invalid target host %q", ErrSOCKS, host)
		}
		req = append(req, socksAtypDomain, byte(len(host)))
		req = append(req, host...)
	}
	req = binary.BigEndian.AppendUint16(req, port)

	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("%w: connect write: %v", ErrSOCKS, err)
	}
	return readConnectReply(conn)
}

// readConnectReply consumes VER REP RSV ATYP BND.ADDR BND.PORT.
func readConnectReply(conn net.Conn) error {
	var head [4]byte
	if _, err := io.ReadFull(conn, head[:]); err != nil {
		return fmt.Errorf("%w: reply read: %v", ErrSOCKS, err)
	}
	if head[0] != socksVersion {
		return fmt.Errorf("%w: reply version 0x%02x", ErrSOCKS, head[0])
	}
	if head[1] != socksReplyOK {
		return fmt.Errorf("%w: connect rejected with code 0x%02x", ErrSOCKS, head[1])
	}

	var addrLen int
	switch head[3] {
	case socksAtypIPv4:
		addrLen = net.IPv4len
	case socksAtypIPv6:
		addrLen = net.IPv6len
	case socksAtypDomain:
		var l [1]byte
		if _, err := io.ReadFull(conn, l[:]); err != nil {
			return fmt.Errorf("%w: reply read: %v", ErrSOCKS, err)
		}
		addrLen = int(l[0])
	default:
		return fmt.Errorf("%w: reply address type 0x%02x", ErrSOCKS, head[3])
	}

	if _, err := io.CopyN(io.Discard, conn, int64(addrLen+2)); err != nil {
		return fmt.Errorf("%w: reply read: %v", ErrSOCKS, err)
	}
	return nil
}

func splitTarget(target string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return "", 0, fmt.Errorf("invalid port in %q", target)
	}
	return host, uint16(port), nil
}
