package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
)

// TCPDialer dials plain TCP connections, upgraded to TLS when TLSConfig
// is non-nil.
type TCPDialer struct {
	TLSConfig *tls.Config
}

// Dial connects to host:port.
func (d *TCPDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if d.TLSConfig == nil {
		return NewTCPConn(conn), nil
	}

	cfg := d.TLSConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	return NewTCPConn(tlsConn), nil
}

// TCPConn wraps net.Conn for TCP and TLS connections.
type TCPConn struct {
	conn net.Conn
}

// NewTCPConn creates a new TCP connection wrapper.
func NewTCPConn(conn net.Conn) *TCPConn {
	return &TCPConn{conn: conn}
}

func (tc *TCPConn) Read(buf []byte) (int, error) {
	return tc.conn.Read(buf)
}

func (tc *TCPConn) Write(data []byte) (int, error) {
	return tc.conn.Write(data)
}

func (tc *TCPConn) Close() error {
	return tc.conn.Close()
}

func (tc *TCPConn) RemoteAddr() net.Addr {
	return tc.conn.RemoteAddr()
}
