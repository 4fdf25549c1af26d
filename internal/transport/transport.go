// Package transport supplies byte-stream connections to a chat server.
// It isolates how bytes move (plain TCP, TLS, WebSocket) from the
// framing and protocol layers above it.
package transport

import (
	"context"
	"net"
)

// Conn abstracts a bidirectional byte-stream connection.
type Conn interface {
	// Read fills buf with available bytes and returns how many were
	// read. Short reads are allowed.
	Read(buf []byte) (int, error)

	// Write sends data and returns how many bytes were accepted.
	// Partial writes are allowed.
	Write(data []byte) (int, error)

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the server address for logging.
	RemoteAddr() net.Addr
}

// Dialer establishes a Conn to a server endpoint.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Conn, error)
}
