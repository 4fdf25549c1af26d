package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// WebSocketDialer dials WebSocket connections using gobwas/ws, for
// servers reached through a WebSocket gateway. TLSConfig switches the
// dial to wss.
type WebSocketDialer struct {
	TLSConfig *tls.Config

	// Path is the request path of the gateway endpoint, "/" if empty.
	Path string
}

// Dial performs the WebSocket handshake against host:port.
func (d *WebSocketDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	scheme := "ws"
	if d.TLSConfig != nil {
		scheme = "wss"
	}
	path := d.Path
	if path == "" {
		path = "/"
	}
	url := fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)), path)

	wsd := ws.Dialer{TLSConfig: d.TLSConfig}
	conn, br, _, err := wsd.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	// Frames that arrived with the handshake response sit in br and
	// must be consumed before reading from the socket again.
	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{io.MultiReader(br, conn), conn}
	}
	return NewWebSocketConn(conn, rw), nil
}

// WebSocketConn presents a WebSocket connection as a byte stream: each
// Write becomes one text frame and Reads drain data frames, buffering
// whatever does not fit the caller's buffer.
type WebSocketConn struct {
	conn          net.Conn
	rw            io.ReadWriter
	readBuffer    []byte
	readBufferPos int
	mu            sync.Mutex
}

// NewWebSocketConn creates a new WebSocket connection wrapper. rw is
// the stream to run the frame protocol over, usually conn itself.
func NewWebSocketConn(conn net.Conn, rw io.ReadWriter) *WebSocketConn {
	return &WebSocketConn{conn: conn, rw: rw}
}

func (wc *WebSocketConn) Read(buf []byte) (int, error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	// Return buffered data if available.
	if wc.readBufferPos < len(wc.readBuffer) {
		n := copy(buf, wc.readBuffer[wc.readBufferPos:])
		wc.readBufferPos += n
		if wc.readBufferPos >= len(wc.readBuffer) {
			wc.readBuffer = nil
			wc.readBufferPos = 0
		}
		return n, nil
	}

	// Gateways send either text or binary frames; accept both.
	data, _, err := wsutil.ReadServerData(wc.rw)
	if err != nil {
		return 0, err
	}

	n := copy(buf, data)
	if n < len(data) {
		wc.readBuffer = data[n:]
		wc.readBufferPos = 0
	}
	return n, nil
}

func (wc *WebSocketConn) Write(data []byte) (int, error) {
	if err := wsutil.WriteClientText(wc.rw, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (wc *WebSocketConn) Close() error {
	// Send close frame before tearing down the socket.
	_ = wsutil.WriteClientMessage(wc.rw, ws.OpClose, nil)
	return wc.conn.Close()
}

func (wc *WebSocketConn) RemoteAddr() net.Addr {
	return wc.conn.RemoteAddr()
}
