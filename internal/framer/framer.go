// Package framer translates between a byte-oriented connection and a
// line-oriented channel interface, in both directions. It has no
// knowledge of protocol semantics.
package framer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/omochice/toy-irc-bot/internal/transport"
	"github.com/omochice/toy-irc-bot/pkg/protocol"
)

// ErrClosed is the terminal error recorded when Close tears down the
// connection, as opposed to an I/O failure.
var ErrClosed = errors.New("framer closed")

const (
	readChunkSize = 4096
	queueDepth    = 64
)

var lineTerminator = []byte(protocol.LineTerminator)

// Framer owns the raw connection to the server. Its read loop turns
// inbound bytes into complete protocol lines, delivered in order on
// Lines; its write loop frames outbound line requests queued by Send
// and writes them to the connection. The two loops are independent: a
// stalled write never blocks reading, and vice versa.
type Framer struct {
	dialer transport.Dialer
	host   string
	port   int
	logger zerolog.Logger

	lines    chan string // inbound complete lines, FIFO
	requests chan string // outbound raw line requests, FIFO

	mu   sync.Mutex
	conn transport.Conn

	done    chan struct{}
	err     error
	errOnce sync.Once

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Framer for the given endpoint. No I/O happens until
// Connect; lines queued with Send before then are held in the outbound
// queue.
func New(dialer transport.Dialer, host string, port int, logger zerolog.Logger) *Framer {
	return &Framer{
		dialer:   dialer,
		host:     host,
		port:     port,
		logger:   logger,
		lines:    make(chan string, queueDepth),
		requests: make(chan string, queueDepth),
		done:     make(chan struct{}),
	}
}

// Connect establishes the connection and starts the read and write
// loops. Both run until the connection ends or either loop fails.
func (f *Framer) Connect(ctx context.Context) error {
	conn, err := f.dialer.Dial(ctx, f.host, f.port)
	if err != nil {
		err = fmt.Errorf("connect %s:%d: %w", f.host, f.port, err)
		f.fail(err)
		close(f.lines)
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	// Close may have run while the dial was in flight; its conn read
	// saw nil, so release the connection here instead.
	select {
	case <-f.done:
		conn.Close()
		close(f.lines)
		return f.err
	default:
	}

	f.logger.Debug().Stringer("addr", conn.RemoteAddr()).Msg("connected")

	f.wg.Add(2)
	go f.readLoop(conn)
	go f.writeLoop(conn)
	return nil
}

// Lines returns the inbound line channel. It is closed when the read
// loop ends, so a consumer blocked on it is always released.
func (f *Framer) Lines() <-chan string {
	return f.lines
}

// Send enqueues a raw line for transmission. The line is framed by the
// write loop at send time.
func (f *Framer) Send(line string) {
	select {
	case f.requests <- line:
	case <-f.done:
	}
}

// Done is closed when the connection has terminally failed or been
// closed. Err reports the cause afterwards.
func (f *Framer) Done() <-chan struct{} {
	return f.done
}

// Err returns the terminal connection error, or nil while the
// connection is still live.
func (f *Framer) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Close releases the connection, terminating both loops. Safe to call
// more than once and concurrently with the loops.
func (f *Framer) Close() {
	f.closeOnce.Do(func() {
		f.fail(ErrClosed)
		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		f.wg.Wait()
	})
}

// fail records the first terminal error and releases everything
// waiting on Done.
func (f *Framer) fail(err error) {
	f.errOnce.Do(func() {
		f.err = err
		close(f.done)
	})
}

// readLoop reads whatever bytes are available, appends them to the
// inbound buffer, and emits every complete CRLF-terminated line found
// so far. Bytes that do not yet form a complete line are retained for
// the next read. A zero-byte read or a read error ends the loop and
// signals connection loss.
func (f *Framer) readLoop(conn transport.Conn) {
	defer f.wg.Done()
	defer close(f.lines)

	var buf []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			var consumed int
			for {
				i := bytes.Index(buf[consumed:], lineTerminator)
				if i < 0 {
					break
				}
				line := string(buf[consumed : consumed+i])
				consumed += i + len(lineTerminator)
				select {
				case f.lines <- line:
				case <-f.done:
					return
				}
			}
			// Compact the partial tail to the front of the buffer.
			buf = append(buf[:0], buf[consumed:]...)
		}
		if err != nil {
			f.fail(fmt.Errorf("read %s:%d: %w", f.host, f.port, err))
			return
		}
		if n == 0 {
			f.fail(fmt.Errorf("read %s:%d: connection closed", f.host, f.port))
			return
		}
	}
}

// writeLoop takes the next outbound line request, frames it, and
// drains the framed bytes with repeated partial writes. A write error
// ends the loop and signals connection loss.
func (f *Framer) writeLoop(conn transport.Conn) {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		case line := <-f.requests:
			pending := Frame(line)
			for len(pending) > 0 {
				n, err := conn.Write(pending)
				if err != nil {
					f.fail(fmt.Errorf("write %s:%d: %w", f.host, f.port, err))
					return
				}
				pending = pending[n:]
			}
		}
	}
}

// Frame converts a raw outbound line into its on-wire form: only the
// portion before the first embedded line break is kept, the payload is
// truncated to MaxPayloadLength bytes, and CRLF is appended. The result
// never exceeds MaxLineLength bytes.
func Frame(line string) []byte {
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	if len(line) > protocol.MaxPayloadLength {
		line = line[:protocol.MaxPayloadLength]
	}
	framed := make([]byte, 0, len(line)+len(lineTerminator))
	framed = append(framed, line...)
	return append(framed, lineTerminator...)
}
