package framer_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/toy-irc-bot/internal/framer"
	"github.com/omochice/toy-irc-bot/internal/transport"
	"github.com/omochice/toy-irc-bot/pkg/protocol"
)

// pipeDialer hands out a pre-built connection, letting tests drive the
// server side of a net.Pipe.
type pipeDialer struct {
	conn transport.Conn
	err  error
}

func (d *pipeDialer) Dial(ctx context.Context, host string, port int) (transport.Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func newPipeFramer(t *testing.T) (*framer.Framer, net.Conn) {
	t.Helper()

	server, client := net.Pipe()
	f := framer.New(&pipeDialer{conn: transport.NewTCPConn(client)}, "test", 6667, zerolog.Nop())
	if err := f.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() {
		f.Close()
		server.Close()
	})
	return f, server
}

func waitLine(t *testing.T, f *framer.Framer) string {
	t.Helper()
	select {
	case line, ok := <-f.Lines():
		if !ok {
			t.Fatal("Lines() closed unexpectedly")
		}
		return line
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a line")
	}
	return ""
}

func TestFramer_ReadLoop_ArbitraryChunking(t *testing.T) {
	f, server := newPipeFramer(t)

	// Chunk boundaries deliberately split lines and the CRLF itself.
	chunks := []string{"NICK", " mybot\r\nPI", "NG :abc\r", "\n:srv 00", "1 mybot :hi\r\n"}
	go func() {
		for _, chunk := range chunks {
			if _, err := server.Write([]byte(chunk)); err != nil {
				return
			}
		}
	}()

	want := []string{"NICK mybot", "PING :abc", ":srv 001 mybot :hi"}
	for i, w := range want {
		if got := waitLine(t, f); got != w {
			t.Errorf("line %d = %q, want %q", i, got, w)
		}
	}
}

func TestFramer_ReadLoop_HoldsPartialLine(t *testing.T) {
	f, server := newPipeFramer(t)

	go server.Write([]byte("partial"))

	select {
	case line := <-f.Lines():
		t.Fatalf("got line %q before terminator arrived", line)
	case <-time.After(50 * time.Millisecond):
	}

	go server.Write([]byte(" done\r\n"))
	if got := waitLine(t, f); got != "partial done" {
		t.Errorf("line = %q, want %q", got, "partial done")
	}
}

func TestFramer_ReadLoop_ClosesOnConnectionLoss(t *testing.T) {
	f, server := newPipeFramer(t)

	go func() {
		server.Write([]byte("last\r\n"))
		server.Close()
	}()

	if got := waitLine(t, f); got != "last" {
		t.Errorf("line = %q, want %q", got, "last")
	}

	select {
	case _, ok := <-f.Lines():
		if ok {
			t.Error("expected Lines() to close after connection loss")
		}
	case <-time.After(time.Second):
		t.Fatal("Lines() still open after connection loss")
	}

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not signalled after connection loss")
	}
	if f.Err() == nil {
		t.Error("Err() = nil, want connection error")
	}
}

func TestFramer_Connect_DialFailure(t *testing.T) {
	dialErr := errors.New("refused")
	f := framer.New(&pipeDialer{err: dialErr}, "test", 6667, zerolog.Nop())

	if err := f.Connect(context.Background()); !errors.Is(err, dialErr) {
		t.Fatalf("Connect() error = %v, want %v", err, dialErr)
	}

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not signalled after dial failure")
	}
	if !errors.Is(f.Err(), dialErr) {
		t.Errorf("Err() = %v, want %v", f.Err(), dialErr)
	}

	select {
	case _, ok := <-f.Lines():
		if ok {
			t.Error("expected Lines() to be closed after dial failure")
		}
	default:
		t.Error("Lines() still open after dial failure")
	}
}

func TestFramer_SendBeforeConnect(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	f := framer.New(&pipeDialer{conn: transport.NewTCPConn(client)}, "test", 6667, zerolog.Nop())
	f.Send("NICK early")

	if err := f.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer f.Close()

	server.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(server).ReadString('\n')
	if err != nil {
		t.Fatalf("server read error: %v", err)
	}
	if line != "NICK early\r\n" {
		t.Errorf("server received %q, want %q", line, "NICK early\r\n")
	}
}

func TestFrame(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "plain line gains terminator",
			line: "PRIVMSG #chan :hi",
			want: "PRIVMSG #chan :hi\r\n",
		},
		{
			name: "only first segment of embedded newline",
			line: "first\nsecond",
			want: "first\r\n",
		},
		{
			name: "only first segment of embedded crlf",
			line: "first\r\nsecond",
			want: "first\r\n",
		},
		{
			name: "payload truncated to cap",
			line: strings.Repeat("a", 600),
			want: strings.Repeat("a", protocol.MaxPayloadLength) + "\r\n",
		},
		{
			name: "empty line",
			line: "",
			want: "\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := framer.Frame(tt.line)
			if string(got) != tt.want {
				t.Errorf("Frame(%q) = %q, want %q", tt.line, got, tt.want)
			}
			if len(got) > protocol.MaxLineLength {
				t.Errorf("framed length %d exceeds %d", len(got), protocol.MaxLineLength)
			}
		})
	}
}

// stubConn accepts at most maxPerWrite bytes per Write call and records
// everything accepted, to exercise the partial-write drain.
type stubConn struct {
	maxPerWrite int

	mu      sync.Mutex
	written bytes.Buffer

	closeOnce sync.Once
	closed    chan struct{}
}

func newStubConn(maxPerWrite int) *stubConn {
	return &stubConn{maxPerWrite: maxPerWrite, closed: make(chan struct{})}
}

func (c *stubConn) Read(buf []byte) (int, error) {
	<-c.closed
	return 0, errors.New("connection closed")
}

func (c *stubConn) Write(data []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(data)
	if n > c.maxPerWrite {
		n = c.maxPerWrite
	}
	c.written.Write(data[:n])
	return n, nil
}

func (c *stubConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *stubConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6667}
}

func (c *stubConn) writtenString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.String()
}

func TestFramer_WriteLoop_PartialWrites(t *testing.T) {
	conn := newStubConn(3)
	f := framer.New(&pipeDialer{conn: conn}, "test", 6667, zerolog.Nop())
	if err := f.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer f.Close()

	f.Send("PRIVMSG #chan :hello")
	f.Send("PING :two")
	want := "PRIVMSG #chan :hello\r\nPING :two\r\n"

	deadline := time.Now().Add(time.Second)
	for conn.writtenString() != want {
		if time.Now().After(deadline) {
			t.Fatalf("written = %q, want %q", conn.writtenString(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
