// Package session drives the protocol conversation with a single
// server: the registration handshake, parsing of inbound lines, the
// event loop that reacts to protocol events, and the outbound command
// API.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/omochice/toy-irc-bot/internal/config"
	"github.com/omochice/toy-irc-bot/internal/framer"
	"github.com/omochice/toy-irc-bot/internal/transport"
	"github.com/omochice/toy-irc-bot/pkg/protocol"
)

const messageBacklog = 256

// Session owns the framer for one connection and holds the protocol
// state: the current nick (which may grow a suffix on collisions), the
// channels to join after registration, and the last message seen. All
// state is mutated only from the event loop.
type Session struct {
	framer   *framer.Framer
	nick     string
	realname string
	channels []string
	logger   zerolog.Logger

	last     protocol.Message
	messages chan protocol.Message
}

// New creates a Session for the configured endpoint. The dialer decides
// how bytes reach the server; the logger receives every inbound line
// and outbound command.
func New(cfg config.Config, dialer transport.Dialer, logger zerolog.Logger) *Session {
	return &Session{
		framer:   framer.New(dialer, cfg.Server, cfg.Port, logger),
		nick:     cfg.Nick,
		realname: cfg.RealName,
		channels: append([]string(nil), cfg.Channels...),
		logger:   logger,
		messages: make(chan protocol.Message, messageBacklog),
	}
}

// Run connects, registers, and processes server lines until the
// connection ends or ctx is cancelled. The registration commands are
// queued before the dial completes; the framer sends them once the
// connection is up. Run returns nil after a clean Close and the
// connection error otherwise.
func (s *Session) Run(ctx context.Context) error {
	go func() {
		// A dial failure surfaces through Done/Err below.
		_ = s.framer.Connect(ctx)
	}()

	s.setNick(s.nick)
	s.SendCommand(protocol.CmdUser, fmt.Sprintf("%s 3 * :%s", s.nick, s.realname))

	defer close(s.messages)
	for {
		select {
		case <-ctx.Done():
			s.framer.Close()
			return ctx.Err()
		case <-s.framer.Done():
			return s.exitErr()
		case line, ok := <-s.framer.Lines():
			if !ok {
				return s.exitErr()
			}
			s.handleLine(line)
		}
	}
}

// Close tears down the connection and unblocks Run.
func (s *Session) Close() {
	s.framer.Close()
}

// Messages returns the history of parsed inbound messages, in arrival
// order, for a collaborator to drain. The channel is closed when Run
// returns.
func (s *Session) Messages() <-chan protocol.Message {
	return s.messages
}

// handleLine parses one inbound line and applies the reaction rules. A
// line that fails to parse is logged and discarded; it never aborts the
// event loop.
func (s *Session) handleLine(line string) {
	s.logger.Debug().Str("line", line).Msg("recv")

	msg, err := protocol.ParseLine(line)
	if err != nil {
		s.logger.Warn().Err(err).Str("line", line).Msg("discarding line")
		return
	}
	s.last = msg
	s.record(msg)

	// The rules are evaluated independently and in a fixed order; more
	// than one may fire for a single line.
	if msg.Command == protocol.ReplyNickInUse {
		s.nick += "_"
		s.setNick(s.nick)
	}
	if msg.Command == protocol.CmdPing {
		s.SendCommand(protocol.CmdPong, joinArgs(msg.Args))
	}
	if msg.Command == protocol.ReplyWelcome {
		for _, channel := range s.channels {
			s.SendCommand(protocol.CmdJoin, channel)
		}
	}
}

// record appends msg to the history channel. When no consumer is
// draining, the oldest entry is dropped rather than stalling the event
// loop.
func (s *Session) record(msg protocol.Message) {
	select {
	case s.messages <- msg:
		return
	default:
	}
	select {
	case <-s.messages:
	default:
	}
	select {
	case s.messages <- msg:
	default:
	}
}

// SendRaw enqueues line verbatim. The framer truncates oversized lines
// at send time.
func (s *Session) SendRaw(line string) {
	s.logger.Debug().Str("line", line).Msg("send")
	s.framer.Send(line)
}

// SendCommand sends "<command> <args>". The caller controls the spacing
// inside args, matching the protocol's space-delimited convention.
func (s *Session) SendCommand(command, args string) {
	s.SendRaw(command + " " + args)
}

// PrivateMessage sends text to a nick or channel.
func (s *Session) PrivateMessage(target, text string) {
	s.SendCommand(protocol.CmdPrivMsg, target+" :"+text)
}

// Reply sends text back to whoever originPrefix identifies.
func (s *Session) Reply(originPrefix, text string) {
	nick, _, _ := strings.Cut(originPrefix, "!")
	s.PrivateMessage(nick, text)
}

func (s *Session) setNick(nick string) {
	s.SendCommand(protocol.CmdNick, nick)
}

// exitErr maps the framer's terminal state to Run's return value: a
// requested Close is a clean exit, anything else is a connection error
// for the supervisor to act on.
func (s *Session) exitErr() error {
	if err := s.framer.Err(); err != nil && !errors.Is(err, framer.ErrClosed) {
		return err
	}
	return nil
}

// joinArgs rebuilds a parsed argument list into outbound form: the
// arguments are space-joined with the final one sent as a trailing
// argument, so embedded spaces survive the round trip.
func joinArgs(args []string) string {
	if len(args) == 0 {
		return ""
	}
	out := make([]string, len(args))
	copy(out, args)
	out[len(out)-1] = ":" + out[len(out)-1]
	return strings.Join(out, " ")
}
