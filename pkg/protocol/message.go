// Package protocol implements the wire-level message model for the
// line-oriented chat protocol: lines with an optional sender prefix, a
// command verb or three-digit numeric reply, and space-delimited
// arguments of which the last may be a trailing argument containing
// spaces.
package protocol

import (
	"errors"
	"strings"
)

const (
	// MaxLineLength is the maximum length of a protocol line in bytes,
	// including the trailing CRLF.
	MaxLineLength = 512

	// MaxPayloadLength is the maximum line length before the CRLF
	// terminator is appended.
	MaxPayloadLength = MaxLineLength - len(LineTerminator)

	// LineTerminator separates protocol lines on the wire.
	LineTerminator = "\r\n"
)

// Commands and numeric replies the client consumes or produces.
const (
	CmdNick    = "NICK"
	CmdUser    = "USER"
	CmdPing    = "PING"
	CmdPong    = "PONG"
	CmdJoin    = "JOIN"
	CmdPrivMsg = "PRIVMSG"

	// ReplyWelcome is the numeric the server sends once registration
	// has completed.
	ReplyWelcome = "001"

	// ReplyNickInUse is the numeric the server sends on a nickname
	// collision.
	ReplyNickInUse = "433"
)

// ErrEmptyMessage is returned by ParseLine for an empty line. Empty
// lines are an expected input condition: the caller discards the line
// and continues.
var ErrEmptyMessage = errors.New("empty message line")

// ErrMalformedLine is returned by ParseLine when a line carries no
// command token.
var ErrMalformedLine = errors.New("malformed message line")

// Message represents a single parsed protocol line. It is constructed
// by ParseLine and never mutated afterwards.
type Message struct {
	// Prefix identifies the sender (nick!user@host or a server name).
	// It may be empty.
	Prefix string

	// Command is the verb, or a three-digit numeric reply code.
	Command string

	// Args holds the remaining arguments in order. The last element
	// may contain spaces if it arrived as the trailing argument.
	Args []string
}

// SourceNick returns the nick portion of the prefix: the text before
// the first '!'. For a server prefix without a '!' it returns the whole
// prefix, and for messages without a prefix it returns "".
func (m Message) SourceNick() string {
	nick, _, _ := strings.Cut(m.Prefix, "!")
	return nick
}

// ParseLine breaks a line from the server into its prefix, command, and
// arguments.
//
// A leading ':' introduces the prefix, which runs to the first space.
// The sequence " :" introduces the trailing argument, which extends
// verbatim to the end of the line. The first remaining token becomes
// the command; everything after it is the argument list.
func ParseLine(line string) (Message, error) {
	if line == "" {
		return Message{}, ErrEmptyMessage
	}

	var msg Message
	rest := line
	if strings.HasPrefix(rest, ":") {
		prefix, remainder, found := strings.Cut(rest[1:], " ")
		if !found {
			// A bare prefix with nothing after it has no command.
			return Message{}, ErrMalformedLine
		}
		msg.Prefix = prefix
		rest = remainder
	}

	var args []string
	if before, trailing, found := strings.Cut(rest, " :"); found {
		args = strings.Fields(before)
		args = append(args, trailing)
	} else {
		args = strings.Fields(rest)
	}
	if len(args) == 0 {
		return Message{}, ErrMalformedLine
	}

	msg.Command = args[0]
	msg.Args = args[1:]
	return msg, nil
}
