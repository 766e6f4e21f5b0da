// Package message provides service-independent message types.
package message

import (
	"fmt"
	"strings"
	"time"
)

// Received is a message received from the chat service.
type Received struct {
	// ID is the unique ID of the message.
	ID string
	// Guild is the identifier of the guild in which the message was sent.
	// It is empty for direct messages.
	Guild string
	// Channel is the identifier of the channel in which the message was sent.
	Channel string
	// Sender is the unique identifier of the message author.
	Sender string
	// Name is the display name of the message author.
	Name string
	// Text is the text of the message.
	Text string
	// Timestamp is the timestamp of the message as milliseconds since the
	// Unix epoch.
	Timestamp int64
	// IsBot indicates whether the author is a bot account, including
	// ourselves.
	IsBot bool
}

func (m *Received) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// IsDirect reports whether the message was sent in a direct channel rather
// than a guild channel.
func (m *Received) IsDirect() bool {
	return m.Guild == ""
}

// Sent is a message to be sent to the chat service.
type Sent struct {
	// Reply is the ID of a message to reply to. If empty, the message is not
	// interpreted as a reply.
	Reply string
	// To is the channel to which the message is sent.
	To string
	// Text is the message text.
	Text string
}

// formatString is a type to prevent misuse of format strings passed to [Format].
type formatString string

// Format constructs a message to send from a format string literal and
// formatting arguments.
func Format(reply, to string, f formatString, args ...any) Sent {
	return Sent{
		Reply: reply,
		To:    to,
		Text:  strings.TrimSpace(fmt.Sprintf(string(f), args...)),
	}
}

// Tokens splits a message's text on whitespace. A message containing no
// tokens yields a nil slice.
func Tokens(text string) []string {
	return strings.Fields(text)
}
