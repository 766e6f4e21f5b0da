// Package plugin defines the installable command modules the router
// dispatches to, and the registry tracking them.
package plugin

import (
	"context"
	"strings"

	"github.com/forward-long-jumps/discotron/guild"
	"github.com/forward-long-jumps/discotron/message"
)

// Scope restricts where a command may fire.
type Scope int8

const (
	// Everywhere allows a command in both direct and guild channels.
	Everywhere Scope = iota
	// DM allows a command only in direct channels.
	DM
	// InGuild allows a command only in guild channels.
	InGuild
)

// Allows reports whether the scope matches a message's origin.
func (s Scope) Allows(inGuild bool) bool {
	switch s {
	case DM:
		return !inGuild
	case InGuild:
		return inGuild
	default:
		return true
	}
}

// Policy is a plugin's default access policy, applied when a guild's
// permission record for the plugin lists no principals.
type Policy int8

const (
	// Everyone allows every guild member.
	Everyone Policy = iota
	// Admins allows only guild admins.
	Admins
)

// Trigger decides whether a message invokes a command. The text is the
// lower-cased raw message; the prefix is the effective prefix (guild prefix
// plus plugin prefix) as configured, without case folding.
type Trigger func(text, prefix string) bool

// Prefixed matches messages whose first token after the effective prefix is
// name.
func Prefixed(name string) Trigger {
	name = strings.ToLower(name)
	return func(text, prefix string) bool {
		if !strings.HasPrefix(text, prefix) {
			return false
		}
		f := strings.Fields(text[len(prefix):])
		return len(f) > 0 && f[0] == name
	}
}

// Word matches messages containing any of the given words as a token.
func Word(words ...string) Trigger {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = true
	}
	return func(text, prefix string) bool {
		for _, tok := range strings.Fields(text) {
			if set[tok] {
				return true
			}
		}
		return false
	}
}

// MatchAll matches every message, including ones with no tokens.
func MatchAll() Trigger {
	return func(text, prefix string) bool { return true }
}

// Invocation is a command invocation. An Invocation and its fields must not
// be modified or retained by any command.
type Invocation struct {
	// Message is the message which triggered the invocation.
	Message *message.Received
	// Tokens is the whitespace-tokenized message text.
	Tokens []string
	// Guild is the configuration of the guild the message was sent in, or
	// nil for a direct message.
	Guild *guild.Guild
}

// Kit is the capability object handed to a command's action. Each plugin
// receives only its own kit.
type Kit struct {
	// Plugin is the owning plugin's identifier.
	Plugin string
	// Send sends a message to a channel.
	Send func(ctx context.Context, msg message.Sent)
}

// Command is a single triggerable action inside a plugin.
type Command struct {
	// Name names the command in logs.
	Name string
	// Scope restricts where the command fires.
	Scope Scope
	// SpamExempt excludes the command from spam detection.
	SpamExempt bool
	// Match is the command's trigger.
	Match Trigger
	// Run executes the command.
	Run func(ctx context.Context, kit *Kit, call *Invocation) error
}

// Plugin is one installed command module.
type Plugin struct {
	// ID is the plugin identifier.
	ID string
	// Name is the display name.
	Name string
	// Prefix is the plugin command prefix, layered under the guild prefix.
	Prefix string
	// DefaultPolicy applies when a guild's permission record for this plugin
	// lists no principals.
	DefaultPolicy Policy
	// Commands, Words, and Always are the plugin's command definitions by
	// trigger type: prefix-triggered, keyword-triggered, and unconditional.
	Commands []*Command
	Words    []*Command
	Always   []*Command
}
