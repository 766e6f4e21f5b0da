package plugins_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/forward-long-jumps/discotron/message"
	"github.com/forward-long-jumps/discotron/plugin"
	"github.com/forward-long-jumps/discotron/plugins"
)

type fakeCtrl struct {
	maintenance bool
	owners      map[string]bool
}

func (c *fakeCtrl) Maintenance() bool      { return c.maintenance }
func (c *fakeCtrl) SetMaintenance(on bool) { c.maintenance = on }
func (c *fakeCtrl) IsOwner(id string) bool { return c.owners[id] }
func (c *fakeCtrl) Uptime() time.Duration  { return 5 * time.Second }

func kit(sent *[]message.Sent) *plugin.Kit {
	return &plugin.Kit{
		Plugin: "core",
		Send: func(ctx context.Context, msg message.Sent) {
			*sent = append(*sent, msg)
		},
	}
}

func command(t *testing.T, p *plugin.Plugin, name string) *plugin.Command {
	t.Helper()
	for _, c := range p.Commands {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no %s command", name)
	return nil
}

func invoke(text string) *plugin.Invocation {
	return &plugin.Invocation{
		Message: &message.Received{ID: "m1", Channel: "general", Sender: "bocchi", Text: text},
		Tokens:  message.Tokens(text),
	}
}

func TestCorePing(t *testing.T) {
	ctx := context.Background()
	var sent []message.Sent
	p := plugins.Core(&fakeCtrl{})
	if err := command(t, p, "ping").Run(ctx, kit(&sent), invoke("ping")); err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 || sent[0].Text != "pong" {
		t.Errorf("sent = %v, want one pong", sent)
	}
	if sent[0].Reply != "m1" || sent[0].To != "general" {
		t.Errorf("reply addressed %+v", sent[0])
	}
}

func TestCoreMaintenance(t *testing.T) {
	ctx := context.Background()
	var sent []message.Sent
	ctrl := &fakeCtrl{owners: map[string]bool{"seika": true}}
	p := plugins.Core(ctrl)
	cmd := command(t, p, "maintenance")

	// Non-owners are ignored entirely.
	if err := cmd.Run(ctx, kit(&sent), invoke("maintenance on")); err != nil {
		t.Fatal(err)
	}
	if ctrl.maintenance || len(sent) != 0 {
		t.Errorf("non-owner toggled maintenance; sent = %v", sent)
	}

	call := invoke("maintenance on")
	call.Message.Sender = "seika"
	if err := cmd.Run(ctx, kit(&sent), call); err != nil {
		t.Fatal(err)
	}
	if !ctrl.maintenance {
		t.Error("maintenance not enabled")
	}
	if len(sent) != 1 || !strings.Contains(sent[0].Text, "on") {
		t.Errorf("sent = %v", sent)
	}

	call = invoke("maintenance off")
	call.Message.Sender = "seika"
	if err := cmd.Run(ctx, kit(&sent), call); err != nil {
		t.Fatal(err)
	}
	if ctrl.maintenance {
		t.Error("maintenance not disabled")
	}

	// A bare query reports the state without changing it.
	call = invoke("maintenance")
	call.Message.Sender = "seika"
	if err := cmd.Run(ctx, kit(&sent), call); err != nil {
		t.Fatal(err)
	}
	if ctrl.maintenance {
		t.Error("query toggled maintenance")
	}

	call = invoke("maintenance sideways")
	call.Message.Sender = "seika"
	if err := cmd.Run(ctx, kit(&sent), call); err == nil {
		t.Error("expected an error for a bad argument")
	}
}

func TestModWatchlist(t *testing.T) {
	ctx := context.Background()
	var sent []message.Sent
	p := plugins.Mod([]string{"guitar"})
	if len(p.Words) != 1 {
		t.Fatalf("mod has %d word commands, want 1", len(p.Words))
	}
	w := p.Words[0]
	if w.Scope != plugin.InGuild {
		t.Error("watchlist should be guild-only")
	}
	if !w.Match("nice guitar solo", "") {
		t.Error("watchlist did not match a watched word")
	}
	if w.Match("nothing here", "") {
		t.Error("watchlist matched an innocent message")
	}
	if err := w.Run(ctx, kit(&sent), invoke("nice guitar solo")); err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 {
		t.Errorf("sent = %v, want one warning", sent)
	}

	// No watch words, no watchlist command.
	if p := plugins.Mod(nil); len(p.Words) != 0 {
		t.Errorf("empty watchlist produced %d word commands", len(p.Words))
	}
}
