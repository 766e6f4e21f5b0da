package message_test

import (
	"slices"
	"testing"

	"github.com/forward-long-jumps/discotron/message"
)

func TestTokens(t *testing.T) {
	cases := []struct {
		text string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"hello", []string{"hello"}},
		{"  !p  hello   there ", []string{"!p", "hello", "there"}},
	}
	for _, c := range cases {
		if got := message.Tokens(c.text); !slices.Equal(got, c.want) {
			t.Errorf("Tokens(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestFormat(t *testing.T) {
	m := message.Format("m1", "general", "up for %v  ", "5s")
	if m.Reply != "m1" || m.To != "general" {
		t.Errorf("Format addressed %+v", m)
	}
	if m.Text != "up for 5s" {
		t.Errorf("Format text = %q", m.Text)
	}
}

func TestIsDirect(t *testing.T) {
	dm := message.Received{Channel: "dm"}
	if !dm.IsDirect() {
		t.Error("message without a guild should be direct")
	}
	in := message.Received{Guild: "starry", Channel: "general"}
	if in.IsDirect() {
		t.Error("guild message reported as direct")
	}
}
