package channels

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/hive/internal/bus"
)

func TestIsAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		ids       []string
		want      bool
	}{
		{"empty list admits everyone", nil, []string{"12345"}, true},
		{"numeric id match", []string{"12345"}, []string{"12345"}, true},
		{"username match", []string{"ann"}, []string{"99", "ann"}, true},
		{"at-prefixed entry matches bare username", []string{"@ann"}, []string{"99", "ann"}, true},
		{"case insensitive", []string{"@Ann"}, []string{"99", "ANN"}, true},
		{"no match", []string{"ann", "42"}, []string{"99", "bob"}, false},
		{"empty id ignored", []string{"ann"}, []string{"", "bob"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewBaseChannel("test", bus.New(), tt.allowList)
			if got := c.IsAllowed(tt.ids...); got != tt.want {
				t.Fatalf("IsAllowed(%v) with list %v = %v, want %v", tt.ids, tt.allowList, got, tt.want)
			}
		})
	}
}

func TestPublishForwardsToBus(t *testing.T) {
	b := bus.New()
	c := NewBaseChannel("telegram", b, nil)
	c.Publish("tg:42", "42", "hello")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a published message")
	}
	if msg.Channel != "telegram" || msg.SenderID != "tg:42" || msg.ChatID != "42" || msg.Content != "hello" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestRunningFlag(t *testing.T) {
	c := NewBaseChannel("test", bus.New(), nil)
	if c.IsRunning() {
		t.Fatal("new channel should not be running")
	}
	c.SetRunning(true)
	if !c.IsRunning() {
		t.Fatal("expected running after SetRunning(true)")
	}
	c.SetRunning(false)
	if c.IsRunning() {
		t.Fatal("expected stopped after SetRunning(false)")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("Truncate short = %q", got)
	}
	if got := Truncate("abcdefghij", 4); got != "abcd..." {
		t.Fatalf("Truncate long = %q", got)
	}
}
