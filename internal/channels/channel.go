// Package channels connects messaging platforms to the agent runtime. Each
// adapter turns platform traffic into bus messages and delivers replies; the
// Manager owns adapter lifecycle and routes outbound messages to the adapter
// named in each message.
package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/nextlevelbuilder/hive/internal/bus"
)

// Channel is implemented by every messaging adapter.
type Channel interface {
	// Name returns the channel identifier ("telegram", "whatsapp", "cli").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is actively processing messages.
	IsRunning() bool
}

// BaseChannel provides the shared plumbing adapters embed: the bus
// reference, the running flag, and the sender allowlist.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	running   atomic.Bool
	allowList []string
}

// NewBaseChannel creates the embedded base for an adapter. An empty
// allowList admits every sender.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus, allowList: allowList}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning reports whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running flag.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// IsAllowed checks the given sender identifiers (platform id, username)
// against the allowlist. Entries match case-insensitively, with or without
// a leading "@". An empty allowlist admits everyone.
func (c *BaseChannel) IsAllowed(ids ...string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		for _, id := range ids {
			if id == "" {
				continue
			}
			if strings.EqualFold(id, allowed) || strings.EqualFold(id, trimmed) {
				return true
			}
		}
	}
	return false
}

// Publish forwards a received message to the bus. senderID must carry the
// channel prefix the gateway resolves ("tg:123", "wa:456").
func (c *BaseChannel) Publish(senderID, chatID, content string) {
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
	})
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
