package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/hive/internal/bus"
)

// Manager owns the registered channels: it starts and stops them together
// and routes outbound bus messages to the adapter named in each message. It
// is also the delivery path for workflow notify steps and due reminders,
// which address a channel and recipient directly through Send.
type Manager struct {
	mu             sync.RWMutex
	channels       map[string]Channel
	bus            *bus.MessageBus
	dispatchCancel context.CancelFunc
}

// NewManager creates an empty manager. Channels are added with
// RegisterChannel before StartAll.
func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
	}
}

// RegisterChannel adds a channel under its own name.
func (m *Manager) RegisterChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Get returns a channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns the registered channel names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status reports the running state of every registered channel.
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		status[name] = ch.IsRunning()
	}
	return status
}

// StartAll starts the outbound dispatcher and every registered channel. A
// channel that fails to start is logged and skipped so one broken adapter
// does not take the daemon down.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.dispatchCancel = cancel
	go m.dispatchOutbound(dispatchCtx)

	if len(m.channels) == 0 {
		slog.Warn("channels: none enabled")
		return nil
	}

	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			slog.Error("channels: start failed", "channel", name, "error", err)
			continue
		}
		slog.Info("channels: started", "channel", name)
	}
	return nil
}

// StopAll stops the dispatcher and every channel.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dispatchCancel != nil {
		m.dispatchCancel()
		m.dispatchCancel = nil
	}

	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			slog.Error("channels: stop failed", "channel", name, "error", err)
		}
	}
	slog.Info("channels: all stopped")
	return nil
}

// dispatchOutbound consumes outbound messages from the bus and hands each
// to the adapter it names.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if msg.Content == "" {
			continue
		}

		m.mu.RLock()
		ch, exists := m.channels[msg.Channel]
		m.mu.RUnlock()

		if !exists {
			slog.Warn("channels: no adapter for outbound message", "channel", msg.Channel)
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			slog.Error("channels: send failed", "channel", msg.Channel, "chat", msg.ChatID, "error", err)
		}
	}
}

// Send delivers text to a recipient on a named channel, bypassing the bus.
// Workflow notify steps and the reminder sweeper deliver through here.
func (m *Manager) Send(ctx context.Context, channel, recipient, text string) error {
	m.mu.RLock()
	ch, exists := m.channels[channel]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("channel %q not configured", channel)
	}
	return ch.Send(ctx, bus.OutboundMessage{
		Channel: channel,
		ChatID:  recipient,
		Content: text,
	})
}
