// Package whatsapp connects Hive to a WhatsApp bridge over a WebSocket.
// The bridge (whatsapp-web.js or similar) owns the WhatsApp session; this
// adapter exchanges JSON frames with it and publishes inbound messages with
// "wa:"-prefixed sender ids.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/hive/internal/bus"
	"github.com/nextlevelbuilder/hive/internal/channels"
	"github.com/nextlevelbuilder/hive/internal/config"
)

const (
	handshakeTimeout = 10 * time.Second
	maxBackoff       = 30 * time.Second
)

// frame is the JSON message exchanged with the bridge. Inbound frames carry
// from/chat/content; outbound frames carry to/content.
type frame struct {
	Type    string `json:"type"`
	From    string `json:"from,omitempty"`
	Chat    string `json:"chat,omitempty"`
	To      string `json:"to,omitempty"`
	Content string `json:"content,omitempty"`
}

// Channel is the WhatsApp bridge adapter.
type Channel struct {
	*channels.BaseChannel
	cfg    config.WhatsAppConfig
	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the adapter from config.
func New(cfg config.WhatsAppConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridgeUrl is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("whatsapp", msgBus, cfg.AllowFrom),
		cfg:         cfg,
	}, nil
}

// Start connects to the bridge and begins listening. A failed initial
// connection is not fatal; the listen loop keeps retrying with backoff.
func (c *Channel) Start(ctx context.Context) error {
	listenCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	if err := c.connect(); err != nil {
		slog.Warn("whatsapp: initial bridge connection failed, will retry", "error", err)
	}

	go c.listenLoop(listenCtx)
	c.SetRunning(true)
	return nil
}

// Stop closes the bridge connection and ends the listen loop.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	if c.done != nil {
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			slog.Warn("whatsapp: listen loop did not exit within timeout")
		}
	}
	return nil
}

// Send writes a message frame to the bridge.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}

	data, err := json.Marshal(frame{Type: "message", To: msg.ChatID, Content: msg.Content})
	if err != nil {
		return fmt.Errorf("marshal whatsapp frame: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	return nil
}

func (c *Channel) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.Dial(c.cfg.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.cfg.BridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("whatsapp: bridge connected", "url", c.cfg.BridgeURL)
	return nil
}

// listenLoop reads frames from the bridge, reconnecting with capped
// exponential backoff after any failure.
func (c *Channel) listenLoop(ctx context.Context) {
	defer close(c.done)
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("whatsapp: reconnecting to bridge", "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connect(); err != nil {
				slog.Warn("whatsapp: bridge reconnect failed", "error", err)
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = time.Second
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("whatsapp: read error, will reconnect", "error", err)
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		c.handleFrame(raw)
	}
}

// handleFrame publishes a bridge message frame to the bus.
func (c *Channel) handleFrame(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		slog.Warn("whatsapp: invalid bridge frame", "error", err)
		return
	}
	if f.Type != "message" || f.From == "" || f.Content == "" {
		return
	}

	chatID := f.Chat
	if chatID == "" {
		chatID = f.From
	}
	if !c.IsAllowed(f.From) {
		slog.Debug("whatsapp: sender not in allowlist", "sender", f.From)
		return
	}

	slog.Debug("whatsapp: message received",
		"sender", f.From, "preview", channels.Truncate(f.Content, 50))

	c.Publish("wa:"+f.From, chatID, f.Content)
}
