package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/hive/internal/bus"
	"github.com/nextlevelbuilder/hive/internal/config"
)

// testBridge is a minimal stand-in for the WhatsApp bridge: it accepts one
// WebSocket client and records every frame it receives.
type testBridge struct {
	srv      *httptest.Server
	mu       sync.Mutex
	conn     *websocket.Conn
	received []frame
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	b := &testBridge{}
	upgrader := websocket.Upgrader{}

	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()

		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			b.mu.Lock()
			b.received = append(b.received, f)
			b.mu.Unlock()
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *testBridge) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *testBridge) push(t *testing.T, f frame) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn != nil {
			data, _ := json.Marshal(f)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.Fatalf("bridge write: %v", err)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no client connected to test bridge")
}

func (b *testBridge) receivedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.received)
}

func (b *testBridge) lastReceived() frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.received[len(b.received)-1]
}

func startChannel(t *testing.T, bridge *testBridge, msgBus *bus.MessageBus, allow []string) *Channel {
	t.Helper()
	ch, err := New(config.WhatsAppConfig{BridgeURL: bridge.url(), AllowFrom: allow}, msgBus)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = ch.Stop(context.Background()) })
	return ch
}

func TestNewRequiresBridgeURL(t *testing.T) {
	if _, err := New(config.WhatsAppConfig{}, bus.New()); err == nil {
		t.Fatal("expected error for missing bridgeUrl")
	}
}

func TestInboundFramePublishesPrefixedSender(t *testing.T) {
	bridge := newTestBridge(t)
	msgBus := bus.New()
	startChannel(t, bridge, msgBus, nil)

	bridge.push(t, frame{Type: "message", From: "15551234", Chat: "15551234", Content: "hey hive"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected an inbound message")
	}
	if msg.SenderID != "wa:15551234" {
		t.Fatalf("SenderID = %q, want wa:15551234", msg.SenderID)
	}
	if msg.Channel != "whatsapp" || msg.ChatID != "15551234" || msg.Content != "hey hive" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestSendWritesFrameToBridge(t *testing.T) {
	bridge := newTestBridge(t)
	msgBus := bus.New()
	ch := startChannel(t, bridge, msgBus, nil)

	// Wait for the connection before sending.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		ch.mu.Lock()
		connected := ch.conn != nil
		ch.mu.Unlock()
		if connected {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "15551234", Content: "Done: 3"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && bridge.receivedCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if bridge.receivedCount() != 1 {
		t.Fatalf("bridge received %d frames, want 1", bridge.receivedCount())
	}
	got := bridge.lastReceived()
	if got.Type != "message" || got.To != "15551234" || got.Content != "Done: 3" {
		t.Fatalf("unexpected frame: %+v", got)
	}
}

func TestSendWithoutConnectionErrors(t *testing.T) {
	ch, err := New(config.WhatsAppConfig{BridgeURL: "ws://127.0.0.1:1/ws"}, bus.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "1", Content: "hi"}); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestHandleFrameFiltersNoise(t *testing.T) {
	msgBus := bus.New()
	ch, err := New(config.WhatsAppConfig{BridgeURL: "ws://example.invalid/ws"}, msgBus)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch.handleFrame([]byte(`{"type":"status","from":"x","content":"ignored"}`))
	ch.handleFrame([]byte(`{"type":"message","content":"no sender"}`))
	ch.handleFrame([]byte(`{"type":"message","from":"x"}`))
	ch.handleFrame([]byte(`not json`))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := msgBus.ConsumeInbound(ctx); ok {
		t.Fatal("noise frames must not reach the bus")
	}
}

func TestHandleFrameRespectsAllowlist(t *testing.T) {
	msgBus := bus.New()
	ch, err := New(config.WhatsAppConfig{
		BridgeURL: "ws://example.invalid/ws",
		AllowFrom: config.FlexibleStringSlice{"15551234"},
	}, msgBus)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch.handleFrame([]byte(`{"type":"message","from":"9999","content":"blocked"}`))
	ch.handleFrame([]byte(`{"type":"message","from":"15551234","content":"allowed"}`))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("allowed sender should reach the bus")
	}
	if msg.Content != "allowed" {
		t.Fatalf("Content = %q, want allowed (blocked frame leaked)", msg.Content)
	}
}

func TestFrameChatDefaultsToSender(t *testing.T) {
	msgBus := bus.New()
	ch, err := New(config.WhatsAppConfig{BridgeURL: "ws://example.invalid/ws"}, msgBus)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch.handleFrame([]byte(`{"type":"message","from":"15551234","content":"hi"}`))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected an inbound message")
	}
	if msg.ChatID != "15551234" {
		t.Fatalf("ChatID = %q, want sender fallback", msg.ChatID)
	}
}
