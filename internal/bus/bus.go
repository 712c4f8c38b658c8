// Package bus carries messages between channel adapters and the agent
// runtime. Adapters publish inbound messages as they arrive; the gateway
// consumer replies by publishing outbound messages that the channel manager
// dispatches back to the right adapter.
package bus

import (
	"context"
	"log/slog"
)

// queueDepth bounds each direction of the bus. Publishing never blocks, so
// a stalled consumer sheds load instead of freezing a channel's receive
// loop.
const queueDepth = 256

// MessageBus is the in-process MessageRouter used by the daemon.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

var _ MessageRouter = (*MessageBus)(nil)

// New creates a message bus with bounded queues in both directions.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, queueDepth),
		outbound: make(chan OutboundMessage, queueDepth),
	}
}

// PublishInbound queues a message from a channel for the agent runtime.
// The message is dropped with a warning when the queue is full.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("bus: inbound queue full, dropping message",
			"channel", msg.Channel, "sender", msg.SenderID)
	}
}

// ConsumeInbound blocks until a message arrives or ctx is cancelled. The
// second return is false only on cancellation.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// PublishOutbound queues a reply for dispatch back to its channel. The
// message is dropped with a warning when the queue is full.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("bus: outbound queue full, dropping message",
			"channel", msg.Channel, "chat", msg.ChatID)
	}
}

// SubscribeOutbound blocks until an outbound message is ready or ctx is
// cancelled. The second return is false only on cancellation.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}
