package bus

import "context"

// InboundMessage is a message received from a channel adapter. SenderID
// carries the channel-scoped id the gateway resolves to a user (for example
// "tg:12345"); ChatID is the platform address replies go back to.
type InboundMessage struct {
	Channel  string `json:"channel"`
	SenderID string `json:"senderId"`
	ChatID   string `json:"chatId"`
	Content  string `json:"content"`
}

// OutboundMessage is a reply headed back to a channel adapter.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

// MessageRouter abstracts inbound/outbound message routing between channel
// adapters and the agent runtime.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
