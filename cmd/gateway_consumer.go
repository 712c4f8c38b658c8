package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/hive/internal/agent"
	"github.com/nextlevelbuilder/hive/internal/bus"
)

const (
	// maxConcurrentTurns bounds how many inbound messages are in flight at
	// once across all channels.
	maxConcurrentTurns = 4

	// turnTimeout caps one message turn end to end, including tool calls
	// and provider retries.
	turnTimeout = 5 * time.Minute
)

// consumeInbound reads messages from the bus and runs each through the
// gateway, publishing the reply back to the originating channel. Turns run
// concurrently up to maxConcurrentTurns; the loop exits when ctx is
// cancelled.
func consumeInbound(ctx context.Context, msgBus *bus.MessageBus, gw *agent.Gateway) {
	slog.Info("inbound message consumer started")

	sem := semaphore.NewWeighted(maxConcurrentTurns)
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound message consumer stopped")
			return
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			slog.Info("inbound message consumer stopped")
			return
		}

		go func(m bus.InboundMessage) {
			defer sem.Release(1)

			turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
			defer cancel()

			resp, err := gw.Handle(turnCtx, &agent.GatewayRequest{
				UserID:  m.SenderID,
				Message: m.Content,
				Channel: m.Channel,
			})
			if err != nil {
				// Cancelled turns mean the daemon is shutting down; there is
				// nobody left to deliver a reply to.
				if errors.Is(err, context.Canceled) {
					slog.Info("inbound: turn cancelled", "channel", m.Channel, "chat", m.ChatID)
					return
				}
				slog.Error("inbound: turn failed",
					"error", err, "channel", m.Channel, "sender", m.SenderID)
				msgBus.PublishOutbound(bus.OutboundMessage{
					Channel: m.Channel,
					ChatID:  m.ChatID,
					Content: errorReply(err),
				})
				return
			}
			if resp.Response == "" {
				slog.Debug("inbound: empty reply suppressed", "channel", m.Channel)
				return
			}

			msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: m.Channel,
				ChatID:  m.ChatID,
				Content: resp.Response,
			})
		}(msg)
	}
}

// errorReply turns an internal error into a short reply the user can act
// on. The raw error stays in the logs.
func errorReply(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "Sorry, that took too long and I gave up. Try again, or break the request into smaller steps."
	}
	return "Sorry, something went wrong while handling that. Please try again."
}
