// Package telegram connects Hive to the Telegram Bot API using long
// polling. Inbound messages are published with "tg:"-prefixed sender ids;
// outbound replies are chunked to the API limit and paced through the
// shared rate limiter.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/hive/internal/bus"
	"github.com/nextlevelbuilder/hive/internal/channels"
	"github.com/nextlevelbuilder/hive/internal/config"
)

// maxMessageLen is the Bot API ceiling for a single message.
const maxMessageLen = 4096

// Channel is the Telegram adapter.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	pacer      *channels.SendPacer
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates the adapter from config.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		bot:         bot,
		pacer:       channels.NewSendPacer(),
	}, nil
}

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram: connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram: updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop cancels the long polling context and waits for the polling
// goroutine to exit so Telegram releases the getUpdates lock before a new
// instance starts.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram: polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// handleMessage forwards one update to the bus after the allowlist check.
func (c *Channel) handleMessage(msg *telego.Message) {
	if msg.From == nil {
		return
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if strings.TrimSpace(content) == "" {
		// Service messages (member joins, pins) and bare media carry no
		// text to act on.
		return
	}

	userID := strconv.FormatInt(msg.From.ID, 10)
	if !c.IsAllowed(userID, msg.From.Username) {
		slog.Debug("telegram: sender not in allowlist",
			"user_id", userID, "username", msg.From.Username)
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	slog.Debug("telegram: message received",
		"chat_id", chatID, "preview", channels.Truncate(content, 50))

	c.Publish("tg:"+userID, chatID, content)
}

// Send chunks the reply at the API limit and paces each chunk.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", msg.ChatID, err)
	}

	for _, chunk := range splitMessage(msg.Content, maxMessageLen) {
		if err := c.pacer.Wait(ctx, msg.ChatID); err != nil {
			return err
		}
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit bytes, preferring a
// newline boundary when one falls in the second half of the window.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for len(text) > 0 {
		chunk := text
		if len(chunk) > limit {
			cutAt := limit
			if idx := strings.LastIndex(text[:limit], "\n"); idx > limit/2 {
				cutAt = idx + 1
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
