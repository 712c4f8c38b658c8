package channels

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Bot API ceilings: roughly 30 messages a second overall and one a
	// second to any single chat.
	globalSendsPerSecond = 30
	perChatInterval      = time.Second

	// maxTrackedChats caps the per-chat limiter map so a rotating set of
	// chat ids cannot grow it without bound.
	maxTrackedChats = 4096
)

// SendPacer spaces outbound sends to stay inside platform rate limits: a
// per-chat limiter plus a global ceiling. Safe for concurrent use.
type SendPacer struct {
	global  *rate.Limiter
	mu      sync.Mutex
	perChat map[string]*rate.Limiter
}

// NewSendPacer creates a pacer with the default Telegram-shaped limits.
func NewSendPacer() *SendPacer {
	return &SendPacer{
		global:  rate.NewLimiter(rate.Limit(globalSendsPerSecond), globalSendsPerSecond),
		perChat: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the chat may be sent to, or ctx is done.
func (p *SendPacer) Wait(ctx context.Context, chatID string) error {
	p.mu.Lock()
	lim, ok := p.perChat[chatID]
	if !ok {
		if len(p.perChat) >= maxTrackedChats {
			// Reset rather than grow without bound; limiters rebuild on
			// demand.
			p.perChat = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(rate.Every(perChatInterval), 1)
		p.perChat[chatID] = lim
	}
	p.mu.Unlock()

	if err := p.global.Wait(ctx); err != nil {
		return err
	}
	return lim.Wait(ctx)
}
