// Package reminders delivers due reminders to their owners' chat channels.
package reminders

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/hive/internal/store"
)

const sweepInterval = 60 * time.Second

// Notifier delivers a message to a recipient handle on a channel. Satisfied
// by the channel manager.
type Notifier interface {
	Send(ctx context.Context, channel, recipient, text string) error
}

// Sweeper wakes once a minute, claims reminders that came due, and delivers
// them through the user's first linked channel identity. The claim is a
// unique-winner update, so a reminder is notified at most once even with
// several daemons on one database.
type Sweeper struct {
	reminders  store.ReminderStore
	identities store.IdentityStore
	notifier   Notifier

	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(st *store.Stores, notifier Notifier) *Sweeper {
	return &Sweeper{
		reminders:  st.Reminders,
		identities: st.Identities,
		notifier:   notifier,
		interval:   sweepInterval,
		now:        time.Now,
	}
}

// Start begins the sweep loop. Calling Start on a running sweeper is a
// no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
	slog.Info("reminders: sweeper started", "interval", s.interval)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	slog.Info("reminders: sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass: claim and deliver every reminder that is due.
func (s *Sweeper) Sweep(ctx context.Context) {
	due, err := s.reminders.Due(ctx, s.now())
	if err != nil {
		slog.Warn("reminders: due query failed", "error", err)
		return
	}
	for _, rem := range due {
		won, err := s.reminders.MarkNotified(ctx, rem.ID, s.now())
		if err != nil {
			slog.Warn("reminders: claim failed", "reminder_id", rem.ID, "error", err)
			continue
		}
		if !won {
			continue
		}
		s.deliver(ctx, rem)
	}
}

func (s *Sweeper) deliver(ctx context.Context, rem *store.Reminder) {
	channel, recipient, ok := s.route(ctx, rem.UserID)
	if !ok {
		slog.Warn("reminders: no delivery route", "user", rem.UserID, "reminder_id", rem.ID)
		return
	}
	if err := s.notifier.Send(ctx, channel, recipient, "Reminder: "+rem.Text); err != nil {
		slog.Warn("reminders: delivery failed",
			"reminder_id", rem.ID, "channel", channel, "error", err)
		return
	}
	slog.Info("reminders: delivered", "reminder_id", rem.ID, "channel", channel)
}

// route picks the user's first linked identity; users whose id carries a
// channel prefix fall back to that channel directly.
func (s *Sweeper) route(ctx context.Context, userID string) (channel, recipient string, ok bool) {
	idents, err := s.identities.ListForUser(ctx, userID)
	if err != nil {
		slog.Warn("reminders: identity lookup failed", "user", userID, "error", err)
		return "", "", false
	}
	if len(idents) > 0 {
		return idents[0].Channel, idents[0].ChannelUserID, true
	}
	if rest, found := strings.CutPrefix(userID, "tg:"); found {
		return "telegram", rest, true
	}
	if rest, found := strings.CutPrefix(userID, "wa:"); found {
		return "whatsapp", rest, true
	}
	return "", "", false
}
