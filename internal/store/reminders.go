package store

import (
	"context"
	"time"
)

// Reminder is a user note with an optional due time. NotifiedAt is set at
// most once, by the sweeper that wins the claim for a due reminder.
type Reminder struct {
	ID          string
	UserID      string
	Text        string
	IsComplete  bool
	CreatedAt   time.Time
	CompletedAt *time.Time
	DueAt       *time.Time
	NotifiedAt  *time.Time
}

// ReminderStore persists reminders.
type ReminderStore interface {
	Create(ctx context.Context, r *Reminder) error
	Get(ctx context.Context, userID, id string) (*Reminder, error)
	List(ctx context.Context, userID string, includeComplete bool) ([]*Reminder, error)
	Complete(ctx context.Context, userID, id string) error
	Delete(ctx context.Context, userID, id string) error
	SetDue(ctx context.Context, userID, id string, dueAt time.Time) error

	// Due returns incomplete reminders whose DueAt has passed and which
	// have not been notified yet.
	Due(ctx context.Context, now time.Time) ([]*Reminder, error)
	// MarkNotified sets NotifiedAt if and only if it is still unset,
	// reporting whether this caller won the claim.
	MarkNotified(ctx context.Context, id string, at time.Time) (bool, error)
}
