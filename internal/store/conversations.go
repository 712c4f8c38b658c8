package store

import (
	"context"
	"time"
)

// Conversation groups the messages of one chat thread. Summary is an opaque
// rolling compression maintained by the summarizer.
type Conversation struct {
	ID        string
	UserID    string
	Title     string
	Summary   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one turn in a conversation. Messages are append-only; every
// append advances the parent conversation's UpdatedAt.
type Message struct {
	ID             string
	ConversationID string
	Role           string // user | assistant | system
	Content        string
	CreatedAt      time.Time
}

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	Create(ctx context.Context, c *Conversation) error
	Get(ctx context.Context, id string) (*Conversation, error)
	// Latest returns the user's most recently updated conversation, or
	// ErrNotFound when the user has none.
	Latest(ctx context.Context, userID string) (*Conversation, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]*Conversation, error)
	SetSummary(ctx context.Context, id, summary string) error

	// AppendMessage persists a message and bumps the conversation's
	// UpdatedAt in the same transaction.
	AppendMessage(ctx context.Context, m *Message) error
	// Messages returns messages in creation order. limit <= 0 returns all;
	// otherwise the most recent limit messages, still oldest-first.
	Messages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
}
