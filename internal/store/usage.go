package store

import (
	"context"
	"encoding/json"
	"time"
)

// UsageLog is a write-only audit record of one executor invocation.
type UsageLog struct {
	ID        string
	UserID    string
	Model     string
	TokensIn  int
	TokensOut int
	CostCents float64
	CreatedAt time.Time
}

// UsageStore appends usage records.
type UsageStore interface {
	Log(ctx context.Context, u *UsageLog) error
}

// DebugLogEntry captures one gateway turn (routing decision, model, token
// counts) when debug logging is enabled. Payload is schemaless JSON.
type DebugLogEntry struct {
	ID             string
	UserID         string
	ConversationID string
	Payload        json.RawMessage
	CreatedAt      time.Time
}

// DebugLogStore persists gateway turn captures.
type DebugLogStore interface {
	Write(ctx context.Context, e *DebugLogEntry) error
	List(ctx context.Context, userID, conversationID string, limit int) ([]*DebugLogEntry, error)
}
