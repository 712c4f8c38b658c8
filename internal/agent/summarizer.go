package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/hive/internal/providers"
	"github.com/nextlevelbuilder/hive/internal/store"
)

const (
	// summarizeThreshold is the message count that triggers compaction.
	summarizeThreshold = 20
	// summarizeKeepLast messages stay verbatim; everything older is folded
	// into the rolling summary.
	summarizeKeepLast  = 6
	summarizeMaxTokens = 256
	summarizeTimeout   = 60 * time.Second
)

const summarizePrompt = "Summarize this conversation concisely in 2-4 sentences, capturing key facts, decisions, and open threads."

// Summarizer folds long conversations into a rolling summary stored on the
// conversation row. The gateway invokes it fire-and-forget after every
// response; a conversation that stays short is never touched.
type Summarizer struct {
	provider      providers.Provider
	conversations store.ConversationStore
	model         string

	// summarizeMu holds one mutex per conversation so concurrent turns
	// cannot start overlapping compactions.
	summarizeMu sync.Map // conversation id -> *sync.Mutex
}

// NewSummarizer builds a summarizer that condenses with the given model id
// (the cheap tier; quality barely matters for compression). An empty model
// uses the provider default.
func NewSummarizer(provider providers.Provider, conversations store.ConversationStore, model string) *Summarizer {
	if model == "" {
		model = provider.DefaultModel()
	}
	return &Summarizer{provider: provider, conversations: conversations, model: model}
}

// MaybeSummarize compacts the conversation in the background when it has
// grown past the threshold. Failures are logged and swallowed. TryLock is
// non-blocking: if a compaction for this conversation is already running,
// this call is a no-op and the next turn will retry.
func (s *Summarizer) MaybeSummarize(conversationID string) {
	muI, _ := s.summarizeMu.LoadOrStore(conversationID, &sync.Mutex{})
	convMu := muI.(*sync.Mutex)
	if !convMu.TryLock() {
		slog.Debug("summarizer: compaction already in progress", "conversation", conversationID)
		return
	}

	go func() {
		defer convMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), summarizeTimeout)
		defer cancel()
		if err := s.Compact(ctx, conversationID); err != nil {
			slog.Warn("summarizer: compaction failed", "conversation", conversationID, "error", err)
		}
	}()
}

// Compact runs one compaction cycle synchronously. Below the threshold it
// does nothing.
func (s *Summarizer) Compact(ctx context.Context, conversationID string) error {
	count, err := s.conversations.CountMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	if count < summarizeThreshold {
		return nil
	}

	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	msgs, err := s.conversations.Messages(ctx, conversationID, 0)
	if err != nil {
		return err
	}
	if len(msgs) <= summarizeKeepLast {
		return nil
	}

	var sb strings.Builder
	if conv.Summary != "" {
		sb.WriteString("Previous context: ")
		sb.WriteString(conv.Summary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Conversation:\n")
	for _, m := range msgs[:len(msgs)-summarizeKeepLast] {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}

	temp := 0.0
	resp, err := s.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: summarizePrompt},
			{Role: "user", Content: sb.String()},
		},
		Model:       s.model,
		MaxTokens:   summarizeMaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return err
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return nil
	}
	return s.conversations.SetSummary(ctx, conversationID, summary)
}
