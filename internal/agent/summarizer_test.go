package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/hive/internal/providers"
	"github.com/nextlevelbuilder/hive/internal/store"
	"github.com/nextlevelbuilder/hive/internal/store/sqlite"
)

func testStores(t *testing.T) *store.Stores {
	t.Helper()
	st, err := sqlite.NewStores(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// seedConversation creates a user, a conversation, and n alternating
// user/assistant messages with contents msg-0 … msg-(n-1).
func seedConversation(t *testing.T, st *store.Stores, userID string, n int) *store.Conversation {
	t.Helper()
	ctx := context.Background()
	if _, err := st.Users.Ensure(ctx, userID); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	conv := &store.Conversation{ID: store.NewID(), UserID: userID, Title: "t"}
	if err := st.Conversations.Create(ctx, conv); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		err := st.Conversations.AppendMessage(ctx, &store.Message{
			ID:             store.NewID(),
			ConversationID: conv.ID,
			Role:           role,
			Content:        fmt.Sprintf("msg-%d", i),
		})
		if err != nil {
			t.Fatalf("append message %d: %v", i, err)
		}
	}
	return conv
}

func TestCompactBelowThresholdIsNoop(t *testing.T) {
	st := testStores(t)
	conv := seedConversation(t, st, "u1", 10)
	p := &fakeProvider{}
	s := NewSummarizer(p, st.Conversations, "model-haiku")

	if err := s.Compact(context.Background(), conv.ID); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if got := len(p.requests()); got != 0 {
		t.Errorf("provider called %d times below threshold", got)
	}
	after, _ := st.Conversations.Get(context.Background(), conv.ID)
	if after.Summary != "" {
		t.Errorf("summary = %q, want empty", after.Summary)
	}
}

func TestCompactCondensesAllButLastSix(t *testing.T) {
	st := testStores(t)
	conv := seedConversation(t, st, "u1", 22)
	p := &fakeProvider{replies: []providers.ChatResponse{
		{Content: "They set up feeds and asked for a Friday digest.", FinishReason: "stop"},
	}}
	s := NewSummarizer(p, st.Conversations, "model-haiku")

	if err := s.Compact(context.Background(), conv.ID); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	reqs := p.requests()
	if len(reqs) != 1 {
		t.Fatalf("provider called %d times, want 1", len(reqs))
	}
	req := reqs[0]
	if req.Model != "model-haiku" {
		t.Errorf("model = %q", req.Model)
	}
	if req.MaxTokens != summarizeMaxTokens {
		t.Errorf("max tokens = %d, want %d", req.MaxTokens, summarizeMaxTokens)
	}
	if req.Temperature == nil || *req.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", req.Temperature)
	}
	if req.Messages[0].Role != "system" || req.Messages[0].Content != summarizePrompt {
		t.Errorf("system prompt = %+v", req.Messages[0])
	}

	transcript := req.Messages[1].Content
	if !strings.HasPrefix(transcript, "Conversation:\n") {
		t.Errorf("transcript prefix wrong: %q", transcript[:40])
	}
	if !strings.Contains(transcript, "user: msg-0") || !strings.Contains(transcript, "msg-15") {
		t.Errorf("old turns missing from transcript")
	}
	if strings.Contains(transcript, "msg-16") {
		t.Errorf("recent turns must stay out of the transcript")
	}

	after, _ := st.Conversations.Get(context.Background(), conv.ID)
	if after.Summary != "They set up feeds and asked for a Friday digest." {
		t.Errorf("summary = %q", after.Summary)
	}
}

func TestCompactCarriesPriorSummary(t *testing.T) {
	st := testStores(t)
	conv := seedConversation(t, st, "u1", 20)
	if err := st.Conversations.SetSummary(context.Background(), conv.ID, "Old facts."); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}
	p := &fakeProvider{replies: []providers.ChatResponse{{Content: "Merged summary.", FinishReason: "stop"}}}
	s := NewSummarizer(p, st.Conversations, "model-haiku")

	if err := s.Compact(context.Background(), conv.ID); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	transcript := p.requests()[0].Messages[1].Content
	if !strings.HasPrefix(transcript, "Previous context: Old facts.\n\nConversation:\n") {
		t.Errorf("prior summary not carried: %q", transcript[:60])
	}
}

func TestMaybeSummarizeRunsInBackground(t *testing.T) {
	st := testStores(t)
	conv := seedConversation(t, st, "u1", 20)
	p := &fakeProvider{replies: []providers.ChatResponse{{Content: "Background summary.", FinishReason: "stop"}}}
	s := NewSummarizer(p, st.Conversations, "model-haiku")

	s.MaybeSummarize(conv.ID)

	deadline := time.Now().Add(2 * time.Second)
	for {
		after, err := st.Conversations.Get(context.Background(), conv.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if after.Summary == "Background summary." {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("summary never persisted, have %q", after.Summary)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
