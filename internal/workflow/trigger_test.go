package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/hive/internal/store"
)

func TestExtractWorkflowName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hey Hive, please run my daily digest workflow now", "daily digest"},
		{"run morning brief", "morning brief"},
		{"execute the backup workflow", "backup"},
		{"Could you trigger deploy for me?", "deploy"},
		{"I want to start my night recap workflow please", "night recap"},
		{"launch Sync-Repos asap", "sync-repos"},
		{"please run the Weekly Report workflow right now", "weekly report"},
		{"run workflow", ""},
		{"run my workflows", ""},
		{"list my workflows", "list my"},
		{"morning brief", "morning brief"},
	}
	for _, tt := range tests {
		if got := ExtractWorkflowName(tt.in); got != tt.want {
			t.Errorf("ExtractWorkflowName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenOverlap(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"morning recap", "morning brief", 0.5},
		{"daily-digest", "daily digest", 1.0},
		{"repo_sync", "sync repo", 1.0},
		{"alpha beta gamma", "alpha", 1.0 / 3.0},
		{"alpha", "omega", 0},
	}
	for _, tt := range tests {
		if got := tokenOverlap(tt.a, tt.b); got != tt.want {
			t.Errorf("tokenOverlap(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

type triggerFixture struct {
	*engineFixture
	trigger *Trigger
}

func newTriggerFixture(t *testing.T) *triggerFixture {
	t.Helper()
	ef := newEngineFixture(t)
	return &triggerFixture{engineFixture: ef, trigger: NewTrigger(ef.stores, ef.engine)}
}

func (f *triggerFixture) handle(t *testing.T, userID, message string) string {
	t.Helper()
	reply, err := f.trigger.HandleMessage(context.Background(), userID, message)
	if err != nil {
		t.Fatalf("HandleMessage(%q): %v", message, err)
	}
	return reply
}

func TestHandleMessageExactMatchExecutes(t *testing.T) {
	f := newTriggerFixture(t)
	f.createWorkflow(t, "alice", "Morning Brief", nil)

	reply := f.handle(t, "alice", "run morning brief")
	if !strings.HasPrefix(reply, `Done — "Morning Brief" finished`) {
		t.Fatalf("reply = %q", reply)
	}
}

func TestHandleMessageConfirmThenYes(t *testing.T) {
	f := newTriggerFixture(t)
	f.createWorkflow(t, "alice", "Morning Brief", nil)
	f.createWorkflow(t, "alice", "Night Recap", nil)

	reply := f.handle(t, "alice", "run brief")
	if !strings.Contains(reply, `"Morning Brief"`) || !strings.Contains(reply, "(yes/no)") {
		t.Fatalf("confirmation prompt = %q", reply)
	}

	out, ok := f.trigger.PendingReply(context.Background(), "alice", "yes")
	if !ok || !strings.HasPrefix(out, `Done — "Morning Brief"`) {
		t.Fatalf("PendingReply = %q, %v", out, ok)
	}

	// State was consumed: a second yes flows back to normal routing.
	if _, ok := f.trigger.PendingReply(context.Background(), "alice", "yes"); ok {
		t.Fatal("pending state should be gone after one reply")
	}
}

func TestHandleMessageConfirmDeclined(t *testing.T) {
	f := newTriggerFixture(t)
	f.createWorkflow(t, "alice", "Morning Brief", nil)

	f.handle(t, "alice", "run brief")
	out, ok := f.trigger.PendingReply(context.Background(), "alice", "no")
	if !ok || out != "Okay, cancelled." {
		t.Fatalf("PendingReply = %q, %v", out, ok)
	}
}

func TestHandleMessageUnrelatedReplyDropsState(t *testing.T) {
	f := newTriggerFixture(t)
	f.createWorkflow(t, "alice", "Morning Brief", nil)

	f.handle(t, "alice", "run brief")
	if _, ok := f.trigger.PendingReply(context.Background(), "alice", "what's the weather?"); ok {
		t.Fatal("unrelated reply must not be consumed")
	}
	if _, ok := f.trigger.PendingReply(context.Background(), "alice", "yes"); ok {
		t.Fatal("state should have been dropped by the unrelated reply")
	}
}

func TestHandleMessageAmbiguousChoice(t *testing.T) {
	f := newTriggerFixture(t)
	f.createWorkflow(t, "alice", "Repo Sync", nil)
	f.createWorkflow(t, "alice", "Repo Backup", nil)

	reply := f.handle(t, "alice", "run repo")
	if !strings.Contains(reply, "1. ") || !strings.Contains(reply, "2. ") {
		t.Fatalf("disambiguation prompt = %q", reply)
	}
	// Prompt numbering follows match order; pick whichever is listed second.
	var second string
	for _, line := range strings.Split(reply, "\n") {
		if rest, ok := strings.CutPrefix(line, "2. "); ok {
			second = rest
		}
	}
	if second == "" {
		t.Fatalf("no second option in %q", reply)
	}

	out, ok := f.trigger.PendingReply(context.Background(), "alice", "2")
	if !ok || !strings.Contains(out, `"`+second+`"`) {
		t.Fatalf("PendingReply = %q, %v (want %q)", out, ok, second)
	}
}

func TestHandleMessageAmbiguousCancel(t *testing.T) {
	f := newTriggerFixture(t)
	f.createWorkflow(t, "alice", "Repo Sync", nil)
	f.createWorkflow(t, "alice", "Repo Backup", nil)

	f.handle(t, "alice", "run repo")
	out, ok := f.trigger.PendingReply(context.Background(), "alice", "cancel")
	if !ok || out != "Okay, cancelled." {
		t.Fatalf("PendingReply = %q, %v", out, ok)
	}
}

func TestPendingStateExpires(t *testing.T) {
	f := newTriggerFixture(t)
	f.createWorkflow(t, "alice", "Morning Brief", nil)

	f.handle(t, "alice", "run brief")
	f.trigger.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, ok := f.trigger.PendingReply(context.Background(), "alice", "yes"); ok {
		t.Fatal("expired state must not execute")
	}
}

func TestExecutionRateLimit(t *testing.T) {
	f := newTriggerFixture(t)
	f.createWorkflow(t, "alice", "ping", nil)

	for i := 0; i < executionsPerWindow; i++ {
		if reply := f.handle(t, "alice", "run ping"); !strings.HasPrefix(reply, "Done") {
			t.Fatalf("run %d: %q", i+1, reply)
		}
	}
	if reply := f.handle(t, "alice", "run ping"); !strings.Contains(reply, "Slow down") {
		t.Fatalf("4th run = %q", reply)
	}

	// Window slides: a minute later the caller may run again.
	f.trigger.now = func() time.Time { return time.Now().Add(61 * time.Second) }
	if reply := f.handle(t, "alice", "run ping"); !strings.HasPrefix(reply, "Done") {
		t.Fatalf("after window = %q", reply)
	}
}

func TestRateLimitRejectionIsNotCounted(t *testing.T) {
	f := newTriggerFixture(t)
	f.createWorkflow(t, "alice", "ping", nil)

	for i := 0; i < executionsPerWindow; i++ {
		f.handle(t, "alice", "run ping")
	}
	for i := 0; i < 5; i++ {
		f.handle(t, "alice", "run ping")
	}
	f.trigger.mu.Lock()
	recorded := len(f.trigger.executions["alice"])
	f.trigger.mu.Unlock()
	if recorded != executionsPerWindow {
		t.Fatalf("recorded executions = %d, want %d", recorded, executionsPerWindow)
	}
}

func TestInactiveExactMatchReported(t *testing.T) {
	f := newTriggerFixture(t)
	wf := f.createWorkflow(t, "alice", "Archive Cleanup", nil)
	wf.IsActive = false
	if err := f.stores.Workflows.Update(context.Background(), wf); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	reply := f.handle(t, "alice", "run archive cleanup")
	if !strings.Contains(reply, "inactive") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestNoMatchListsActiveWorkflows(t *testing.T) {
	f := newTriggerFixture(t)
	f.createWorkflow(t, "alice", "Morning Brief", nil)

	reply := f.handle(t, "alice", "run quarterly forecast")
	if !strings.Contains(reply, "couldn't find") || !strings.Contains(reply, "Morning Brief") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestListingPhraseListsWorkflows(t *testing.T) {
	f := newTriggerFixture(t)
	f.createWorkflow(t, "alice", "Morning Brief", nil)
	f.createWorkflow(t, "alice", "Night Recap", nil)

	reply := f.handle(t, "alice", "run my workflows")
	if !strings.Contains(reply, "Morning Brief") || !strings.Contains(reply, "Night Recap") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestNoWorkflowsAtAll(t *testing.T) {
	f := newTriggerFixture(t)
	reply := f.handle(t, "alice", "run my workflows")
	if !strings.Contains(reply, "don't have any active workflows") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestMatchingIgnoresOtherUsersWorkflows(t *testing.T) {
	f := newTriggerFixture(t)
	f.createWorkflow(t, "bob", "Morning Brief", nil)

	reply := f.handle(t, "alice", "run morning brief")
	if strings.HasPrefix(reply, "Done") {
		t.Fatalf("cross-user workflow executed: %q", reply)
	}
}

func TestExecuteRefusesForeignWorkflow(t *testing.T) {
	f := newTriggerFixture(t)
	wf := f.createWorkflow(t, "alice", "private", nil)
	if out := f.trigger.execute(context.Background(), "mallory", wf); !strings.Contains(out, "workflows you own") {
		t.Fatalf("execute = %q", out)
	}
}

func TestMatchTiersOrdering(t *testing.T) {
	f := newTriggerFixture(t)
	exact := f.createWorkflow(t, "alice", "brief", nil)
	f.createWorkflow(t, "alice", "Morning Brief", nil)

	matches := matchWorkflows("brief", mustActives(t, f, "alice"))
	if len(matches) != 2 {
		t.Fatalf("matches = %d", len(matches))
	}
	if matches[0].wf.ID != exact.ID || matches[0].tier != 1 {
		t.Fatalf("first match = %+v", matches[0])
	}
	if matches[1].tier != 2 {
		t.Fatalf("second match tier = %d", matches[1].tier)
	}
}

func mustActives(t *testing.T, f *triggerFixture, userID string) []*store.Workflow {
	t.Helper()
	actives, err := f.stores.Workflows.ListActiveForUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("list actives: %v", err)
	}
	return actives
}
