package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/hive/internal/agent"
	"github.com/nextlevelbuilder/hive/internal/scripts"
	"github.com/nextlevelbuilder/hive/internal/store"
	"github.com/nextlevelbuilder/hive/internal/store/sqlite"
	"github.com/nextlevelbuilder/hive/internal/vault"
	"github.com/nextlevelbuilder/hive/internal/workspace"
)

type scriptCall struct {
	source  string
	input   map[string]any
	workDir string
}

type fakeScriptRunner struct {
	mu     sync.Mutex
	calls  []scriptCall
	handle func(source string, input map[string]any) (*scripts.Result, error)
}

func (f *fakeScriptRunner) Run(ctx context.Context, source string, input map[string]any, workDir string) (*scripts.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, scriptCall{source: source, input: input, workDir: workDir})
	f.mu.Unlock()
	if f.handle != nil {
		return f.handle(source, input)
	}
	return &scripts.Result{Success: true, Output: map[string]any{"ok": true}}, nil
}

type fakeGateway struct {
	mu    sync.Mutex
	reqs  []*agent.GatewayRequest
	reply string
	err   error
}

func (f *fakeGateway) Handle(ctx context.Context, req *agent.GatewayRequest) (*agent.GatewayResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &agent.GatewayResponse{Response: f.reply, UserID: req.UserID}, nil
}

type sentNote struct {
	channel   string
	recipient string
	text      string
}

type fakeNotifier struct {
	mu    sync.Mutex
	sends []sentNote
	err   error
}

func (f *fakeNotifier) Send(ctx context.Context, channel, recipient, text string) error {
	f.mu.Lock()
	f.sends = append(f.sends, sentNote{channel, recipient, text})
	f.mu.Unlock()
	return f.err
}

type engineFixture struct {
	engine   *Engine
	stores   *store.Stores
	vault    *vault.Vault
	runner   *fakeScriptRunner
	gateway  *fakeGateway
	notifier *fakeNotifier
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	dir := t.TempDir()
	st, err := sqlite.NewStores(filepath.Join(dir, "data.db"))
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	v, err := vault.Open(dir, st.Credentials)
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	f := &engineFixture{
		stores:   st,
		vault:    v,
		runner:   &fakeScriptRunner{},
		gateway:  &fakeGateway{reply: "done"},
		notifier: &fakeNotifier{},
	}
	f.engine = NewEngine(EngineDeps{
		Stores:    st,
		Vault:     v,
		Runner:    f.runner,
		Workspace: workspace.NewManager(dir),
		Gateway:   f.gateway,
		Notifier:  f.notifier,
	})
	return f
}

func (f *engineFixture) createWorkflow(t *testing.T, ownerID, name string, steps []StepDefinition) *store.Workflow {
	t.Helper()
	ctx := context.Background()
	if _, err := f.stores.Users.Ensure(ctx, ownerID); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	raw, err := EncodeSteps(steps)
	if err != nil {
		t.Fatalf("encode steps: %v", err)
	}
	wf := &store.Workflow{
		ID:        store.NewID(),
		OwnerID:   ownerID,
		Name:      name,
		StepsJSON: raw,
		IsActive:  true,
	}
	if err := f.stores.Workflows.Create(ctx, wf); err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	return wf
}

func (f *engineFixture) createScript(t *testing.T, ownerID, name string) *store.Script {
	t.Helper()
	s := &store.Script{
		ID:      store.NewID(),
		OwnerID: ownerID,
		Name:    name,
		Source:  "def main(input):\n    return {}",
	}
	if err := f.stores.Scripts.Create(context.Background(), s); err != nil {
		t.Fatalf("create script: %v", err)
	}
	return s
}

func conversationTurns(t *testing.T, st *store.Stores, userID string) []*store.Message {
	t.Helper()
	ctx := context.Background()
	conv, err := st.Conversations.Latest(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		t.Fatalf("latest conversation: %v", err)
	}
	msgs, err := st.Conversations.Messages(ctx, conv.ID, 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	return msgs
}

func TestExecuteScriptThenNotifyInterpolates(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.runner.handle = func(string, map[string]any) (*scripts.Result, error) {
		return &scripts.Result{Success: true, Output: map[string]any{"count": float64(3)}}, nil
	}
	script := f.createScript(t, "tg:42", "counter")
	wf := f.createWorkflow(t, "tg:42", "Morning Brief", []StepDefinition{
		{ID: "s1", Type: StepScript, ScriptID: script.ID},
		{ID: "s2", Type: StepNotify, Channel: "telegram", Inputs: map[string]InputMapping{
			"message": {Type: InputStatic, Value: "Done: ${steps.s1.count}"},
		}},
	})

	report, err := f.engine.ExecuteWorkflow(ctx, wf.ID, "tg:42")
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if report.Status != store.RunStatusCompleted {
		t.Fatalf("status = %q, error = %q", report.Status, report.Error)
	}
	if len(report.Steps) != 2 || report.Steps[0].Status != StepCompleted || report.Steps[1].Status != StepCompleted {
		t.Fatalf("steps = %+v", report.Steps)
	}

	if len(f.notifier.sends) != 1 {
		t.Fatalf("sends = %d", len(f.notifier.sends))
	}
	sent := f.notifier.sends[0]
	if sent.channel != "telegram" || sent.recipient != "42" || sent.text != "Done: 3" {
		t.Fatalf("sent = %+v", sent)
	}

	turns := conversationTurns(t, f.stores, "tg:42")
	if len(turns) != 1 {
		t.Fatalf("caller turns = %d", len(turns))
	}
	want := "[Sent via telegram notification]\n\nDone: 3"
	if turns[0].Role != "assistant" || turns[0].Content != want {
		t.Fatalf("turn = %q %q", turns[0].Role, turns[0].Content)
	}

	runs, err := f.stores.Workflows.ListRuns(ctx, wf.ID, 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %d, err = %v", len(runs), err)
	}
	var persisted []StepResult
	if err := json.Unmarshal([]byte(runs[0].StepsResultJSON), &persisted); err != nil {
		t.Fatalf("decode run results: %v", err)
	}
	if len(persisted) != 2 || persisted[0].ID != "s1" || persisted[1].ID != "s2" {
		t.Fatalf("persisted = %+v", persisted)
	}
	if runs[0].CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
}

func TestExecuteSkillStepGoesThroughGateway(t *testing.T) {
	f := newEngineFixture(t)
	f.gateway.reply = "5 headlines today"
	f.runner.handle = func(string, map[string]any) (*scripts.Result, error) {
		return &scripts.Result{Success: true, Output: map[string]any{
			"rows": []any{map[string]any{"title": "Go 1.26"}},
		}}, nil
	}
	script := f.createScript(t, "alice", "fetcher")
	wf := f.createWorkflow(t, "alice", "digest", []StepDefinition{
		{ID: "fetch", Type: StepScript, ScriptID: script.ID},
		{ID: "write", Type: StepSkill, SkillName: "daily-digest", Tools: []string{"fetch_rss"}, Inputs: map[string]InputMapping{
			"message": {Type: InputStatic, Value: "Summarize these stories."},
			"stories": {Type: InputRef, Source: "fetch.rows"},
		}},
		{ID: "send", Type: StepNotify, Channel: "telegram", Inputs: map[string]InputMapping{
			"message": {Type: InputRef, Source: "write"},
		}},
	})

	report, err := f.engine.ExecuteWorkflow(context.Background(), wf.ID, "alice")
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if report.Status != store.RunStatusCompleted {
		t.Fatalf("status = %q, error = %q", report.Status, report.Error)
	}

	if len(f.gateway.reqs) != 1 {
		t.Fatalf("gateway calls = %d", len(f.gateway.reqs))
	}
	req := f.gateway.reqs[0]
	if req.Channel != "workflow" || req.ForceSkill != "daily-digest" {
		t.Fatalf("req = %+v", req)
	}
	if len(req.Tools) != 1 || req.Tools[0] != "fetch_rss" {
		t.Fatalf("tools = %v", req.Tools)
	}
	if !strings.HasPrefix(req.Message, "Summarize these stories.") {
		t.Fatalf("message = %q", req.Message)
	}
	if !strings.Contains(req.Message, "stories:\n[1]\ntitle: Go 1.26") {
		t.Fatalf("message lacks itemized block: %q", req.Message)
	}

	// The skill output is {response: …}; the notify step unwraps it.
	if got := f.notifier.sends[0].text; got != "5 headlines today" {
		t.Fatalf("notified %q", got)
	}
}

func TestExecuteFailureSkipsRemainingSteps(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.runner.handle = func(source string, _ map[string]any) (*scripts.Result, error) {
		if strings.Contains(source, "boom") {
			return &scripts.Result{Success: false, Error: "division by zero"}, nil
		}
		return &scripts.Result{Success: true, Output: map[string]any{}}, nil
	}
	good := f.createScript(t, "alice", "good")
	bad := &store.Script{ID: store.NewID(), OwnerID: "alice", Name: "bad", Source: "boom"}
	if err := f.stores.Scripts.Create(ctx, bad); err != nil {
		t.Fatalf("create script: %v", err)
	}
	wf := f.createWorkflow(t, "alice", "fragile", []StepDefinition{
		{ID: "a", Type: StepScript, ScriptID: good.ID},
		{ID: "b", Type: StepScript, ScriptID: bad.ID},
		{ID: "c", Type: StepNotify, Inputs: map[string]InputMapping{
			"message": {Type: InputStatic, Value: "never sent"},
		}},
	})

	report, err := f.engine.ExecuteWorkflow(ctx, wf.ID, "alice")
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if report.Status != store.RunStatusFailed {
		t.Fatalf("status = %q", report.Status)
	}
	statuses := []string{report.Steps[0].Status, report.Steps[1].Status, report.Steps[2].Status}
	want := []string{StepCompleted, StepFailed, StepSkipped}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", statuses, want)
		}
	}
	if !strings.Contains(report.Steps[1].Error, "division by zero") {
		t.Fatalf("step error = %q", report.Steps[1].Error)
	}
	if !strings.Contains(report.Error, "step b:") {
		t.Fatalf("run error = %q", report.Error)
	}
	if len(f.notifier.sends) != 0 {
		t.Fatal("skipped notify step must not send")
	}

	runs, _ := f.stores.Workflows.ListRuns(ctx, wf.ID, 1)
	if runs[0].Status != store.RunStatusFailed {
		t.Fatalf("persisted status = %q", runs[0].Status)
	}
}

func TestExecuteCredentialInput(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	if _, err := f.stores.Users.Ensure(ctx, "alice"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := f.vault.Store(ctx, "alice", "github_token", "github", "ghp_secret123"); err != nil {
		t.Fatalf("store credential: %v", err)
	}
	script := f.createScript(t, "alice", "api-call")
	wf := f.createWorkflow(t, "alice", "sync", []StepDefinition{
		{ID: "s1", Type: StepScript, ScriptID: script.ID, Inputs: map[string]InputMapping{
			"token": {Type: InputCredential, CredentialName: "github_token"},
		}},
	})

	report, err := f.engine.ExecuteWorkflow(ctx, wf.ID, "alice")
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if report.Status != store.RunStatusCompleted {
		t.Fatalf("status = %q, error = %q", report.Status, report.Error)
	}
	if got := f.runner.calls[0].input["token"]; got != "ghp_secret123" {
		t.Fatalf("token input = %v", got)
	}
}

func TestExecuteMissingCredentialFailsStep(t *testing.T) {
	f := newEngineFixture(t)
	script := f.createScript(t, "alice", "api-call")
	wf := f.createWorkflow(t, "alice", "sync", []StepDefinition{
		{ID: "s1", Type: StepScript, ScriptID: script.ID, Inputs: map[string]InputMapping{
			"token": {Type: InputCredential, CredentialName: "nope"},
		}},
	})

	report, err := f.engine.ExecuteWorkflow(context.Background(), wf.ID, "alice")
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if report.Status != store.RunStatusFailed {
		t.Fatalf("status = %q", report.Status)
	}
	if !strings.Contains(report.Steps[0].Error, `credential "nope"`) {
		t.Fatalf("error = %q", report.Steps[0].Error)
	}
	if len(f.runner.calls) != 0 {
		t.Fatal("script must not run without its credential")
	}
}

func TestExecuteUnresolvedRefFailsStep(t *testing.T) {
	f := newEngineFixture(t)
	script := f.createScript(t, "alice", "consumer")
	wf := f.createWorkflow(t, "alice", "broken-ref", []StepDefinition{
		{ID: "s1", Type: StepScript, ScriptID: script.ID, Inputs: map[string]InputMapping{
			"rows": {Type: InputRef, Source: "ghost.rows"},
		}},
	})

	report, err := f.engine.ExecuteWorkflow(context.Background(), wf.ID, "alice")
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if report.Status != store.RunStatusFailed {
		t.Fatalf("status = %q", report.Status)
	}
	if !strings.Contains(report.Steps[0].Error, "did not resolve") {
		t.Fatalf("error = %q", report.Steps[0].Error)
	}
}

func TestExecuteZeroStepsCompletes(t *testing.T) {
	f := newEngineFixture(t)
	wf := f.createWorkflow(t, "alice", "empty", nil)

	report, err := f.engine.ExecuteWorkflow(context.Background(), wf.ID, "alice")
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if report.Status != store.RunStatusCompleted || len(report.Steps) != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestExecuteUnknownWorkflowErrors(t *testing.T) {
	f := newEngineFixture(t)
	if _, err := f.engine.ExecuteWorkflow(context.Background(), "no-such-id", "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExecuteCrossUserIsUnauthorized(t *testing.T) {
	f := newEngineFixture(t)
	wf := f.createWorkflow(t, "alice", "private", nil)
	if _, err := f.engine.ExecuteWorkflow(context.Background(), wf.ID, "mallory"); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestNotifyPersistsInBothConversations(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	for _, id := range []string{"alice", "bob"} {
		if _, err := f.stores.Users.Ensure(ctx, id); err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}
	err := f.stores.Identities.Link(ctx, &store.ChannelIdentity{
		ID: store.NewID(), OwnerID: "bob", Channel: "telegram", ChannelUserID: "777",
	})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	wf := f.createWorkflow(t, "alice", "ping-bob", []StepDefinition{
		{ID: "s1", Type: StepNotify, Channel: "telegram", Inputs: map[string]InputMapping{
			"message":   {Type: InputStatic, Value: "Dinner at 7?"},
			"recipient": {Type: InputStatic, Value: "777"},
		}},
	})

	report, err := f.engine.ExecuteWorkflow(ctx, wf.ID, "alice")
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if report.Status != store.RunStatusCompleted {
		t.Fatalf("status = %q, error = %q", report.Status, report.Error)
	}
	if f.notifier.sends[0].recipient != "777" {
		t.Fatalf("recipient = %q", f.notifier.sends[0].recipient)
	}
	want := "[Sent via telegram notification]\n\nDinner at 7?"
	for _, user := range []string{"alice", "bob"} {
		turns := conversationTurns(t, f.stores, user)
		if len(turns) != 1 || turns[0].Content != want {
			t.Fatalf("%s turns = %+v", user, turns)
		}
	}
}

func TestNotifyRecipientTiers(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	if _, err := f.stores.Users.Ensure(ctx, "alice"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	ident := &store.ChannelIdentity{
		ID: store.NewID(), OwnerID: "alice", Channel: "telegram", ChannelUserID: "424242",
	}
	if err := f.stores.Identities.Link(ctx, ident); err != nil {
		t.Fatalf("link: %v", err)
	}

	tests := []struct {
		name          string
		callerID      string
		inputs        map[string]any
		wantRecipient string
		wantUser      string
	}{
		{"explicit recipient", "alice", map[string]any{"recipient": "999"}, "999", ""},
		{"identity id", "alice", map[string]any{"identityId": ident.ID}, "424242", "alice"},
		{"first linked identity", "alice", nil, "424242", "alice"},
		{"prefix fallback", "tg:5150", nil, "5150", "tg:5150"},
		{"no prefix fallback", "dana", nil, "dana", "dana"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recipient, userID, err := f.engine.resolveRecipient(ctx, tt.callerID, "telegram", tt.inputs)
			if err != nil {
				t.Fatalf("resolveRecipient: %v", err)
			}
			if recipient != tt.wantRecipient || userID != tt.wantUser {
				t.Fatalf("got (%q, %q), want (%q, %q)", recipient, userID, tt.wantRecipient, tt.wantUser)
			}
		})
	}

	t.Run("foreign identity id refused", func(t *testing.T) {
		_, _, err := f.engine.resolveRecipient(ctx, "mallory", "telegram", map[string]any{"identityId": ident.ID})
		if !errors.Is(err, store.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})
}

func TestSkillMessageDefaultsWhenEmpty(t *testing.T) {
	step := StepDefinition{ID: "s", Type: StepSkill, SkillName: "digest"}
	if got := skillMessage(step, nil); got != "Run the digest skill." {
		t.Fatalf("got %q", got)
	}
}

func TestExecuteDeterministicResults(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.runner.handle = func(string, map[string]any) (*scripts.Result, error) {
		return &scripts.Result{Success: true, Output: map[string]any{"n": float64(7)}}, nil
	}
	script := f.createScript(t, "alice", "stable")
	wf := f.createWorkflow(t, "alice", "repeatable", []StepDefinition{
		{ID: "s1", Type: StepScript, ScriptID: script.ID},
		{ID: "s2", Type: StepNotify, Inputs: map[string]InputMapping{
			"message": {Type: InputStatic, Value: "n=${steps.s1.n}"},
		}},
	})

	strip := func(r *RunReport) []StepResult {
		out := make([]StepResult, len(r.Steps))
		for i, s := range r.Steps {
			s.DurationMs = 0
			out[i] = s
		}
		return out
	}
	first, err := f.engine.ExecuteWorkflow(ctx, wf.ID, "alice")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := f.engine.ExecuteWorkflow(ctx, wf.ID, "alice")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	a, _ := json.Marshal(strip(first))
	b, _ := json.Marshal(strip(second))
	if string(a) != string(b) {
		t.Fatalf("runs differ:\n%s\n%s", a, b)
	}
	if f.notifier.sends[0].text != "n=7" {
		t.Fatalf("sent = %q", f.notifier.sends[0].text)
	}
}
