package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/hive/internal/store"
)

const (
	pendingTTL             = time.Minute
	executionWindow        = time.Minute
	executionsPerWindow    = 3
	maxDisambiguationHints = 5
)

var (
	courtesyRes = []*regexp.Regexp{
		regexp.MustCompile(`^hey\s+\w+[,!]\s*`),
		regexp.MustCompile(`^please\s+`),
		regexp.MustCompile(`^can\s+you\s+`),
		regexp.MustCompile(`^could\s+you\s+`),
		regexp.MustCompile(`^i\s+(?:want|need)\s+to\s+`),
		regexp.MustCompile(`^go\s+ahead\s+and\s+`),
	}
	triggerVerbRe = regexp.MustCompile(`^(?:run|execute|trigger|start|launch)\s+`)
	leadArticleRe = regexp.MustCompile(`^(?:my|the|a|an)\s+`)
	trailerRes    = []*regexp.Regexp{
		regexp.MustCompile(`\s+please$`),
		regexp.MustCompile(`\s+right\s+now$`),
		regexp.MustCompile(`\s+now$`),
		regexp.MustCompile(`\s+for\s+me$`),
		regexp.MustCompile(`\s+asap$`),
	}
	trailingWorkflowRe = regexp.MustCompile(`\s+workflows?$`)
	tokenSplitRe       = regexp.MustCompile(`[\s\-_]+`)
)

var (
	affirmatives = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yep": true,
		"sure": true, "ok": true, "go": true, "do it": true,
	}
	negatives = map[string]bool{
		"no": true, "n": true, "cancel": true, "nevermind": true,
	}
)

type pendingKind int

const (
	pendingConfirm pendingKind = iota
	pendingChoose
)

// pendingState holds an unanswered confirmation or disambiguation prompt
// for one caller. Any reply consumes it.
type pendingState struct {
	kind      pendingKind
	workflows []*store.Workflow
	expires   time.Time
}

// Trigger turns natural-language phrases into workflow executions. It keeps
// per-caller confirmation state and a sliding execution rate limit, both
// in memory only: a restart simply forgets open prompts.
type Trigger struct {
	stores *store.Stores
	engine *Engine

	mu         sync.Mutex
	pending    map[string]*pendingState
	executions map[string][]time.Time

	now func() time.Time
}

func NewTrigger(stores *store.Stores, engine *Engine) *Trigger {
	return &Trigger{
		stores:     stores,
		engine:     engine,
		pending:    make(map[string]*pendingState),
		executions: make(map[string][]time.Time),
		now:        time.Now,
	}
}

// ExtractWorkflowName reduces a trigger phrase to the workflow name it
// refers to: "Hey Hive, please run my daily digest workflow now" becomes
// "daily digest". An empty result means the phrase named no workflow.
func ExtractWorkflowName(message string) string {
	s := strings.ToLower(strings.TrimSpace(message))
	s = strings.TrimRight(s, ".!?")
	for changed := true; changed; {
		changed = false
		for _, re := range courtesyRes {
			if next := re.ReplaceAllString(s, ""); next != s {
				s, changed = next, true
			}
		}
	}
	s = triggerVerbRe.ReplaceAllString(s, "")
	s = leadArticleRe.ReplaceAllString(s, "")
	for changed := true; changed; {
		changed = false
		for _, re := range trailerRes {
			if next := re.ReplaceAllString(s, ""); next != s {
				s, changed = next, true
			}
		}
	}
	s = trailingWorkflowRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "workflow" || s == "workflows" {
		return ""
	}
	return s
}

// nameMatch scores one workflow against an extracted name. Lower tier wins;
// within a tier, higher score wins.
type nameMatch struct {
	wf    *store.Workflow
	tier  int
	score float64
}

func matchWorkflows(name string, candidates []*store.Workflow) []nameMatch {
	var out []nameMatch
	for _, wf := range candidates {
		wfName := strings.ToLower(strings.TrimSpace(wf.Name))
		switch {
		case wfName == name:
			out = append(out, nameMatch{wf, 1, 1.0})
		case strings.Contains(wfName, name) || strings.Contains(name, wfName):
			out = append(out, nameMatch{wf, 2, 0.8})
		default:
			if s := tokenOverlap(name, wfName); s >= 0.5 {
				out = append(out, nameMatch{wf, 3, s})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].tier != out[j].tier {
			return out[i].tier < out[j].tier
		}
		return out[i].score > out[j].score
	})
	return out
}

// tokenOverlap is |A∩B| / max(|A|,|B|) over words split on whitespace,
// hyphens, and underscores.
func tokenOverlap(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for tok := range ta {
		if tb[tok] {
			shared++
		}
	}
	den := len(ta)
	if len(tb) > den {
		den = len(tb)
	}
	return float64(shared) / float64(den)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenSplitRe.Split(s, -1) {
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}

// HandleMessage resolves a trigger or listing phrase for userID and returns
// the reply to show them. Errors cover store failures only; everything a
// user can get wrong comes back as reply text.
func (t *Trigger) HandleMessage(ctx context.Context, userID, message string) (string, error) {
	actives, err := t.stores.Workflows.ListActiveForUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("list workflows: %w", err)
	}

	name := ExtractWorkflowName(message)
	if name == "" {
		return t.listReply(actives), nil
	}

	matches := matchWorkflows(name, actives)
	switch {
	case len(matches) == 0:
		if inactive := t.inactiveExact(ctx, userID, name); inactive != nil {
			return fmt.Sprintf("The workflow %q exists but is inactive, so I won't run it. Activate it first if you want it back.", inactive.Name), nil
		}
		if len(actives) == 0 {
			return "You don't have any active workflows yet.", nil
		}
		return fmt.Sprintf("I couldn't find a workflow matching %q.\n\n%s", name, t.listReply(actives)), nil

	case len(matches) == 1 && matches[0].tier == 1:
		return t.execute(ctx, userID, matches[0].wf), nil

	case len(matches) == 1:
		t.setPending(userID, &pendingState{
			kind:      pendingConfirm,
			workflows: []*store.Workflow{matches[0].wf},
			expires:   t.now().Add(pendingTTL),
		})
		return fmt.Sprintf("Did you mean the %q workflow? (yes/no)", matches[0].wf.Name), nil

	default:
		n := len(matches)
		if n > maxDisambiguationHints {
			n = maxDisambiguationHints
		}
		wfs := make([]*store.Workflow, n)
		var sb strings.Builder
		sb.WriteString("Which workflow did you mean?\n")
		for i := 0; i < n; i++ {
			wfs[i] = matches[i].wf
			fmt.Fprintf(&sb, "%d. %s\n", i+1, wfs[i].Name)
		}
		sb.WriteString("Reply with a number, or cancel.")
		t.setPending(userID, &pendingState{
			kind:      pendingChoose,
			workflows: wfs,
			expires:   t.now().Add(pendingTTL),
		})
		return sb.String(), nil
	}
}

// PendingReply consumes a caller's open confirmation or disambiguation
// prompt. ok=false means there was nothing pending, it had expired, or the
// reply didn't answer the prompt — in every such case the state is gone and
// the message should flow through routing as usual.
func (t *Trigger) PendingReply(ctx context.Context, userID, message string) (string, bool) {
	t.mu.Lock()
	st, ok := t.pending[userID]
	if ok {
		delete(t.pending, userID)
	}
	t.mu.Unlock()
	if !ok || t.now().After(st.expires) {
		return "", false
	}

	reply := strings.ToLower(strings.TrimSpace(strings.TrimRight(message, ".!?")))
	if negatives[reply] {
		return "Okay, cancelled.", true
	}
	switch st.kind {
	case pendingConfirm:
		if affirmatives[reply] {
			return t.execute(ctx, userID, st.workflows[0]), true
		}
	case pendingChoose:
		if n, err := strconv.Atoi(reply); err == nil && n >= 1 && n <= len(st.workflows) {
			return t.execute(ctx, userID, st.workflows[n-1]), true
		}
	}
	return "", false
}

// execute enforces ownership and the rate limit, runs the workflow, and
// renders the outcome as a chat reply.
func (t *Trigger) execute(ctx context.Context, userID string, wf *store.Workflow) string {
	if wf.OwnerID != userID {
		return "You can only run workflows you own."
	}
	if !t.allowExecution(userID) {
		return fmt.Sprintf("Slow down — at most %d workflow runs per minute. Try again shortly.", executionsPerWindow)
	}
	report, err := t.engine.ExecuteWorkflow(ctx, wf.ID, userID)
	if err != nil {
		slog.Warn("trigger: execution failed", "workflow", wf.Name, "user", userID, "error", err)
		return fmt.Sprintf("I couldn't run %q: %v", wf.Name, err)
	}
	return renderReport(wf.Name, report)
}

func renderReport(name string, r *RunReport) string {
	elapsed := (time.Duration(r.TotalDurationMs) * time.Millisecond).Round(time.Millisecond)
	if r.Status == store.RunStatusCompleted {
		return fmt.Sprintf("Done — %q finished %d step(s) in %s.", name, len(r.Steps), elapsed)
	}
	return fmt.Sprintf("The %q workflow failed after %s: %s", name, elapsed, r.Error)
}

// allowExecution applies the sliding per-caller window. Rejected attempts
// are not counted against the window.
func (t *Trigger) allowExecution(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	cutoff := now.Add(-executionWindow)
	kept := t.executions[userID][:0]
	for _, ts := range t.executions[userID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= executionsPerWindow {
		t.executions[userID] = kept
		return false
	}
	t.executions[userID] = append(kept, now)
	return true
}

func (t *Trigger) setPending(userID string, st *pendingState) {
	t.mu.Lock()
	t.pending[userID] = st
	t.mu.Unlock()
}

func (t *Trigger) inactiveExact(ctx context.Context, userID, name string) *store.Workflow {
	all, err := t.stores.Workflows.ListForUser(ctx, userID)
	if err != nil {
		slog.Warn("trigger: list workflows failed", "user", userID, "error", err)
		return nil
	}
	for _, wf := range all {
		if !wf.IsActive && strings.EqualFold(strings.TrimSpace(wf.Name), name) {
			return wf
		}
	}
	return nil
}

func (t *Trigger) listReply(actives []*store.Workflow) string {
	if len(actives) == 0 {
		return "You don't have any active workflows yet."
	}
	var sb strings.Builder
	sb.WriteString("Your active workflows:\n")
	for _, wf := range actives {
		fmt.Fprintf(&sb, "- %s\n", wf.Name)
	}
	sb.WriteString(`Say "run <name>" to start one.`)
	return sb.String()
}
