package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/hive/internal/config"
	"github.com/nextlevelbuilder/hive/internal/orchestrator"
	"github.com/nextlevelbuilder/hive/internal/providers"
	"github.com/nextlevelbuilder/hive/internal/skills"
	"github.com/nextlevelbuilder/hive/internal/store"
	"github.com/nextlevelbuilder/hive/internal/tools"
	"github.com/nextlevelbuilder/hive/internal/workspace"
)

const (
	// historyLoadLimit rows are fetched per turn; after dropping the current
	// message and non-chat roles at most historyKeep turns remain.
	historyLoadLimit = 21
	historyKeep      = 10

	// contextTokenBaseline is the assumed cost of a naive all-in prompt;
	// the reported savings are measured against it.
	contextTokenBaseline = 2500
)

// GatewayRequest is one inbound message from any channel.
type GatewayRequest struct {
	// UserID is the raw channel-scoped id (for example "tg:12345") or an
	// already-resolved user id.
	UserID  string
	Message string
	// Channel names the origin: "telegram", "whatsapp", "cli", "http",
	// "workflow", "scheduler".
	Channel string
	// ConversationID pins the thread; empty continues the user's latest
	// conversation, creating one if needed.
	ConversationID string
	// ForceSkill overrides the router's skill choice.
	ForceSkill string
	// Tools are extra tool names unioned with the always-on defaults.
	Tools []string
}

// GatewayResponse is the reply plus per-turn accounting.
type GatewayResponse struct {
	Response       string
	UserID         string // resolved user id
	ConversationID string
	Routing        *orchestrator.Decision
	Model          string // family actually used
	ModelID        string
	TokensIn       int
	TokensOut      int
	CostCents      float64
	// EstimatedTokens is the chars/4 estimate of the assembled context;
	// EstimatedTokensSaved compares it against the naive baseline.
	EstimatedTokens      int
	EstimatedTokensSaved int
}

// WorkflowTrigger interprets "run my …" phrasings and pending
// yes/no/pick-a-number replies. The implementation lives in the workflow
// package and is attached after construction, keeping that dependency
// one-way.
type WorkflowTrigger interface {
	// HandleMessage resolves a trigger or listing phrase for the caller and
	// returns the reply to send. Workflow execution happens inside.
	HandleMessage(ctx context.Context, userID, message string) (string, error)

	// PendingReply consumes a pending confirmation or disambiguation reply.
	// ok is false when the user has no pending state or the reply was not a
	// recognized answer (the pending state is dropped either way).
	PendingReply(ctx context.Context, userID, message string) (reply string, ok bool)
}

// workflowPhraseRe catches explicit workflow wording before the router
// spends tokens on it: "run my daily digest workflow", "list workflows".
var workflowPhraseRe = regexp.MustCompile(`(?i)\b(?:(?:run|execute|trigger|start|launch)\b.{0,80}\bworkflows?\b|(?:list|show|what)\b.{0,40}\bworkflows?\b)`)

// GatewayDeps wires the gateway's collaborators. Summarizer and the
// workflow trigger are optional; everything else must be set.
type GatewayDeps struct {
	Stores     *store.Stores
	Router     *orchestrator.Orchestrator
	Executor   *Executor
	Builder    *ContextBuilder
	Tools      *tools.Registry
	Skills     *skills.Resolver
	Workspace  *workspace.Manager
	Summarizer *Summarizer
	Tiers      config.ModelTiers
	DebugLog   bool
}

// Gateway is the per-message pipeline: identity, conversation, routing,
// workflow gates, context assembly, execution, persistence. One call is
// logically sequential; the only internal parallelism is the override
// fetch.
type Gateway struct {
	stores     *store.Stores
	router     *orchestrator.Orchestrator
	executor   *Executor
	builder    *ContextBuilder
	tools      *tools.Registry
	skills     *skills.Resolver
	ws         *workspace.Manager
	summarizer *Summarizer
	tiers      config.ModelTiers
	debugLog   bool

	trigger WorkflowTrigger
}

func NewGateway(deps GatewayDeps) *Gateway {
	return &Gateway{
		stores:     deps.Stores,
		router:     deps.Router,
		executor:   deps.Executor,
		builder:    deps.Builder,
		tools:      deps.Tools,
		skills:     deps.Skills,
		ws:         deps.Workspace,
		summarizer: deps.Summarizer,
		tiers:      deps.Tiers,
		debugLog:   deps.DebugLog,
	}
}

// SetWorkflowTrigger attaches the workflow trigger service. Must be called
// before the first message when workflows are enabled.
func (g *Gateway) SetWorkflowTrigger(t WorkflowTrigger) { g.trigger = t }

var tracer = otel.Tracer("github.com/nextlevelbuilder/hive/internal/agent")

// Handle processes one inbound message end to end and returns the reply.
// The user turn is persisted before anything that can fail downstream, so a
// provider outage never loses what the user said.
func (g *Gateway) Handle(ctx context.Context, req *GatewayRequest) (*GatewayResponse, error) {
	ctx, span := tracer.Start(ctx, "gateway.handle",
		trace.WithAttributes(attribute.String("message.channel", req.Channel)))
	defer span.End()

	resp, err := g.handle(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (g *Gateway) handle(ctx context.Context, req *GatewayRequest) (*GatewayResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("empty message")
	}

	userID, err := g.resolveUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	conv, err := g.openConversation(ctx, userID, req.ConversationID, req.Message)
	if err != nil {
		return nil, err
	}

	if err := g.appendTurn(ctx, conv.ID, "user", req.Message); err != nil {
		return nil, fmt.Errorf("persist user turn: %w", err)
	}

	history := g.loadHistory(ctx, conv.ID)

	// Workflow gates run before routing: first a pending yes/no/1..N reply,
	// then explicit trigger phrasing.
	if g.trigger != nil {
		if reply, ok := g.trigger.PendingReply(ctx, userID, req.Message); ok {
			return g.finishDirect(ctx, conv, userID, reply, triggerDecision())
		}
		if workflowPhraseRe.MatchString(req.Message) {
			return g.dispatchTrigger(ctx, conv, userID, req.Message, triggerDecision())
		}
	}

	skillList, err := g.skills.List(ctx, userID)
	if err != nil {
		slog.Warn("gateway: skill listing failed", "user", userID, "error", err)
	}
	decision := g.router.Route(ctx, req.Message, lastTurns(history, 5), skillInfos(skillList))

	if decision.Intent == "workflow_trigger" && g.trigger != nil {
		return g.dispatchTrigger(ctx, conv, userID, req.Message, decision)
	}

	skillName := req.ForceSkill
	if skillName != "" {
		decision.SelectedSkill = skillName
	} else {
		skillName = decision.SelectedSkill
	}
	var skillContent string
	if skillName != "" {
		if sk, err := g.skills.Resolve(ctx, userID, skillName); err == nil {
			skillContent = sk.Content
		} else {
			slog.Warn("gateway: selected skill not found", "user", userID, "skill", skillName, "error", err)
		}
	}

	if decision.ContextSummary == "" {
		decision.ContextSummary = conv.Summary
	}

	overrides := g.composeOverrides(ctx, userID, decision)

	toolset := g.tools.ForUser(userID, req.Tools...)

	pc := g.builder.Build(&ContextRequest{
		Decision:     decision,
		UserMessage:  req.Message,
		History:      history,
		SkillContent: skillContent,
		Overrides:    overrides,
		ToolNames:    toolset.Names(),
	})

	family := g.resolveFamily(decision)

	res, err := g.executor.Execute(ctx, pc.Messages, family, ExecOptions{
		SystemPrompt: pc.SystemPrompt,
		Tools:        toolset,
	})
	if err != nil {
		return nil, err
	}

	if err := g.appendTurn(ctx, conv.ID, "assistant", res.Content); err != nil {
		slog.Error("gateway: persist assistant turn failed", "conversation", conv.ID, "error", err)
	}
	g.logUsage(ctx, userID, res)
	if g.summarizer != nil {
		g.summarizer.MaybeSummarize(conv.ID)
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("routing.intent", decision.Intent),
		attribute.String("model.family", family),
		attribute.String("model.id", res.ModelID),
		attribute.Int("tokens.in", res.TokensIn),
		attribute.Int("tokens.out", res.TokensOut),
	)

	resp := &GatewayResponse{
		Response:             res.Content,
		UserID:               userID,
		ConversationID:       conv.ID,
		Routing:              decision,
		Model:                family,
		ModelID:              res.ModelID,
		TokensIn:             res.TokensIn,
		TokensOut:            res.TokensOut,
		CostCents:            res.CostCents,
		EstimatedTokens:      pc.EstimatedTokens,
		EstimatedTokensSaved: max(0, contextTokenBaseline-pc.EstimatedTokens),
	}

	if g.debugLog {
		go g.writeDebugLog(conv.ID, userID, req.Channel, resp)
	}
	return resp, nil
}

// channelPrefixes maps raw-id prefixes to identity channels.
var channelPrefixes = map[string]string{
	"tg": "telegram",
	"wa": "whatsapp",
}

// resolveUser maps a channel-scoped id to its linked owner when one exists,
// then makes sure the user row and workspace subtree are in place.
func (g *Gateway) resolveUser(ctx context.Context, rawID string) (string, error) {
	userID := rawID
	if channel, external, ok := splitChannelPrefix(rawID); ok {
		ident, err := g.stores.Identities.Resolve(ctx, channel, external)
		switch {
		case err == nil:
			userID = ident.OwnerID
		case !errors.Is(err, store.ErrNotFound):
			return "", fmt.Errorf("resolve identity: %w", err)
		}
	}
	if _, err := g.stores.Users.Ensure(ctx, userID); err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}
	if _, err := g.ws.UserDir(userID); err != nil {
		return "", err
	}
	return userID, nil
}

func splitChannelPrefix(raw string) (channel, external string, ok bool) {
	prefix, rest, found := strings.Cut(raw, ":")
	if !found || rest == "" {
		return "", "", false
	}
	channel, ok = channelPrefixes[prefix]
	if !ok {
		return "", "", false
	}
	return channel, rest, true
}

func (g *Gateway) openConversation(ctx context.Context, userID, conversationID, message string) (*store.Conversation, error) {
	if conversationID != "" {
		return g.stores.Conversations.Get(ctx, conversationID)
	}
	conv, err := g.stores.Conversations.Latest(ctx, userID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	conv = &store.Conversation{
		ID:     store.NewID(),
		UserID: userID,
		Title:  conversationTitle(message),
	}
	if err := g.stores.Conversations.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func conversationTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if len(title) > 48 {
		title = title[:48]
	}
	return title
}

func (g *Gateway) appendTurn(ctx context.Context, conversationID, role, content string) error {
	return g.stores.Conversations.AppendMessage(ctx, &store.Message{
		ID:             store.NewID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	})
}

// loadHistory returns prior user/assistant turns, oldest first. The row
// just persisted for the current message is sliced off, so the list holds
// context only.
func (g *Gateway) loadHistory(ctx context.Context, conversationID string) []providers.Message {
	rows, err := g.stores.Conversations.Messages(ctx, conversationID, historyLoadLimit)
	if err != nil {
		slog.Warn("gateway: history load failed", "conversation", conversationID, "error", err)
		return nil
	}
	if len(rows) > 0 {
		rows = rows[:len(rows)-1]
	}
	var out []providers.Message
	for _, m := range rows {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		out = append(out, providers.Message{Role: m.Role, Content: m.Content})
	}
	if len(out) > historyKeep {
		out = out[len(out)-historyKeep:]
	}
	return out
}

func lastTurns(history []providers.Message, n int) []providers.Message {
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

func skillInfos(list []*skills.Skill) []orchestrator.SkillInfo {
	out := make([]orchestrator.SkillInfo, 0, len(list))
	for _, s := range list {
		out = append(out, orchestrator.SkillInfo{Name: s.Name, Description: s.Description})
	}
	return out
}

// composeOverrides fetches the per-user soul, identity, and profile prompts
// in parallel. The file listing is only assembled for file_operation turns;
// nothing else pays for the directory scan.
func (g *Gateway) composeOverrides(ctx context.Context, userID string, d *orchestrator.Decision) Overrides {
	var ov Overrides
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { ov.SoulPrompt = g.soulPrompt(ctx, userID); return nil })
	eg.Go(func() error { ov.BasicIdentity = g.identityLine(ctx, userID); return nil })
	eg.Go(func() error { ov.ProfilePrompt = g.profilePrompt(ctx, userID); return nil })
	_ = eg.Wait()

	if d.Intent == "file_operation" {
		ov.FileContext = g.fileContext(userID)
	}
	return ov
}

func (g *Gateway) soulPrompt(ctx context.Context, userID string) string {
	if user, err := g.stores.Users.Get(ctx, userID); err == nil {
		if s := strings.TrimSpace(user.Config["soul"]); s != "" {
			return s
		}
	}
	return g.ws.ReadNote(userID, "SOUL.md")
}

// identityLine renders the ~20-token identity block from the user's config
// bag. An empty return lets the builder fall back to its default line.
func (g *Gateway) identityLine(ctx context.Context, userID string) string {
	user, err := g.stores.Users.Get(ctx, userID)
	if err != nil {
		return ""
	}
	name := strings.TrimSpace(user.Config["name"])
	tz := strings.TrimSpace(user.Config["timezone"])
	if name == "" && tz == "" {
		return ""
	}
	line := fmt.Sprintf("You are %s, a personal assistant.", g.builder.AssistantName())
	if name != "" {
		line += fmt.Sprintf(" You are talking to %s.", name)
	}
	if tz == "" {
		tz = g.builder.Location().String()
	}
	return line + fmt.Sprintf(" User timezone: %s.", tz)
}

func (g *Gateway) profilePrompt(ctx context.Context, userID string) string {
	if user, err := g.stores.Users.Get(ctx, userID); err == nil {
		if s := strings.TrimSpace(user.Config["profile"]); s != "" {
			return s
		}
	}
	return g.ws.ReadNote(userID, "PROFILE.md")
}

// fileContext renders the user's files as a bullet list with size and
// modification time, newest info the model needs to talk about files
// without a tool call.
func (g *Gateway) fileContext(userID string) string {
	files, err := g.ws.ListFiles(userID)
	if err != nil || len(files) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, f := range files {
		fmt.Fprintf(&sb, "- %s (%s, modified %s)\n",
			f.Name, humanize.Bytes(uint64(f.Size)), f.ModTime.Format("2006-01-02 15:04"))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// promoteToMedium lists intents whose "simple" rating is not trusted: these
// task shapes read simple but routinely need the default tier.
var promoteToMedium = map[string]bool{
	"code":           true,
	"analysis":       true,
	"creative":       true,
	"briefing":       true,
	"file_operation": true,
	"task_query":     true,
}

func (g *Gateway) resolveFamily(d *orchestrator.Decision) string {
	complexity := d.Complexity
	if complexity == "simple" && promoteToMedium[d.Intent] {
		complexity = "medium"
	}
	return g.tiers.Family(complexity)
}

func triggerDecision() *orchestrator.Decision {
	return &orchestrator.Decision{
		Intent:           "workflow_trigger",
		Complexity:       "simple",
		SuggestedModel:   "haiku",
		PersonalityLevel: "none",
	}
}

func (g *Gateway) dispatchTrigger(ctx context.Context, conv *store.Conversation, userID, message string, d *orchestrator.Decision) (*GatewayResponse, error) {
	reply, err := g.trigger.HandleMessage(ctx, userID, message)
	if err != nil {
		return nil, fmt.Errorf("workflow trigger: %w", err)
	}
	return g.finishDirect(ctx, conv, userID, reply, d)
}

// finishDirect persists a locally produced reply and returns it without an
// executor call.
func (g *Gateway) finishDirect(ctx context.Context, conv *store.Conversation, userID, reply string, d *orchestrator.Decision) (*GatewayResponse, error) {
	if err := g.appendTurn(ctx, conv.ID, "assistant", reply); err != nil {
		slog.Error("gateway: persist assistant turn failed", "conversation", conv.ID, "error", err)
	}
	return &GatewayResponse{
		Response:       reply,
		UserID:         userID,
		ConversationID: conv.ID,
		Routing:        d,
	}, nil
}

func (g *Gateway) logUsage(ctx context.Context, userID string, res *ExecResult) {
	err := g.stores.Usage.Log(ctx, &store.UsageLog{
		ID:        store.NewID(),
		UserID:    userID,
		Model:     res.ModelID,
		TokensIn:  res.TokensIn,
		TokensOut: res.TokensOut,
		CostCents: res.CostCents,
	})
	if err != nil {
		slog.Warn("gateway: usage log failed", "user", userID, "error", err)
	}
}

// writeDebugLog captures the turn's routing and accounting for later
// inspection. Runs detached; a failed write only costs the capture.
func (g *Gateway) writeDebugLog(conversationID, userID, channel string, resp *GatewayResponse) {
	payload, err := json.Marshal(map[string]any{
		"channel":              channel,
		"routing":              resp.Routing,
		"model":                resp.Model,
		"modelId":              resp.ModelID,
		"tokensIn":             resp.TokensIn,
		"tokensOut":            resp.TokensOut,
		"costCents":            resp.CostCents,
		"estimatedTokens":      resp.EstimatedTokens,
		"estimatedTokensSaved": resp.EstimatedTokensSaved,
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entry := &store.DebugLogEntry{
		ID:             store.NewID(),
		UserID:         userID,
		ConversationID: conversationID,
		Payload:        payload,
	}
	if err := g.stores.DebugLogs.Write(ctx, entry); err != nil {
		slog.Debug("gateway: debug log write failed", "error", err)
	}
}
