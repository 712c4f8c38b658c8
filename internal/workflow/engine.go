package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/hive/internal/agent"
	"github.com/nextlevelbuilder/hive/internal/scripts"
	"github.com/nextlevelbuilder/hive/internal/store"
	"github.com/nextlevelbuilder/hive/internal/vault"
	"github.com/nextlevelbuilder/hive/internal/workspace"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/hive/internal/workflow")

// Gateway runs skill steps through the full message pipeline so routing,
// context assembly, and persistence behave exactly like a chat turn.
// Satisfied by *agent.Gateway.
type Gateway interface {
	Handle(ctx context.Context, req *agent.GatewayRequest) (*agent.GatewayResponse, error)
}

// Notifier delivers a message to a recipient handle on a channel.
// Satisfied by the channel manager.
type Notifier interface {
	Send(ctx context.Context, channel, recipient, text string) error
}

// ScriptRunner executes script source with resolved inputs. Satisfied by
// *scripts.Runner.
type ScriptRunner interface {
	Run(ctx context.Context, source string, input map[string]any, workDir string) (*scripts.Result, error)
}

// RunReport is what executeWorkflow hands back to the trigger, the
// scheduler, and the CLI. Steps mirrors what was persisted on the run row.
type RunReport struct {
	RunID           string       `json:"runId"`
	Status          string       `json:"status"`
	Steps           []StepResult `json:"steps"`
	TotalDurationMs int64        `json:"totalDurationMs"`
	Error           string       `json:"error,omitempty"`
}

// EngineDeps wires the engine. Gateway and Notifier may be nil in reduced
// deployments; the corresponding step types then fail with a clear error.
type EngineDeps struct {
	Stores    *store.Stores
	Vault     *vault.Vault
	Runner    ScriptRunner
	Workspace *workspace.Manager
	Gateway   Gateway
	Notifier  Notifier
}

// Engine runs workflows step by step, persisting progress after every step
// so a crash leaves an inspectable run row behind.
type Engine struct {
	stores   *store.Stores
	vault    *vault.Vault
	runner   ScriptRunner
	ws       *workspace.Manager
	gateway  Gateway
	notifier Notifier
}

func NewEngine(deps EngineDeps) *Engine {
	return &Engine{
		stores:   deps.Stores,
		vault:    deps.Vault,
		runner:   deps.Runner,
		ws:       deps.Workspace,
		gateway:  deps.Gateway,
		notifier: deps.Notifier,
	}
}

// SetGateway attaches the message pipeline after construction. The gateway
// itself holds a reference back to the trigger, so one of the two links has
// to be set late.
func (e *Engine) SetGateway(g Gateway) { e.gateway = g }

// ExecuteWorkflow runs every step of the workflow in order. The returned
// error covers infrastructure failures only (unknown workflow, bad steps
// JSON, run row writes); a step failure yields a report with status failed
// and a nil error.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID, callerID string) (*RunReport, error) {
	ctx, span := tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(attribute.String("workflow.id", workflowID)))
	defer span.End()

	report, err := e.executeWorkflow(ctx, workflowID, callerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("run.id", report.RunID),
		attribute.String("run.status", report.Status),
	)
	if report.Status == store.RunStatusFailed {
		span.SetStatus(codes.Error, report.Error)
	}
	return report, nil
}

func (e *Engine) executeWorkflow(ctx context.Context, workflowID, callerID string) (*RunReport, error) {
	wf, err := e.stores.Workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	if wf.OwnerID != callerID {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, store.ErrUnauthorized)
	}
	steps, err := ParseSteps(wf.StepsJSON)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, err)
	}

	started := time.Now()
	run := &store.WorkflowRun{
		ID:              store.NewID(),
		WorkflowID:      wf.ID,
		OwnerID:         callerID,
		Status:          store.RunStatusRunning,
		StepsResultJSON: "[]",
		StartedAt:       started,
	}
	if err := e.stores.Workflows.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	slog.Info("workflow: run started",
		"workflow", wf.Name, "run", run.ID, "steps", len(steps), "caller", callerID)

	outputs := make(map[string]any, len(steps))
	results := make([]StepResult, 0, len(steps))
	failed := false

	for i, step := range steps {
		stepStart := time.Now()
		output, stepErr := e.runStep(ctx, callerID, step, outputs)
		elapsed := time.Since(stepStart).Milliseconds()

		if stepErr != nil {
			failed = true
			results = append(results, StepResult{
				ID:         step.ID,
				Status:     StepFailed,
				DurationMs: elapsed,
				Error:      stepErr.Error(),
			})
			for _, rest := range steps[i+1:] {
				results = append(results, StepResult{ID: rest.ID, Status: StepSkipped})
			}
			run.Error = fmt.Sprintf("step %s: %v", step.ID, stepErr)
			slog.Warn("workflow: step failed",
				"workflow", wf.Name, "run", run.ID, "step", step.ID, "error", stepErr)
			break
		}

		outputs[step.ID] = output
		results = append(results, StepResult{
			ID:         step.ID,
			Status:     StepCompleted,
			DurationMs: elapsed,
			Output:     output,
		})
		if err := e.persistProgress(ctx, run, results); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	run.CompletedAt = &now
	run.Status = store.RunStatusCompleted
	if failed {
		run.Status = store.RunStatusFailed
	}
	if err := e.persistProgress(ctx, run, results); err != nil {
		return nil, err
	}

	total := time.Since(started).Milliseconds()
	slog.Info("workflow: run finished",
		"workflow", wf.Name, "run", run.ID, "status", run.Status, "durationMs", total)

	return &RunReport{
		RunID:           run.ID,
		Status:          run.Status,
		Steps:           results,
		TotalDurationMs: total,
		Error:           run.Error,
	}, nil
}

func (e *Engine) persistProgress(ctx context.Context, run *store.WorkflowRun, results []StepResult) error {
	encoded, err := encodeResults(results)
	if err != nil {
		return fmt.Errorf("encode step results: %w", err)
	}
	run.StepsResultJSON = encoded
	if err := e.stores.Workflows.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	return nil
}

func (e *Engine) runStep(ctx context.Context, callerID string, step StepDefinition, outputs map[string]any) (_ any, err error) {
	ctx, span := tracer.Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("step.id", step.ID),
			attribute.String("step.type", step.Type),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	inputs, err := e.resolveInputs(ctx, callerID, step.Inputs, outputs)
	if err != nil {
		return nil, err
	}
	switch step.Type {
	case StepScript:
		return e.runScriptStep(ctx, callerID, step, inputs)
	case StepSkill:
		return e.runSkillStep(ctx, callerID, step, inputs)
	case StepNotify:
		return e.runNotifyStep(ctx, callerID, step, inputs)
	default:
		return nil, fmt.Errorf("unknown step type %q", step.Type)
	}
}

// resolveInputs materializes a step's input mappings against the outputs of
// earlier steps and the caller's vault.
func (e *Engine) resolveInputs(ctx context.Context, callerID string, mappings map[string]InputMapping, outputs map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(mappings))
	for name, m := range mappings {
		switch m.Type {
		case InputStatic, "":
			if s, ok := m.Value.(string); ok {
				resolved[name] = interpolate(s, outputs)
			} else {
				resolved[name] = m.Value
			}
		case InputRef:
			v, ok := navigate(outputs, strings.Split(m.Source, "."))
			if !ok {
				return nil, fmt.Errorf("input %q: reference %q did not resolve", name, m.Source)
			}
			resolved[name] = v
		case InputCredential:
			if e.vault == nil {
				return nil, fmt.Errorf("input %q: no vault configured", name)
			}
			secret, err := e.vault.ResolveByName(ctx, callerID, m.CredentialName)
			if err != nil {
				return nil, fmt.Errorf("input %q: credential %q: %w", name, m.CredentialName, err)
			}
			resolved[name] = secret
		default:
			return nil, fmt.Errorf("input %q: unknown mapping type %q", name, m.Type)
		}
	}
	return resolved, nil
}

func (e *Engine) runScriptStep(ctx context.Context, callerID string, step StepDefinition, inputs map[string]any) (any, error) {
	if e.runner == nil {
		return nil, errors.New("script step needs a script runner")
	}
	if step.ScriptID == "" {
		return nil, errors.New("script step has no scriptId")
	}
	script, err := e.stores.Scripts.Get(ctx, step.ScriptID)
	if err != nil {
		return nil, fmt.Errorf("load script %s: %w", step.ScriptID, err)
	}
	workDir, err := e.ws.FilesDir(callerID)
	if err != nil {
		return nil, err
	}
	res, err := e.runner.Run(ctx, script.Source, inputs, workDir)
	if err != nil {
		return nil, fmt.Errorf("run script %q: %w", script.Name, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("script %q failed: %s", script.Name, res.Error)
	}
	return mapToAny(res.Output), nil
}

func (e *Engine) runSkillStep(ctx context.Context, callerID string, step StepDefinition, inputs map[string]any) (any, error) {
	if e.gateway == nil {
		return nil, errors.New("skill step needs the gateway")
	}
	message := skillMessage(step, inputs)
	resp, err := e.gateway.Handle(ctx, &agent.GatewayRequest{
		UserID:     callerID,
		Message:    message,
		Channel:    "workflow",
		ForceSkill: step.SkillName,
		Tools:      step.Tools,
	})
	if err != nil {
		return nil, fmt.Errorf("skill %q: %w", step.SkillName, err)
	}
	return map[string]any{"response": resp.Response}, nil
}

// skillMessage builds the prompt for a skill step: the message input first,
// every other input as a named block below it.
func skillMessage(step StepDefinition, inputs map[string]any) string {
	var sb strings.Builder
	if msg, ok := inputs["message"]; ok {
		sb.WriteString(renderValue(msg))
	}
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		if name != "message" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%s:\n%s", name, renderValue(inputs[name]))
	}
	if strings.TrimSpace(sb.String()) == "" {
		return fmt.Sprintf("Run the %s skill.", step.SkillName)
	}
	return sb.String()
}

func (e *Engine) runNotifyStep(ctx context.Context, callerID string, step StepDefinition, inputs map[string]any) (any, error) {
	if e.notifier == nil {
		return nil, errors.New("notify step needs a channel sender")
	}
	message := renderValue(unwrapResponse(inputs["message"]))
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("notify step resolved to an empty message")
	}

	channel := step.Channel
	if channel == "" {
		channel = "telegram"
	}
	recipient, recipientUserID, err := e.resolveRecipient(ctx, callerID, channel, inputs)
	if err != nil {
		return nil, err
	}

	if err := e.notifier.Send(ctx, channel, recipient, message); err != nil {
		return nil, fmt.Errorf("send via %s: %w", channel, err)
	}

	// Mirror the delivery into conversation history so both sides can ask
	// follow-up questions about it.
	turn := fmt.Sprintf("[Sent via %s notification]\n\n%s", channel, message)
	e.recordNotification(ctx, callerID, turn)
	if recipientUserID != "" && recipientUserID != callerID {
		e.recordNotification(ctx, recipientUserID, turn)
	}

	return map[string]any{"delivered": true, "channel": channel, "recipient": recipient}, nil
}

// resolveRecipient picks the delivery handle for a notify step. Tiers: the
// explicit recipient input, an identityId input (must belong to the caller),
// the caller's first linked identity on the channel, and finally the caller
// id with its channel prefix stripped.
func (e *Engine) resolveRecipient(ctx context.Context, callerID, channel string, inputs map[string]any) (recipient, recipientUserID string, err error) {
	if v, ok := inputs["recipient"]; ok {
		handle := strings.TrimSpace(renderValue(v))
		if handle != "" {
			if ident, err := e.stores.Identities.Resolve(ctx, channel, handle); err == nil {
				return handle, ident.OwnerID, nil
			}
			return handle, "", nil
		}
	}
	if v, ok := inputs["identityId"]; ok {
		id := strings.TrimSpace(renderValue(v))
		ident, err := e.stores.Identities.Get(ctx, id)
		if err != nil {
			return "", "", fmt.Errorf("identity %s: %w", id, err)
		}
		if ident.OwnerID != callerID {
			return "", "", fmt.Errorf("identity %s: %w", id, store.ErrUnauthorized)
		}
		return ident.ChannelUserID, ident.OwnerID, nil
	}
	idents, err := e.stores.Identities.ListForUser(ctx, callerID)
	if err != nil {
		return "", "", fmt.Errorf("list identities: %w", err)
	}
	for _, ident := range idents {
		if ident.Channel == channel {
			return ident.ChannelUserID, callerID, nil
		}
	}
	handle := callerID
	for _, prefix := range []string{"tg:", "wa:"} {
		if rest, ok := strings.CutPrefix(callerID, prefix); ok {
			handle = rest
			break
		}
	}
	return handle, callerID, nil
}

// recordNotification appends the delivered text as an assistant turn in the
// user's latest conversation, creating one when the user has none. Failures
// are logged, not fatal: the notification itself already went out.
func (e *Engine) recordNotification(ctx context.Context, userID, text string) {
	if _, err := e.stores.Users.Ensure(ctx, userID); err != nil {
		slog.Warn("workflow: ensure notify user failed", "user", userID, "error", err)
		return
	}
	conv, err := e.stores.Conversations.Latest(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		conv = &store.Conversation{ID: store.NewID(), UserID: userID, Title: "Notifications"}
		if err := e.stores.Conversations.Create(ctx, conv); err != nil {
			slog.Warn("workflow: create notify conversation failed", "user", userID, "error", err)
			return
		}
	} else if err != nil {
		slog.Warn("workflow: load notify conversation failed", "user", userID, "error", err)
		return
	}
	msg := &store.Message{
		ID:             store.NewID(),
		ConversationID: conv.ID,
		Role:           "assistant",
		Content:        text,
	}
	if err := e.stores.Conversations.AppendMessage(ctx, msg); err != nil {
		slog.Warn("workflow: persist notify turn failed", "user", userID, "error", err)
	}
}

func unwrapResponse(v any) any {
	if m, ok := v.(map[string]any); ok {
		if r, ok := m["response"]; ok && len(m) == 1 {
			return r
		}
	}
	return v
}

func mapToAny(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func encodeResults(results []StepResult) (string, error) {
	if len(results) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
