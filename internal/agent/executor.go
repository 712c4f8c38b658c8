package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/hive/internal/config"
	"github.com/nextlevelbuilder/hive/internal/providers"
	"github.com/nextlevelbuilder/hive/internal/tools"
)

const (
	defaultMaxTokens     = 4096
	defaultMaxToolRounds = 5
)

// modelPricing is US dollars per million tokens (input, output) per model
// family.
var modelPricing = map[string]struct{ in, out float64 }{
	"haiku":  {0.25, 1.25},
	"sonnet": {3.00, 15.00},
	"opus":   {15.00, 75.00},
}

// Cost returns the price of a call in cents. Unknown families are billed at
// the sonnet rate rather than silently costing nothing.
func Cost(family string, tokensIn, tokensOut int) float64 {
	p, ok := modelPricing[family]
	if !ok {
		p = modelPricing["sonnet"]
	}
	return (float64(tokensIn)*p.in + float64(tokensOut)*p.out) / 1e6 * 100
}

// ExecOptions tunes a single Execute call.
type ExecOptions struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  *float64
	Tools        *tools.Toolset
	// MaxToolRounds bounds tool round-trips; 0 uses the executor default.
	MaxToolRounds int
}

// ExecResult is the outcome of one Execute call. Token counters accumulate
// across every round of the tool-use loop.
type ExecResult struct {
	Content   string
	TokensIn  int
	TokensOut int
	CostCents float64
	ModelID   string
}

// Executor owns the tool-use loop: it calls the provider, runs any requested
// tools, feeds their results back, and repeats until the model settles on a
// text answer or the round budget runs out.
type Executor struct {
	provider      providers.Provider
	ids           config.ModelIDs
	maxTokens     int
	maxToolRounds int
}

func NewExecutor(provider providers.Provider, cfg config.ExecutorConfig) *Executor {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = defaultMaxToolRounds
	}
	return &Executor{
		provider:      provider,
		ids:           cfg.ModelIDs,
		maxTokens:     maxTokens,
		maxToolRounds: rounds,
	}
}

// Execute runs one turn against the given model family ("haiku", "sonnet",
// "opus"). The provider is called at most maxToolRounds+1 times; when the
// budget is exhausted the last response's text is returned as-is.
func (e *Executor) Execute(ctx context.Context, messages []providers.Message, family string, opts ExecOptions) (*ExecResult, error) {
	modelID := e.ids.ID(family)
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = e.maxTokens
	}
	maxRounds := opts.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = e.maxToolRounds
	}

	msgs := make([]providers.Message, 0, len(messages)+1)
	if opts.SystemPrompt != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: opts.SystemPrompt})
	}
	msgs = append(msgs, messages...)

	var defs []providers.ToolDefinition
	if opts.Tools.Len() > 0 {
		defs = opts.Tools.Definitions()
	}

	res := &ExecResult{ModelID: modelID}
	start := time.Now()
	rounds := 0
	for {
		resp, err := e.chat(ctx, providers.ChatRequest{
			Messages:    msgs,
			Tools:       defs,
			Model:       modelID,
			MaxTokens:   maxTokens,
			Temperature: opts.Temperature,
		}, rounds)
		if err != nil {
			return nil, err
		}
		if resp.Usage != nil {
			res.TokensIn += resp.Usage.PromptTokens
			res.TokensOut += resp.Usage.CompletionTokens
		}

		if len(resp.ToolCalls) == 0 || opts.Tools.Len() == 0 {
			res.Content = resp.Content
			break
		}
		if rounds >= maxRounds {
			slog.Warn("executor: tool round budget exhausted", "model", modelID, "rounds", rounds)
			res.Content = resp.Content
			break
		}
		rounds++

		msgs = append(msgs, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		msgs = append(msgs, runToolRound(ctx, opts.Tools, resp.ToolCalls)...)
	}

	res.Content = SanitizeAssistantText(res.Content)
	res.CostCents = Cost(family, res.TokensIn, res.TokensOut)
	slog.Debug("executor: turn complete",
		"model", modelID,
		"rounds", rounds,
		"tokens_in", res.TokensIn,
		"tokens_out", res.TokensOut,
		"duration", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// chat makes one provider call under its own span.
func (e *Executor) chat(ctx context.Context, req providers.ChatRequest, round int) (*providers.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "executor.chat",
		trace.WithAttributes(
			attribute.String("model.id", req.Model),
			attribute.Int("round", round),
		))
	defer span.End()

	resp, err := e.provider.Chat(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("tokens.in", resp.Usage.PromptTokens),
			attribute.Int("tokens.out", resp.Usage.CompletionTokens),
		)
	}
	span.SetAttributes(attribute.Int("tool_calls", len(resp.ToolCalls)))
	return resp, nil
}

// runToolRound executes one round of tool calls concurrently and returns
// their result messages in request order. Tool instances hold no per-call
// state, so parallel execution is safe; results are collected and re-sorted
// for deterministic message ordering.
func runToolRound(ctx context.Context, ts *tools.Toolset, calls []providers.ToolCall) []providers.Message {
	type indexed struct {
		idx     int
		call    providers.ToolCall
		forLLM  string
		isError bool
	}

	results := make(chan indexed, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, tc providers.ToolCall) {
			defer wg.Done()
			forLLM, isErr := execTool(ctx, ts, tc)
			results <- indexed{idx: idx, call: tc, forLLM: forLLM, isError: isErr}
		}(i, tc)
	}
	go func() { wg.Wait(); close(results) }()

	collected := make([]indexed, 0, len(calls))
	for r := range results {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })

	out := make([]providers.Message, 0, len(collected))
	for _, r := range collected {
		if r.isError {
			slog.Warn("executor: tool call failed", "tool", r.call.Name, "id", r.call.ID)
		}
		out = append(out, providers.Message{Role: "tool", Content: r.forLLM, ToolCallID: r.call.ID})
	}
	return out
}

// execTool resolves and runs one tool call. Unknown names and handler errors
// become {"error": …} results the model can react to instead of aborting
// the turn.
func execTool(ctx context.Context, ts *tools.Toolset, tc providers.ToolCall) (forLLM string, isError bool) {
	ctx, span := tracer.Start(ctx, "tool."+tc.Name)
	defer span.End()

	tool, ok := ts.Get(tc.Name)
	if !ok {
		span.SetStatus(codes.Error, "unknown tool")
		return errorPayload(fmt.Sprintf("unknown tool %q", tc.Name)), true
	}
	res, err := tool.Execute(ctx, tc.Arguments)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errorPayload(err.Error()), true
	}
	if res.IsError {
		span.SetStatus(codes.Error, "tool reported error")
	}
	return res.ForLLM, res.IsError
}

func errorPayload(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
