// Package orchestrator classifies incoming messages into routing decisions
// using a small LLM, with a second provider and a deterministic heuristic as
// safety nets. A decision is always produced; failures never propagate.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/hive/internal/providers"
)

// Valid enum values for Decision fields.
var (
	validIntents = map[string]bool{
		"task_query": true, "file_operation": true, "conversation": true,
		"creative": true, "code": true, "analysis": true, "greeting": true,
		"briefing": true, "workflow_trigger": true,
	}
	validComplexities = map[string]bool{"simple": true, "medium": true, "complex": true}
	validModels       = map[string]bool{"haiku": true, "sonnet": true, "opus": true}
)

// Decision is the routing outcome for one message.
type Decision struct {
	SelectedSkill    string   `json:"selectedSkill,omitempty"`
	ContextSummary   string   `json:"contextSummary,omitempty"`
	Intent           string   `json:"intent"`
	Complexity       string   `json:"complexity"`
	SuggestedModel   string   `json:"suggestedModel"`
	PersonalityLevel string   `json:"personalityLevel"`
	IncludeBio       bool     `json:"includeBio"`
	BioSections      []string `json:"bioSections,omitempty"`
}

// SkillInfo is the name+description pair shown to the classifier.
type SkillInfo struct {
	Name        string
	Description string
}

// Orchestrator routes messages. The fallback provider is optional and tried
// exactly once before degrading to the heuristic.
type Orchestrator struct {
	primary  providers.Provider
	model    string
	fallback providers.Provider
}

func New(primary providers.Provider, model string, opts ...Option) *Orchestrator {
	o := &Orchestrator{primary: primary, model: model}
	if o.model == "" && primary != nil {
		o.model = primary.DefaultModel()
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type Option func(*Orchestrator)

func WithFallback(p providers.Provider) Option {
	return func(o *Orchestrator) { o.fallback = p }
}

// Route classifies a message given the last few turns and the user's skill
// list. It never returns an error: the heuristic decision is always
// returnable.
func (o *Orchestrator) Route(ctx context.Context, message string, history []providers.Message, skills []SkillInfo) *Decision {
	prompt := buildPrompt(message, history, skills)

	if o.primary != nil {
		decision, err := o.ask(ctx, o.primary, o.model, prompt)
		if err == nil {
			return enrich(decision)
		}
		slog.Warn("orchestrator: primary routing failed", "provider", o.primary.Name(), "error", err)
	}

	if o.fallback != nil {
		decision, err := o.ask(ctx, o.fallback, o.fallback.DefaultModel(), prompt)
		if err == nil {
			return enrich(decision)
		}
		slog.Warn("orchestrator: fallback routing failed", "provider", o.fallback.Name(), "error", err)
	}

	return Heuristic(message)
}

func (o *Orchestrator) ask(ctx context.Context, p providers.Provider, model, prompt string) (*Decision, error) {
	temp := 0.0
	resp, err := p.Chat(ctx, providers.ChatRequest{
		Model:       model,
		Messages:    []providers.Message{{Role: "user", Content: prompt}},
		MaxTokens:   400,
		Temperature: &temp,
	})
	if err != nil {
		return nil, err
	}
	return parseDecision(resp.Content)
}

// parseDecision extracts the JSON object from model output, tolerating prose
// or code fences around it.
func parseDecision(raw string) (*Decision, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in routing output")
	}

	var d Decision
	if err := json.Unmarshal([]byte(raw[start:end+1]), &d); err != nil {
		return nil, fmt.Errorf("parse routing output: %w", err)
	}
	d.Intent = strings.ToLower(strings.TrimSpace(d.Intent))
	d.Complexity = strings.ToLower(strings.TrimSpace(d.Complexity))
	d.SuggestedModel = strings.ToLower(strings.TrimSpace(d.SuggestedModel))
	d.PersonalityLevel = strings.ToLower(strings.TrimSpace(d.PersonalityLevel))

	if !validIntents[d.Intent] {
		return nil, fmt.Errorf("invalid intent %q", d.Intent)
	}
	if !validComplexities[d.Complexity] {
		return nil, fmt.Errorf("invalid complexity %q", d.Complexity)
	}
	return &d, nil
}

// enrich normalizes a parsed decision: intent drives the personality and bio
// defaults, complexity fills a missing model suggestion.
func enrich(d *Decision) *Decision {
	switch d.Intent {
	case "greeting", "conversation":
		d.PersonalityLevel = "full"
		d.IncludeBio = false
		d.BioSections = nil
	case "briefing":
		d.PersonalityLevel = "minimal"
		d.IncludeBio = true
		d.BioSections = []string{"professional", "current_projects"}
	case "task_query", "code", "analysis":
		d.PersonalityLevel = "minimal"
		d.IncludeBio = true
		d.BioSections = []string{"professional"}
	case "creative":
		d.PersonalityLevel = "full"
		d.IncludeBio = false
		d.BioSections = nil
	case "file_operation", "workflow_trigger":
		d.PersonalityLevel = "none"
		d.IncludeBio = false
		d.BioSections = nil
	}

	if !validModels[d.SuggestedModel] {
		switch d.Complexity {
		case "simple":
			d.SuggestedModel = "haiku"
		case "complex":
			d.SuggestedModel = "opus"
		default:
			d.SuggestedModel = "sonnet"
		}
	}
	return d
}

const maxHistoryTurns = 5
const historyTruncateAt = 150

func buildPrompt(message string, history []providers.Message, skills []SkillInfo) string {
	var b strings.Builder
	b.WriteString(`You are the routing layer of a personal assistant. Classify the user's message and respond with ONLY a JSON object. No prose, no code fences.

Fields:
- "intent": one of task_query, file_operation, conversation, creative, code, analysis, greeting, briefing, workflow_trigger
- "complexity": one of simple, medium, complex (how capable a model this needs)
- "suggestedModel": one of haiku, sonnet, opus
- "selectedSkill": the name of ONE listed skill if clearly applicable, otherwise omit
- "contextSummary": one sentence on what the conversation is about, omit if the history is empty
- "personalityLevel": one of full, minimal, none
- "includeBio": true if the reply would benefit from knowing the user's background
- "bioSections": which bio sections matter, otherwise omit
`)

	if len(skills) > 0 {
		b.WriteString("\nAvailable skills:\n")
		for _, s := range skills {
			fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
		}
	}

	if start := len(history) - maxHistoryTurns; start > 0 {
		history = history[start:]
	}
	if len(history) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, m := range history {
			content := m.Content
			if len(content) > historyTruncateAt {
				content = content[:historyTruncateAt] + "..."
			}
			fmt.Fprintf(&b, "%s: %s\n", m.Role, content)
		}
	}

	b.WriteString("\nUser message:\n")
	b.WriteString(message)
	return b.String()
}
