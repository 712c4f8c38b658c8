// Package agent assembles per-turn prompt context, runs the executor's
// tool-use loop, compacts long conversations, and drives the gateway
// message pipeline that ties routing, skills, tools, and persistence
// together.
package agent

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/hive/internal/config"
	"github.com/nextlevelbuilder/hive/internal/orchestrator"
	"github.com/nextlevelbuilder/hive/internal/providers"
)

// maxContextTurns caps how many trailing conversation turns travel with the
// request. Older context arrives compressed through the rolling summary.
const maxContextTurns = 5

// Overrides carries the per-user prompt fragments the gateway resolves
// before a turn: the soul (personality) text, a one-line identity, the
// profile document, and an optional workspace file listing.
type Overrides struct {
	SoulPrompt    string
	BasicIdentity string
	ProfilePrompt string
	FileContext   string
}

// ContextRequest is the input to Build.
type ContextRequest struct {
	Decision    *orchestrator.Decision
	UserMessage string
	// History holds prior user/assistant turns, oldest first, without the
	// current message.
	History      []providers.Message
	SkillContent string
	Overrides    Overrides
	// ToolNames lists the active tools; a non-empty list switches the
	// tool-usage policy block on.
	ToolNames []string
}

// PromptContext is an assembled request: the system prompt, the message
// list ending in the current user turn, and a chars/4 token estimate.
type PromptContext struct {
	SystemPrompt    string
	Messages        []providers.Message
	EstimatedTokens int
}

// ContextBuilder renders system prompts from routing decisions and per-user
// overrides. The routing decision controls how much of the soul and profile
// text is spent on each turn; everything else is additive.
type ContextBuilder struct {
	assistantName string
	location      *time.Location
	now           func() time.Time
}

func NewContextBuilder(cfg config.IdentityConfig) *ContextBuilder {
	loc := time.UTC
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		}
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "Hive"
	}
	return &ContextBuilder{assistantName: name, location: loc, now: time.Now}
}

// AssistantName returns the configured assistant name.
func (b *ContextBuilder) AssistantName() string { return b.assistantName }

// Location returns the assistant's home timezone.
func (b *ContextBuilder) Location() *time.Location { return b.location }

// Build assembles the system prompt in a fixed part order, skipping empty
// parts: personality, identity, clock, tool policy, profile, files, skill,
// summary. Identity and clock are always present.
func (b *ContextBuilder) Build(req *ContextRequest) *PromptContext {
	d := req.Decision
	if d == nil {
		d = &orchestrator.Decision{PersonalityLevel: "minimal"}
	}

	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	add(personalityPart(d.PersonalityLevel, req.Overrides.SoulPrompt))
	add(b.identityPart(req.Overrides.BasicIdentity))
	add(b.clockPart())
	if len(req.ToolNames) > 0 {
		add(toolPolicyPart(req.ToolNames))
	}
	if d.IncludeBio {
		add(profilePart(req.Overrides.ProfilePrompt, d.BioSections))
	}
	if req.Overrides.FileContext != "" {
		add("Files in the user's workspace:\n" + req.Overrides.FileContext)
	}
	if req.SkillContent != "" {
		add("Follow this skill for the current request:\n\n" + req.SkillContent)
	}
	if d.ContextSummary != "" {
		add("Summary of the conversation so far: " + d.ContextSummary)
	}

	system := strings.Join(parts, "\n\n")

	history := req.History
	if len(history) > maxContextTurns {
		history = history[len(history)-maxContextTurns:]
	}
	messages := make([]providers.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, providers.Message{Role: "user", Content: req.UserMessage})

	chars := len(system)
	for _, m := range messages {
		chars += len(m.Content)
	}
	return &PromptContext{
		SystemPrompt:    system,
		Messages:        messages,
		EstimatedTokens: (chars + 3) / 4,
	}
}

// personalityPart spends the soul text according to the routing decision:
// "full" keeps all of it, "minimal" keeps the opening paragraph, "none"
// drops it entirely.
func personalityPart(level, soul string) string {
	soul = strings.TrimSpace(soul)
	if soul == "" {
		return ""
	}
	switch level {
	case "none":
		return ""
	case "minimal":
		return firstParagraph(soul)
	default:
		return soul
	}
}

func firstParagraph(s string) string {
	for _, block := range strings.Split(s, "\n\n") {
		if block = strings.TrimSpace(block); block != "" {
			return block
		}
	}
	return ""
}

// identityPart is the one block that is never omitted. The gateway may
// supply a per-user line; otherwise a short default keeps the model anchored
// to its name and timezone at a cost of roughly twenty tokens.
func (b *ContextBuilder) identityPart(override string) string {
	if s := strings.TrimSpace(override); s != "" {
		return s
	}
	return fmt.Sprintf("You are %s, a personal assistant. Timezone: %s.", b.assistantName, b.location.String())
}

func (b *ContextBuilder) clockPart() string {
	return "Current date and time: " + b.now().In(b.location).Format("Monday, January 2, 2006 at 3:04 PM (MST)")
}

// toolPolicyPart tells the model which tools exist and forbids pretending a
// side effect happened without a confirming tool result.
func toolPolicyPart(names []string) string {
	return fmt.Sprintf("You can call these tools: %s. Use a tool whenever the request needs an action or fresh data. Never claim an action was performed unless a tool result confirms it; if a tool fails, say so.",
		strings.Join(names, ", "))
}

var sectionHeaderRe = regexp.MustCompile(`(?m)^##\s+(.+)$`)

// profilePart returns the profile document, cut down to the requested
// "## Section" blocks. A profile without section headers is returned whole,
// since there is nothing to filter on.
func profilePart(profile string, sections []string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return ""
	}
	headers := sectionHeaderRe.FindAllStringSubmatchIndex(profile, -1)
	if len(headers) == 0 || len(sections) == 0 {
		return profile
	}

	want := make(map[string]bool, len(sections))
	for _, s := range sections {
		want[normalizeSection(s)] = true
	}
	var picked []string
	for i, m := range headers {
		if !want[normalizeSection(profile[m[2]:m[3]])] {
			continue
		}
		end := len(profile)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		picked = append(picked, strings.TrimSpace(profile[m[0]:end]))
	}
	return strings.Join(picked, "\n\n")
}

// normalizeSection lowercases a header and joins its words with
// underscores, so "## Current Projects" matches the routing section name
// "current_projects".
func normalizeSection(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), "_")
}
