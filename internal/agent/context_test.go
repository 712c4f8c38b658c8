package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/hive/internal/config"
	"github.com/nextlevelbuilder/hive/internal/orchestrator"
	"github.com/nextlevelbuilder/hive/internal/providers"
)

func testBuilder() *ContextBuilder {
	b := NewContextBuilder(config.IdentityConfig{Name: "Hive", Timezone: "UTC"})
	b.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 0, 0, time.UTC) }
	return b
}

const testSoul = "You are warm, direct, and a little dry.\n\nYou never pad answers with filler.\n\nYou care about the user's time."

const testProfile = `# Profile

## Professional
Staff engineer at Acme, works on payment infrastructure.

## Current Projects
Migrating the ledger to event sourcing.

## Personal
Climbs on weekends, two cats.`

func TestBuildAssemblyOrder(t *testing.T) {
	b := testBuilder()
	pc := b.Build(&ContextRequest{
		Decision: &orchestrator.Decision{
			Intent:           "briefing",
			PersonalityLevel: "minimal",
			IncludeBio:       true,
			BioSections:      []string{"professional"},
			ContextSummary:   "User asked for feed setup help yesterday.",
		},
		UserMessage:  "what's new?",
		SkillContent: "Fetch the feeds, lead with the most important item.",
		Overrides: Overrides{
			SoulPrompt:    testSoul,
			ProfilePrompt: testProfile,
			FileContext:   "- notes.md (1.0 kB, modified 2026-03-01 10:00)",
		},
		ToolNames: []string{"manage_reminders", "fetch_rss"},
	})

	// Anchors appear in assembly order: personality, identity, clock, tool
	// policy, profile, files, skill, summary.
	sys := pc.SystemPrompt
	anchors := []string{
		"You are warm, direct",
		"You are Hive, a personal assistant",
		"Current date and time: Saturday, March",
		"You can call these tools: manage_reminders, fetch_rss",
		"Staff engineer at Acme",
		"Files in the user's workspace",
		"Follow this skill",
		"Summary of the conversation so far",
	}
	prev := -1
	for _, a := range anchors {
		idx := strings.Index(sys, a)
		if idx < 0 {
			t.Fatalf("system prompt missing %q:\n%s", a, sys)
		}
		if idx < prev {
			t.Errorf("%q out of order (index %d < %d)", a, idx, prev)
		}
		prev = idx
	}

	if last := pc.Messages[len(pc.Messages)-1]; last.Role != "user" || last.Content != "what's new?" {
		t.Errorf("final message = %+v", last)
	}
}

func TestBuildPersonalityLevels(t *testing.T) {
	b := testBuilder()
	base := ContextRequest{
		UserMessage: "hi",
		Overrides:   Overrides{SoulPrompt: testSoul},
	}

	full := base
	full.Decision = &orchestrator.Decision{PersonalityLevel: "full"}
	if sys := b.Build(&full).SystemPrompt; !strings.Contains(sys, "You care about the user's time") {
		t.Errorf("full should keep the whole soul text:\n%s", sys)
	}

	minimal := base
	minimal.Decision = &orchestrator.Decision{PersonalityLevel: "minimal"}
	sys := b.Build(&minimal).SystemPrompt
	if !strings.Contains(sys, "You are warm, direct") {
		t.Errorf("minimal should keep the first paragraph:\n%s", sys)
	}
	if strings.Contains(sys, "never pad answers") {
		t.Errorf("minimal should drop later paragraphs:\n%s", sys)
	}

	none := base
	none.Decision = &orchestrator.Decision{PersonalityLevel: "none"}
	if sys := b.Build(&none).SystemPrompt; strings.Contains(sys, "warm, direct") {
		t.Errorf("none should drop the soul entirely:\n%s", sys)
	}
}

func TestBuildProfileSections(t *testing.T) {
	b := testBuilder()
	pc := b.Build(&ContextRequest{
		Decision: &orchestrator.Decision{
			PersonalityLevel: "none",
			IncludeBio:       true,
			BioSections:      []string{"professional", "current_projects"},
		},
		UserMessage: "status?",
		Overrides:   Overrides{ProfilePrompt: testProfile},
	})
	sys := pc.SystemPrompt
	if !strings.Contains(sys, "Staff engineer at Acme") || !strings.Contains(sys, "event sourcing") {
		t.Errorf("selected sections missing:\n%s", sys)
	}
	if strings.Contains(sys, "two cats") {
		t.Errorf("unselected section leaked:\n%s", sys)
	}
}

func TestBuildProfileWithoutBioStaysOut(t *testing.T) {
	b := testBuilder()
	pc := b.Build(&ContextRequest{
		Decision:    &orchestrator.Decision{PersonalityLevel: "none", IncludeBio: false},
		UserMessage: "hi",
		Overrides:   Overrides{ProfilePrompt: testProfile},
	})
	if strings.Contains(pc.SystemPrompt, "Staff engineer") {
		t.Errorf("profile included without includeBio:\n%s", pc.SystemPrompt)
	}
}

func TestBuildHeaderlessProfilePassesWhole(t *testing.T) {
	b := testBuilder()
	pc := b.Build(&ContextRequest{
		Decision: &orchestrator.Decision{
			PersonalityLevel: "none",
			IncludeBio:       true,
			BioSections:      []string{"professional"},
		},
		UserMessage: "hi",
		Overrides:   Overrides{ProfilePrompt: "Works at Acme. Likes espresso."},
	})
	if !strings.Contains(pc.SystemPrompt, "Likes espresso") {
		t.Errorf("headerless profile should pass through whole:\n%s", pc.SystemPrompt)
	}
}

func TestBuildToolPolicyRequiresTools(t *testing.T) {
	b := testBuilder()
	req := &ContextRequest{
		Decision:    &orchestrator.Decision{PersonalityLevel: "none"},
		UserMessage: "hi",
	}
	if sys := b.Build(req).SystemPrompt; strings.Contains(sys, "call these tools") {
		t.Errorf("tool policy present with no tools:\n%s", sys)
	}

	req.ToolNames = []string{"run_script"}
	sys := b.Build(req).SystemPrompt
	if !strings.Contains(sys, "call these tools: run_script") {
		t.Errorf("tool policy missing:\n%s", sys)
	}
	if !strings.Contains(sys, "Never claim an action was performed") {
		t.Errorf("side-effect rule missing:\n%s", sys)
	}
}

func TestBuildIdentityOverride(t *testing.T) {
	b := testBuilder()
	pc := b.Build(&ContextRequest{
		Decision:    &orchestrator.Decision{PersonalityLevel: "none"},
		UserMessage: "hi",
		Overrides:   Overrides{BasicIdentity: "You are Hive. You are talking to Dana. User timezone: Europe/Oslo."},
	})
	if !strings.Contains(pc.SystemPrompt, "talking to Dana") {
		t.Errorf("identity override ignored:\n%s", pc.SystemPrompt)
	}
	if strings.Contains(pc.SystemPrompt, "You are Hive, a personal assistant. Timezone: UTC.") {
		t.Errorf("default identity should be replaced:\n%s", pc.SystemPrompt)
	}
}

func TestBuildHistoryWindowAndEstimate(t *testing.T) {
	b := testBuilder()
	history := make([]providers.Message, 0, 8)
	for i := 0; i < 8; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history = append(history, providers.Message{Role: role, Content: strings.Repeat("x", 10)})
	}

	pc := b.Build(&ContextRequest{
		Decision:    &orchestrator.Decision{PersonalityLevel: "none"},
		UserMessage: "latest question",
		History:     history,
	})

	if len(pc.Messages) != maxContextTurns+1 {
		t.Fatalf("messages = %d, want %d", len(pc.Messages), maxContextTurns+1)
	}
	// The window keeps the most recent turns.
	if pc.Messages[0].Role != history[3].Role {
		t.Errorf("window did not keep the tail of history")
	}

	chars := len(pc.SystemPrompt)
	for _, m := range pc.Messages {
		chars += len(m.Content)
	}
	if want := (chars + 3) / 4; pc.EstimatedTokens != want {
		t.Errorf("estimated tokens = %d, want %d", pc.EstimatedTokens, want)
	}
	if pc.EstimatedTokens == 0 {
		t.Error("estimate should never be zero for a non-empty prompt")
	}
}

func TestNormalizeSection(t *testing.T) {
	cases := map[string]string{
		"Current Projects": "current_projects",
		"  PROFESSIONAL  ": "professional",
		"current_projects": "current_projects",
		"Side   Interests": "side_interests",
	}
	for in, want := range cases {
		if got := normalizeSection(in); got != want {
			t.Errorf("normalizeSection(%q) = %q, want %q", in, got, want)
		}
	}
}
