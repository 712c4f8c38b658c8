package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// SanitizeAssistantText cleans assistant output before it reaches a
// channel. Local models in particular leak reasoning tags and tool-call
// XML into their text content; Anthropic models occasionally repeat a
// paragraph verbatim.
func SanitizeAssistantText(content string) string {
	if content == "" {
		return ""
	}
	original := content

	content = stripThinkingTags(content)
	content = stripGarbledToolXML(content)
	content = collapseDuplicateBlocks(content)
	content = strings.TrimSpace(content)

	if content != original {
		slog.Debug("sanitized assistant text",
			"original_len", len(original), "cleaned_len", len(content))
	}
	return content
}

// Reasoning tags leak from local models running DeepSeek-style or
// Qwen-style weights. Go regexp has no backreferences, so one pattern per
// tag pair.
var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	for _, pat := range thinkingTagPatterns {
		content = pat.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}

// Tool-call XML leaking into text content means the model tried to call a
// tool and failed; what surrounds the tags is not a real answer. Dropping
// the whole response lets the empty-reply suppression upstream handle it.
var garbledToolXMLIndicators = []string{
	"<parameter name=",
	"</parameter",
	"<function_call",
	"<invoke",
	"<tool_call",
	"<tool_use",
}

func stripGarbledToolXML(content string) string {
	lower := strings.ToLower(content)
	for _, ind := range garbledToolXMLIndicators {
		if strings.Contains(lower, ind) {
			slog.Warn("dropped assistant text with tool-call XML", "len", len(content))
			return ""
		}
	}
	return content
}

// collapseDuplicateBlocks drops a paragraph that repeats the previous one
// verbatim.
func collapseDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}
	var result []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(result) > 0 && trimmed == strings.TrimSpace(result[len(result)-1]) {
			continue
		}
		result = append(result, block)
	}
	return strings.Join(result, "\n\n")
}
