package orchestrator

import "regexp"

var (
	greetingRe = regexp.MustCompile(`(?i)^\s*(hi|hiya|hello|hey|yo|sup|howdy|greetings|good\s+(morning|afternoon|evening))[\s!.,?]*$`)
	briefingRe = regexp.MustCompile(`(?i)\b(briefing|daily\s+brief|morning\s+brief|catch\s+me\s+up|news\s+update|daily\s+summary|what('| i)?s\s+new)\b`)
	codeRe     = regexp.MustCompile(`(?i)\b(code|function|bug|debug|compile|script|regex|sql|python|golang|javascript|typescript|stack\s+trace|error\s+message|refactor)\b`)
)

// Heuristic produces a routing decision without any model call. It is the
// terminal fallback and also usable on its own when no provider is
// configured.
func Heuristic(message string) *Decision {
	switch {
	case greetingRe.MatchString(message):
		return &Decision{
			Intent:           "greeting",
			Complexity:       "simple",
			SuggestedModel:   "haiku",
			PersonalityLevel: "full",
		}
	case briefingRe.MatchString(message):
		return &Decision{
			Intent:           "briefing",
			Complexity:       "medium",
			SuggestedModel:   "sonnet",
			PersonalityLevel: "minimal",
			IncludeBio:       true,
			BioSections:      []string{"professional", "current_projects"},
		}
	case codeRe.MatchString(message):
		return &Decision{
			Intent:           "code",
			Complexity:       "medium",
			SuggestedModel:   "sonnet",
			PersonalityLevel: "minimal",
			IncludeBio:       true,
			BioSections:      []string{"professional"},
		}
	default:
		return &Decision{
			Intent:           "conversation",
			Complexity:       "simple",
			SuggestedModel:   "sonnet",
			PersonalityLevel: "minimal",
		}
	}
}
