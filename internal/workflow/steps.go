// Package workflow executes multi-step automations — script, skill, and
// notify steps chained through input references — and provides the
// natural-language trigger that starts them from chat.
package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Step types.
const (
	StepScript = "script"
	StepSkill  = "skill"
	StepNotify = "notify"
)

// Input mapping types.
const (
	InputStatic     = "static"
	InputRef        = "ref"
	InputCredential = "credential"
)

// Step result statuses.
const (
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// StepDefinition is one step of a workflow, stored as JSON on the workflow
// row and sent over the wire unchanged.
type StepDefinition struct {
	ID        string                  `json:"id"`
	Type      string                  `json:"type"`
	ScriptID  string                  `json:"scriptId,omitempty"`
	SkillName string                  `json:"skillName,omitempty"`
	Channel   string                  `json:"channel,omitempty"`
	Tools     []string                `json:"tools,omitempty"`
	Inputs    map[string]InputMapping `json:"inputs,omitempty"`
}

// InputMapping resolves one named step input at run time. Exactly one of
// the three shapes applies, selected by Type: a literal (with ${steps.…}
// interpolation for strings), a path into an earlier step's output, or a
// vault credential.
type InputMapping struct {
	Type           string `json:"type"`
	Value          any    `json:"value,omitempty"`
	Source         string `json:"source,omitempty"`
	CredentialName string `json:"credentialName,omitempty"`
}

// StepResult records one executed step inside WorkflowRun.StepsResultJSON.
type StepResult struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	DurationMs int64  `json:"durationMs"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ParseSteps decodes a workflow's steps JSON and validates the basics every
// step needs before a run starts.
func ParseSteps(raw string) ([]StepDefinition, error) {
	var steps []StepDefinition
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			return nil, fmt.Errorf("step %d has no id", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
		switch s.Type {
		case StepScript, StepSkill, StepNotify:
		default:
			return nil, fmt.Errorf("step %q has unknown type %q", s.ID, s.Type)
		}
	}
	return steps, nil
}

// EncodeSteps is the inverse of ParseSteps, used when workflows are created
// or edited.
func EncodeSteps(steps []StepDefinition) (string, error) {
	b, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("encode steps: %w", err)
	}
	return string(b), nil
}

// placeholderRe matches ${steps.<stepId>[.path…]} inside static string
// values.
var placeholderRe = regexp.MustCompile(`\$\{steps\.([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\}`)

// interpolate substitutes step-output placeholders in a static string.
// Placeholders that don't resolve are left in place so the failure is
// visible in the rendered text instead of silently vanishing.
func interpolate(s string, outputs map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		path := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := navigate(outputs, strings.Split(path, "."))
		if !ok {
			return m
		}
		return renderValue(v)
	})
}

// navigate walks stepId[.key…] through the stored outputs map.
func navigate(outputs map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	cur, ok := outputs[path[0]]
	if !ok {
		return nil, false
	}
	for _, key := range path[1:] {
		m, isMap := cur.(map[string]any)
		if !isMap {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// renderValue turns a step output into text for interpolation and skill
// messages. Arrays of objects become itemized blocks, other objects become
// pretty JSON, primitives their plain string form.
func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		if len(t) > 0 && allObjects(t) {
			return renderItemList(t)
		}
		b, _ := json.Marshal(t)
		return string(b)
	case map[string]any:
		b, _ := json.MarshalIndent(t, "", "  ")
		return string(b)
	default:
		return formatScalar(t)
	}
}

func allObjects(items []any) bool {
	for _, item := range items {
		if _, ok := item.(map[string]any); !ok {
			return false
		}
	}
	return true
}

// renderItemList renders an array of objects as numbered "[n] key: value"
// blocks with sorted keys, one blank line between items.
func renderItemList(items []any) string {
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[%d]\n", i+1)
		obj := item.(map[string]any)
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "%s: %s\n", k, scalarOrJSON(obj[k]))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func scalarOrJSON(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		b, _ := json.Marshal(v)
		return string(b)
	default:
		return formatScalar(v)
	}
}

// formatScalar renders a JSON scalar without decode artifacts: numbers
// arrive as float64 and must not print a spurious fraction.
func formatScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
