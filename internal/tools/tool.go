// Package tools implements the tool registry: the static web tools, the
// per-user tools bound to a caller at turn time, and the toolset handed to
// the executor loop.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/hive/internal/providers"
	"github.com/nextlevelbuilder/hive/internal/scripts"
	"github.com/nextlevelbuilder/hive/internal/store"
	"github.com/nextlevelbuilder/hive/internal/workspace"
)

// Tool is one callable exposed to the model. Parameters returns a JSON
// schema fragment of type "object".
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Result is the payload placed into a tool_result block. IsError marks soft
// failures already phrased for the model; hard errors are returned as error
// and wrapped by the executor.
type Result struct {
	ForLLM  string
	IsError bool
}

// JSONResult marshals v for the model. Marshal failures become an error
// result rather than propagating.
func JSONResult(v any) *Result {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrorResult(fmt.Sprintf("unserializable tool output: %v", err))
	}
	return &Result{ForLLM: string(data)}
}

func TextResult(s string) *Result { return &Result{ForLLM: s} }

func ErrorResult(msg string) *Result {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return &Result{ForLLM: string(data), IsError: true}
}

// ToolContext carries the dependencies a user-scoped tool binds at turn
// time. UserID is filled by ForUser; the rest comes from the registry.
type ToolContext struct {
	UserID    string
	Stores    *store.Stores
	Runner    *scripts.Runner
	Workspace *workspace.Manager
	Mailer    *Mailer
}

// Factory builds a user-scoped tool. A factory may return nil when its
// backing service is not configured; the tool is then unavailable.
type Factory func(ToolContext) Tool

// Registry holds the static tools and the user-scoped factories.
type Registry struct {
	deps      ToolContext
	static    []Tool
	factories map[string]Factory
	defaults  []string
}

// NewRegistry wires the built-in tool set. deps.UserID is ignored here.
func NewRegistry(deps ToolContext) *Registry {
	fetcher := NewFetcher()
	r := &Registry{
		deps: deps,
		static: []Tool{
			NewFetchRSSTool(fetcher),
			NewFetchURLTool(fetcher),
		},
		factories: map[string]Factory{},
		defaults:  []string{"manage_reminders", "run_script"},
	}
	r.factories["manage_reminders"] = func(tc ToolContext) Tool {
		return NewRemindersTool(tc.UserID, tc.Stores.Reminders)
	}
	r.factories["run_script"] = func(tc ToolContext) Tool {
		return NewRunScriptTool(tc.UserID, tc.Stores.Scripts, tc.Runner, tc.Workspace)
	}
	r.factories["send_email"] = func(tc ToolContext) Tool {
		if tc.Mailer == nil {
			return nil
		}
		return NewSendEmailTool(tc.Mailer)
	}
	return r
}

// ForUser materializes the per-turn toolset: the always-on user-scoped
// defaults plus any extra tools requested by name. Unknown or unavailable
// names are skipped.
func (r *Registry) ForUser(userID string, names ...string) *Toolset {
	tc := r.deps
	tc.UserID = userID

	ts := NewToolset()
	for _, name := range r.defaults {
		if t := r.factories[name](tc); t != nil {
			ts.Add(t)
		}
	}
	for _, name := range names {
		if ts.Has(name) {
			continue
		}
		if f, ok := r.factories[name]; ok {
			if t := f(tc); t != nil {
				ts.Add(t)
			}
			continue
		}
		for _, t := range r.static {
			if t.Name() == name {
				ts.Add(t)
				break
			}
		}
	}
	return ts
}

// Static returns the registered static tools, for listing surfaces.
func (r *Registry) Static() []Tool { return r.static }

// Toolset is the per-turn tool collection consumed by the executor.
type Toolset struct {
	order  []string
	byName map[string]Tool
}

func NewToolset(ts ...Tool) *Toolset {
	s := &Toolset{byName: make(map[string]Tool)}
	for _, t := range ts {
		s.Add(t)
	}
	return s
}

// Add registers a tool, keeping the first registration on name collisions.
func (s *Toolset) Add(t Tool) {
	if t == nil {
		return
	}
	if _, dup := s.byName[t.Name()]; dup {
		return
	}
	s.byName[t.Name()] = t
	s.order = append(s.order, t.Name())
}

func (s *Toolset) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

func (s *Toolset) Get(name string) (Tool, bool) {
	t, ok := s.byName[name]
	return t, ok
}

func (s *Toolset) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Names returns tool names in registration order.
func (s *Toolset) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Definitions renders the wire-format tool declarations.
func (s *Toolset) Definitions() []providers.ToolDefinition {
	if s == nil {
		return nil
	}
	defs := make([]providers.ToolDefinition, 0, len(s.order))
	for _, name := range s.order {
		t := s.byName[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
