package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/hive/internal/scripts"
	"github.com/nextlevelbuilder/hive/internal/store"
	"github.com/nextlevelbuilder/hive/internal/workspace"
)

// RunScriptTool executes a stored script by name on behalf of the calling
// user. Resolution prefers the caller's own scripts, then scripts approved
// for shared use.
type RunScriptTool struct {
	userID  string
	scripts store.ScriptStore
	runner  *scripts.Runner
	ws      *workspace.Manager
}

func NewRunScriptTool(userID string, ss store.ScriptStore, runner *scripts.Runner, ws *workspace.Manager) *RunScriptTool {
	return &RunScriptTool{userID: userID, scripts: ss, runner: runner, ws: ws}
}

func (t *RunScriptTool) Name() string { return "run_script" }

func (t *RunScriptTool) Description() string {
	return "Run one of the user's stored scripts by name, with an optional JSON input object. The script runs sandboxed in the user's files directory."
}

func (t *RunScriptTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Script name.",
			},
			"input": map[string]any{
				"type":        "object",
				"description": "Input object passed to the script.",
			},
		},
		"required": []string{"name"},
	}
}

func (t *RunScriptTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return ErrorResult("name is required"), nil
	}
	input, _ := args["input"].(map[string]any)

	script, err := t.resolve(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrorResult(fmt.Sprintf("no script named %q", name)), nil
		}
		return nil, err
	}

	workDir, err := t.ws.FilesDir(t.userID)
	if err != nil {
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}
	res, err := t.runner.Run(ctx, script.Source, input, workDir)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return ErrorResult(fmt.Sprintf("script %q failed: %s", name, res.Error)), nil
	}
	return JSONResult(map[string]any{
		"script":     name,
		"output":     res.Output,
		"durationMs": res.Duration.Milliseconds(),
	}), nil
}

// resolve looks the script up by name: the caller's own first, then any
// script approved for shared use.
func (t *RunScriptTool) resolve(ctx context.Context, name string) (*store.Script, error) {
	s, err := t.scripts.GetByName(ctx, t.userID, name)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return t.scripts.GetApprovedByName(ctx, name)
}
