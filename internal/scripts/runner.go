// Package scripts executes user Python scripts in throwaway directories with
// a wall-clock timeout and bounded output.
package scripts

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hive/internal/config"
)

//go:embed harness.py
var defaultHarness string

const (
	maxOutputBytes = 1 << 20 // output.json larger than this fails the run
	maxStderrBytes = 10 << 10
)

// Runner executes script source through the Python harness. Each run gets a
// fresh directory under <dataDir>/tmp/scripts which is removed afterwards,
// success or not.
type Runner struct {
	interpreter string
	harness     string
	timeout     time.Duration
	tmpRoot     string
}

func NewRunner(cfg config.ScriptsConfig, dataDir string) *Runner {
	r := &Runner{
		interpreter: cfg.Interpreter,
		harness:     cfg.Harness,
		timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		tmpRoot:     filepath.Join(dataDir, "tmp", "scripts"),
	}
	if r.interpreter == "" {
		r.interpreter = "python3"
	}
	if r.harness == "" {
		r.harness = defaultHarness
	}
	if r.timeout <= 0 {
		r.timeout = 60 * time.Second
	}
	return r
}

// Result is the outcome of one script run. Success is false for script-level
// failures (exception, timeout, bad output); infra failures surface as errors
// from Run instead.
type Result struct {
	Success  bool
	Output   map[string]any
	Error    string
	Stderr   string
	Duration time.Duration
}

// Run writes source and input into a scratch directory, invokes the harness,
// and parses output.json. workDir becomes the script's working directory so
// relative paths land in the caller's files area; empty means the scratch
// directory itself.
func (r *Runner) Run(ctx context.Context, source string, input map[string]any, workDir string) (*Result, error) {
	dir := filepath.Join(r.tmpRoot, uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("scripts: create run dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if input == nil {
		input = map[string]any{}
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("scripts: encode input: %w", err)
	}
	files := map[string]string{
		"input.json": string(inputJSON),
		"script.py":  source,
		"harness.py": r.harness,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			return nil, fmt.Errorf("scripts: write %s: %w", name, err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.interpreter, filepath.Join(dir, "harness.py"), dir)
	if workDir != "" {
		cmd.Dir = workDir
	} else {
		cmd.Dir = dir
	}
	stderr := &boundedBuffer{max: maxStderrBytes}
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		slog.Warn("scripts: run timed out", "timeout", r.timeout)
		return &Result{
			Success:  false,
			Error:    fmt.Sprintf("script timed out after %s", r.timeout),
			Stderr:   stderr.String(),
			Duration: elapsed,
		}, nil
	}

	out, readErr := os.ReadFile(filepath.Join(dir, "output.json"))
	if readErr != nil {
		msg := "script produced no output"
		if runErr != nil {
			msg = fmt.Sprintf("script runner failed: %v", runErr)
		}
		return &Result{Success: false, Error: msg, Stderr: stderr.String(), Duration: elapsed}, nil
	}
	if len(out) > maxOutputBytes {
		return &Result{
			Success:  false,
			Error:    fmt.Sprintf("script output exceeded %d bytes", maxOutputBytes),
			Stderr:   stderr.String(),
			Duration: elapsed,
		}, nil
	}

	var output map[string]any
	if err := json.Unmarshal(out, &output); err != nil {
		return &Result{Success: false, Error: "script produced invalid JSON output", Stderr: stderr.String(), Duration: elapsed}, nil
	}

	if errVal, ok := output["__error"]; ok {
		return &Result{
			Success:  false,
			Error:    fmt.Sprint(errVal),
			Stderr:   stderr.String(),
			Duration: elapsed,
		}, nil
	}
	return &Result{Success: true, Output: output, Stderr: stderr.String(), Duration: elapsed}, nil
}

// boundedBuffer keeps the first max bytes written and drops the rest.
type boundedBuffer struct {
	buf       []byte
	max       int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if room := b.max - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
			b.truncated = true
		} else {
			b.buf = append(b.buf, p...)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	if b.truncated {
		return string(b.buf) + "\n... (truncated)"
	}
	return string(b.buf)
}
