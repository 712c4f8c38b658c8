package scripts

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/hive/internal/config"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
}

func testRunner(t *testing.T, cfg config.ScriptsConfig) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	return NewRunner(cfg, dir), dir
}

func TestRunReturnsMainResult(t *testing.T) {
	requirePython(t)
	r, _ := testRunner(t, config.ScriptsConfig{})

	res, err := r.Run(context.Background(), `
def main(input):
    return {"sum": input["a"] + input["b"]}
`, map[string]any{"a": 2, "b": 3}, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success {
		t.Fatalf("run failed: %s (stderr: %s)", res.Error, res.Stderr)
	}
	if got := res.Output["sum"]; got != float64(5) {
		t.Errorf("sum = %v, want 5", got)
	}
}

func TestRunAcceptsRunEntrypoint(t *testing.T) {
	requirePython(t)
	r, _ := testRunner(t, config.ScriptsConfig{})

	res, err := r.Run(context.Background(), `
def run(input):
    return "plain string"
`, nil, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}
	// Non-dict return values are wrapped.
	if got := res.Output["result"]; got != "plain string" {
		t.Errorf("result = %v, want wrapped string", got)
	}
}

func TestRunExceptionBecomesError(t *testing.T) {
	requirePython(t)
	r, _ := testRunner(t, config.ScriptsConfig{})

	res, err := r.Run(context.Background(), `
def main(input):
    raise ValueError("boom")
`, nil, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Success {
		t.Fatal("run succeeded, want failure")
	}
	if !strings.Contains(res.Error, "boom") {
		t.Errorf("error %q does not mention the exception", res.Error)
	}
}

func TestRunMissingEntrypoint(t *testing.T) {
	requirePython(t)
	r, _ := testRunner(t, config.ScriptsConfig{})

	res, err := r.Run(context.Background(), `x = 1`, nil, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Success {
		t.Fatal("run succeeded, want failure")
	}
	if !strings.Contains(res.Error, "main") {
		t.Errorf("error %q does not mention the missing entrypoint", res.Error)
	}
}

func TestRunTimeout(t *testing.T) {
	requirePython(t)
	r, _ := testRunner(t, config.ScriptsConfig{TimeoutSeconds: 1})

	start := time.Now()
	res, err := r.Run(context.Background(), `
import time

def main(input):
    time.sleep(30)
    return {}
`, nil, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Success {
		t.Fatal("run succeeded, want timeout failure")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("error = %q, want timeout message", res.Error)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %s, want ~1s", elapsed)
	}
}

func TestRunWorkDir(t *testing.T) {
	requirePython(t)
	r, _ := testRunner(t, config.ScriptsConfig{})
	workDir := t.TempDir()

	res, err := r.Run(context.Background(), `
def main(input):
    with open("artifact.txt", "w") as f:
        f.write("made it")
    return {"ok": True}
`, nil, workDir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}
	data, err := os.ReadFile(filepath.Join(workDir, "artifact.txt"))
	if err != nil {
		t.Fatalf("artifact not in work dir: %v", err)
	}
	if string(data) != "made it" {
		t.Errorf("artifact = %q", data)
	}
}

func TestRunCleansScratchDir(t *testing.T) {
	requirePython(t)
	r, dataDir := testRunner(t, config.ScriptsConfig{})

	_, err := r.Run(context.Background(), `
def main(input):
    return {}
`, nil, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(dataDir, "tmp", "scripts"))
	if err != nil {
		t.Fatalf("read scratch root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("%d scratch dirs left behind", len(entries))
	}
}

func TestRunOversizedOutputFails(t *testing.T) {
	requirePython(t)
	r, _ := testRunner(t, config.ScriptsConfig{})

	res, err := r.Run(context.Background(), `
def main(input):
    return {"blob": "x" * (2 * 1024 * 1024)}
`, nil, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Success {
		t.Fatal("oversized output accepted")
	}
	if !strings.Contains(res.Error, "exceeded") {
		t.Errorf("error = %q, want size cap message", res.Error)
	}
}

// A shell stand-in for the harness keeps the contract tests hermetic when
// python3 is unavailable.
const shellHarness = `#!/bin/sh
cp "$1/input.json" "$1/output.json"
`

func TestRunHarnessOverride(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not installed")
	}
	r, _ := testRunner(t, config.ScriptsConfig{Interpreter: "sh", Harness: shellHarness})

	res, err := r.Run(context.Background(), "", map[string]any{"echo": "back"}, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success {
		t.Fatalf("run failed: %s (stderr %s)", res.Error, res.Stderr)
	}
	if res.Output["echo"] != "back" {
		t.Errorf("output = %v, want input echoed", res.Output)
	}
}

func TestRunErrorSentinel(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not installed")
	}
	harness := `#!/bin/sh
printf '{"__error": "deliberate"}' > "$1/output.json"
`
	r, _ := testRunner(t, config.ScriptsConfig{Interpreter: "sh", Harness: harness})

	res, err := r.Run(context.Background(), "", nil, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Success {
		t.Fatal("error sentinel treated as success")
	}
	if res.Error != "deliberate" {
		t.Errorf("error = %q, want deliberate", res.Error)
	}
}

func TestBoundedBufferTruncates(t *testing.T) {
	b := &boundedBuffer{max: 8}
	b.Write([]byte("0123456789"))
	b.Write([]byte("more"))
	got := b.String()
	if !strings.HasPrefix(got, "01234567") {
		t.Errorf("buffer = %q, want first 8 bytes kept", got)
	}
	if !strings.Contains(got, "truncated") {
		t.Errorf("buffer = %q, want truncation marker", got)
	}
}
