package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writePrompt(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunSucceeded(t *testing.T) {
	wd := t.TempDir()
	res := Run(context.Background(), Request{
		Command:    "echo converting with {prompt}",
		WorkingDir: wd,
		PromptFile: writePrompt(t, "migrate {{ before }} to {{ after }}"),
		Before:     "Jakarta",
		After:      "Quarkus",
	})
	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("outcome = %q (%s)", res.Outcome, res.Detail)
	}
	data, err := os.ReadFile(res.CapturePath)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if got := string(data); !strings.Contains(got, "migrate Jakarta to Quarkus") {
		t.Errorf("capture = %q, want substituted prompt text", got)
	}
	if filepath.Dir(res.CapturePath) != filepath.Join(wd, CaptureDirName) {
		t.Errorf("capture path = %q", res.CapturePath)
	}
}

func TestRunFailed(t *testing.T) {
	res := Run(context.Background(), Request{
		Command:    "echo some output; exit 3",
		WorkingDir: t.TempDir(),
		PromptFile: writePrompt(t, "p"),
	})
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", res.Outcome)
	}
	if !strings.Contains(res.Detail, "exit status 3") {
		t.Errorf("detail = %q", res.Detail)
	}
	if res.Outcome.Success() {
		t.Error("failed outcome must not count as success")
	}
}

func TestRunInactivityTimeout(t *testing.T) {
	start := time.Now()
	res := Run(context.Background(), Request{
		Command:    "sleep 30",
		WorkingDir: t.TempDir(),
		PromptFile: writePrompt(t, "p"),
		Timeout:    200 * time.Millisecond,
	})
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("outcome = %q (%s), want timed_out", res.Outcome, res.Detail)
	}
	if elapsed := time.Since(start); elapsed > 15*time.Second {
		t.Errorf("took %s; process group was not terminated promptly", elapsed)
	}
	data, err := os.ReadFile(res.CapturePath)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !strings.Contains(string(data), "[TIMEOUT]") {
		t.Errorf("capture missing timeout marker: %q", data)
	}
}

func TestRunOutputResetsWatchdog(t *testing.T) {
	// Emits a line every 100ms for ~0.5s; the 300ms inactivity budget never
	// expires because output keeps arriving.
	res := Run(context.Background(), Request{
		Command:    "for i in 1 2 3 4 5; do echo tick $i; sleep 0.1; done",
		WorkingDir: t.TempDir(),
		PromptFile: writePrompt(t, "p"),
		Timeout:    300 * time.Millisecond,
	})
	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("outcome = %q (%s), want succeeded", res.Outcome, res.Detail)
	}
}

func TestRunLongLineOutput(t *testing.T) {
	// A single 2MB line with no newline. The reader must keep draining and
	// the output must count as activity, so the run succeeds intact.
	res := Run(context.Background(), Request{
		Command:    "head -c 2097152 /dev/zero | tr '\\0' 'a'",
		WorkingDir: t.TempDir(),
		PromptFile: writePrompt(t, "p"),
		Timeout:    2 * time.Second,
	})
	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("outcome = %q (%s), want succeeded", res.Outcome, res.Detail)
	}
	info, err := os.Stat(res.CapturePath)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if info.Size() < 2097152 {
		t.Errorf("capture size = %d, want the full 2MB line", info.Size())
	}
}

func TestRunUnterminatedOutputResetsWatchdog(t *testing.T) {
	// Bytes without any newline still count as activity: five chunks at
	// 150ms intervals outlast a 400ms inactivity budget only if each chunk
	// resets the watchdog.
	res := Run(context.Background(), Request{
		Command:    "for i in 1 2 3 4 5; do printf chunk-without-newline; sleep 0.15; done",
		WorkingDir: t.TempDir(),
		PromptFile: writePrompt(t, "p"),
		Timeout:    400 * time.Millisecond,
	})
	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("outcome = %q (%s), want succeeded", res.Outcome, res.Detail)
	}
}

func TestRunMissingBinary(t *testing.T) {
	res := Run(context.Background(), Request{
		Command:    "definitely-not-a-real-binary-xyz {prompt}",
		WorkingDir: t.TempDir(),
		PromptFile: writePrompt(t, "p"),
	})
	if res.Outcome != OutcomeSpawnFailed {
		t.Fatalf("outcome = %q (%s), want spawn_failed", res.Outcome, res.Detail)
	}
	if !strings.Contains(res.Detail, "127") {
		t.Errorf("detail = %q", res.Detail)
	}
}

func TestRunMissingPrompt(t *testing.T) {
	res := Run(context.Background(), Request{
		Command:    "echo {prompt}",
		WorkingDir: t.TempDir(),
		PromptFile: filepath.Join(t.TempDir(), "nope.txt"),
	})
	if res.Outcome != OutcomeSpawnFailed {
		t.Fatalf("outcome = %q, want spawn_failed", res.Outcome)
	}
}

func TestRunCapturesStderr(t *testing.T) {
	res := Run(context.Background(), Request{
		Command:    "echo oops >&2",
		WorkingDir: t.TempDir(),
		PromptFile: writePrompt(t, "p"),
	})
	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	data, _ := os.ReadFile(res.CapturePath)
	if !strings.Contains(string(data), "oops") {
		t.Errorf("stderr not captured: %q", data)
	}
}

func TestShellQuote(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "''"},
		{"plain", "'plain'"},
		{"it's here", `'it'\''s here'`},
	}
	for _, tc := range cases {
		if got := shellQuote(tc.in); got != tc.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestExpandCommand(t *testing.T) {
	wd := t.TempDir()
	got, err := expandCommand(Request{
		Command:    "cd {working_dir}; run {prompt}",
		WorkingDir: wd,
		PromptFile: writePrompt(t, "  convert {{ before }} -> {{ after }}  \n"),
		Before:     "Spring",
		After:      "Quarkus",
	})
	if err != nil {
		t.Fatalf("expandCommand: %v", err)
	}
	want := "cd " + wd + "; run 'convert Spring -> Quarkus'"
	if got != want {
		t.Errorf("expanded = %q, want %q", got, want)
	}
}
