// Package agent executes the externally supplied conversion agent against a
// run working directory. The agent is an opaque command template; refit only
// cares about its exit code, its combined output (captured verbatim for
// postmortems), and whether it stays alive without producing output for
// longer than the inactivity budget.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Outcome classifies one conversion attempt.
type Outcome string

const (
	OutcomeSucceeded   Outcome = "succeeded"
	OutcomeFailed      Outcome = "failed"
	OutcomeTimedOut    Outcome = "timed_out"
	OutcomeSpawnFailed Outcome = "spawn_failed"
)

// Success reports whether the outcome counts as a converted run.
func (o Outcome) Success() bool { return o == OutcomeSucceeded }

// CaptureDirName is the per-run directory holding the agent transcript.
const CaptureDirName = ".agent_out"

// killGrace is how long a terminated process group gets before SIGKILL.
const killGrace = 10 * time.Second

// Request describes one agent invocation.
type Request struct {
	Command    string // template with {working_dir} and {prompt} substitution points
	WorkingDir string
	PromptFile string
	Before     string // replaces "{{ before }}" in the prompt text
	After      string // replaces "{{ after }}" in the prompt text
	Timeout    time.Duration // inactivity budget; zero disables the watchdog
}

// Result is the structured outcome of one agent invocation. The transcript
// is always written to CapturePath, whatever the outcome.
type Result struct {
	Outcome     Outcome
	Detail      string
	CapturePath string
}

// Run executes the agent command for one run unit. Failures are reported in
// the Result, never as an error: one run's failure must not disturb the
// rest of the pipeline.
func Run(ctx context.Context, req Request) Result {
	capturePath := filepath.Join(req.WorkingDir, CaptureDirName, "stdout.txt")

	cmdStr, err := expandCommand(req)
	if err != nil {
		return Result{Outcome: OutcomeSpawnFailed, Detail: err.Error(), CapturePath: capturePath}
	}

	if err := os.MkdirAll(filepath.Dir(capturePath), 0o755); err != nil {
		return Result{Outcome: OutcomeSpawnFailed, Detail: err.Error(), CapturePath: capturePath}
	}
	capture, err := os.Create(capturePath)
	if err != nil {
		return Result{Outcome: OutcomeSpawnFailed, Detail: err.Error(), CapturePath: capturePath}
	}
	defer capture.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", cmdStr)
	cmd.Dir = req.WorkingDir
	// Process group so cancellation kills the whole tree (shell + agent).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	outR, outW, err := os.Pipe()
	if err != nil {
		return Result{Outcome: OutcomeSpawnFailed, Detail: err.Error(), CapturePath: capturePath}
	}
	cmd.Stdout = outW
	cmd.Stderr = outW

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		fmt.Fprintf(capture, "[SPAWN FAILED] %v\n", err)
		return Result{Outcome: OutcomeSpawnFailed, Detail: err.Error(), CapturePath: capturePath}
	}
	outW.Close()

	// Activity is counted in bytes, not lines: stream-json agents can emit
	// arbitrarily long lines, and a stalled reader must never stall the
	// child's pipe.
	activity := make(chan struct{}, 1)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 32*1024)
		for {
			n, rerr := outR.Read(buf)
			if n > 0 {
				capture.Write(buf[:n])
				select {
				case activity <- struct{}{}:
				default:
				}
			}
			if rerr != nil {
				return
			}
		}
	}()

	timedOut := make(chan struct{})
	watchdogStop := make(chan struct{})
	if req.Timeout > 0 {
		go func() {
			timer := time.NewTimer(req.Timeout)
			defer timer.Stop()
			for {
				select {
				case <-activity:
					if !timer.Stop() {
						<-timer.C
					}
					timer.Reset(req.Timeout)
				case <-timer.C:
					close(timedOut)
					cancel()
					return
				case <-watchdogStop:
					return
				}
			}
		}()
	}

	waitErr := cmd.Wait()
	close(watchdogStop)
	<-readDone
	outR.Close()

	select {
	case <-timedOut:
		fmt.Fprintf(capture, "\n[TIMEOUT] no output for %s; process terminated\n", req.Timeout)
		return Result{
			Outcome:     OutcomeTimedOut,
			Detail:      fmt.Sprintf("no output for %s", req.Timeout),
			CapturePath: capturePath,
		}
	default:
	}

	if waitErr != nil {
		// sh reports a missing command as exit 127, which is a spawn
		// failure, not an agent failure.
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() == 127 {
			return Result{
				Outcome:     OutcomeSpawnFailed,
				Detail:      "command not found (exit status 127)",
				CapturePath: capturePath,
			}
		}
		return Result{Outcome: OutcomeFailed, Detail: waitErr.Error(), CapturePath: capturePath}
	}
	return Result{Outcome: OutcomeSucceeded, CapturePath: capturePath}
}

// expandCommand substitutes the working directory and the shell-quoted,
// framework-substituted prompt text into the command template.
func expandCommand(req Request) (string, error) {
	data, err := os.ReadFile(req.PromptFile)
	if err != nil {
		return "", fmt.Errorf("agent: prompt file: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	prompt = strings.ReplaceAll(prompt, "{{ before }}", req.Before)
	prompt = strings.ReplaceAll(prompt, "{{ after }}", req.After)

	absWD, err := filepath.Abs(req.WorkingDir)
	if err != nil {
		return "", fmt.Errorf("agent: resolve working dir: %w", err)
	}
	return strings.NewReplacer(
		"{prompt}", shellQuote(prompt),
		"{working_dir}", absWD,
	).Replace(req.Command), nil
}

// shellQuote single-quotes s for POSIX sh, so arbitrary prompt text
// survives the command line intact.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
