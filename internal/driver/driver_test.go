package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeClock is an injectable Clock that advances only when Sleep is
// called, recording every requested duration so tests can assert on
// retry timing without real delays (spec §9's "injectable clock").
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

// step describes one scripted agent response.
type step struct {
	exitCode int
	stdout   string
}

// writeStubAgent writes an executable shell script that returns the given
// steps in order on successive invocations, and repeats the final step
// for any call beyond len(steps). State is tracked in a counter file
// colocated with the script, so it survives across invocations whatever
// conversation directory each one runs in.
func writeStubAgent(t *testing.T, steps []step) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub agent script requires a POSIX shell")
	}
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "stub-agent.sh")
	counterPath := filepath.Join(dir, "counter")

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "COUNTER_FILE=%q\n", counterPath)
	b.WriteString("N=0\n")
	b.WriteString(`if [ -f "$COUNTER_FILE" ]; then N=$(cat "$COUNTER_FILE"); fi` + "\n")
	b.WriteString("N=$((N+1))\n")
	b.WriteString(`echo $N > "$COUNTER_FILE"` + "\n")
	b.WriteString("case $N in\n")
	for i, s := range steps {
		fmt.Fprintf(&b, "%d) printf '%%s' %q; exit %d;;\n", i+1, s.stdout, s.exitCode)
	}
	if len(steps) > 0 {
		last := steps[len(steps)-1]
		fmt.Fprintf(&b, "*) printf '%%s' %q; exit %d;;\n", last.stdout, last.exitCode)
	}
	b.WriteString("esac\n")

	if err := os.WriteFile(scriptPath, []byte(b.String()), 0o755); err != nil {
		t.Fatalf("writing stub agent: %v", err)
	}
	return scriptPath
}

func baseConfig(agent string, maxIterations int, clock Clock) RuntimeConfig {
	return RuntimeConfig{
		SystemPrompt:  "you are a helpful agent",
		MaxIterations: maxIterations,
		Clock:         clock,
		AgentPath:     agent,
	}
}

// Scenario A — immediate success.
func TestRunImmediateSuccess(t *testing.T) {
	agent := writeStubAgent(t, []step{{exitCode: 0, stdout: "done. EXIT_LOOP_NOW\n"}})
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	d, err := New(baseConfig(agent, 5, clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := d.Run(context.Background(), NewEphemeralTask("print hello"), nil)

	if !result.Success {
		t.Fatalf("got success=false, reason=%s, detail=%s", result.Reason, result.ErrorDetail)
	}
	if result.Iterations != 1 {
		t.Fatalf("got %d iterations, want 1", result.Iterations)
	}
	if !strings.Contains(result.Output, "EXIT_LOOP_NOW") {
		t.Fatalf("got output %q, want sentinel", result.Output)
	}
	if len(result.Context) != 1 {
		t.Fatalf("got %d context records, want 1", len(result.Context))
	}
}

// Scenario B — three iterations then success.
func TestRunThreeIterationsThenSuccess(t *testing.T) {
	agent := writeStubAgent(t, []step{
		{exitCode: 0, stdout: "working..."},
		{exitCode: 0, stdout: "working..."},
		{exitCode: 0, stdout: "all good. EXIT_LOOP_NOW"},
	})
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	d, err := New(baseConfig(agent, 10, clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := d.Run(context.Background(), NewEphemeralTask("do work"), nil)

	if !result.Success || result.Iterations != 3 {
		t.Fatalf("got success=%v iterations=%d, want true/3", result.Success, result.Iterations)
	}
	if !strings.Contains(result.Output, "EXIT_LOOP_NOW") {
		t.Fatalf("got output %q, want sentinel", result.Output)
	}
	if result.Context[2].Stdout != "all good. EXIT_LOOP_NOW" {
		t.Fatalf("got context[2].Stdout %q", result.Context[2].Stdout)
	}
}

// Scenario C — exhaustion.
func TestRunExhaustion(t *testing.T) {
	agent := writeStubAgent(t, []step{{exitCode: 0, stdout: "still thinking"}})
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	d, err := New(baseConfig(agent, 2, clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := d.Run(context.Background(), NewEphemeralTask("loop forever"), nil)

	if result.Success {
		t.Fatal("got success=true, want false on exhaustion")
	}
	if result.Reason != ReasonMaxIterations {
		t.Fatalf("got reason %s, want max_iterations", result.Reason)
	}
	if result.Iterations != 2 {
		t.Fatalf("got %d iterations, want 2", result.Iterations)
	}
	if result.Output != "still thinking" {
		t.Fatalf("got output %q", result.Output)
	}
}

// Scenario D — transient network retry then success.
func TestRunNetworkRetryThenSuccess(t *testing.T) {
	agent := writeStubAgent(t, []step{
		{exitCode: 1, stdout: "network timeout"},
		{exitCode: 0, stdout: "EXIT_LOOP_NOW"},
	})
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	d, err := New(baseConfig(agent, 5, clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := d.Run(context.Background(), NewEphemeralTask("do work"), nil)

	if !result.Success {
		t.Fatalf("got success=false, reason=%s detail=%s", result.Reason, result.ErrorDetail)
	}
	if result.Iterations != 1 {
		t.Fatalf("got %d iterations, want 1", result.Iterations)
	}
	if result.Context[0].Retried != 1 {
		t.Fatalf("got retried=%d, want 1", result.Context[0].Retried)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 5*time.Second {
		t.Fatalf("got sleeps %v, want exactly one 5s wait", clock.sleeps)
	}
}

// Scenario E — session limit with reset time.
func TestRunSessionLimitWithResetTime(t *testing.T) {
	agent := writeStubAgent(t, []step{
		{exitCode: 1, stdout: "Session limit reached. Resets at 3pm."},
		{exitCode: 0, stdout: "EXIT_LOOP_NOW"},
	})
	clock := &fakeClock{now: time.Date(2026, 7, 31, 14, 30, 0, 0, time.UTC)}

	d, err := New(baseConfig(agent, 5, clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := d.Run(context.Background(), NewEphemeralTask("do work"), nil)

	if !result.Success {
		t.Fatalf("got success=false, reason=%s detail=%s", result.Reason, result.ErrorDetail)
	}
	want := 30*time.Minute + 300*time.Second
	if len(clock.sleeps) != 1 || clock.sleeps[0] != want {
		t.Fatalf("got sleeps %v, want exactly one %v wait", clock.sleeps, want)
	}
}

// Scenario F — ephemeral cleanup.
func TestRunEphemeralCleanup(t *testing.T) {
	agent := writeStubAgent(t, []step{{exitCode: 0, stdout: "EXIT_LOOP_NOW"}})
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	d, err := New(baseConfig(agent, 5, clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	before, _ := filepath.Glob(filepath.Join(os.TempDir(), "atom-*"))

	result := d.Run(context.Background(), NewEphemeralTask("do work"), nil)
	if !result.Success {
		t.Fatalf("got success=false, reason=%s", result.Reason)
	}
	if result.RunID == "" {
		t.Fatal("expected Result.RunID to be set")
	}

	after, _ := filepath.Glob(filepath.Join(os.TempDir(), "atom-*"))
	if len(after) != len(before) {
		t.Fatalf("expected the ephemeral conversation directory to be removed, before=%v after=%v", before, after)
	}
}

func TestResolveConversationDirEphemeralCleansUp(t *testing.T) {
	d, err := New(baseConfig(writeStubAgent(t, []step{{exitCode: 0, stdout: "EXIT_LOOP_NOW"}}), 1, &fakeClock{now: time.Now()}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dir, cleanup, err := d.resolveConversationDir(Task{Ephemeral: true}, "test-run-id")
	if err != nil {
		t.Fatalf("resolveConversationDir: %v", err)
	}
	if _, statErr := os.Stat(dir); statErr != nil {
		t.Fatalf("expected ephemeral dir to exist before cleanup: %v", statErr)
	}
	cleanup()
	if _, statErr := os.Stat(dir); !os.IsNotExist(statErr) {
		t.Fatalf("expected ephemeral dir to be removed after cleanup, stat err=%v", statErr)
	}
}

func TestRunNonEphemeralCleanupRemovesPromptOnSuccess(t *testing.T) {
	agent := writeStubAgent(t, []step{{exitCode: 0, stdout: "EXIT_LOOP_NOW"}})
	convDir := t.TempDir()
	clock := &fakeClock{now: time.Now()}

	cfg := baseConfig(agent, 5, clock)
	cfg.Cleanup = true
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := d.Run(context.Background(), Task{TaskText: "do work", ConversationDir: convDir}, nil)
	if !result.Success {
		t.Fatalf("got success=false, reason=%s", result.Reason)
	}

	promptPath := filepath.Join(convDir, PromptFileName)
	if _, statErr := os.Stat(promptPath); !os.IsNotExist(statErr) {
		t.Fatalf("expected prompt file removed after successful cleanup, stat err=%v", statErr)
	}
}

func TestRunNonEphemeralCleanupKeepsPromptOnFailure(t *testing.T) {
	agent := writeStubAgent(t, []step{{exitCode: 0, stdout: "still thinking"}})
	convDir := t.TempDir()
	clock := &fakeClock{now: time.Now()}

	cfg := baseConfig(agent, 1, clock)
	cfg.Cleanup = true
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := d.Run(context.Background(), Task{TaskText: "do work", ConversationDir: convDir}, nil)
	if result.Success {
		t.Fatal("expected exhaustion, got success")
	}

	promptPath := filepath.Join(convDir, PromptFileName)
	if _, statErr := os.Stat(promptPath); statErr != nil {
		t.Fatalf("expected prompt file to remain after a failed run, stat err=%v", statErr)
	}
}

func TestRunMaxIterationsOne(t *testing.T) {
	agent := writeStubAgent(t, []step{{exitCode: 0, stdout: "EXIT_LOOP_NOW"}})
	clock := &fakeClock{now: time.Now()}

	d, err := New(baseConfig(agent, 1, clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := d.Run(context.Background(), NewEphemeralTask("quick task"), nil)
	if !result.Success || result.Iterations != 1 {
		t.Fatalf("got success=%v iterations=%d, want true/1", result.Success, result.Iterations)
	}
}

func TestRunSuccessDominatesNetworkKeyword(t *testing.T) {
	// Classifier sees exit_code=0 with a network keyword present: DONE wins.
	agent := writeStubAgent(t, []step{{exitCode: 0, stdout: "connection established. EXIT_LOOP_NOW"}})
	clock := &fakeClock{now: time.Now()}

	d, err := New(baseConfig(agent, 3, clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := d.Run(context.Background(), NewEphemeralTask("task"), nil)
	if !result.Success || result.Iterations != 1 {
		t.Fatalf("got success=%v iterations=%d, want true/1 (success dominates)", result.Success, result.Iterations)
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("got sleeps %v, want none", clock.sleeps)
	}
}

func TestRunCancellationDuringFirstSleep(t *testing.T) {
	agent := writeStubAgent(t, []step{
		{exitCode: 1, stdout: "network timeout"},
		{exitCode: 0, stdout: "EXIT_LOOP_NOW"},
	})
	clock := &fakeClock{now: time.Now()}

	d, err := New(baseConfig(agent, 5, clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Checks 1 and 2 happen before the first child spawn (top of mainLoop,
	// top of the retry sub-loop), check 3 just before the first retry sleep;
	// cancellation is first reported on check 4, the wakeup from that sleep.
	calls := 0
	cancel := cancelFunc(func() bool {
		calls++
		return calls > 3
	})

	result := d.Run(context.Background(), NewEphemeralTask("task"), cancel)

	if result.Success {
		t.Fatal("expected cancellation, got success")
	}
	if result.Reason != ReasonCancelled {
		t.Fatalf("got reason %s, want cancelled", result.Reason)
	}
	// Iteration 1 never finished (its retry sleep was where cancellation
	// landed), so it was never appended to history: iterations must be 0,
	// not the retry attempt count.
	if result.Iterations != 0 {
		t.Fatalf("got %d iterations, want 0 (iteration 1 never completed)", result.Iterations)
	}
	if len(result.Context) != result.Iterations {
		t.Fatalf("got %d context records for %d iterations, want equal", len(result.Context), result.Iterations)
	}
}

// TestRunCancellationMidRunPreservesCompletedHistory covers the case where
// cancellation lands between iterations, after some have already completed:
// those completed iterations must still be reported.
func TestRunCancellationMidRunPreservesCompletedHistory(t *testing.T) {
	agent := writeStubAgent(t, []step{
		{exitCode: 0, stdout: "working... iteration one"},
		{exitCode: 0, stdout: "working... iteration two"},
		{exitCode: 0, stdout: "EXIT_LOOP_NOW"},
	})
	clock := &fakeClock{now: time.Now()}

	d, err := New(baseConfig(agent, 5, clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Cancelled is true starting with the fifth check, i.e. the top-of-loop
	// check before iteration 3 begins; iterations 1 and 2 each check twice
	// (top of mainLoop's per-iteration loop, then top of the retry sub-loop).
	calls := 0
	cancel := cancelFunc(func() bool {
		calls++
		return calls > 4
	})

	result := d.Run(context.Background(), NewEphemeralTask("task"), cancel)

	if result.Success {
		t.Fatal("expected cancellation, got success")
	}
	if result.Reason != ReasonCancelled {
		t.Fatalf("got reason %s, want cancelled", result.Reason)
	}
	if result.Iterations != 2 {
		t.Fatalf("got %d iterations, want 2 (two completed before cancellation)", result.Iterations)
	}
	if len(result.Context) != 2 {
		t.Fatalf("got %d context records, want 2", len(result.Context))
	}
}

func TestRunInvalidConstructionEmptySystemPrompt(t *testing.T) {
	_, err := New(RuntimeConfig{})
	if err == nil {
		t.Fatal("expected an error for an empty system prompt")
	}
}

func TestRunNonEphemeralMissingDirectory(t *testing.T) {
	agent := writeStubAgent(t, []step{{exitCode: 0, stdout: "EXIT_LOOP_NOW"}})
	d, err := New(baseConfig(agent, 1, &fakeClock{now: time.Now()}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := d.Run(context.Background(), Task{TaskText: "task", ConversationDir: filepath.Join(t.TempDir(), "missing")}, nil)
	if result.Success {
		t.Fatal("expected failure for a missing conversation directory")
	}
	if result.Reason != ReasonIOError {
		t.Fatalf("got reason %s, want io_error", result.Reason)
	}
}
