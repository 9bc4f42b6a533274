package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atomloop/atomloop/internal/child"
	"github.com/atomloop/atomloop/internal/history"
	"github.com/atomloop/atomloop/internal/retry"
)

// PromptFileName is the fixed file name the driver writes task_text to
// inside the conversation directory.
const PromptFileName = "USER_PROMPT.md"

// ErrInvalidConstruction signals a programmer error: an empty system
// prompt, returned by New (the only error Driver returns across its API
// boundary), or a non-ephemeral task with no conversation directory, which
// Run reports in the Result (Reason io_error, the error text in
// ErrorDetail) like every other failure mode.
var ErrInvalidConstruction = errors.New("invalid driver construction")

// Driver owns one task's lifetime end to end.
type Driver struct {
	config  RuntimeConfig
	invoker *child.Invoker
}

// New constructs a Driver. config.SystemPrompt must be non-empty.
func New(config RuntimeConfig) (*Driver, error) {
	config = config.resolved()
	if strings.TrimSpace(config.SystemPrompt) == "" {
		return nil, fmt.Errorf("%w: system prompt is empty", ErrInvalidConstruction)
	}
	return &Driver{
		config:  config,
		invoker: child.NewInvoker(config.AgentPath),
	}, nil
}

// Run executes Task through the full state machine described by the
// driver's contract: INIT -> ITERATING -> (WAITING <-> ITERATING) ->
// DONE_SUCCESS | DONE_EXHAUSTED | DONE_ERROR | DONE_CANCELLED.
func (d *Driver) Run(ctx context.Context, task Task, cancel CancelToken) Result {
	if cancel == nil {
		cancel = NeverCancel
	}

	start := d.config.Clock.Now()
	runID := uuid.NewString()

	convDir, cleanupDir, err := d.resolveConversationDir(task, runID)
	if err != nil {
		return Result{RunID: runID, Success: false, Reason: ReasonIOError, ErrorDetail: err.Error()}
	}
	if cleanupDir != nil {
		defer cleanupDir()
	}

	effectivePrompt, err := d.composeEffectivePrompt(task.TaskText)
	if err != nil {
		return Result{RunID: runID, Success: false, Reason: ReasonIOError, ErrorDetail: err.Error()}
	}

	promptPath := filepath.Join(convDir, PromptFileName)
	if err := os.WriteFile(promptPath, []byte(task.TaskText), 0o644); err != nil {
		return Result{RunID: runID, Success: false, Reason: ReasonIOError, ErrorDetail: fmt.Sprintf("writing prompt file: %v", err)}
	}

	hist := history.New()
	result := d.mainLoop(ctx, task, convDir, effectivePrompt, hist, cancel)
	result.RunID = runID

	result.DurationSeconds = d.config.Clock.Now().Sub(start).Seconds()

	d.postRun(promptPath, result.Success)

	return result
}

// resolveConversationDir implements initialization step 1: ephemeral runs
// get a fresh directory named with runID (collision-free across
// concurrently-running drivers, per spec §5) with a teardown func;
// non-ephemeral runs require the caller-owned directory to already exist.
func (d *Driver) resolveConversationDir(task Task, runID string) (dir string, cleanup func(), err error) {
	if task.Ephemeral {
		dir = filepath.Join(os.TempDir(), "atom-"+runID)
		if err := os.Mkdir(dir, 0o700); err != nil {
			return "", nil, fmt.Errorf("creating ephemeral conversation directory: %w", err)
		}
		return dir, func() {
			// Best-effort: deletion failures are never raised, per spec.
			_ = os.RemoveAll(dir)
		}, nil
	}

	if task.ConversationDir == "" {
		return "", nil, fmt.Errorf("%w: non-ephemeral task requires a conversation directory", ErrInvalidConstruction)
	}
	info, statErr := os.Stat(task.ConversationDir)
	if statErr != nil || !info.IsDir() {
		return "", nil, fmt.Errorf("conversation directory %s does not exist", task.ConversationDir)
	}
	return task.ConversationDir, nil, nil
}

// composeEffectivePrompt implements initialization step 2: the optional,
// at-most-once memory consultation.
func (d *Driver) composeEffectivePrompt(taskText string) (string, error) {
	base := d.config.SystemPrompt
	if d.config.MemoryProvider == nil {
		return base, nil
	}
	text, score, err := d.config.MemoryProvider.Relevant(taskText)
	if err != nil {
		// Memory is an optional enhancement; a failing provider does not
		// fail the run.
		d.logVerbose("memory provider error (ignored): %v", err)
		return base, nil
	}
	if score < d.config.MemoryThreshold || strings.TrimSpace(text) == "" {
		return base, nil
	}
	return base + "\n\n" + text, nil
}

// mainLoop runs the per-iteration composition, retry sub-loop, history
// append, and sentinel check described by the driver's contract.
func (d *Driver) mainLoop(ctx context.Context, task Task, convDir, effectivePrompt string, hist *history.History, cancel CancelToken) Result {
	var lastStdout string

	for i := 1; i <= d.config.MaxIterations; i++ {
		if cancel.Cancelled() {
			return d.cancelledResult(hist, lastStdout)
		}

		promptText := perIterationPrompt(i, effectivePrompt)

		started := d.config.Clock.Now()
		stdout, exitCode, retried, res, done := d.retrySubLoop(ctx, i, convDir, promptText, cancel)
		if done {
			// res was built inside the retry sub-loop, which only knows
			// about retries within the current iteration; the iteration
			// itself was never appended to hist, so iterations already
			// completed must be reported from hist, not from the retry
			// counter.
			res.Iterations = hist.Len()
			res.Context = hist.All()
			return res
		}
		ended := d.config.Clock.Now()

		record := history.Record{
			Iteration: i,
			StartedAt: started,
			EndedAt:   ended,
			Stdout:    stdout,
			ExitCode:  exitCode,
			Retried:   retried,
		}
		hist.Add(record)
		lastStdout = stdout

		d.logVerbose("iteration %d complete (exit=%d, retried=%d)", i, exitCode, retried)
		if d.config.OnIteration != nil {
			d.config.OnIteration(IterationEvent{Iteration: i, ExitCode: exitCode, Retried: retried, Stdout: stdout})
		}

		if strings.Contains(stdout, d.config.ExitSignal) {
			return Result{
				Success:    true,
				Iterations: i,
				Output:     stdout,
				Context:    hist.All(),
			}
		}
	}

	d.logVerbose("exhausted %d iterations without sentinel", d.config.MaxIterations)
	return Result{
		Success:    false,
		Iterations: hist.Len(),
		Output:     lastStdout,
		Context:    hist.All(),
		Reason:     ReasonMaxIterations,
	}
}

// retrySubLoop implements step 2 of the main loop: repeated child
// invocation until the classifier signals DONE, a fatal error occurs, or
// cancellation is observed.
func (d *Driver) retrySubLoop(ctx context.Context, iteration int, convDir, promptText string, cancel CancelToken) (stdout string, exitCode int, retried int, fatal Result, isFatal bool) {
	attempt := 1
	for {
		if cancel.Cancelled() {
			return "", 0, retried, Result{Success: false, Reason: ReasonCancelled}, true
		}

		out, code, err := d.invoker.Invoke(ctx, promptText, convDir, true, true)
		if err != nil {
			if errors.Is(err, child.ErrChildNotFound) {
				return "", 0, retried, Result{Success: false, Reason: ReasonChildNotFound, ErrorDetail: err.Error()}, true
			}
			return "", 0, retried, Result{Success: false, Reason: ReasonIOError, ErrorDetail: err.Error()}, true
		}

		verdict := retry.Classify(d.config.RetryPolicy, out, code, attempt, d.config.Clock.Now())
		if verdict.Done() {
			return out, code, retried, Result{}, false
		}

		d.logVerbose("attempt %d classified %s, waiting %s", attempt, verdict.Class, verdict.Wait)
		if d.config.OnRetry != nil {
			d.config.OnRetry(RetryEvent{Iteration: iteration, Attempt: attempt, Class: verdict.Class, Wait: verdict.Wait})
		}

		if !d.cancellableSleep(verdict.Wait, cancel) {
			return "", 0, retried, Result{Success: false, Reason: ReasonCancelled}, true
		}

		retried++
		attempt++
	}
}

// cancellableSleep sleeps for d, checking cancel both before and after.
// It returns false if cancellation was observed, in which case the sleep
// may have been skipped or cut short.
func (d *Driver) cancellableSleep(wait time.Duration, cancel CancelToken) bool {
	if cancel.Cancelled() {
		return false
	}
	d.config.Clock.Sleep(wait)
	return !cancel.Cancelled()
}

func (d *Driver) cancelledResult(hist *history.History, lastStdout string) Result {
	return Result{
		Success:    false,
		Iterations: hist.Len(),
		Output:     lastStdout,
		Context:    hist.All(),
		Reason:     ReasonCancelled,
	}
}

// postRun implements the cleanup step: delete the prompt file iff
// cleanup=true and the run succeeded.
func (d *Driver) postRun(promptPath string, success bool) {
	if d.config.Cleanup && success {
		if err := os.Remove(promptPath); err != nil && !os.IsNotExist(err) {
			d.logVerbose("cleanup: failed to remove prompt file: %v", err)
		}
	}
}

// perIterationPrompt composes the per-iteration prompt_text per spec
// §4.5 step 1: iteration 1 gets the full system prompt plus an
// instruction to read the prompt file; later iterations get a short
// continuation directive only, since the agent's own conversation
// history already holds everything said so far.
func perIterationPrompt(iteration int, effectivePrompt string) string {
	if iteration == 1 {
		return effectivePrompt + "\n\nRead your task from the file " + PromptFileName + " in the current directory."
	}
	return "Continue. Your previous output is already in the conversation context."
}

func (d *Driver) logVerbose(format string, args ...any) {
	if !d.verboseEnabled() {
		return
	}
	fmt.Fprintf(os.Stderr, "atomloop: "+format+"\n", args...)
}

func (d *Driver) verboseEnabled() bool {
	switch d.config.Verbose {
	case VerboseOn:
		return true
	case VerboseOff:
		return false
	default:
		return autoDetectVerbose()
	}
}
