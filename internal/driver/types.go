// Package driver implements the Iteration Driver (C5): the state machine
// that owns a single task's lifetime, repeatedly invoking the external
// agent through the retry sub-loop until it signals completion, the
// iteration budget is exhausted, or the run is cancelled.
package driver

import (
	"time"

	"github.com/atomloop/atomloop/internal/history"
	"github.com/atomloop/atomloop/internal/retry"
)

// Task is the unit of work handed to a driver run.
type Task struct {
	// TaskText is the caller-supplied instructions, written verbatim to
	// the prompt file before iteration 1.
	TaskText string

	// ConversationDir is the directory the child uses as its implicit
	// continuation key. In ephemeral mode this is synthesized by the
	// driver and ignored if set by the caller.
	ConversationDir string

	// Ephemeral, if true, means ConversationDir is created fresh under a
	// temp root and removed on every exit path.
	Ephemeral bool
}

// VerboseMode is a tri-state: explicit true/false or auto-detect.
type VerboseMode int

const (
	VerboseAuto VerboseMode = iota
	VerboseOn
	VerboseOff
)

// MemoryProvider supplies optional supplementary context for a task. It is
// consulted at most once per run, before iteration 1.
type MemoryProvider interface {
	// Relevant returns supplementary text for taskText and a relevance
	// score in [0, 1]. The driver only appends text whose score clears
	// RuntimeConfig.MemoryThreshold.
	Relevant(taskText string) (text string, score float64, err error)
}

// Clock abstracts wall-clock access so retry timing is deterministic
// under test.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// systemClock is the production Clock, backed by the time package.
type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// RuntimeConfig holds everything fixed for the duration of a run.
type RuntimeConfig struct {
	// SystemPrompt is the already-resolved prompt text (C1's output).
	SystemPrompt string

	// MaxIterations bounds the main loop. Defaults to 25 when zero.
	MaxIterations int

	// ExitSignal is the sentinel substring that marks completion.
	// Defaults to "EXIT_LOOP_NOW" when empty.
	ExitSignal string

	// Verbose controls whether the driver emits progress lines.
	Verbose VerboseMode

	// Cleanup, if true, removes the prompt file after a successful,
	// non-ephemeral run.
	Cleanup bool

	// RetryPolicy configures C2. Defaults to retry.DefaultPolicy() when
	// the zero value is supplied.
	RetryPolicy retry.Policy

	// MemoryProvider is optional; nil means no memory augmentation.
	MemoryProvider MemoryProvider

	// MemoryThreshold is the minimum relevance score (inclusive) at which
	// MemoryProvider's text is appended to the first iteration's prompt.
	MemoryThreshold float64

	// Clock is injectable for deterministic tests. Defaults to the
	// system clock when nil.
	Clock Clock

	// AgentPath names the external agent executable. Defaults to
	// "claude" when empty (see internal/child).
	AgentPath string

	// OnIteration, if set, is called synchronously after each completed
	// iteration is appended to history, before the sentinel check. It lets
	// an observer (the optional TUI, or a headless progress logger) mirror
	// the run without the driver itself depending on any rendering code.
	OnIteration func(IterationEvent)

	// OnRetry, if set, is called synchronously every time the retry
	// sub-loop classifies an attempt as needing a wait, before the sleep
	// begins.
	OnRetry func(RetryEvent)
}

// IterationEvent reports one completed iteration of the main loop.
type IterationEvent struct {
	Iteration int
	ExitCode  int
	Retried   int
	Stdout    string
}

// RetryEvent reports one classified, non-terminal attempt inside the retry
// sub-loop, before its wait begins.
type RetryEvent struct {
	Iteration int
	Attempt   int
	Class     retry.Class
	Wait      time.Duration
}

func (c RuntimeConfig) resolved() RuntimeConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 25
	}
	if c.ExitSignal == "" {
		c.ExitSignal = "EXIT_LOOP_NOW"
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	if c.RetryPolicy.OtherCap == 0 {
		c.RetryPolicy = retry.DefaultPolicy()
	}
	return c
}

// Reason enumerates why a Result has success=false.
type Reason string

const (
	ReasonMaxIterations Reason = "max_iterations"
	ReasonChildNotFound Reason = "child_not_found"
	ReasonCancelled     Reason = "cancelled"
	ReasonIOError       Reason = "io_error"
)

// Result is the outcome of a single driver run.
type Result struct {
	// RunID is a collision-free identifier minted for this run, also used
	// as the leaf directory name in ephemeral mode.
	RunID string

	Success         bool
	Iterations      int
	Output          string
	DurationSeconds float64
	Context         []history.Record
	Reason          Reason
	ErrorDetail     string
}

// CancelToken is a cooperative cancellation signal, checked only at the
// suspension points named in the driver's contract: before every child
// spawn, just before every retry sleep, and at every wakeup from sleep.
type CancelToken interface {
	Cancelled() bool
}

// cancelFunc adapts a plain function to CancelToken.
type cancelFunc func() bool

func (f cancelFunc) Cancelled() bool { return f() }

// NeverCancel is a CancelToken that never signals cancellation.
var NeverCancel CancelToken = cancelFunc(func() bool { return false })
