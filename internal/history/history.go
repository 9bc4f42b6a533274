// Package history implements the Iteration History (C4): an in-memory,
// append-only record of each iteration a driver run performs. It is never
// consulted as input to the child — only surfaced in the final result
// trail.
package history

import "time"

// Record is one iteration's outcome, matching spec's IterationRecord.
type Record struct {
	Iteration int
	StartedAt time.Time
	EndedAt   time.Time
	Stdout    string
	ExitCode  int
	Retried   int // count of transient retries absorbed before this record was appended
}

// History is an append-only, non-deduplicating list of Records. It is not
// safe for concurrent use — the driver is its sole owner for the duration
// of a run (see spec's ownership rule) and always accesses it from the
// same goroutine.
type History struct {
	records []Record
}

// New returns an empty History.
func New() *History {
	return &History{}
}

// Add appends a Record. Records must be supplied with strictly increasing
// Iteration numbers; History does not enforce this itself, trusting its
// sole caller (the driver).
func (h *History) Add(r Record) {
	h.records = append(h.records, r)
}

// All returns every Record added so far, in order. The returned slice is
// a copy; mutating it does not affect the History.
func (h *History) All() []Record {
	out := make([]Record, len(h.records))
	copy(out, h.records)
	return out
}

// Len reports how many iterations have been recorded.
func (h *History) Len() int {
	return len(h.records)
}

// Summary reports aggregate counters useful for logging and the TUI,
// without exposing the full stdout payloads.
type Summary struct {
	Iterations   int
	TotalRetried int
	TotalElapsed time.Duration
}

// Summary computes a Summary over every Record added so far.
func (h *History) Summary() Summary {
	var s Summary
	s.Iterations = len(h.records)
	for _, r := range h.records {
		s.TotalRetried += r.Retried
		s.TotalElapsed += r.EndedAt.Sub(r.StartedAt)
	}
	return s
}
