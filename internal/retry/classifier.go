// Package retry implements the Retry Classifier (C2): a pure function
// mapping a child invocation's (stdout, exit code, attempt) to either
// completion or a wait-and-retry verdict.
package retry

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Class names the failure category a classification falls into.
type Class string

const (
	ClassDone         Class = "done"
	ClassSessionLimit Class = "session_limit"
	ClassNetwork      Class = "network"
	ClassOther        Class = "other"
)

// Verdict is the classifier's decision for one attempt.
type Verdict struct {
	Class Class
	Wait  time.Duration // zero when Class == ClassDone
}

// Done reports whether the verdict signals the caller should stop retrying
// and treat the invocation as complete.
func (v Verdict) Done() bool { return v.Class == ClassDone }

// Policy holds the tunable constants behind the decision table in spec §4.2.
// Zero-value Policy is invalid; use DefaultPolicy.
type Policy struct {
	// NetworkKeywords mark a transient network failure when any appears
	// (case-insensitively) in stdout.
	NetworkKeywords []string

	SessionLimitBuffer   time.Duration // added on top of the parsed reset time
	SessionLimitFallback time.Duration // used when the reset time can't be parsed

	NetworkBase time.Duration
	NetworkCap  time.Duration

	OtherBase time.Duration
	OtherCap  time.Duration
}

// DefaultPolicy matches spec §4.2's stated defaults.
func DefaultPolicy() Policy {
	return Policy{
		NetworkKeywords:      []string{"network", "timeout", "connection", "temporary", "reset by peer", "EOF"},
		SessionLimitBuffer:   300 * time.Second,
		SessionLimitFallback: 3600 * time.Second,
		NetworkBase:          5 * time.Second,
		NetworkCap:           300 * time.Second,
		OtherBase:            10 * time.Second,
		OtherCap:             600 * time.Second,
	}
}

// sessionLimitSignalRe detects that stdout is reporting a session/usage
// limit at all, independent of whether a reset time can be parsed from it.
var sessionLimitSignalRe = regexp.MustCompile(`(?i)session limit|usage limit|rate limit`)

// resetTimeRe extracts an hour, optional minute, and optional am/pm per
// spec §9's fixed grammar.
var resetTimeRe = regexp.MustCompile(`(?i)reset(?:s)?\s*(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)

// Classify is the pure function described in spec §4.2. attempt is 1-based;
// non-positive or otherwise malformed attempts are treated as 1. now is
// injected so the session-limit reset-time arithmetic is deterministic
// under test (spec §9's "all time arithmetic against an injectable clock").
func Classify(policy Policy, stdout string, exitCode int, attempt int, now time.Time) Verdict {
	if attempt < 1 {
		attempt = 1
	}

	if exitCode == 0 {
		return Verdict{Class: ClassDone}
	}

	if sessionLimitSignalRe.MatchString(stdout) {
		wait, ok := parseResetWait(stdout, now)
		if !ok {
			wait = policy.SessionLimitFallback
		} else {
			wait += policy.SessionLimitBuffer
		}
		return Verdict{Class: ClassSessionLimit, Wait: wait}
	}

	if containsAny(stdout, policy.NetworkKeywords) {
		return Verdict{Class: ClassNetwork, Wait: capped(policy.NetworkBase, policy.NetworkCap, attempt)}
	}

	return Verdict{Class: ClassOther, Wait: capped(policy.OtherBase, policy.OtherCap, attempt)}
}

func containsAny(haystack string, needles []string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// capped returns base*2^(attempt-1), capped at ceiling.
func capped(base, ceiling time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// parseResetWait finds the next future occurrence of the clock time named
// in stdout (e.g. "Resets at 3pm") relative to now, and returns the
// duration until then. ok is false if no time could be parsed.
func parseResetWait(stdout string, now time.Time) (time.Duration, bool) {
	m := resetTimeRe.FindStringSubmatch(stdout)
	if m == nil {
		return 0, false
	}

	hour, err := strconv.Atoi(m[1])
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}

	minute := 0
	if m[2] != "" {
		minute, err = strconv.Atoi(m[2])
		if err != nil || minute < 0 || minute > 59 {
			return 0, false
		}
	}

	meridiem := strings.ToLower(m[3])
	switch meridiem {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour != 12 {
			hour += 12
		}
	default:
		// No am/pm given: if the hour alone is ambiguous (1-11) we still
		// treat it as the next occurrence of that hour on a 24h clock,
		// choosing whichever is in the future — per spec §4.2's "on
		// ambiguity, choose the next future occurrence."
	}

	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.Add(24 * time.Hour)
	}

	return candidate.Sub(now), true
}
