package lockout

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the lockout policy tuning parameters.
type Config struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	DelayBase       time.Duration
	DelayMax        time.Duration
	LedgerCap       int
	CleanupInterval time.Duration
}

// Attempt is one immutable ledger entry. Attempts are only ever used to
// derive lockout records and suspicion signals, never to re-authenticate.
type Attempt struct {
	Email     string    `json:"email"`
	At        time.Time `json:"at"`
	Success   bool      `json:"success"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// Record is the derived per-account lockout state.
type Record struct {
	Attempts      int       `json:"attempts"`
	LockedUntil   time.Time `json:"locked_until"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// Status is the outcome of a lockout policy evaluation.
type Status struct {
	IsLocked          bool
	AttemptsRemaining int
	LockoutExpiresAt  time.Time
	NextAttemptDelay  time.Duration
	Message           string
}

// Normalize canonicalizes an email for ledger keying. Check, record, and
// clear all use it; skipping it would fragment lockouts per casing.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Delay returns the mandatory wait before failed attempt n+1:
// min(base * 2^(n-1), max). Monotonically non-decreasing in n.
func Delay(n int, base, max time.Duration) time.Duration {
	if n <= 0 || base <= 0 {
		return 0
	}

	d := base
	for i := 1; i < n; i++ {
		if d >= max {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// statusOf derives a Status from a lockout record (nil = clean account).
// Pure: deterministic given rec, cfg, and now.
func statusOf(rec *Record, cfg Config, now time.Time) Status {
	if rec != nil && rec.LockedUntil.After(now) {
		return Status{
			IsLocked:         true,
			LockoutExpiresAt: rec.LockedUntil,
			Message:          lockedMessage(rec.LockedUntil.Sub(now)),
		}
	}

	// An expired lockout counts as clean; the record is removed lazily.
	attempts := 0
	if rec != nil && rec.LockedUntil.IsZero() {
		attempts = rec.Attempts
	}

	remaining := cfg.MaxAttempts - attempts
	if remaining < 0 {
		remaining = 0
	}

	st := Status{
		AttemptsRemaining: remaining,
		NextAttemptDelay:  Delay(attempts, cfg.DelayBase, cfg.DelayMax),
	}
	if attempts > 0 {
		st.Message = fmt.Sprintf("%d attempt(s) remaining before temporary lockout", remaining)
	}
	return st
}

func lockedMessage(remaining time.Duration) string {
	if remaining < time.Minute {
		return fmt.Sprintf("account locked; try again in %d second(s)", int(remaining.Seconds()+0.5))
	}
	mins := int((remaining + time.Minute - 1) / time.Minute)
	return fmt.Sprintf("account locked; try again in %d minute(s)", mins)
}

// Suspicion thresholds. Advisory only; none of these block a login.
const (
	suspicionWindow     = time.Hour
	burstWindow         = 5 * time.Minute
	burstThreshold      = 10
	distinctAgentMax    = 3
	regularIntervalMax  = 10 * time.Second
	regularJitterMax    = time.Second
	regularMinIntervals = 2
)

// SuspicionReasons evaluates the automation heuristics over one account's
// attempts: a burst of attempts, too many distinct user agents, or
// near-constant sub-10s spacing suggesting a script. Pure function of the
// input slice and now.
func SuspicionReasons(attempts []Attempt, now time.Time) []string {
	var recent []Attempt
	for _, a := range attempts {
		if now.Sub(a.At) <= suspicionWindow {
			recent = append(recent, a)
		}
	}
	if len(recent) == 0 {
		return nil
	}

	var reasons []string

	burst := 0
	for _, a := range recent {
		if now.Sub(a.At) <= burstWindow {
			burst++
		}
	}
	if burst > burstThreshold {
		reasons = append(reasons, fmt.Sprintf("more than %d attempts within 5 minutes", burstThreshold))
	}

	agents := make(map[string]struct{})
	for _, a := range recent {
		if a.UserAgent != "" {
			agents[a.UserAgent] = struct{}{}
		}
	}
	if len(agents) > distinctAgentMax {
		reasons = append(reasons, fmt.Sprintf("attempts from more than %d distinct user agents", distinctAgentMax))
	}

	if regularCadence(recent) {
		reasons = append(reasons, "attempts arrive at a near-constant automated cadence")
	}

	return reasons
}

// regularCadence reports whether consecutive attempts are all under 10s
// apart with each interval within 1s of the mean.
func regularCadence(recent []Attempt) bool {
	if len(recent) < regularMinIntervals+1 {
		return false
	}

	intervals := make([]time.Duration, 0, len(recent)-1)
	for i := 1; i < len(recent); i++ {
		iv := recent[i].At.Sub(recent[i-1].At)
		if iv < 0 || iv >= regularIntervalMax {
			return false
		}
		intervals = append(intervals, iv)
	}

	var sum time.Duration
	for _, iv := range intervals {
		sum += iv
	}
	mean := sum / time.Duration(len(intervals))

	for _, iv := range intervals {
		diff := iv - mean
		if diff < 0 {
			diff = -diff
		}
		if diff > regularJitterMax {
			return false
		}
	}
	return true
}
