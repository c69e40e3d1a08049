package internaldefs

import (
	authsession "github.com/platewise/authsession"
)

// CounterDef defines a public type used by authsession APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   authsession.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by authsession APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   authsession.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the session kit.
var CounterDefs = []CounterDef{
	{ID: authsession.MetricLoginSuccess, Name: "authsession_login_success_total", Help: "Successful login attempts."},
	{ID: authsession.MetricLoginFailure, Name: "authsession_login_failure_total", Help: "Failed login attempts."},
	{ID: authsession.MetricLoginLockedOut, Name: "authsession_login_locked_out_total", Help: "Login attempts blocked by an active lockout."},
	{ID: authsession.MetricLoginDelayed, Name: "authsession_login_delayed_total", Help: "Login attempts that served a progressive delay."},
	{ID: authsession.MetricRefreshSuccess, Name: "authsession_refresh_success_total", Help: "Successful token refreshes."},
	{ID: authsession.MetricRefreshFailure, Name: "authsession_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: authsession.MetricRefreshDeduped, Name: "authsession_refresh_deduped_total", Help: "Refresh calls that joined an in-flight refresh."},
	{ID: authsession.MetricSessionWarning, Name: "authsession_session_warning_total", Help: "Session expiry warnings emitted."},
	{ID: authsession.MetricSessionExpired, Name: "authsession_session_expired_total", Help: "Sessions ended by expiry, idle timeout, refresh failure, or peer logout."},
	{ID: authsession.MetricSessionExtended, Name: "authsession_session_extended_total", Help: "User-initiated session extensions."},
	{ID: authsession.MetricSuspiciousActivity, Name: "authsession_suspicious_activity_total", Help: "Advisory suspicious-activity signals raised."},
	{ID: authsession.MetricPeerDetected, Name: "authsession_peer_detected_total", Help: "Distinct peer clients detected on the change feed."},
	{ID: authsession.MetricCorruptStateCleared, Name: "authsession_corrupt_state_cleared_total", Help: "Corrupt persisted credential records cleared."},
	{ID: authsession.MetricLogout, Name: "authsession_logout_total", Help: "Single-session logout operations."},
	{ID: authsession.MetricLogoutAll, Name: "authsession_logout_all_total", Help: "Logout-all operations."},
}

// HistogramDefs is an exported constant or variable used by the session kit.
var HistogramDefs = []HistogramDef{
	{ID: authsession.MetricRefreshLatency, Name: "authsession_refresh_latency_seconds", Help: "Token refresh latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the session kit.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the session kit.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
