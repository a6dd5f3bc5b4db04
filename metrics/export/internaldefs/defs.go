package internaldefs

import (
	wardAuth "github.com/MrEthical07/wardAuth"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   wardAuth.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   wardAuth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: wardAuth.MetricLoginSuccess, Name: "wardauth_login_success_total", Help: "Successful logins."},
	{ID: wardAuth.MetricLoginFailure, Name: "wardauth_login_failure_total", Help: "Failed logins, including invalid credentials."},
	{ID: wardAuth.MetricLoginLocked, Name: "wardauth_login_locked_total", Help: "Login attempts refused because the account was locked."},
	{ID: wardAuth.MetricLoginRateLimited, Name: "wardauth_login_rate_limited_total", Help: "Login attempts refused by the per-IP throttle."},
	{ID: wardAuth.MetricAccountLockout, Name: "wardauth_account_lockout_total", Help: "Accounts locked after repeated failures or by an administrator."},
	{ID: wardAuth.MetricRefreshSuccess, Name: "wardauth_refresh_success_total", Help: "Successful token refreshes."},
	{ID: wardAuth.MetricRefreshFailure, Name: "wardauth_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: wardAuth.MetricRefreshReplay, Name: "wardauth_refresh_replay_total", Help: "Spent refresh tokens presented again."},
	{ID: wardAuth.MetricRefreshRateLimited, Name: "wardauth_refresh_rate_limited_total", Help: "Refreshes refused by the per-session throttle."},
	{ID: wardAuth.MetricSessionCreated, Name: "wardauth_session_created_total", Help: "Sessions created."},
	{ID: wardAuth.MetricSessionEvicted, Name: "wardauth_session_evicted_total", Help: "Sessions evicted by the per-user cap."},
	{ID: wardAuth.MetricSessionRejected, Name: "wardauth_session_rejected_total", Help: "Logins refused by the per-user cap."},
	{ID: wardAuth.MetricSessionDestroyed, Name: "wardauth_session_destroyed_total", Help: "Sessions destroyed by logout, replay or session management."},
	{ID: wardAuth.MetricSessionExpired, Name: "wardauth_session_expired_total", Help: "Requests that found their session past the inactivity timeout."},
	{ID: wardAuth.MetricLogoutAll, Name: "wardauth_logout_all_total", Help: "Logout-all operations."},
	{ID: wardAuth.MetricAuthenticateSuccess, Name: "wardauth_authenticate_success_total", Help: "Requests authenticated."},
	{ID: wardAuth.MetricAuthenticateFailure, Name: "wardauth_authenticate_failure_total", Help: "Requests that failed authentication."},
	{ID: wardAuth.MetricAuthzAllowed, Name: "wardauth_authz_allowed_total", Help: "Requests that passed authorization."},
	{ID: wardAuth.MetricAuthzDenied, Name: "wardauth_authz_denied_total", Help: "Authorization denials."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: wardAuth.MetricAuthenticateLatency, Name: "wardauth_authenticate_latency_seconds", Help: "Authenticate latency histogram."},
}

const (
	AuditDroppedName = "wardauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped due to dispatcher backpressure."
	AuditFailedName  = "wardauth_audit_failed_total"
	AuditFailedHelp  = "Audit events the sink rejected."
)

// HistogramBounds are the upper bounds, in seconds, of the engine's latency buckets.
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

// HistogramBoundSuffix spells HistogramBounds for instrument names.
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

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
