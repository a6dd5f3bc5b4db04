package wardAuth

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/wardAuth/internal/audit"
	internalmetrics "github.com/MrEthical07/wardAuth/internal/metrics"
	"github.com/MrEthical07/wardAuth/jwt"
	"github.com/MrEthical07/wardAuth/session"
)

// Principal is the authenticated caller of one request. It is derived from a
// verified access token whose session is live, and is never persisted.
type Principal struct {
	UserID      string   `json:"id"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	SessionID   string   `json:"sessionId"`
}

// HasRole reports whether code is among the roles carried by the token.
func (p *Principal) HasRole(code string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == code {
			return true
		}
	}
	return false
}

/*
====================================
CREDENTIAL STORE
====================================
*/

// UserRecord is what the credential store knows about an account.
type UserRecord struct {
	ID               string
	Username         string
	PasswordHash     string
	FailedLoginCount int
	LockedUntil      time.Time
	IsActive         bool
}

// UserStore is the credential collaborator. FindByUsername returns
// ErrUserNotFound for unknown usernames. RecordFailedAttempt returns the
// updated consecutive failure count.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*UserRecord, error)
	RecordFailedAttempt(ctx context.Context, userID string) (int, error)
	ResetFailedAttempts(ctx context.Context, userID string) error
	LockAccount(ctx context.Context, userID string, until time.Time) error
}

// PasswordHashUpdater is optionally implemented by a UserStore to accept
// rehashed credentials after a successful login.
type PasswordHashUpdater interface {
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

/*
====================================
LOGIN
====================================
*/

// TokenPair is an access token plus the refresh token that renews it.
type TokenPair = jwt.TokenPair

// DeviceInfo describes the client a session was created from.
type DeviceInfo = session.DeviceInfo

// LoginRequest is one login attempt. Device is optional; when nil it is
// derived from UserAgent.
type LoginRequest struct {
	Username  string
	Password  string
	Device    *session.DeviceInfo
	UserAgent string
	IPAddress string
}

// LoginResult is a successful login: the principal, its token pair and the
// sessions evicted to make room for it.
type LoginResult struct {
	Principal Principal
	Tokens    *jwt.TokenPair
	Evicted   []string
}

/*
====================================
AUDIT / METRICS RE-EXPORTS
====================================
*/

// AuditEvent is one audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine. Errors are
// logged and never reach the caller of the audited operation.
type AuditSink = internalaudit.Sink

type NoOpSink = internalaudit.NoOpSink

type ChannelSink = internalaudit.ChannelSink

type JSONWriterSink = internalaudit.JSONWriterSink

// MultiSink fans events out to several sinks.
type MultiSink = internalaudit.MultiSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID names one engine counter.
type MetricID = internalmetrics.MetricID

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot

const (
	MetricLoginSuccess        = internalmetrics.MetricLoginSuccess
	MetricLoginFailure        = internalmetrics.MetricLoginFailure
	MetricLoginLocked         = internalmetrics.MetricLoginLocked
	MetricLoginRateLimited    = internalmetrics.MetricLoginRateLimited
	MetricAccountLockout      = internalmetrics.MetricAccountLockout
	MetricRefreshSuccess      = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure      = internalmetrics.MetricRefreshFailure
	MetricRefreshReplay       = internalmetrics.MetricRefreshReplay
	MetricRefreshRateLimited  = internalmetrics.MetricRefreshRateLimited
	MetricSessionCreated      = internalmetrics.MetricSessionCreated
	MetricSessionEvicted      = internalmetrics.MetricSessionEvicted
	MetricSessionRejected     = internalmetrics.MetricSessionRejected
	MetricSessionDestroyed    = internalmetrics.MetricSessionDestroyed
	MetricSessionExpired      = internalmetrics.MetricSessionExpired
	MetricLogoutAll           = internalmetrics.MetricLogoutAll
	MetricAuthenticateSuccess = internalmetrics.MetricAuthenticateSuccess
	MetricAuthenticateFailure = internalmetrics.MetricAuthenticateFailure
	MetricAuthzAllowed        = internalmetrics.MetricAuthzAllowed
	MetricAuthzDenied         = internalmetrics.MetricAuthzDenied
	MetricAuthenticateLatency = internalmetrics.MetricAuthenticateLatency
)
