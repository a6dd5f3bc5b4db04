package wardAuth

import (
	"context"
	"errors"

	"github.com/MrEthical07/wardAuth/rbac"
)

const (
	auditEventLoginSuccess       = "login_success"
	auditEventLoginFailure       = "login_failure"
	auditEventLoginRateLimited   = "login_rate_limited"
	auditEventAccountLocked      = "account_locked"
	auditEventRefreshSuccess     = "refresh_success"
	auditEventRefreshInvalid     = "refresh_invalid"
	auditEventRefreshRateLimited = "refresh_rate_limited"
	auditEventRefreshReplay      = "refresh_replay_detected"
	auditEventSessionEvicted     = "session_evicted"
	auditEventSessionDestroyed   = "session_destroyed"
	auditEventLogout             = "logout"
	auditEventLogoutAll          = "logout_all"
	auditEventLogoutOthers       = "logout_others"
	auditEventPermissionDenied   = "permission_denied"
)

// AuditErrorCode is the error field of an audit event.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrRefreshReplay      AuditErrorCode = "refresh_replay"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrExpiredToken       AuditErrorCode = "expired_token"
	auditErrInvalidSession     AuditErrorCode = "invalid_session"
	auditErrSessionLimit       AuditErrorCode = "session_limit_exceeded"
	auditErrForbidden          AuditErrorCode = "forbidden"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// recordDenial receives refused authorization decisions from the RBAC engine.
// It never waits for buffer space: a full audit buffer drops the event.
func (e *Engine) recordDenial(ctx context.Context, d rbac.Denial) {
	e.metricInc(MetricAuthzDenied)
	if e.audit == nil {
		return
	}
	e.audit.TryEmit(ctx, AuditEvent{
		Timestamp:    d.At.UTC(),
		EventType:    auditEventPermissionDenied,
		UserID:       d.UserID,
		IP:           clientIPFromContext(ctx),
		Error:        string(auditErrForbidden),
		Permission:   d.Permission,
		ResourceType: d.ResourceType,
		ResourceID:   d.ResourceID,
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRefreshReplay):
		return auditErrRefreshReplay
	case errors.Is(err, ErrInvalidSession),
		errors.Is(err, ErrSessionNotFound):
		return auditErrInvalidSession
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenExpired):
		return auditErrExpiredToken
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrTooManySessions):
		return auditErrSessionLimit
	case errors.Is(err, ErrInsufficientRole),
		errors.Is(err, ErrInsufficientPermissions),
		errors.Is(err, ErrResourceAccessDenied):
		return auditErrForbidden
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
