package wardAuth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/wardAuth/internal/flows"
	"github.com/MrEthical07/wardAuth/jwt"
	"github.com/MrEthical07/wardAuth/session"
)

// SessionInfo is one entry of ListSessions.
type SessionInfo = session.SessionInfo

/*
====================================
REQUEST AUTHENTICATION
====================================
*/

// VerifyAccess checks an access token's signature, expiry and claims without
// touching the session store. It returns ErrTokenExpired or ErrTokenInvalid.
func (e *Engine) VerifyAccess(accessToken string) (*jwt.AccessClaims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res := e.flows.VerifyToken(accessToken)
	if res.Failure != flows.ValidateFailureNone {
		return nil, res.Err
	}
	return res.Claims, nil
}

// CheckSession confirms the session named by verified claims is live and
// belongs to the token's subject. It never extends the session.
func (e *Engine) CheckSession(ctx context.Context, claims *jwt.AccessClaims) (*Principal, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if claims == nil {
		return nil, ErrTokenInvalid
	}

	res := e.flows.CheckSession(ctx, claims)
	switch res.Failure {
	case flows.ValidateFailureNone:
	case flows.ValidateFailureSessionExpired:
		e.metricInc(MetricSessionExpired)
		return nil, ErrSessionExpired
	case flows.ValidateFailureSessionNotFound:
		return nil, ErrSessionNotFound
	case flows.ValidateFailureSessionMismatch:
		e.logger.Warn("token subject does not own its session", "session_id", claims.SessionID, "user_id", claims.UserID())
		return nil, ErrSessionNotFound
	default:
		return nil, storeErr(res.Err)
	}

	return principalFromClaims(claims), nil
}

// Authenticate runs VerifyAccess and CheckSession, then extends the session.
// A failed extension is logged and does not fail the request.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	start := time.Now()
	p, err := e.authenticate(ctx, accessToken)
	if e != nil && e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	}
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		return nil, err
	}
	e.metricInc(MetricAuthenticateSuccess)
	return p, nil
}

func (e *Engine) authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := e.VerifyAccess(accessToken)
	if err != nil {
		return nil, err
	}
	p, err := e.CheckSession(ctx, claims)
	if err != nil {
		return nil, err
	}
	e.touchBestEffort(ctx, p.SessionID)
	return p, nil
}

// touchBestEffort extends a session after a successful check and logs, rather
// than returns, any failure.
func (e *Engine) touchBestEffort(ctx context.Context, sessionID string) {
	if err := e.TouchSession(ctx, sessionID); err != nil {
		e.logger.Warn("session activity update failed", "session_id", sessionID, "error", err)
	}
}

func principalFromClaims(c *jwt.AccessClaims) *Principal {
	return &Principal{
		UserID:      c.UserID(),
		Username:    c.Username,
		Roles:       append([]string(nil), c.Roles...),
		Permissions: append([]string(nil), c.Permissions...),
		SessionID:   c.SessionID,
	}
}

/*
====================================
SESSION LIVENESS
====================================
*/

// ValidateSession is a passive liveness check.
func (e *Engine) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	ok, err := e.sessions.IsValid(ctx, sessionID)
	if err != nil {
		return false, storeErr(err)
	}
	return ok, nil
}

// TouchSession slides a live session's inactivity window. It returns
// ErrSessionNotFound or ErrSessionExpired when there is nothing to extend.
func (e *Engine) TouchSession(ctx context.Context, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	err := e.sessions.Refresh(ctx, sessionID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrSessionExpired):
		e.metricInc(MetricSessionExpired)
		return ErrSessionExpired
	case errors.Is(err, session.ErrSessionNotFound):
		return ErrSessionNotFound
	default:
		return storeErr(err)
	}
}

// ValidateAndTouch extends the session when it is live and reports whether it was.
func (e *Engine) ValidateAndTouch(ctx context.Context, sessionID string) (bool, error) {
	err := e.TouchSession(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

/*
====================================
SESSION MANAGEMENT
====================================
*/

// ListSessions returns the caller's live sessions, most recently active
// first, with the caller's own session marked current.
func (e *Engine) ListSessions(ctx context.Context, p *Principal) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if p == nil {
		return nil, ErrSessionNotFound
	}
	out, err := e.sessions.ListByUser(ctx, p.UserID, p.SessionID)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// DestroySession ends one of the caller's sessions. A session id owned by
// someone else is reported as ErrSessionNotFound.
func (e *Engine) DestroySession(ctx context.Context, p *Principal, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if p == nil {
		return ErrSessionNotFound
	}
	sess, err := e.sessions.Get(ctx, sessionID)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return ErrSessionNotFound
	case err != nil:
		return storeErr(err)
	case sess.UserID != p.UserID:
		return ErrSessionNotFound
	}
	if err := e.sessions.Destroy(ctx, sessionID); err != nil {
		return storeErr(err)
	}
	e.metricInc(MetricSessionDestroyed)
	e.emitAudit(ctx, auditEventSessionDestroyed, true, p.UserID, sessionID, nil, func() map[string]string {
		return map[string]string{"by_session": p.SessionID}
	})
	return nil
}

// DestroyOtherSessions ends every session of the caller except the current one.
func (e *Engine) DestroyOtherSessions(ctx context.Context, p *Principal) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if p == nil {
		return 0, ErrSessionNotFound
	}
	n, err := e.flows.LogoutOthers(ctx, p.UserID, p.SessionID)
	e.metrics.Add(MetricSessionDestroyed, uint64(n))
	if err != nil {
		return n, storeErr(err)
	}
	e.emitAudit(ctx, auditEventLogoutOthers, true, p.UserID, p.SessionID, nil, func() map[string]string {
		return map[string]string{"sessions": strconv.Itoa(n)}
	})
	return n, nil
}
