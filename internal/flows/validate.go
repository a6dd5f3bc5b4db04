package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/wardAuth/jwt"
	"github.com/MrEthical07/wardAuth/session"
)

// ValidateFailureKind classifies validation failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureToken
	ValidateFailureSessionNotFound
	ValidateFailureSessionExpired
	ValidateFailureSessionMismatch
	ValidateFailureStore
)

// ValidateResult returns either claims/session success payload or classified failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.AccessClaims
	Session *session.Session
}

// ValidateSessionStore is the read side of the session backend.
type ValidateSessionStore interface {
	Get(ctx context.Context, sessionID string) (*session.Session, error)
}

// ValidateDeps captures token verification and session liveness dependencies.
type ValidateDeps struct {
	ParseAccess  func(string) (*jwt.AccessClaims, error)
	SessionStore ValidateSessionStore
}

// RunVerifyToken is the TOKEN_VERIFIED step: signature, expiry and claims only.
func RunVerifyToken(tokenStr string, deps ValidateDeps) ValidateResult {
	claims, err := deps.ParseAccess(tokenStr)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureToken, Err: err}
	}
	return ValidateResult{Claims: claims}
}

// RunCheckSession is the SESSION_LIVE step. It never mutates the session.
func RunCheckSession(ctx context.Context, claims *jwt.AccessClaims, deps ValidateDeps) ValidateResult {
	sess, err := deps.SessionStore.Get(ctx, claims.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionExpired):
			return ValidateResult{Failure: ValidateFailureSessionExpired, Err: err, Claims: claims}
		case errors.Is(err, session.ErrSessionNotFound):
			return ValidateResult{Failure: ValidateFailureSessionNotFound, Err: err, Claims: claims}
		default:
			return ValidateResult{Failure: ValidateFailureStore, Err: err, Claims: claims}
		}
	}
	if sess.UserID != claims.UserID() {
		return ValidateResult{Failure: ValidateFailureSessionMismatch, Claims: claims}
	}
	return ValidateResult{Claims: claims, Session: sess}
}

// RunValidate joins RunVerifyToken and RunCheckSession.
func RunValidate(ctx context.Context, tokenStr string, deps ValidateDeps) ValidateResult {
	res := RunVerifyToken(tokenStr, deps)
	if res.Failure != ValidateFailureNone {
		return res
	}
	return RunCheckSession(ctx, res.Claims, deps)
}
