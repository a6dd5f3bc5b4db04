package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/wardAuth/internal/rate"
	"github.com/MrEthical07/wardAuth/jwt"
	"github.com/MrEthical07/wardAuth/rbac"
	"github.com/MrEthical07/wardAuth/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureRateLimited
	RefreshFailureReplay
	RefreshFailureSessionNotFound
	RefreshFailureRotate
	RefreshFailureResolve
	RefreshFailureIssue
)

// RefreshResult carries either the issued token pair or failure metadata.
type RefreshResult struct {
	Failure   RefreshFailureKind
	Err       error
	SessionID string
	UserID    string
	Session   *session.Session
	Grants    *rbac.Grants
	Tokens    *jwt.TokenPair
}

// RefreshSessionStore is the slice of the session backend refresh needs.
type RefreshSessionStore interface {
	RotateRefreshJTI(ctx context.Context, sessionID, expected, next string) (*session.Session, error)
	Destroy(ctx context.Context, sessionID string) error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	ParseRefresh  func(string) (*jwt.RefreshClaims, error)
	CheckRate     func(context.Context, string) error
	NewJTI        func() string
	ResolveGrants func(context.Context, string) (*rbac.Grants, error)
	Issue         func(jwt.IssueInput) (*jwt.TokenPair, error)
	SessionStore  RefreshSessionStore
}

// RunRefresh verifies a refresh token, rotates the session's refresh token id
// and issues a new pair bound to the same session.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}
	sessionID := claims.SessionID

	if deps.CheckRate != nil {
		if err := deps.CheckRate(ctx, sessionID); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				return RefreshResult{Failure: RefreshFailureRateLimited, Err: err, SessionID: sessionID}
			}
			return RefreshResult{Failure: RefreshFailureRotate, Err: err, SessionID: sessionID}
		}
	}

	next := deps.NewJTI()
	sess, err := deps.SessionStore.RotateRefreshJTI(ctx, sessionID, claims.ID, next)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshReplay):
			return RefreshResult{Failure: RefreshFailureReplay, Err: err, SessionID: sessionID, UserID: claims.UserID()}
		case errors.Is(err, session.ErrSessionNotFound):
			return RefreshResult{Failure: RefreshFailureSessionNotFound, Err: err, SessionID: sessionID}
		default:
			return RefreshResult{Failure: RefreshFailureRotate, Err: err, SessionID: sessionID}
		}
	}

	if sess.UserID != claims.UserID() {
		// A token whose subject disagrees with the session is forged or corrupt.
		_ = deps.SessionStore.Destroy(ctx, sessionID)
		return RefreshResult{Failure: RefreshFailureReplay, Err: session.ErrRefreshReplay, SessionID: sessionID, UserID: sess.UserID}
	}

	grants, err := deps.ResolveGrants(ctx, sess.UserID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureResolve, Err: err, SessionID: sessionID, UserID: sess.UserID, Session: sess}
	}

	tokens, err := deps.Issue(jwt.IssueInput{
		UserID:      sess.UserID,
		Username:    sess.Username,
		Roles:       grants.RoleCodes(),
		Permissions: grants.Permissions.Codes(),
		SessionID:   sessionID,
		RefreshJTI:  next,
	})
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, SessionID: sessionID, UserID: sess.UserID, Session: sess}
	}

	return RefreshResult{
		SessionID: sessionID,
		UserID:    sess.UserID,
		Session:   sess,
		Grants:    grants,
		Tokens:    tokens,
	}
}
