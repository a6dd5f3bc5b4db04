package flows

import (
	"context"

	"github.com/MrEthical07/wardAuth/session"
)

// LogoutSessionStore is the destructive side of the session backend.
type LogoutSessionStore interface {
	Destroy(ctx context.Context, sessionID string) error
	DestroyAllForUser(ctx context.Context, userID string) (int, error)
	ListByUser(ctx context.Context, userID, currentSessionID string) ([]session.SessionInfo, error)
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	SessionStore LogoutSessionStore
}

// RunLogout destroys one session. Destroying an absent session succeeds.
func RunLogout(ctx context.Context, sessionID string, deps LogoutDeps) error {
	return deps.SessionStore.Destroy(ctx, sessionID)
}

// RunLogoutAll destroys every session of userID and reports how many went away.
func RunLogoutAll(ctx context.Context, userID string, deps LogoutDeps) (int, error) {
	return deps.SessionStore.DestroyAllForUser(ctx, userID)
}

// RunLogoutOthers destroys every live session of userID except keepSessionID.
func RunLogoutOthers(ctx context.Context, userID, keepSessionID string, deps LogoutDeps) (int, error) {
	sessions, err := deps.SessionStore.ListByUser(ctx, userID, keepSessionID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range sessions {
		if s.Current {
			continue
		}
		if err := deps.SessionStore.Destroy(ctx, s.SessionID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
