package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionNotFound reports an unknown or already destroyed session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired reports a session past its inactivity timeout. It also
	// matches ErrSessionNotFound, since an expired session behaves as absent.
	ErrSessionExpired = fmt.Errorf("session expired: %w", ErrSessionNotFound)
	// ErrTooManySessions is returned by Create under LimitReject when the user is at the cap.
	ErrTooManySessions = errors.New("too many sessions")
	// ErrRefreshReplay reports a refresh token id that is no longer current for its session.
	ErrRefreshReplay = errors.New("refresh token replayed")
	// ErrRedisUnavailable wraps transport failures from the Redis backend.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrSessionCorrupt reports a stored record that cannot be decoded.
	ErrSessionCorrupt = errors.New("session record corrupt")
	// ErrSessionIDInUse is returned by Create when a caller-chosen id belongs
	// to a live session. Nothing is evicted in that case.
	ErrSessionIDInUse = errors.New("session id already in use")
)

// DeviceType classifies the client device.
type DeviceType string

const (
	DevicePC     DeviceType = "PC"
	DeviceTablet DeviceType = "TABLET"
	DeviceMobile DeviceType = "MOBILE"
)

// DeviceInfo describes the client a session was created from.
type DeviceInfo struct {
	UserAgent  string     `json:"userAgent"`
	DeviceType DeviceType `json:"deviceType"`
	Browser    string     `json:"browser"`
	OS         string     `json:"os"`
}

// Session is one authenticated device instance.
type Session struct {
	SessionID    string
	UserID       string
	Username     string
	Roles        []string
	Device       DeviceInfo
	IPAddress    string
	CreatedAt    time.Time
	LastActivity time.Time

	// RefreshJTI is the id of the only refresh token currently accepted for this session.
	RefreshJTI string
}

// SessionInfo is the session-management view of a session.
type SessionInfo struct {
	SessionID    string     `json:"sessionId"`
	Device       DeviceInfo `json:"deviceInfo"`
	IPAddress    string     `json:"ipAddress"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastActivity time.Time  `json:"lastActivity"`
	Current      bool       `json:"current"`
}

func (s *Session) info(currentSID string) SessionInfo {
	return SessionInfo{
		SessionID:    s.SessionID,
		Device:       s.Device,
		IPAddress:    s.IPAddress,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		Current:      currentSID != "" && s.SessionID == currentSID,
	}
}

// CreateInput is the data a new session is created from. SessionID is
// generated when empty.
type CreateInput struct {
	SessionID  string
	UserID     string
	Username   string
	Roles      []string
	Device     DeviceInfo
	IPAddress  string
	RefreshJTI string
}

// LimitPolicy selects what Create does when a user is at MaxSessions.
type LimitPolicy int

const (
	// LimitEvictOldest removes the least recently active sessions to make room.
	LimitEvictOldest LimitPolicy = iota
	// LimitReject refuses the new session with ErrTooManySessions.
	LimitReject
)

// String returns the config spelling of p.
func (p LimitPolicy) String() string {
	switch p {
	case LimitEvictOldest:
		return "evict_oldest"
	case LimitReject:
		return "reject"
	default:
		return fmt.Sprintf("LimitPolicy(%d)", int(p))
	}
}

// ParseLimitPolicy accepts "evict_oldest" (or "evict") and "reject".
func ParseLimitPolicy(s string) (LimitPolicy, error) {
	switch s {
	case "", "evict", "evict_oldest":
		return LimitEvictOldest, nil
	case "reject":
		return LimitReject, nil
	default:
		return 0, fmt.Errorf("unknown session limit policy %q", s)
	}
}

// Options configures a backend.
type Options struct {
	// InactivityTimeout is the sliding expiration window. Required.
	InactivityTimeout time.Duration
	// MaxSessions caps concurrent sessions per user; <= 0 disables the cap.
	MaxSessions int
	Policy      LimitPolicy

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

func (o Options) normalized() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) validate() error {
	if o.InactivityTimeout <= 0 {
		return errors.New("session: InactivityTimeout must be > 0")
	}
	if o.Policy != LimitEvictOldest && o.Policy != LimitReject {
		return errors.New("session: unknown limit policy")
	}
	return nil
}

// Backend is the contract shared by the Redis and in-memory stores.
type Backend interface {
	// Create inserts a session, first pruning expired entries and applying
	// the cap. evicted lists the session ids removed to make room.
	Create(ctx context.Context, in CreateInput) (sessionID string, evicted []string, err error)
	IsValid(ctx context.Context, sessionID string) (bool, error)
	// Refresh slides LastActivity to now.
	Refresh(ctx context.Context, sessionID string) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Destroy(ctx context.Context, sessionID string) error
	ListByUser(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error)
	DestroyAllForUser(ctx context.Context, userID string) (int, error)
	// RotateRefreshJTI swaps the current refresh id from expected to next and
	// slides LastActivity. A mismatch destroys the session and returns
	// ErrRefreshReplay.
	RotateRefreshJTI(ctx context.Context, sessionID, expected, next string) (*Session, error)
	Reap(ctx context.Context) (int, error)
	Ping(ctx context.Context) (time.Duration, error)
}

func expired(lastActivity, now time.Time, timeout time.Duration) bool {
	return now.Sub(lastActivity) >= timeout
}
