package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Backend for tests and single-instance
// deployments. One mutex serializes every mutation, which makes the
// prune, evict and insert sequence in Create atomic.
type MemoryStore struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[string]map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts Options) (*MemoryStore, error) {
	opts = opts.normalized()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &MemoryStore{
		opts:     opts,
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]struct{}),
	}, nil
}

func (m *MemoryStore) live(sess *Session, now time.Time) bool {
	return !expired(sess.LastActivity, now, m.opts.InactivityTimeout)
}

// removeLocked deletes a session and its index entry. m.mu must be held.
func (m *MemoryStore) removeLocked(sessionID string) bool {
	sess, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	delete(m.sessions, sessionID)
	if ids := m.byUser[sess.UserID]; ids != nil {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(m.byUser, sess.UserID)
		}
	}
	return true
}

// userSessionsLocked returns the user's live sessions, oldest activity
// first, dropping expired ones on the way.
func (m *MemoryStore) userSessionsLocked(userID string, now time.Time) []*Session {
	var out []*Session
	for id := range m.byUser[userID] {
		sess := m.sessions[id]
		if sess == nil || !m.live(sess, now) {
			m.removeLocked(id)
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].LastActivity.Before(out[j].LastActivity)
	})
	return out
}

// Create implements Backend.
func (m *MemoryStore) Create(_ context.Context, in CreateInput) (string, []string, error) {
	if in.UserID == "" {
		return "", nil, errors.New("session: user id is required")
	}
	sid := in.SessionID
	if sid == "" {
		var err error
		if sid, err = NewSessionID(); err != nil {
			return "", nil, err
		}
	} else if checkSessionID(sid) != nil {
		return "", nil, errors.New("session: malformed session id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Now()
	if existing, ok := m.sessions[sid]; ok {
		if m.live(existing, now) {
			return "", nil, ErrSessionIDInUse
		}
		m.removeLocked(sid)
	}
	current := m.userSessionsLocked(in.UserID, now)

	var evicted []string
	if limit := m.opts.MaxSessions; limit > 0 && len(current) >= limit {
		if m.opts.Policy == LimitReject {
			return "", nil, ErrTooManySessions
		}
		for len(current) >= limit {
			m.removeLocked(current[0].SessionID)
			evicted = append(evicted, current[0].SessionID)
			current = current[1:]
		}
	}

	m.sessions[sid] = &Session{
		SessionID:    sid,
		UserID:       in.UserID,
		Username:     in.Username,
		Roles:        append([]string(nil), in.Roles...),
		Device:       in.Device,
		IPAddress:    in.IPAddress,
		CreatedAt:    now,
		LastActivity: now,
		RefreshJTI:   in.RefreshJTI,
	}
	ids := m.byUser[in.UserID]
	if ids == nil {
		ids = make(map[string]struct{})
		m.byUser[in.UserID] = ids
	}
	ids[sid] = struct{}{}

	return sid, evicted, nil
}

// IsValid implements Backend.
func (m *MemoryStore) IsValid(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	return ok && m.live(sess, m.opts.Now()), nil
}

// Refresh implements Backend.
func (m *MemoryStore) Refresh(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	now := m.opts.Now()
	if !m.live(sess, now) {
		m.removeLocked(sessionID)
		return ErrSessionExpired
	}
	if now.After(sess.LastActivity) {
		sess.LastActivity = now
	}
	return nil
}

// Get implements Backend. The returned session is a copy.
func (m *MemoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !m.live(sess, m.opts.Now()) {
		return nil, ErrSessionExpired
	}
	return cloneSession(sess), nil
}

// Destroy implements Backend.
func (m *MemoryStore) Destroy(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(sessionID)
	return nil
}

// ListByUser implements Backend.
func (m *MemoryStore) ListByUser(_ context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.userSessionsLocked(userID, m.opts.Now())
	out := make([]SessionInfo, 0, len(current))
	for i := len(current) - 1; i >= 0; i-- {
		out = append(out, current[i].info(currentSessionID))
	}
	return out, nil
}

// DestroyAllForUser implements Backend.
func (m *MemoryStore) DestroyAllForUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id := range m.byUser[userID] {
		if m.removeLocked(id) {
			n++
		}
	}
	delete(m.byUser, userID)
	return n, nil
}

// RotateRefreshJTI implements Backend.
func (m *MemoryStore) RotateRefreshJTI(_ context.Context, sessionID, expected, next string) (*Session, error) {
	if expected == "" || next == "" {
		return nil, errors.New("session: refresh ids must be non-empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := m.opts.Now()
	if !m.live(sess, now) {
		m.removeLocked(sessionID)
		return nil, ErrSessionExpired
	}
	if sess.RefreshJTI != expected {
		m.removeLocked(sessionID)
		return nil, ErrRefreshReplay
	}
	sess.RefreshJTI = next
	if now.After(sess.LastActivity) {
		sess.LastActivity = now
	}
	return cloneSession(sess), nil
}

// Reap implements Backend.
func (m *MemoryStore) Reap(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.opts.Now()
	n := 0
	for id, sess := range m.sessions {
		if !m.live(sess, now) && m.removeLocked(id) {
			n++
		}
	}
	return n, nil
}

// Ping implements Backend.
func (m *MemoryStore) Ping(context.Context) (time.Duration, error) { return 0, nil }

func cloneSession(s *Session) *Session {
	out := *s
	out.Roles = append([]string(nil), s.Roles...)
	return &out
}

var _ Backend = (*MemoryStore)(nil)
