package wardAuth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryUserStore is an in-process UserStore for tests, demos and single-node
// tools. Usernames match case-insensitively.
type MemoryUserStore struct {
	mu    sync.Mutex
	users map[string]*UserRecord // keyed by lower-cased username
	byID  map[string]*UserRecord
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users: make(map[string]*UserRecord),
		byID:  make(map[string]*UserRecord),
	}
}

// Put inserts or replaces a user record.
func (m *MemoryUserStore) Put(u UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := u
	if old, ok := m.byID[u.ID]; ok {
		delete(m.users, strings.ToLower(old.Username))
	}
	m.users[strings.ToLower(u.Username)] = &rec
	m.byID[u.ID] = &rec
}

// Get returns a copy of the record for userID.
func (m *MemoryUserStore) Get(userID string) (UserRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[userID]
	if !ok {
		return UserRecord{}, false
	}
	return *rec, true
}

func (m *MemoryUserStore) FindByUsername(_ context.Context, username string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[strings.ToLower(username)]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := *rec
	return &out, nil
}

func (m *MemoryUserStore) RecordFailedAttempt(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	rec.FailedLoginCount++
	return rec.FailedLoginCount, nil
}

func (m *MemoryUserStore) ResetFailedAttempts(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	rec.FailedLoginCount = 0
	rec.LockedUntil = time.Time{}
	return nil
}

func (m *MemoryUserStore) LockAccount(_ context.Context, userID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	rec.LockedUntil = until
	return nil
}

func (m *MemoryUserStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	rec.PasswordHash = hash
	return nil
}

var (
	_ UserStore           = (*MemoryUserStore)(nil)
	_ PasswordHashUpdater = (*MemoryUserStore)(nil)
)
