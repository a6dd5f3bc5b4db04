package flows

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrEthical07/wardAuth/internal/rate"
	"github.com/MrEthical07/wardAuth/jwt"
	"github.com/MrEthical07/wardAuth/permission"
	"github.com/MrEthical07/wardAuth/rbac"
	"github.com/MrEthical07/wardAuth/session"
)

type fakeUsers struct {
	users   map[string]*LoginUser
	locked  map[string]time.Time
	resets  int
	dummies int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		users: map[string]*LoginUser{
			"alice": {ID: "u-alice", Username: "alice", PasswordHash: "pw-alice", Active: true},
			"ghost": {ID: "u-ghost", Username: "ghost", PasswordHash: "pw-ghost", Active: false},
		},
		locked: map[string]time.Time{},
	}
}

func (f *fakeUsers) find(_ context.Context, username string) (LoginUser, bool, error) {
	u, ok := f.users[username]
	if !ok {
		return LoginUser{}, false, nil
	}
	return *u, true, nil
}

func (f *fakeUsers) byID(id string) *LoginUser {
	for _, u := range f.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func testDeps(t *testing.T, users *fakeUsers, store session.Backend, now func() time.Time) LoginDeps {
	t.Helper()
	mgr, err := jwt.NewManager(jwt.Config{
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("flows-test-secret-flows-test-secret"),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	grants := &rbac.Grants{
		Roles:       []permission.Role{{Code: "NURSE", Name: "Nurse", Level: 2}},
		Permissions: permission.NewSet(nil, "vitals:write"),
	}
	return LoginDeps{
		Now:              now,
		LockoutThreshold: 3,
		LockoutDuration:  30 * time.Minute,
		FindUser:         users.find,
		VerifyPassword: func(password, encoded string) (bool, error) {
			return "pw-"+password == encoded, nil
		},
		DummyVerify: func(string) { users.dummies++ },
		RecordFailedAttempt: func(_ context.Context, id string) (int, error) {
			u := users.byID(id)
			u.FailedLoginCount++
			return u.FailedLoginCount, nil
		},
		LockAccount: func(_ context.Context, id string, until time.Time) error {
			users.byID(id).LockedUntil = until
			users.locked[id] = until
			return nil
		},
		ResetFailedAttempts: func(_ context.Context, id string) error {
			users.byID(id).FailedLoginCount = 0
			users.resets++
			return nil
		},
		ResolveGrants:  func(context.Context, string) (*rbac.Grants, error) { return grants, nil },
		CreateSession:  store.Create,
		DestroySession: store.Destroy,
		NewJTI:         jwt.NewJTI,
		Issue:          mgr.Issue,
	}
}

func newMemoryBackend(t *testing.T, now func() time.Time) session.Backend {
	t.Helper()
	store, err := session.NewMemoryStore(session.Options{
		InactivityTimeout: 30 * time.Minute,
		MaxSessions:       3,
		Now:               now,
	})
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	return store
}

func TestRunLoginSuccess(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }
	users := newFakeUsers()
	users.users["alice"].FailedLoginCount = 2
	store := newMemoryBackend(t, now)
	deps := testDeps(t, users, store, now)

	res := RunLogin(context.Background(), LoginInput{Username: "alice", Password: "alice"}, deps)
	if res.Failure != LoginFailureNone {
		t.Fatalf("expected success, got kind %d err %v", res.Failure, res.Err)
	}
	if res.Tokens == nil || res.Tokens.AccessToken == "" {
		t.Fatal("expected tokens")
	}
	sess, err := store.Get(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("session not created: %v", err)
	}
	if sess.RefreshJTI != res.Tokens.RefreshJTI {
		t.Fatalf("session jti %q != token jti %q", sess.RefreshJTI, res.Tokens.RefreshJTI)
	}
	if users.resets != 1 || users.users["alice"].FailedLoginCount != 0 {
		t.Fatal("expected failed attempts reset")
	}
}

func TestRunLoginUnknownAndInactiveLookIdentical(t *testing.T) {
	now := time.Now
	users := newFakeUsers()
	deps := testDeps(t, users, newMemoryBackend(t, now), now)

	for _, name := range []string{"nobody", "ghost"} {
		res := RunLogin(context.Background(), LoginInput{Username: name, Password: name}, deps)
		if res.Failure != LoginFailureInvalidCredentials {
			t.Fatalf("%s: expected invalid credentials, got %d", name, res.Failure)
		}
	}
	if users.dummies != 2 {
		t.Fatalf("expected dummy verification for both, got %d", users.dummies)
	}
}

func TestRunLoginLockout(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := func() time.Time { return at }
	users := newFakeUsers()
	deps := testDeps(t, users, newMemoryBackend(t, now), now)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res := RunLogin(ctx, LoginInput{Username: "alice", Password: "wrong"}, deps)
		if res.Failure != LoginFailureInvalidCredentials {
			t.Fatalf("attempt %d: expected invalid credentials, got %d", i, res.Failure)
		}
		if res.LockedNow != (i == 3) {
			t.Fatalf("attempt %d: LockedNow=%v", i, res.LockedNow)
		}
	}

	res := RunLogin(ctx, LoginInput{Username: "alice", Password: "alice"}, deps)
	if res.Failure != LoginFailureLocked {
		t.Fatalf("expected locked with correct password, got %d", res.Failure)
	}

	at = at.Add(31 * time.Minute)
	res = RunLogin(ctx, LoginInput{Username: "alice", Password: "alice"}, deps)
	if res.Failure != LoginFailureNone {
		t.Fatalf("expected success after lockout window, got %d", res.Failure)
	}
}

func TestRunLoginIssueFailureDestroysSession(t *testing.T) {
	now := time.Now
	users := newFakeUsers()
	store := newMemoryBackend(t, now)
	deps := testDeps(t, users, store, now)
	deps.Issue = func(jwt.IssueInput) (*jwt.TokenPair, error) { return nil, errors.New("signer down") }

	res := RunLogin(context.Background(), LoginInput{Username: "alice", Password: "alice"}, deps)
	if res.Failure != LoginFailureIssue {
		t.Fatalf("expected issue failure, got %d", res.Failure)
	}
	if ok, _ := store.IsValid(context.Background(), res.SessionID); ok {
		t.Fatal("session should be destroyed after issue failure")
	}
}

func TestRunLoginThrottle(t *testing.T) {
	transport := fmt.Errorf("%w: dial tcp: connection refused", rate.ErrRedisUnavailable)
	tests := []struct {
		name string
		err  error
		want LoginFailureKind
	}{
		{"window exhausted", rate.ErrRateLimited, LoginFailureRateLimited},
		{"throttle backend down", transport, LoginFailureLookup},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			now := time.Now
			deps := testDeps(t, newFakeUsers(), newMemoryBackend(t, now), now)
			deps.CheckRate = func(context.Context, string) error { return tc.err }

			res := RunLogin(context.Background(), LoginInput{Username: "alice", Password: "alice", IPAddress: "10.0.0.1"}, deps)
			if res.Failure != tc.want || !errors.Is(res.Err, tc.err) {
				t.Fatalf("got failure %d err %v, want %d", res.Failure, res.Err, tc.want)
			}
		})
	}
}

func TestRunRefreshThrottleBackendDown(t *testing.T) {
	now := time.Now
	store := newMemoryBackend(t, now)
	deps := testDeps(t, newFakeUsers(), store, now)
	mgr, _ := jwt.NewManager(jwt.Config{
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("flows-test-secret-flows-test-secret"),
	})
	ctx := context.Background()
	login := RunLogin(ctx, LoginInput{Username: "alice", Password: "alice"}, deps)
	if login.Failure != LoginFailureNone {
		t.Fatalf("login failed: %d", login.Failure)
	}

	rdeps := RefreshDeps{
		ParseRefresh:  mgr.ParseRefresh,
		CheckRate:     func(context.Context, string) error { return rate.ErrRedisUnavailable },
		NewJTI:        jwt.NewJTI,
		ResolveGrants: deps.ResolveGrants,
		Issue:         mgr.Issue,
		SessionStore:  store,
	}
	res := RunRefresh(ctx, login.Tokens.RefreshToken, rdeps)
	if res.Failure != RefreshFailureRotate || !errors.Is(res.Err, rate.ErrRedisUnavailable) {
		t.Fatalf("got failure %d err %v, want rotate failure", res.Failure, res.Err)
	}

	rdeps.CheckRate = func(context.Context, string) error { return rate.ErrRateLimited }
	if res := RunRefresh(ctx, login.Tokens.RefreshToken, rdeps); res.Failure != RefreshFailureRateLimited {
		t.Fatalf("got failure %d, want rate limited", res.Failure)
	}
}

func TestRunLoginCountRestartsAfterLockExpires(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := func() time.Time { return at }
	users := newFakeUsers()
	deps := testDeps(t, users, newMemoryBackend(t, now), now)
	ctx := context.Background()

	for range 3 {
		RunLogin(ctx, LoginInput{Username: "alice", Password: "wrong"}, deps)
	}
	if !users.byID("u-alice").LockedUntil.After(at) {
		t.Fatal("account should be locked after 3 failures")
	}

	at = at.Add(31 * time.Minute)
	res := RunLogin(ctx, LoginInput{Username: "alice", Password: "wrong"}, deps)
	if res.Failure != LoginFailureInvalidCredentials || res.LockedNow || res.Attempts != 1 {
		t.Fatalf("first failure after expiry: failure=%d locked=%v attempts=%d", res.Failure, res.LockedNow, res.Attempts)
	}
	if res := RunLogin(ctx, LoginInput{Username: "alice", Password: "alice"}, deps); res.Failure != LoginFailureNone {
		t.Fatalf("correct password refused: %d", res.Failure)
	}
}

func TestRunRefreshRotatesAndDetectsReplay(t *testing.T) {
	now := time.Now
	users := newFakeUsers()
	store := newMemoryBackend(t, now)
	deps := testDeps(t, users, store, now)
	mgr, _ := jwt.NewManager(jwt.Config{
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("flows-test-secret-flows-test-secret"),
	})
	ctx := context.Background()

	login := RunLogin(ctx, LoginInput{Username: "alice", Password: "alice"}, deps)
	if login.Failure != LoginFailureNone {
		t.Fatalf("login failed: %d", login.Failure)
	}

	rdeps := RefreshDeps{
		ParseRefresh:  mgr.ParseRefresh,
		NewJTI:        jwt.NewJTI,
		ResolveGrants: deps.ResolveGrants,
		Issue:         mgr.Issue,
		SessionStore:  store,
	}
	first := RunRefresh(ctx, login.Tokens.RefreshToken, rdeps)
	if first.Failure != RefreshFailureNone {
		t.Fatalf("refresh failed: %d %v", first.Failure, first.Err)
	}
	if first.SessionID != login.SessionID {
		t.Fatal("refresh must stay bound to the same session")
	}

	replay := RunRefresh(ctx, login.Tokens.RefreshToken, rdeps)
	if replay.Failure != RefreshFailureReplay {
		t.Fatalf("expected replay, got %d", replay.Failure)
	}
	if ok, _ := store.IsValid(ctx, login.SessionID); ok {
		t.Fatal("replay must destroy the session")
	}

	gone := RunRefresh(ctx, first.Tokens.RefreshToken, rdeps)
	if gone.Failure != RefreshFailureSessionNotFound {
		t.Fatalf("expected session not found after replay, got %d", gone.Failure)
	}
}

func TestRunValidateSteps(t *testing.T) {
	now := time.Now
	users := newFakeUsers()
	store := newMemoryBackend(t, now)
	deps := testDeps(t, users, store, now)
	mgr, _ := jwt.NewManager(jwt.Config{
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("flows-test-secret-flows-test-secret"),
	})
	ctx := context.Background()
	vdeps := ValidateDeps{ParseAccess: mgr.ParseAccess, SessionStore: store}

	login := RunLogin(ctx, LoginInput{Username: "alice", Password: "alice"}, deps)
	if res := RunValidate(ctx, login.Tokens.AccessToken, vdeps); res.Failure != ValidateFailureNone {
		t.Fatalf("expected valid, got %d", res.Failure)
	}
	if res := RunVerifyToken("garbage", vdeps); res.Failure != ValidateFailureToken {
		t.Fatalf("expected token failure, got %d", res.Failure)
	}

	if err := RunLogout(ctx, login.SessionID, LogoutDeps{SessionStore: store}); err != nil {
		t.Fatalf("logout: %v", err)
	}
	res := RunValidate(ctx, login.Tokens.AccessToken, vdeps)
	if res.Failure != ValidateFailureSessionNotFound {
		t.Fatalf("expected session not found after logout, got %d", res.Failure)
	}
}

func TestRunLogoutOthers(t *testing.T) {
	now := time.Now
	users := newFakeUsers()
	store := newMemoryBackend(t, now)
	deps := testDeps(t, users, store, now)
	ctx := context.Background()

	var keep string
	for i := 0; i < 3; i++ {
		res := RunLogin(ctx, LoginInput{Username: "alice", Password: "alice"}, deps)
		keep = res.SessionID
	}
	n, err := RunLogoutOthers(ctx, "u-alice", keep, LogoutDeps{SessionStore: store})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 destroyed, got %d %v", n, err)
	}
	list, _ := store.ListByUser(ctx, "u-alice", keep)
	if len(list) != 1 || !list[0].Current {
		t.Fatalf("expected only the current session to remain, got %+v", list)
	}
}
