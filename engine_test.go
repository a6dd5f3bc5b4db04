package wardAuth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/wardAuth/password"
	"github.com/MrEthical07/wardAuth/rbac"
	"github.com/MrEthical07/wardAuth/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var wardCatalog = rbac.Catalog{
	Permissions: []string{
		"patient:read",
		"patient:read:assigned",
		"vitals:write",
		"admission:create",
		"user:manage",
	},
	Roles: []rbac.CatalogRole{
		{Code: "NURSE", Level: 20, Permissions: []string{"patient:read:assigned", "vitals:write"}},
		{Code: "DOCTOR", Level: 40, Permissions: []string{"patient:read", "admission:create"}},
		{Code: "ADMIN", Level: 90, Permissions: []string{"user:manage"}},
	},
	Users: map[string][]string{
		"u-nina":  {"NURSE"},
		"u-david": {"DOCTOR"},
		"u-ada":   {"ADMIN"},
	},
}

type engineFixture struct {
	engine *Engine
	users  *MemoryUserStore
	clock  *testClock
	audit  *ChannelSink
}

var (
	hashOnce sync.Once
	testHash string
)

func fixtureHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		h, err := password.NewBcrypt(4).Hash("correct horse")
		if err != nil {
			panic(err)
		}
		testHash = h
	})
	return testHash
}

func newEngineFixture(t *testing.T, rdb redis.UniversalClient, mutate func(*Config)) *engineFixture {
	t.Helper()

	users := NewMemoryUserStore()
	for _, u := range []UserRecord{
		{ID: "u-nina", Username: "nina", IsActive: true},
		{ID: "u-david", Username: "david", IsActive: true},
		{ID: "u-ada", Username: "ada", IsActive: true},
		{ID: "u-gone", Username: "gone", IsActive: false},
	} {
		u.PasswordHash = fixtureHash(t)
		users.Put(u)
	}

	cfg := validTestConfig()
	cfg.Lockout.Threshold = 3
	cfg.Session.ReapInterval = 0
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	cfg.Metrics.Enabled = true
	cfg.Password.UpgradeOnLogin = false
	if mutate != nil {
		mutate(&cfg)
	}

	clock := newTestClock()
	sink := NewChannelSink(512)
	b := New().
		WithConfig(cfg).
		WithUserStore(users).
		WithCatalog(wardCatalog).
		WithAuditSink(sink).
		WithClock(clock.Now)
	if rdb != nil {
		b = b.WithRedis(rdb)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &engineFixture{engine: engine, users: users, clock: clock, audit: sink}
}

func (f *engineFixture) login(t *testing.T, username string) *LoginResult {
	t.Helper()
	res, err := f.engine.Login(context.Background(), LoginRequest{
		Username:  username,
		Password:  "correct horse",
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Safari/604.1",
		IPAddress: "10.0.0.7",
	})
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return res
}

func TestLoginAuthenticateLogout(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()

	res := f.login(t, "nina")
	if res.Principal.UserID != "u-nina" || !res.Principal.HasRole("NURSE") {
		t.Fatalf("unexpected principal %+v", res.Principal)
	}
	if res.Tokens.TokenType != "Bearer" || res.Tokens.ExpiresIn != 3600 {
		t.Fatalf("unexpected token pair %+v", res.Tokens)
	}

	p, err := f.engine.Authenticate(ctx, res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.SessionID != res.Principal.SessionID || len(p.Permissions) != 2 {
		t.Fatalf("unexpected principal %+v", p)
	}

	sessions, err := f.engine.ListSessions(ctx, p)
	if err != nil || len(sessions) != 1 || !sessions[0].Current {
		t.Fatalf("ListSessions = %+v, %v", sessions, err)
	}
	if sessions[0].Device.DeviceType != session.DeviceMobile {
		t.Fatalf("expected mobile device, got %+v", sessions[0].Device)
	}

	if err := f.engine.Logout(ctx, p.SessionID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := f.engine.Logout(ctx, p.SessionID); err != nil {
		t.Fatalf("second Logout must succeed, got %v", err)
	}
	if _, err := f.engine.Authenticate(ctx, res.Tokens.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after logout, got %v", err)
	}
	if _, err := f.engine.RefreshTokens(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession after logout, got %v", err)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()

	cases := []LoginRequest{
		{Username: "nobody", Password: "correct horse"},
		{Username: "gone", Password: "correct horse"},
		{Username: "david", Password: "wrong"},
	}
	for _, req := range cases {
		_, err := f.engine.Login(ctx, req)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: expected ErrInvalidCredentials, got %v", req.Username, err)
		}
		cat, code := Classify(err)
		if cat != CategoryUnauthenticated || code != CodeInvalidCredentials {
			t.Fatalf("unexpected classification %v %s", cat, code)
		}
	}
}

func TestLoginLockout(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	bad := LoginRequest{Username: "david", Password: "nope"}

	for i := 0; i < 3; i++ {
		if _, err := f.engine.Login(ctx, bad); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	if _, err := f.engine.Login(ctx, LoginRequest{Username: "david", Password: "correct horse"}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	f.clock.Advance(31 * time.Minute)
	f.login(t, "david")
	rec, _ := f.users.Get("u-david")
	if rec.FailedLoginCount != 0 {
		t.Fatalf("expected failed count reset, got %d", rec.FailedLoginCount)
	}

	snap := f.engine.MetricsSnapshot()
	if snap.Counters[MetricAccountLockout] != 1 || snap.Counters[MetricLoginLocked] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestSessionCapEvictsLeastRecentlyActive(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()

	var first *LoginResult
	for i := 0; i < 3; i++ {
		res := f.login(t, "nina")
		if i == 0 {
			first = res
		}
		f.clock.Advance(time.Minute)
	}
	fourth := f.login(t, "nina")
	if len(fourth.Evicted) != 1 || fourth.Evicted[0] != first.Principal.SessionID {
		t.Fatalf("expected first session evicted, got %v", fourth.Evicted)
	}
	if _, err := f.engine.Authenticate(ctx, first.Tokens.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("evicted session must not authenticate, got %v", err)
	}
}

func TestSessionCapReject(t *testing.T) {
	f := newEngineFixture(t, nil, func(c *Config) {
		c.Session.MaxSessions = 1
		c.Session.LimitPolicy = session.LimitReject
	})
	f.login(t, "nina")
	_, err := f.engine.Login(context.Background(), LoginRequest{Username: "nina", Password: "correct horse"})
	if !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("expected ErrTooManySessions, got %v", err)
	}
	if cat, _ := Classify(err); cat != CategoryConflict {
		t.Fatalf("expected conflict category, got %v", cat)
	}
}

func TestInactivityExpiryAndSliding(t *testing.T) {
	// Inactivity runs out well before the access token does.
	f := newEngineFixture(t, nil, func(c *Config) {
		c.Session.InactivityTimeout = 10 * time.Minute
	})
	ctx := context.Background()
	res := f.login(t, "nina")

	f.clock.Advance(8 * time.Minute)
	if _, err := f.engine.Authenticate(ctx, res.Tokens.AccessToken); err != nil {
		t.Fatalf("Authenticate at 8m: %v", err)
	}
	f.clock.Advance(8 * time.Minute)
	if _, err := f.engine.Authenticate(ctx, res.Tokens.AccessToken); err != nil {
		t.Fatalf("activity must slide the window: %v", err)
	}

	f.clock.Advance(11 * time.Minute)
	claims, err := f.engine.VerifyAccess(res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("token must still verify: %v", err)
	}
	_, err = f.engine.CheckSession(ctx, claims)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if _, code := Classify(err); code != CodeSessionExpired {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestCheckSessionDoesNotExtend(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	res := f.login(t, "nina")

	claims, err := f.engine.VerifyAccess(res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	f.clock.Advance(20 * time.Minute)
	if _, err := f.engine.CheckSession(ctx, claims); err != nil {
		t.Fatalf("CheckSession: %v", err)
	}
	f.clock.Advance(11 * time.Minute)
	if ok, _ := f.engine.ValidateSession(ctx, claims.SessionID); ok {
		t.Fatal("CheckSession must not extend the session")
	}
}

func TestRefreshRotationAndReplay(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	res := f.login(t, "nina")

	next, err := f.engine.RefreshTokens(ctx, res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshTokens: %v", err)
	}
	p, err := f.engine.Authenticate(ctx, next.AccessToken)
	if err != nil || p.SessionID != res.Principal.SessionID {
		t.Fatalf("new pair must bind the same session: %+v, %v", p, err)
	}

	_, err = f.engine.RefreshTokens(ctx, res.Tokens.RefreshToken)
	if !errors.Is(err, ErrRefreshReplay) {
		t.Fatalf("expected ErrRefreshReplay, got %v", err)
	}
	if _, err := f.engine.Authenticate(ctx, next.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("replay must destroy the session, got %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	res := f.login(t, "nina")
	_, err := f.engine.RefreshTokens(context.Background(), res.Tokens.AccessToken)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestDestroySessionOwnership(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	nina := f.login(t, "nina")
	david := f.login(t, "david")

	err := f.engine.DestroySession(ctx, &david.Principal, nina.Principal.SessionID)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for a foreign session, got %v", err)
	}
	if _, err := f.engine.Authenticate(ctx, nina.Tokens.AccessToken); err != nil {
		t.Fatalf("foreign destroy must not touch the session: %v", err)
	}

	second := f.login(t, "nina")
	n, err := f.engine.DestroyOtherSessions(ctx, &second.Principal)
	if err != nil || n != 1 {
		t.Fatalf("DestroyOtherSessions = %d, %v", n, err)
	}
	if _, err := f.engine.Authenticate(ctx, second.Tokens.AccessToken); err != nil {
		t.Fatalf("current session must survive: %v", err)
	}
}

type assignedPatients map[string][]string

func (a assignedPatients) IsOwner(context.Context, string, string) (bool, error) { return false, nil }

func (a assignedPatients) IsAssigned(_ context.Context, userID, patientID string) (bool, error) {
	for _, id := range a[userID] {
		if id == patientID {
			return true, nil
		}
	}
	return false, nil
}

func TestAuthorizationFacade(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	f.engine.RegisterResolver("patient", assignedPatients{"u-nina": {"p-100"}})
	ctx := context.Background()

	checks := []struct {
		name string
		fn   func() (bool, error)
		want bool
	}{
		{"nurse any role", func() (bool, error) { return f.engine.HasAnyRole(ctx, "u-nina", []string{"NURSE", "DOCTOR"}) }, true},
		{"nurse no admin", func() (bool, error) { return f.engine.HasAnyRole(ctx, "u-nina", []string{"ADMIN"}) }, false},
		{"empty all", func() (bool, error) { return f.engine.HasAllPermissions(ctx, "u-nina", nil) }, true},
		{"empty any", func() (bool, error) { return f.engine.HasAnyPermission(ctx, "u-nina", nil) }, false},
		{"assigned patient", func() (bool, error) {
			return f.engine.CanAccessResource(ctx, "u-nina", "patient", "p-100", "read")
		}, true},
		{"unassigned patient", func() (bool, error) {
			return f.engine.CanAccessResource(ctx, "u-nina", "patient", "p-200", "read")
		}, false},
		{"doctor unscoped", func() (bool, error) {
			return f.engine.CanAccessResource(ctx, "u-david", "patient", "p-200", "read")
		}, true},
	}
	for _, c := range checks {
		got, err := c.fn()
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}

func TestPermissionDenialIsAudited(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := WithClientIP(context.Background(), "10.1.1.1")
	f.engine.LogPermissionDenial(ctx, "u-nina", "user:manage", "", "")
	f.engine.Close()

	for {
		select {
		case ev := <-f.audit.Events():
			if ev.EventType != auditEventPermissionDenied {
				continue
			}
			if ev.UserID != "u-nina" || ev.Permission != "user:manage" || ev.IP != "10.1.1.1" {
				t.Fatalf("unexpected event %+v", ev)
			}
			return
		default:
			t.Fatal("expected a permission_denied event")
		}
	}
}

func TestLockAccountEndsSessions(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	res := f.login(t, "david")

	if err := f.engine.LockAccount(ctx, "u-david", time.Hour); err != nil {
		t.Fatalf("LockAccount: %v", err)
	}
	if _, err := f.engine.Authenticate(ctx, res.Tokens.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected sessions destroyed, got %v", err)
	}
	if _, err := f.engine.Login(ctx, LoginRequest{Username: "david", Password: "correct horse"}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

func TestPasswordUpgradeOnLogin(t *testing.T) {
	f := newEngineFixture(t, nil, func(c *Config) {
		c.Password.UpgradeOnLogin = true
	})
	f.login(t, "ada")
	rec, _ := f.users.Get("u-ada")
	if !strings.HasPrefix(rec.PasswordHash, "$argon2id$") {
		t.Fatalf("expected argon2id rehash, got %q", rec.PasswordHash)
	}
	f.login(t, "ada")
}

func TestRedisBackedEngine(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newEngineFixture(t, rdb, func(c *Config) {
		c.Throttle.MaxRefreshesPerSession = 1
		c.Throttle.MaxLoginFailuresPerIP = 5
	})
	ctx := context.Background()
	res := f.login(t, "nina")

	if _, err := f.engine.Authenticate(ctx, res.Tokens.AccessToken); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	next, err := f.engine.RefreshTokens(ctx, res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshTokens: %v", err)
	}
	if _, err := f.engine.RefreshTokens(ctx, next.RefreshToken); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if d, err := f.engine.Ping(ctx); err != nil || d < 0 {
		t.Fatalf("Ping = %v, %v", d, err)
	}

	mr.Close()
	if _, err := f.engine.Authenticate(ctx, res.Tokens.AccessToken); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable with redis down, got %v", err)
	}

	_, err = f.engine.Login(ctx, LoginRequest{Username: "nina", Password: "correct horse", IPAddress: "10.1.1.1"})
	if !errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrRateLimited) {
		t.Fatalf("login with throttle backend down: got %v, want ErrStoreUnavailable", err)
	}
	if cat, _ := Classify(err); cat != CategoryInternal {
		t.Fatalf("category = %v, want internal", cat)
	}
	if n := f.engine.MetricsSnapshot().Counters[MetricLoginRateLimited]; n != 0 {
		t.Fatalf("login rate limited counter = %d, want 0", n)
	}
}

type stalledSink struct {
	release chan struct{}
}

func (s stalledSink) Record(ctx context.Context, _ AuditEvent) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func TestPermissionDenialDoesNotWaitOnAudit(t *testing.T) {
	cfg := validTestConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 1
	cfg.Audit.DropIfFull = false
	sink := stalledSink{release: make(chan struct{})}
	engine, err := New().
		WithConfig(cfg).
		WithUserStore(NewMemoryUserStore()).
		WithCatalog(wardCatalog).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() {
		close(sink.release)
		engine.Close()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 4 {
			engine.LogPermissionDenial(context.Background(), "u-nina", "user:manage", "", "")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("LogPermissionDenial waited on a stalled audit sink")
	}
	if engine.AuditDropped() == 0 {
		t.Fatal("expected dropped denial events")
	}
}

func TestBuildRequiresSigningSecret(t *testing.T) {
	cfg := validTestConfig()
	cfg.JWT.Secret = nil
	_, err := New().WithConfig(cfg).WithUserStore(NewMemoryUserStore()).WithCatalog(wardCatalog).Build()
	var ce *ConfigurationError
	if !errors.As(err, &ce) || ce.Field != "JWT.Secret" {
		t.Fatalf("expected JWT.Secret configuration error, got %v", err)
	}
}

func TestBuildRequiresCollaborators(t *testing.T) {
	if _, err := New().WithConfig(validTestConfig()).WithCatalog(wardCatalog).Build(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error without user store, got %v", err)
	}
	if _, err := New().WithConfig(validTestConfig()).WithUserStore(NewMemoryUserStore()).Build(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error without role store, got %v", err)
	}
}

func TestZeroEngineNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.Authenticate(context.Background(), "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.Login(context.Background(), LoginRequest{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
