package rbac

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/wardAuth/permission"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testCatalog = `
permissions:
  - vitals:write
  - vitals:read
  - patient:read
  - patient:update
  - patient:update:own
  - patient:update:assigned
  - admission:create
roles:
  - code: NURSE
    level: 20
    permissions: [vitals:write, vitals:read]
  - code: CLERK
    level: 10
    permissions: [patient:read]
  - code: PHYSICIAN
    level: 40
    permissions: [patient:update:own]
  - code: RESIDENT
    level: 30
    permissions: [patient:update:assigned]
  - code: ADMIN
    level: 90
    permissions: [patient:update, admission:create]
users:
  alice: [NURSE]
  bob: [NURSE, CLERK]
  carol: [PHYSICIAN]
  dave: [RESIDENT]
  erin: [ADMIN]
  frank: [PHYSICIAN, RESIDENT]
`

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	store, reg, err := LoadCatalog(strings.NewReader(testCatalog))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if opts.Store == nil {
		opts.Store = store
	}
	opts.Registry = reg
	e, err := NewEngine(opts)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

type patientResolver struct {
	owners    map[string]string
	assigned  map[string][]string
	ownerHits atomic.Int32
}

func (p *patientResolver) IsOwner(_ context.Context, userID, resourceID string) (bool, error) {
	p.ownerHits.Add(1)
	return p.owners[resourceID] == userID, nil
}

func (p *patientResolver) IsAssigned(_ context.Context, userID, resourceID string) (bool, error) {
	for _, u := range p.assigned[resourceID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

func newPatientResolver() *patientResolver {
	return &patientResolver{
		owners: map[string]string{"p-1": "carol", "p-2": "frank"},
		assigned: map[string][]string{
			"p-1": {"dave"},
			"p-3": {"carol", "frank"},
		},
	}
}

func TestResolveFlattensRoles(t *testing.T) {
	e := newTestEngine(t, Options{})
	g, err := e.Resolve(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := g.Permissions.Codes(); strings.Join(got, ",") != "patient:read,vitals:read,vitals:write" {
		t.Fatalf("permissions = %v", got)
	}
	if strings.Join(g.RoleCodes(), ",") != "NURSE,CLERK" {
		t.Fatalf("roles = %v", g.RoleCodes())
	}
	if g.HighestLevel() != 20 {
		t.Fatalf("HighestLevel = %d", g.HighestLevel())
	}

	none, err := e.Resolve(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Resolve unknown: %v", err)
	}
	if none.Permissions.Len() != 0 || len(none.Roles) != 0 {
		t.Fatalf("unknown user grants = %+v", none)
	}
}

func TestPredicates(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() (bool, error)
		want bool
	}{
		{"any role hit", func() (bool, error) { return e.HasAnyRole(ctx, "bob", []string{"ADMIN", "CLERK"}) }, true},
		{"any role miss", func() (bool, error) { return e.HasAnyRole(ctx, "alice", []string{"ADMIN"}) }, false},
		{"any role empty", func() (bool, error) { return e.HasAnyRole(ctx, "alice", nil) }, false},
		{"all perms across roles", func() (bool, error) {
			return e.HasAllPermissions(ctx, "bob", []string{"vitals:write", "patient:read"})
		}, true},
		{"all perms missing one", func() (bool, error) {
			return e.HasAllPermissions(ctx, "alice", []string{"vitals:write", "patient:read"})
		}, false},
		{"all perms empty", func() (bool, error) { return e.HasAllPermissions(ctx, "nobody", nil) }, true},
		{"any perm hit", func() (bool, error) { return e.HasAnyPermission(ctx, "alice", []string{"patient:read", "vitals:read"}) }, true},
		{"any perm miss", func() (bool, error) { return e.HasAnyPermission(ctx, "alice", []string{"admission:create"}) }, false},
		{"any perm empty", func() (bool, error) { return e.HasAnyPermission(ctx, "erin", nil) }, false},
		{"scoped grant does not satisfy unscoped", func() (bool, error) {
			return e.HasAnyPermission(ctx, "carol", []string{"patient:update"})
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn()
			if err != nil {
				t.Fatalf("error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAllPermissionsIsConjunctionOfAny(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()
	codes := []string{"vitals:write", "patient:read", "admission:create", "vitals:read"}
	for _, user := range []string{"alice", "bob", "carol", "erin", "nobody"} {
		for _, a := range codes {
			for _, b := range codes {
				all, _ := e.HasAllPermissions(ctx, user, []string{a, b})
				anyA, _ := e.HasAnyPermission(ctx, user, []string{a})
				anyB, _ := e.HasAnyPermission(ctx, user, []string{b})
				if all != (anyA && anyB) {
					t.Fatalf("user %s codes %s,%s: all=%v anyA=%v anyB=%v", user, a, b, all, anyA, anyB)
				}
			}
		}
	}
}

func TestCanAccessResource(t *testing.T) {
	e := newTestEngine(t, Options{})
	e.RegisterResolver("patient", newPatientResolver())
	ctx := context.Background()

	tests := []struct {
		user, resource string
		want           bool
	}{
		{"erin", "p-9", true},   // unscoped grant
		{"carol", "p-1", true},  // owner
		{"carol", "p-3", false}, // assigned but only holds :own
		{"dave", "p-1", true},   // assigned
		{"dave", "p-2", false},
		{"frank", "p-2", true}, // owner
		{"frank", "p-3", true}, // falls through to assigned
		{"alice", "p-1", false},
		{"carol", "", false},
	}
	for _, tt := range tests {
		got, err := e.CanAccessResource(ctx, tt.user, "patient", tt.resource, "update")
		if err != nil {
			t.Fatalf("%s/%s: %v", tt.user, tt.resource, err)
		}
		if got != tt.want {
			t.Fatalf("CanAccessResource(%s, %s) = %v, want %v", tt.user, tt.resource, got, tt.want)
		}
	}
}

func TestCanAccessResourceUnscopedSkipsResolver(t *testing.T) {
	e := newTestEngine(t, Options{})
	r := newPatientResolver()
	e.RegisterResolver("patient", r)
	if ok, _ := e.CanAccessResource(context.Background(), "erin", "patient", "p-1", "update"); !ok {
		t.Fatal("unscoped grant denied")
	}
	if r.ownerHits.Load() != 0 {
		t.Fatal("resolver consulted despite unscoped grant")
	}
}

func TestCanAccessResourceWithoutResolver(t *testing.T) {
	e := newTestEngine(t, Options{})
	if ok, err := e.CanAccessResource(context.Background(), "carol", "patient", "p-1", "update"); ok || err != nil {
		t.Fatalf("scoped access without resolver = %v, %v", ok, err)
	}
}

func TestCanAccessResourceResolverError(t *testing.T) {
	e := newTestEngine(t, Options{})
	boom := errors.New("db down")
	e.RegisterResolver("patient", ResolverFuncs{
		Owner: func(context.Context, string, string) (bool, error) { return false, boom },
	})
	_, err := e.CanAccessResource(context.Background(), "carol", "patient", "p-1", "update")
	if !errors.Is(err, boom) {
		t.Fatalf("expected resolver error, got %v", err)
	}
}

type failingStore struct{}

func (failingStore) RolesForUser(context.Context, string) ([]permission.Role, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) PermissionsForRoles(context.Context, []string) ([]permission.Permission, error) {
	return nil, errors.New("connection refused")
}

func TestStoreFailureIsReported(t *testing.T) {
	e := newTestEngine(t, Options{Store: failingStore{}})
	if _, err := e.HasAnyRole(context.Background(), "alice", []string{"NURSE"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

type countingStore struct {
	Store
	calls atomic.Int32
}

func (c *countingStore) RolesForUser(ctx context.Context, userID string) ([]permission.Role, error) {
	c.calls.Add(1)
	return c.Store.RolesForUser(ctx, userID)
}

func TestRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	base, _, err := LoadCatalog(strings.NewReader(testCatalog))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	store := &countingStore{Store: base}
	e := newTestEngine(t, Options{Store: store, Cache: NewRedisCache(rdb, "wg"), CacheTTL: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := e.HasAllPermissions(ctx, "bob", []string{"vitals:write", "patient:read"})
		if err != nil || !ok {
			t.Fatalf("HasAllPermissions = %v, %v", ok, err)
		}
	}
	if store.calls.Load() != 1 {
		t.Fatalf("store calls = %d, want 1", store.calls.Load())
	}
	if !mr.Exists("wg:bob") {
		t.Fatal("cache entry missing")
	}

	// A role change becomes visible after invalidation or TTL expiry.
	if err := base.Assign("bob", "CLERK"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if ok, _ := e.HasAnyPermission(ctx, "bob", []string{"vitals:write"}); !ok {
		t.Fatal("cached grants should still apply before expiry")
	}
	mr.FastForward(2 * time.Minute)
	if ok, _ := e.HasAnyPermission(ctx, "bob", []string{"vitals:write"}); ok {
		t.Fatal("revoked permission still granted after cache expiry")
	}

	if err := base.Assign("bob", "NURSE"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := e.Invalidate(ctx, "bob"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if ok, _ := e.HasAnyPermission(ctx, "bob", []string{"vitals:write"}); !ok {
		t.Fatal("granted permission missing after invalidation")
	}

	mr.Set("wg:alice", "not cbor")
	if ok, err := e.HasAnyRole(ctx, "alice", []string{"NURSE"}); err != nil || !ok {
		t.Fatalf("corrupt cache entry should fall back to the store: %v, %v", ok, err)
	}
}

func TestLogPermissionDenial(t *testing.T) {
	var got []Denial
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	e := newTestEngine(t, Options{
		Denials: DenialRecorderFunc(func(_ context.Context, d Denial) { got = append(got, d) }),
		Now:     func() time.Time { return at },
	})
	e.LogPermissionDenial(context.Background(), "alice", "patient:update", "patient", "p-1")
	if len(got) != 1 {
		t.Fatalf("denials = %d", len(got))
	}
	want := Denial{UserID: "alice", Permission: "patient:update", ResourceType: "patient", ResourceID: "p-1", At: at}
	if got[0] != want {
		t.Fatalf("denial = %+v", got[0])
	}

	// No recorder: must not panic.
	newTestEngine(t, Options{}).LogPermissionDenial(context.Background(), "alice", "x:y", "", "")
}

func TestLoadCatalogRejectsUnknownRole(t *testing.T) {
	_, _, err := LoadCatalog(strings.NewReader(`
permissions: [a:b]
roles:
  - code: R
    permissions: [a:b]
users:
  u: [MISSING]
`))
	if err == nil {
		t.Fatal("expected unknown role error")
	}
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := NewEngine(Options{}); err == nil {
		t.Fatal("expected error without store")
	}
	if _, err := NewEngine(Options{Store: failingStore{}, Cache: NewRedisCache(nil, "")}); err == nil {
		t.Fatal("expected error for cache without TTL")
	}
}
