package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/wardAuth/permission"
)

// ErrStoreUnavailable wraps role store failures.
var ErrStoreUnavailable = errors.New("role store unavailable")

// Denial is one refused authorization decision.
type Denial struct {
	UserID       string
	Permission   string
	ResourceType string
	ResourceID   string
	At           time.Time
}

// DenialRecorder receives denials. Implementations must not block.
type DenialRecorder interface {
	RecordDenial(ctx context.Context, d Denial)
}

// DenialRecorderFunc adapts a function to DenialRecorder.
type DenialRecorderFunc func(ctx context.Context, d Denial)

// RecordDenial implements DenialRecorder.
func (f DenialRecorderFunc) RecordDenial(ctx context.Context, d Denial) { f(ctx, d) }

// Options configures an Engine. Store is required.
type Options struct {
	Store    Store
	Registry *permission.Registry
	Cache    Cache
	CacheTTL time.Duration
	Denials  DenialRecorder
	Logger   *slog.Logger
	Now      func() time.Time
}

// Engine answers authorization predicates. It is safe for concurrent use.
type Engine struct {
	store    Store
	registry *permission.Registry
	cache    Cache
	cacheTTL time.Duration
	denials  DenialRecorder
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	resolvers map[string]ResourceResolver
}

// NewEngine returns an Engine over opts.Store.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("rbac: store is required")
	}
	if opts.Cache != nil && opts.CacheTTL <= 0 {
		return nil, errors.New("rbac: cache requires a positive CacheTTL")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:     opts.Store,
		registry:  opts.Registry,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		denials:   opts.Denials,
		logger:    opts.Logger.With("component", "rbac"),
		now:       opts.Now,
		resolvers: make(map[string]ResourceResolver),
	}, nil
}

// RegisterResolver installs the ownership resolver for resourceType,
// replacing any previous one.
func (e *Engine) RegisterResolver(resourceType string, r ResourceResolver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r == nil {
		delete(e.resolvers, resourceType)
		return
	}
	e.resolvers[resourceType] = r
}

func (e *Engine) resolver(resourceType string) ResourceResolver {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolvers[resourceType]
}

// Resolve returns the user's current grants.
func (e *Engine) Resolve(ctx context.Context, userID string) (*Grants, error) {
	if e.cache != nil {
		snap, ok, err := e.cache.Get(ctx, userID)
		if err != nil {
			e.logger.Warn("grant cache read failed", "user_id", userID, "error", err)
		} else if ok {
			return e.fromSnapshot(snap), nil
		}
	}

	roles, err := e.store.RolesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	codes := make([]string, 0, len(roles))
	for _, r := range roles {
		codes = append(codes, r.Code)
	}

	var perms []permission.Permission
	if len(codes) > 0 {
		perms, err = e.store.PermissionsForRoles(ctx, codes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	snap := Snapshot{Roles: roles, Permissions: make([]string, 0, len(perms))}
	for _, p := range perms {
		snap.Permissions = append(snap.Permissions, p.Code)
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, userID, snap, e.cacheTTL); err != nil {
			e.logger.Warn("grant cache write failed", "user_id", userID, "error", err)
		}
	}
	return e.fromSnapshot(snap), nil
}

func (e *Engine) fromSnapshot(s Snapshot) *Grants {
	return &Grants{
		Roles:       s.Roles,
		Permissions: permission.NewSet(e.registry, s.Permissions...),
	}
}

// Invalidate drops the cached grants for userID.
func (e *Engine) Invalidate(ctx context.Context, userID string) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Invalidate(ctx, userID)
}

// HasAnyRole reports whether the user holds any of roleCodes.
func (e *Engine) HasAnyRole(ctx context.Context, userID string, roleCodes []string) (bool, error) {
	if len(roleCodes) == 0 {
		return false, nil
	}
	g, err := e.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return g.HasAnyRole(roleCodes), nil
}

// HasAllPermissions reports whether the user holds every code.
func (e *Engine) HasAllPermissions(ctx context.Context, userID string, codes []string) (bool, error) {
	if len(codes) == 0 {
		return true, nil
	}
	g, err := e.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return g.HasAllPermissions(codes), nil
}

// HasAnyPermission reports whether the user holds at least one code.
func (e *Engine) HasAnyPermission(ctx context.Context, userID string, codes []string) (bool, error) {
	if len(codes) == 0 {
		return false, nil
	}
	g, err := e.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return g.HasAnyPermission(codes), nil
}

// CanAccessResource checks resourceType:action, then resourceType:action:own
// against the owner, then resourceType:action:assigned against the
// assignment set, and returns on the first match.
func (e *Engine) CanAccessResource(ctx context.Context, userID, resourceType, resourceID, action string) (bool, error) {
	g, err := e.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return e.CanAccessWithGrants(ctx, userID, g, resourceType, resourceID, action)
}

// CanAccessWithGrants is CanAccessResource over grants the caller already resolved.
func (e *Engine) CanAccessWithGrants(ctx context.Context, userID string, g *Grants, resourceType, resourceID, action string) (bool, error) {
	if g == nil {
		return false, nil
	}
	if g.Permissions.Has(permission.Format(resourceType, action, permission.ScopeNone)) {
		return true, nil
	}

	hasOwn := g.Permissions.Has(permission.Format(resourceType, action, permission.ScopeOwn))
	hasAssigned := g.Permissions.Has(permission.Format(resourceType, action, permission.ScopeAssigned))
	if !hasOwn && !hasAssigned {
		return false, nil
	}
	if resourceID == "" {
		return false, nil
	}
	r := e.resolver(resourceType)
	if r == nil {
		return false, nil
	}

	if hasOwn {
		ok, err := r.IsOwner(ctx, userID, resourceID)
		if err != nil {
			return false, fmt.Errorf("ownership lookup for %s: %w", resourceType, err)
		}
		if ok {
			return true, nil
		}
	}
	if hasAssigned {
		ok, err := r.IsAssigned(ctx, userID, resourceID)
		if err != nil {
			return false, fmt.Errorf("assignment lookup for %s: %w", resourceType, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// LogPermissionDenial hands a denial to the recorder without waiting on it.
// resourceType and resourceID may be empty.
func (e *Engine) LogPermissionDenial(ctx context.Context, userID, descriptor, resourceType, resourceID string) {
	e.logger.Info("permission denied",
		"user_id", userID,
		"permission", descriptor,
		"resource_type", resourceType,
		"resource_id", resourceID,
	)
	if e.denials == nil {
		return
	}
	e.denials.RecordDenial(ctx, Denial{
		UserID:       userID,
		Permission:   descriptor,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		At:           e.now(),
	})
}
