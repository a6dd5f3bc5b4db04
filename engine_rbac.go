package wardAuth

import (
	"context"

	"github.com/MrEthical07/wardAuth/rbac"
)

// Grants is a user's resolved roles and permissions.
type Grants = rbac.Grants

// ResourceResolver answers ownership and assignment lookups for one resource type.
type ResourceResolver = rbac.ResourceResolver

// Resolve returns userID's current roles and permissions from the role store,
// through the grant cache when one is configured.
func (e *Engine) Resolve(ctx context.Context, userID string) (*Grants, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	g, err := e.rbac.Resolve(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return g, nil
}

// Invalidate drops userID's cached grants after an administrative role change.
func (e *Engine) Invalidate(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return storeErr(e.rbac.Invalidate(ctx, userID))
}

// RegisterResolver installs the ownership lookup for resourceType.
func (e *Engine) RegisterResolver(resourceType string, r ResourceResolver) {
	if e == nil || e.rbac == nil {
		return
	}
	e.rbac.RegisterResolver(resourceType, r)
}

// HasAnyRole reports whether userID holds at least one of roleCodes. An
// empty list is never satisfied.
func (e *Engine) HasAnyRole(ctx context.Context, userID string, roleCodes []string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	ok, err := e.rbac.HasAnyRole(ctx, userID, roleCodes)
	return ok, storeErr(err)
}

// HasAllPermissions reports whether userID holds every code. An empty list
// is vacuously satisfied.
func (e *Engine) HasAllPermissions(ctx context.Context, userID string, codes []string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	ok, err := e.rbac.HasAllPermissions(ctx, userID, codes)
	return ok, storeErr(err)
}

// HasAnyPermission reports whether userID holds at least one code.
func (e *Engine) HasAnyPermission(ctx context.Context, userID string, codes []string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	ok, err := e.rbac.HasAnyPermission(ctx, userID, codes)
	return ok, storeErr(err)
}

// CanAccessResource applies resourceType:action, then the :own and :assigned
// variants through the registered resolver.
func (e *Engine) CanAccessResource(ctx context.Context, userID, resourceType, resourceID, action string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	ok, err := e.rbac.CanAccessResource(ctx, userID, resourceType, resourceID, action)
	return ok, storeErr(err)
}

// CanAccessWithGrants is CanAccessResource over grants already resolved for
// this request.
func (e *Engine) CanAccessWithGrants(ctx context.Context, userID string, g *Grants, resourceType, resourceID, action string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	ok, err := e.rbac.CanAccessWithGrants(ctx, userID, g, resourceType, resourceID, action)
	return ok, storeErr(err)
}

// LogPermissionDenial records a refused decision in the log and audit trail.
// It never blocks the caller.
func (e *Engine) LogPermissionDenial(ctx context.Context, userID, descriptor, resourceType, resourceID string) {
	if !e.ready() {
		return
	}
	e.rbac.LogPermissionDenial(ctx, userID, descriptor, resourceType, resourceID)
}

// RecordAccessGranted counts an authorized request.
func (e *Engine) RecordAccessGranted() {
	e.metricInc(MetricAuthzAllowed)
}
