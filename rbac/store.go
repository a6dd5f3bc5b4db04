package rbac

import (
	"context"

	"github.com/MrEthical07/wardAuth/permission"
)

// Store reads role assignments. It is implemented by the Postgres store and
// by StaticStore.
type Store interface {
	RolesForUser(ctx context.Context, userID string) ([]permission.Role, error)
	PermissionsForRoles(ctx context.Context, roleCodes []string) ([]permission.Permission, error)
}

// ResourceResolver answers ownership and assignment questions for one
// resource type.
type ResourceResolver interface {
	IsOwner(ctx context.Context, userID, resourceID string) (bool, error)
	IsAssigned(ctx context.Context, userID, resourceID string) (bool, error)
}

// ResolverFuncs adapts two functions to ResourceResolver. A nil func answers false.
type ResolverFuncs struct {
	Owner    func(ctx context.Context, userID, resourceID string) (bool, error)
	Assigned func(ctx context.Context, userID, resourceID string) (bool, error)
}

// IsOwner implements ResourceResolver.
func (f ResolverFuncs) IsOwner(ctx context.Context, userID, resourceID string) (bool, error) {
	if f.Owner == nil {
		return false, nil
	}
	return f.Owner(ctx, userID, resourceID)
}

// IsAssigned implements ResourceResolver.
func (f ResolverFuncs) IsAssigned(ctx context.Context, userID, resourceID string) (bool, error) {
	if f.Assigned == nil {
		return false, nil
	}
	return f.Assigned(ctx, userID, resourceID)
}
