package rbac

import "github.com/MrEthical07/wardAuth/permission"

// Grants is a user's resolved roles and permissions.
type Grants struct {
	Roles       []permission.Role
	Permissions *permission.Set
}

// RoleCodes returns the role codes in assignment order.
func (g *Grants) RoleCodes() []string {
	if g == nil {
		return nil
	}
	out := make([]string, 0, len(g.Roles))
	for _, r := range g.Roles {
		out = append(out, r.Code)
	}
	return out
}

// HighestLevel returns the largest role level, or 0 without roles.
func (g *Grants) HighestLevel() int {
	if g == nil {
		return 0
	}
	level := 0
	for i, r := range g.Roles {
		if i == 0 || r.Level > level {
			level = r.Level
		}
	}
	return level
}

// HasAnyRole reports whether any of codes is assigned. False for no codes.
func (g *Grants) HasAnyRole(codes []string) bool {
	if g == nil {
		return false
	}
	for _, want := range codes {
		for _, r := range g.Roles {
			if r.Code == want {
				return true
			}
		}
	}
	return false
}

// HasAllPermissions reports whether every code is granted. True for no codes.
func (g *Grants) HasAllPermissions(codes []string) bool {
	if g == nil {
		return len(codes) == 0
	}
	return g.Permissions.HasAll(codes)
}

// HasAnyPermission reports whether at least one code is granted. False for no codes.
func (g *Grants) HasAnyPermission(codes []string) bool {
	if g == nil {
		return false
	}
	return g.Permissions.HasAny(codes)
}
