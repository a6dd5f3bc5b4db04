package permission

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Role is a named bundle of permissions. Level orders roles for display;
// it grants nothing by itself.
type Role struct {
	Code  string `json:"code" yaml:"code"`
	Name  string `json:"name,omitempty" yaml:"name"`
	Level int    `json:"level" yaml:"level"`
}

// Permission is a grantable permission code.
type Permission struct {
	Code        string `json:"code" yaml:"code"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// RoleManager is an in-memory role catalog: role code to role metadata and
// granted permission codes. Register roles during startup, then Freeze.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string]roleEntry
	frozen bool
}

type roleEntry struct {
	role  Role
	perms []string
}

// NewRoleManager returns an empty catalog. When registry is non-nil every
// granted code must be registered in it.
func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string]roleEntry),
	}
}

// RegisterRole adds role with the given permission codes.
func (rm *RoleManager) RegisterRole(role Role, permissionCodes []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	if role.Code == "" {
		return errors.New("role code empty")
	}
	if _, exists := rm.roles[role.Code]; exists {
		return fmt.Errorf("role already registered: %s", role.Code)
	}

	perms := make([]string, 0, len(permissionCodes))
	seen := make(map[string]struct{}, len(permissionCodes))
	for _, code := range permissionCodes {
		if _, err := ParseCode(code); err != nil {
			return err
		}
		if rm.registry != nil {
			if _, ok := rm.registry.Bit(code); !ok {
				return fmt.Errorf("permission not registered: %s", code)
			}
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		perms = append(perms, code)
	}
	sort.Strings(perms)

	rm.roles[role.Code] = roleEntry{role: role, perms: perms}
	return nil
}

// Role returns the metadata of a registered role.
func (rm *RoleManager) Role(code string) (Role, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	e, ok := rm.roles[code]
	return e.role, ok
}

// Permissions returns the deduplicated union of the codes granted by
// roleCodes. Unknown roles contribute nothing.
func (rm *RoleManager) Permissions(roleCodes []string) []Permission {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []Permission
	for _, rc := range roleCodes {
		for _, code := range rm.roles[rc].perms {
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			out = append(out, Permission{Code: code})
		}
	}
	return out
}

// Freeze prevents further registrations.
func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

// Count returns the number of registered roles.
func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}
