package rbac

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/MrEthical07/wardAuth/permission"
	"gopkg.in/yaml.v3"
)

// StaticStore is a Store over an in-memory role catalog and user
// assignments. It suits tests and small deployments whose roles live in a
// config file.
type StaticStore struct {
	roles *permission.RoleManager

	mu    sync.RWMutex
	users map[string][]string
}

// NewStaticStore returns a store over roles.
func NewStaticStore(roles *permission.RoleManager) *StaticStore {
	return &StaticStore{roles: roles, users: make(map[string][]string)}
}

// Assign replaces the roles of userID. Unknown role codes are rejected.
func (s *StaticStore) Assign(userID string, roleCodes ...string) error {
	for _, rc := range roleCodes {
		if _, ok := s.roles.Role(rc); !ok {
			return fmt.Errorf("unknown role %q", rc)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = append([]string(nil), roleCodes...)
	return nil
}

// RolesForUser implements Store.
func (s *StaticStore) RolesForUser(_ context.Context, userID string) ([]permission.Role, error) {
	s.mu.RLock()
	codes := s.users[userID]
	s.mu.RUnlock()

	out := make([]permission.Role, 0, len(codes))
	for _, rc := range codes {
		if r, ok := s.roles.Role(rc); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// PermissionsForRoles implements Store.
func (s *StaticStore) PermissionsForRoles(_ context.Context, roleCodes []string) ([]permission.Permission, error) {
	return s.roles.Permissions(roleCodes), nil
}

// Catalog is the YAML shape of a static role catalog:
//
//	permissions: [patient:read, vitals:write]
//	roles:
//	  - code: NURSE
//	    level: 20
//	    permissions: [vitals:write]
//	users:
//	  "7c9e...": [NURSE]
type Catalog struct {
	Permissions []string            `yaml:"permissions"`
	Roles       []CatalogRole       `yaml:"roles"`
	Users       map[string][]string `yaml:"users"`
}

// CatalogRole is one role entry in a Catalog.
type CatalogRole struct {
	Code        string   `yaml:"code"`
	Name        string   `yaml:"name"`
	Level       int      `yaml:"level"`
	Permissions []string `yaml:"permissions"`
}

// LoadCatalog parses a YAML catalog and builds a frozen registry and a
// StaticStore from it.
func LoadCatalog(r io.Reader) (*StaticStore, *permission.Registry, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("decode role catalog: %w", err)
	}
	return c.Build()
}

// Build turns the catalog into a frozen registry and a StaticStore.
func (c Catalog) Build() (*StaticStore, *permission.Registry, error) {
	reg, err := registryFor(len(c.Permissions))
	if err != nil {
		return nil, nil, err
	}
	if err := reg.RegisterAll(c.Permissions...); err != nil {
		return nil, nil, err
	}
	reg.Freeze()

	rm := permission.NewRoleManager(reg)
	for _, r := range c.Roles {
		if err := rm.RegisterRole(permission.Role{Code: r.Code, Name: r.Name, Level: r.Level}, r.Permissions); err != nil {
			return nil, nil, err
		}
	}
	rm.Freeze()

	store := NewStaticStore(rm)
	for user, roles := range c.Users {
		if err := store.Assign(user, roles...); err != nil {
			return nil, nil, fmt.Errorf("user %s: %w", user, err)
		}
	}
	return store, reg, nil
}

func registryFor(n int) (*permission.Registry, error) {
	for _, width := range []int{64, 128, 256, 512} {
		if n <= width {
			return permission.NewRegistry(width)
		}
	}
	return nil, fmt.Errorf("role catalog declares %d permissions; at most 512 are supported", n)
}

var _ Store = (*StaticStore)(nil)
