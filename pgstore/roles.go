package pgstore

import (
	"context"
	"fmt"

	"github.com/MrEthical07/wardAuth/permission"
	"github.com/MrEthical07/wardAuth/rbac"
	"github.com/jackc/pgx/v5"
)

// Roles reads role assignments from user_roles and role_permissions.
type Roles struct {
	db DB
}

var _ rbac.Store = (*Roles)(nil)

func NewRoles(db DB) *Roles {
	return &Roles{db: db}
}

// RolesForUser returns the user's roles, highest level first.
func (s *Roles) RolesForUser(ctx context.Context, userID string) ([]permission.Role, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.code, r.name, r.level
		FROM user_roles ur JOIN roles r ON r.code = ur.role_code
		WHERE ur.user_id = $1
		ORDER BY r.level DESC, r.code`, userID)
	if err != nil {
		return nil, fmt.Errorf("roles for user: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (permission.Role, error) {
		var r permission.Role
		err := row.Scan(&r.Code, &r.Name, &r.Level)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("roles for user: %w", err)
	}
	return out, nil
}

// PermissionsForRoles returns the union of the roles' permissions.
func (s *Roles) PermissionsForRoles(ctx context.Context, roleCodes []string) ([]permission.Permission, error) {
	if len(roleCodes) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT p.code, p.description
		FROM role_permissions rp JOIN permissions p ON p.code = rp.permission_code
		WHERE rp.role_code = ANY($1)
		ORDER BY p.code`, roleCodes)
	if err != nil {
		return nil, fmt.Errorf("permissions for roles: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[permission.Permission])
	if err != nil {
		return nil, fmt.Errorf("permissions for roles: %w", err)
	}
	return out, nil
}

// PermissionCodes lists every known permission code, for registering the
// bitset registry at startup.
func (s *Roles) PermissionCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT code FROM permissions ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("permission codes: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("permission codes: %w", err)
	}
	return out, nil
}

// SeedCatalog upserts the catalog's roles, permissions and assignments in one
// transaction.
func SeedCatalog(ctx context.Context, db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}, c rbac.Catalog) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, code := range c.Permissions {
		batch.Queue(`INSERT INTO permissions (code) VALUES ($1) ON CONFLICT DO NOTHING`, code)
	}
	for _, r := range c.Roles {
		batch.Queue(`
			INSERT INTO roles (code, name, level) VALUES ($1, $2, $3)
			ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, level = EXCLUDED.level`,
			r.Code, r.Name, r.Level)
		for _, p := range r.Permissions {
			batch.Queue(`INSERT INTO role_permissions (role_code, permission_code) VALUES ($1, $2) ON CONFLICT DO NOTHING`, r.Code, p)
		}
	}
	for user, roles := range c.Users {
		for _, r := range roles {
			batch.Queue(`INSERT INTO user_roles (user_id, role_code) VALUES ($1, $2) ON CONFLICT DO NOTHING`, user, r)
		}
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	return tx.Commit(ctx)
}
