package directory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore is the production Store implementation backed by the admin
// platform's relational schema.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store on top of an existing connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping verifies database connectivity. Used by the health endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUserByID implements Store.
func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (*User, error) {
	query := `
		SELECT id, username, password_hash, dept_id, enabled, is_admin
		FROM users
		WHERE id = $1
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, userID))
}

// GetUserByUsername implements Store.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT id, username, password_hash, dept_id, enabled, is_admin
		FROM users
		WHERE username = $1
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *PostgresStore) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DeptID, &u.Enabled, &u.IsAdmin)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetRolesByUserID implements Store.
func (s *PostgresStore) GetRolesByUserID(ctx context.Context, userID int64) ([]Role, error) {
	query := `
		SELECT r.id, r.role_key, r.enabled, r.data_scope,
		       COALESCE(array_agg(rd.dept_id) FILTER (WHERE rd.dept_id IS NOT NULL), '{}')
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		LEFT JOIN role_depts rd ON rd.role_id = r.id
		WHERE ur.user_id = $1
		GROUP BY r.id, r.role_key, r.enabled, r.data_scope
		ORDER BY r.id
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		var scope int
		var deptIDs pq.Int64Array
		if err := rows.Scan(&r.ID, &r.Key, &r.Enabled, &scope, &deptIDs); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		r.Scope = ScopeCode(scope)
		r.DeptIDs = []int64(deptIDs)
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// GetPermissionsByRoleID implements Store.
func (s *PostgresStore) GetPermissionsByRoleID(ctx context.Context, roleID int64) ([]string, error) {
	query := `
		SELECT DISTINCT m.perms
		FROM menus m
		JOIN role_menus rm ON rm.menu_id = m.id
		WHERE rm.role_id = $1 AND m.perms <> ''
		ORDER BY m.perms
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetMenuTreeByRoleIDs implements Store.
func (s *PostgresStore) GetMenuTreeByRoleIDs(ctx context.Context, roleIDs []int64) ([]Menu, error) {
	query := `
		SELECT id, parent_id, name, menu_type, perms, visible, order_num
		FROM menus
		ORDER BY order_num, id
	`
	args := []interface{}{}
	if len(roleIDs) > 0 {
		query = `
			SELECT DISTINCT m.id, m.parent_id, m.name, m.menu_type, m.perms, m.visible, m.order_num
			FROM menus m
			JOIN role_menus rm ON rm.menu_id = m.id
			WHERE rm.role_id = ANY($1)
			ORDER BY m.order_num, m.id
		`
		args = append(args, pq.Array(roleIDs))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get menus: %w", err)
	}
	defer rows.Close()

	var menus []Menu
	for rows.Next() {
		var m Menu
		var menuType string
		if err := rows.Scan(&m.ID, &m.ParentID, &m.Name, &menuType, &m.Perms, &m.Visible, &m.Order); err != nil {
			return nil, fmt.Errorf("failed to scan menu: %w", err)
		}
		m.Type = MenuType(menuType)
		menus = append(menus, m)
	}
	return menus, rows.Err()
}

// GetDepartmentChildren implements Store.
func (s *PostgresStore) GetDepartmentChildren(ctx context.Context, deptID int64) ([]Department, error) {
	query := `
		SELECT id, parent_id, name
		FROM departments
		WHERE parent_id = $1
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, deptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get department children: %w", err)
	}
	defer rows.Close()

	var depts []Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.ParentID, &d.Name); err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		depts = append(depts, d)
	}
	return depts, rows.Err()
}
