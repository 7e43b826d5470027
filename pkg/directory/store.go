// Package directory exposes the read-only user/role/menu/department source
// that authorization decisions are computed from. The package owns no
// mutations; administrative writes happen elsewhere and reach this core only
// as invalidation events.
package directory

import (
	"context"
	"errors"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("directory: not found")

// Store is the read interface consumed by the authorization core.
type Store interface {
	// GetUserByID returns the user with the given ID, or ErrNotFound.
	GetUserByID(ctx context.Context, userID int64) (*User, error)

	// GetUserByUsername returns the user with the given login name, or
	// ErrNotFound. Consumed by the login flow only.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// GetRolesByUserID returns every role assigned to the user, enabled or
	// not. Callers filter on Role.Enabled.
	GetRolesByUserID(ctx context.Context, userID int64) ([]Role, error)

	// GetPermissionsByRoleID returns the permission strings granted to a
	// role through its menu assignments. Container menus without a
	// permission string are excluded.
	GetPermissionsByRoleID(ctx context.Context, roleID int64) ([]string, error)

	// GetMenuTreeByRoleIDs returns the flat menu rows reachable from the
	// given roles, deduplicated. An empty roleIDs slice returns every menu
	// (superuser view).
	GetMenuTreeByRoleIDs(ctx context.Context, roleIDs []int64) ([]Menu, error)

	// GetDepartmentChildren returns the direct children of a department.
	GetDepartmentChildren(ctx context.Context, deptID int64) ([]Department, error)
}
