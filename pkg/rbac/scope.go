package rbac

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/directory"
)

// ScopeResolver computes the strongest row-visibility policy a user holds
// across their enabled roles.
type ScopeResolver struct {
	dir directory.Store
	log *logrus.Logger
}

// NewScopeResolver creates a resolver over the directory store.
func NewScopeResolver(dir directory.Store, log *logrus.Logger) *ScopeResolver {
	if log == nil {
		log = logrus.New()
	}
	return &ScopeResolver{dir: dir, log: log}
}

// ResolveScope selects the numerically smallest scope code among the user's
// enabled roles. Code 1 (All) is the broadest and 5 (Self) the narrowest,
// so smallest wins regardless of role evaluation order. A user with zero
// enabled roles resolves to Self.
func (r *ScopeResolver) ResolveScope(ctx context.Context, userID int64) (ScopePolicy, error) {
	user, err := retryOnce(ctx, func(ctx context.Context) (*directory.User, error) {
		return r.dir.GetUserByID(ctx, userID)
	})
	if err != nil {
		return ScopePolicy{}, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	if user.IsAdmin {
		return AllScope(), nil
	}
	if !user.Enabled {
		return SelfScope(userID), nil
	}

	roles, err := retryOnce(ctx, func(ctx context.Context) ([]directory.Role, error) {
		return r.dir.GetRolesByUserID(ctx, userID)
	})
	if err != nil {
		return ScopePolicy{}, fmt.Errorf("failed to load roles for user %d: %w", userID, err)
	}

	strongest := directory.ScopeCode(0)
	for _, role := range roles {
		if !role.Enabled {
			continue
		}
		if !role.Scope.Valid() {
			r.log.WithFields(logrus.Fields{"role_id": role.ID, "scope": int(role.Scope)}).
				Warn("role carries an unknown scope code, skipping")
			continue
		}
		if strongest == 0 || role.Scope < strongest {
			strongest = role.Scope
		}
	}

	switch strongest {
	case directory.ScopeAll:
		return AllScope(), nil
	case directory.ScopeCustom:
		return CustomScope(unionCustomDepts(roles)), nil
	case directory.ScopeOwnDept:
		return DeptScope(user.DeptID), nil
	case directory.ScopeOwnDeptAndChildren:
		depts, err := r.expandDepartments(ctx, user.DeptID)
		if err != nil {
			return ScopePolicy{}, err
		}
		return DeptAndChildrenScope(depts), nil
	case directory.ScopeSelf:
		return SelfScope(userID), nil
	default:
		// Zero enabled roles: fail closed.
		return SelfScope(userID), nil
	}
}

// unionCustomDepts unions the department lists of every enabled role that
// carries the Custom scope.
func unionCustomDepts(roles []directory.Role) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, role := range roles {
		if !role.Enabled || role.Scope != directory.ScopeCustom {
			continue
		}
		for _, id := range role.DeptIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// expandDepartments collects the starting department and every descendant by
// breadth-first traversal. The department tree is expected to be acyclic;
// a revisited node means corrupted data, so the traversal logs the integrity
// warning and falls back to just the starting department rather than looping
// or failing the request.
func (r *ScopeResolver) expandDepartments(ctx context.Context, start int64) ([]int64, error) {
	visited := map[int64]struct{}{start: {}}
	order := []int64{start}
	queue := []int64{start}

	for len(queue) > 0 {
		deptID := queue[0]
		queue = queue[1:]

		children, err := retryOnce(ctx, func(ctx context.Context) ([]directory.Department, error) {
			return r.dir.GetDepartmentChildren(ctx, deptID)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to expand department %d: %w", deptID, err)
		}
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				r.log.WithFields(logrus.Fields{"dept_id": child.ID, "start": start}).
					Warn("cycle detected in department tree, falling back to the starting department")
				return []int64{start}, nil
			}
			visited[child.ID] = struct{}{}
			order = append(order, child.ID)
			queue = append(queue, child.ID)
		}
	}
	return order, nil
}
