package rbac

import (
	"sort"

	"github.com/platinummonkey/warden/pkg/directory"
)

// PermAll is the wildcard permission held only by the built-in superuser.
const PermAll = "*:*:*"

// PermissionSet is the union of permission strings a user holds.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from the given permission strings.
func NewPermissionSet(perms ...string) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		if p != "" {
			s[p] = struct{}{}
		}
	}
	return s
}

// Has reports whether the set grants the permission. The wildcard grants
// everything.
func (s PermissionSet) Has(perm string) bool {
	if _, ok := s[PermAll]; ok {
		return true
	}
	_, ok := s[perm]
	return ok
}

// Add inserts the permissions into the set.
func (s PermissionSet) Add(perms ...string) {
	for _, p := range perms {
		if p != "" {
			s[p] = struct{}{}
		}
	}
}

// Strings returns the sorted permission strings.
func (s PermissionSet) Strings() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ScopeKind tags the variants of ScopePolicy.
type ScopeKind int

const (
	// ScopeKindAll permits every row.
	ScopeKindAll ScopeKind = iota + 1
	// ScopeKindCustom permits rows belonging to an explicit department list.
	ScopeKindCustom
	// ScopeKindDept permits rows of a single department.
	ScopeKindDept
	// ScopeKindDeptAndChildren permits rows of a department subtree.
	ScopeKindDeptAndChildren
	// ScopeKindSelf permits only the user's own rows.
	ScopeKindSelf
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeKindAll:
		return "all"
	case ScopeKindCustom:
		return "custom"
	case ScopeKindDept:
		return "dept"
	case ScopeKindDeptAndChildren:
		return "dept_and_children"
	case ScopeKindSelf:
		return "self"
	default:
		return "unknown"
	}
}

// ScopePolicy is the resolved row-visibility policy for a user. It is a
// closed set of tagged variants: DeptIDs is populated for the department
// kinds, UserID for Self.
type ScopePolicy struct {
	Kind    ScopeKind `json:"kind"`
	DeptIDs []int64   `json:"dept_ids,omitempty"`
	UserID  int64     `json:"user_id,omitempty"`
}

// AllScope permits every row.
func AllScope() ScopePolicy {
	return ScopePolicy{Kind: ScopeKindAll}
}

// CustomScope permits the given departments.
func CustomScope(deptIDs []int64) ScopePolicy {
	return ScopePolicy{Kind: ScopeKindCustom, DeptIDs: deptIDs}
}

// DeptScope permits a single department.
func DeptScope(deptID int64) ScopePolicy {
	return ScopePolicy{Kind: ScopeKindDept, DeptIDs: []int64{deptID}}
}

// DeptAndChildrenScope permits a department subtree, already expanded.
func DeptAndChildrenScope(deptIDs []int64) ScopePolicy {
	return ScopePolicy{Kind: ScopeKindDeptAndChildren, DeptIDs: deptIDs}
}

// SelfScope permits only the user's own rows. The fail-closed default.
func SelfScope(userID int64) ScopePolicy {
	return ScopePolicy{Kind: ScopeKindSelf, UserID: userID}
}

// MenuNode is one node of the filtered navigation tree returned to clients.
type MenuNode struct {
	directory.Menu
	Children []*MenuNode `json:"children,omitempty"`
}
