package directory

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store implementation. It backs tests and
// deployments that run without a relational database.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[int64]User
	roles     map[int64]Role
	userRoles map[int64][]int64 // user ID -> role IDs
	menus     map[int64]Menu
	roleMenus map[int64][]int64 // role ID -> menu IDs
	depts     map[int64]Department
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]User),
		roles:     make(map[int64]Role),
		userRoles: make(map[int64][]int64),
		menus:     make(map[int64]Menu),
		roleMenus: make(map[int64][]int64),
		depts:     make(map[int64]Department),
	}
}

// PutUser adds or replaces a user.
func (s *MemoryStore) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutRole adds or replaces a role.
func (s *MemoryStore) PutRole(r Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.ID] = r
}

// AssignRoles replaces a user's role assignments.
func (s *MemoryStore) AssignRoles(userID int64, roleIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRoles[userID] = append([]int64(nil), roleIDs...)
}

// PutMenu adds or replaces a menu node.
func (s *MemoryStore) PutMenu(m Menu) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menus[m.ID] = m
}

// GrantMenus replaces a role's menu grants.
func (s *MemoryStore) GrantMenus(roleID int64, menuIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleMenus[roleID] = append([]int64(nil), menuIDs...)
}

// PutDepartment adds or replaces a department node.
func (s *MemoryStore) PutDepartment(d Department) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depts[d.ID] = d
}

// GetUserByID implements Store.
func (s *MemoryStore) GetUserByID(_ context.Context, userID int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// GetUserByUsername implements Store.
func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			out := u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// GetRolesByUserID implements Store.
func (s *MemoryStore) GetRolesByUserID(_ context.Context, userID int64) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.userRoles[userID]
	roles := make([]Role, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.roles[id]; ok {
			roles = append(roles, r)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles, nil
}

// GetPermissionsByRoleID implements Store.
func (s *MemoryStore) GetPermissionsByRoleID(_ context.Context, roleID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var perms []string
	for _, menuID := range s.roleMenus[roleID] {
		m, ok := s.menus[menuID]
		if !ok || m.Perms == "" {
			continue
		}
		if _, dup := seen[m.Perms]; dup {
			continue
		}
		seen[m.Perms] = struct{}{}
		perms = append(perms, m.Perms)
	}
	sort.Strings(perms)
	return perms, nil
}

// GetMenuTreeByRoleIDs implements Store.
func (s *MemoryStore) GetMenuTreeByRoleIDs(_ context.Context, roleIDs []int64) ([]Menu, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[int64]struct{})
	if len(roleIDs) == 0 {
		for id := range s.menus {
			ids[id] = struct{}{}
		}
	} else {
		for _, roleID := range roleIDs {
			for _, menuID := range s.roleMenus[roleID] {
				ids[menuID] = struct{}{}
			}
		}
	}

	menus := make([]Menu, 0, len(ids))
	for id := range ids {
		if m, ok := s.menus[id]; ok {
			menus = append(menus, m)
		}
	}
	sort.Slice(menus, func(i, j int) bool {
		if menus[i].Order != menus[j].Order {
			return menus[i].Order < menus[j].Order
		}
		return menus[i].ID < menus[j].ID
	})
	return menus, nil
}

// GetDepartmentChildren implements Store.
func (s *MemoryStore) GetDepartmentChildren(_ context.Context, deptID int64) ([]Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var children []Department
	for _, d := range s.depts {
		if d.ParentID == deptID {
			children = append(children, d)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })
	return children, nil
}
