package directory

// ScopeCode ranks row-visibility policies from broadest (1) to narrowest (5).
type ScopeCode int

const (
	// ScopeAll grants visibility over every row.
	ScopeAll ScopeCode = 1
	// ScopeCustom grants visibility over an explicit department list.
	ScopeCustom ScopeCode = 2
	// ScopeOwnDept grants visibility over the user's own department.
	ScopeOwnDept ScopeCode = 3
	// ScopeOwnDeptAndChildren grants visibility over the user's department
	// and every descendant department.
	ScopeOwnDeptAndChildren ScopeCode = 4
	// ScopeSelf grants visibility over the user's own rows only.
	ScopeSelf ScopeCode = 5
)

// Valid reports whether the code is one of the five defined tiers.
func (c ScopeCode) Valid() bool {
	return c >= ScopeAll && c <= ScopeSelf
}

// User is a directory account. Read-only from this core's perspective.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	DeptID       int64  `json:"dept_id"`
	Enabled      bool   `json:"enabled"`
	// IsAdmin marks the built-in superuser; permission checks are bypassed
	// for it and its effective permission set is {"*:*:*"}.
	IsAdmin bool `json:"is_admin"`
}

// Role groups permission strings and carries a data-scope policy.
type Role struct {
	ID      int64     `json:"id"`
	Key     string    `json:"key"`
	Enabled bool      `json:"enabled"`
	Scope   ScopeCode `json:"scope"`
	// DeptIDs is the explicit department list for ScopeCustom roles.
	DeptIDs []int64 `json:"dept_ids,omitempty"`
}

// MenuType distinguishes tree containers from permission-bearing leaves.
type MenuType string

const (
	MenuTypeDirectory MenuType = "M"
	MenuTypeMenu      MenuType = "C"
	MenuTypeButton    MenuType = "F"
)

// Menu is one node of the navigation tree. Only button/leaf nodes carry a
// permission string relevant to authorization; container nodes appear in
// menu-tree responses but contribute nothing to the permission set.
type Menu struct {
	ID       int64    `json:"id"`
	ParentID int64    `json:"parent_id"`
	Name     string   `json:"name"`
	Type     MenuType `json:"type"`
	Perms    string   `json:"perms,omitempty"`
	Visible  bool     `json:"visible"`
	Order    int      `json:"order"`
}

// Department is one node of the organization tree. Used only for scope
// expansion, never mutated by this core.
type Department struct {
	ID       int64  `json:"id"`
	ParentID int64  `json:"parent_id"`
	Name     string `json:"name"`
}
