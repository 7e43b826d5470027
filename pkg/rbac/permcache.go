// Package rbac computes effective permissions, menu trees and row-level
// data scopes for authenticated users. Results are cached in two tiers: a
// small in-process LRU in front of the shared redis tier. When the cache
// backend is unavailable every lookup is computed directly from the
// directory store: slower, never wrong.
package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/directory"
	"github.com/platinummonkey/warden/pkg/observability"
)

func permUserKey(userID int64) string { return fmt.Sprintf("perm:user:%d", userID) }
func permRoleKey(roleID int64) string { return fmt.Sprintf("perm:role:%d", roleID) }
func menuRoleKey(roleID int64) string { return fmt.Sprintf("menu:role:%d", roleID) }

// CacheConfig tunes the permission cache tiers. Per-user entries carry a
// short TTL so the conservative invalidation fallback stays cheap; per-role
// entries live longer because role edits invalidate them precisely.
type CacheConfig struct {
	UserTTL time.Duration
	RoleTTL time.Duration
	MenuTTL time.Duration
	L1Size  int
	L1TTL   time.Duration
}

// DefaultCacheConfig returns the defaults used in production.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		UserTTL: 2 * time.Minute,
		RoleTTL: 10 * time.Minute,
		MenuTTL: 10 * time.Minute,
		L1Size:  4096,
		L1TTL:   30 * time.Second,
	}
}

// PermissionCache resolves the permission strings and menu tree a user is
// granted through their enabled roles.
type PermissionCache struct {
	dir     directory.Store
	gw      *cache.Gateway
	log     *logrus.Logger
	metrics *observability.Metrics
	cfg     CacheConfig

	l1 *lru.LRU[string, []string]
}

// NewPermissionCache creates a permission cache over the directory store
// and the cache gateway.
func NewPermissionCache(dir directory.Store, gw *cache.Gateway, log *logrus.Logger, metrics *observability.Metrics, cfg CacheConfig) *PermissionCache {
	if log == nil {
		log = logrus.New()
	}
	if cfg.UserTTL <= 0 || cfg.RoleTTL <= 0 {
		cfg = DefaultCacheConfig()
	}
	return &PermissionCache{
		dir:     dir,
		gw:      gw,
		log:     log,
		metrics: metrics,
		cfg:     cfg,
		l1:      lru.NewLRU[string, []string](cfg.L1Size, nil, cfg.L1TTL),
	}
}

// retryOnce retries a directory/cache read a single time. Write paths are
// fire-and-forget and never retried.
func retryOnce[T any](ctx context.Context, f func(context.Context) (T, error)) (T, error) {
	v, err := f(ctx)
	if err == nil || ctx.Err() != nil {
		return v, err
	}
	return f(ctx)
}

// GetEffectivePermissions returns the union of permission strings across the
// user's enabled roles. Disabled users resolve to the empty set so every
// permission check fails closed.
func (pc *PermissionCache) GetEffectivePermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	user, err := retryOnce(ctx, func(ctx context.Context) (*directory.User, error) {
		return pc.dir.GetUserByID(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	if !user.Enabled {
		return NewPermissionSet(), nil
	}
	if user.IsAdmin {
		return NewPermissionSet(PermAll), nil
	}

	key := permUserKey(userID)
	if pc.gw.Available() {
		if perms, ok := pc.l1.Get(key); ok {
			pc.metrics.RecordCacheHit("l1")
			return NewPermissionSet(perms...), nil
		}
		if raw, ok, available := pc.gw.Get(ctx, key); available {
			if ok {
				var perms []string
				if err := json.Unmarshal([]byte(raw), &perms); err == nil {
					pc.metrics.RecordCacheHit("redis")
					pc.l1.Add(key, perms)
					return NewPermissionSet(perms...), nil
				}
				// Corrupt entry: drop it and recompute.
				pc.gw.Delete(ctx, key)
			}
			pc.metrics.RecordCacheMiss("redis")
		}
	}

	set, err := pc.computeUserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}

	perms := set.Strings()
	if raw, err := json.Marshal(perms); err == nil {
		// Best effort: a failed write only costs a recompute next call.
		if ok, _ := pc.gw.Set(ctx, key, string(raw), pc.cfg.UserTTL); ok {
			pc.l1.Add(key, perms)
		}
	}
	return set, nil
}

// computeUserPermissions unions per-role permission sets. Concurrent misses
// may compute this twice; both writers produce the same deterministic result
// so the cache just gets written twice.
func (pc *PermissionCache) computeUserPermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	roles, err := retryOnce(ctx, func(ctx context.Context) ([]directory.Role, error) {
		return pc.dir.GetRolesByUserID(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load roles for user %d: %w", userID, err)
	}

	set := NewPermissionSet()
	for _, role := range roles {
		if !role.Enabled {
			continue
		}
		perms, err := pc.getRolePermissions(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		set.Add(perms...)
	}
	return set, nil
}

func (pc *PermissionCache) getRolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	key := permRoleKey(roleID)
	if pc.gw.Available() {
		if perms, ok := pc.l1.Get(key); ok {
			pc.metrics.RecordCacheHit("l1")
			return perms, nil
		}
		if raw, ok, available := pc.gw.Get(ctx, key); available && ok {
			var perms []string
			if err := json.Unmarshal([]byte(raw), &perms); err == nil {
				pc.metrics.RecordCacheHit("redis")
				pc.l1.Add(key, perms)
				return perms, nil
			}
			pc.gw.Delete(ctx, key)
		}
		pc.metrics.RecordCacheMiss("redis")
	}

	perms, err := retryOnce(ctx, func(ctx context.Context) ([]string, error) {
		return pc.dir.GetPermissionsByRoleID(ctx, roleID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions for role %d: %w", roleID, err)
	}

	if raw, err := json.Marshal(perms); err == nil {
		if ok, _ := pc.gw.Set(ctx, key, string(raw), pc.cfg.RoleTTL); ok {
			pc.l1.Add(key, perms)
		}
	}
	return perms, nil
}

// GetMenuTree returns the navigation tree assembled from the union of menus
// reachable through the user's enabled roles. Button nodes and hidden menus
// are excluded from the tree (their permission strings still count toward
// the permission set), and container subtrees whose leaves were all filtered
// out are dropped.
func (pc *PermissionCache) GetMenuTree(ctx context.Context, userID int64) ([]*MenuNode, error) {
	user, err := retryOnce(ctx, func(ctx context.Context) (*directory.User, error) {
		return pc.dir.GetUserByID(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	if !user.Enabled {
		return nil, nil
	}

	var menus []directory.Menu
	if user.IsAdmin {
		menus, err = retryOnce(ctx, func(ctx context.Context) ([]directory.Menu, error) {
			return pc.dir.GetMenuTreeByRoleIDs(ctx, nil)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load menus: %w", err)
		}
	} else {
		roles, err := retryOnce(ctx, func(ctx context.Context) ([]directory.Role, error) {
			return pc.dir.GetRolesByUserID(ctx, userID)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load roles for user %d: %w", userID, err)
		}
		byID := make(map[int64]directory.Menu)
		for _, role := range roles {
			if !role.Enabled {
				continue
			}
			roleMenus, err := pc.getRoleMenus(ctx, role.ID)
			if err != nil {
				return nil, err
			}
			for _, m := range roleMenus {
				byID[m.ID] = m
			}
		}
		menus = make([]directory.Menu, 0, len(byID))
		for _, m := range byID {
			menus = append(menus, m)
		}
	}

	return buildMenuTree(menus), nil
}

func (pc *PermissionCache) getRoleMenus(ctx context.Context, roleID int64) ([]directory.Menu, error) {
	key := menuRoleKey(roleID)
	if pc.gw.Available() {
		if raw, ok, available := pc.gw.Get(ctx, key); available && ok {
			var menus []directory.Menu
			if err := json.Unmarshal([]byte(raw), &menus); err == nil {
				pc.metrics.RecordCacheHit("redis")
				return menus, nil
			}
			pc.gw.Delete(ctx, key)
		}
		pc.metrics.RecordCacheMiss("redis")
	}

	menus, err := retryOnce(ctx, func(ctx context.Context) ([]directory.Menu, error) {
		return pc.dir.GetMenuTreeByRoleIDs(ctx, []int64{roleID})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load menus for role %d: %w", roleID, err)
	}

	if raw, err := json.Marshal(menus); err == nil {
		pc.gw.Set(ctx, key, string(raw), pc.cfg.MenuTTL)
	}
	return menus, nil
}

// buildMenuTree rebuilds parent/child links from the flat rows, keeping only
// visible non-button nodes and pruning containers left with no children.
func buildMenuTree(menus []directory.Menu) []*MenuNode {
	nodes := make(map[int64]*MenuNode)
	for _, m := range menus {
		if m.Type == directory.MenuTypeButton || !m.Visible {
			continue
		}
		nodes[m.ID] = &MenuNode{Menu: m}
	}

	var roots []*MenuNode
	for _, n := range nodes {
		if parent, ok := nodes[n.ParentID]; ok && n.ParentID != n.ID {
			parent.Children = append(parent.Children, n)
		} else {
			roots = append(roots, n)
		}
	}

	roots = pruneEmptyContainers(roots)
	sortMenuNodes(roots)
	return roots
}

func pruneEmptyContainers(nodes []*MenuNode) []*MenuNode {
	out := nodes[:0]
	for _, n := range nodes {
		n.Children = pruneEmptyContainers(n.Children)
		if n.Type == directory.MenuTypeDirectory && len(n.Children) == 0 {
			continue
		}
		out = append(out, n)
	}
	return out
}

func sortMenuNodes(nodes []*MenuNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Order != nodes[j].Order {
			return nodes[i].Order < nodes[j].Order
		}
		return nodes[i].ID < nodes[j].ID
	})
	for _, n := range nodes {
		sortMenuNodes(n.Children)
	}
}
