package rbac

import (
	"context"
)

// The methods below are the administrative invalidation events. All of them
// are best-effort: when the cache backend is unavailable they become no-ops
// and correctness falls back to the TTL ceiling on every entry.

// OnRoleChanged invalidates the role's cached permission set and menu tree.
// There is no role-to-users reverse index, so per-user entries are cleared
// wholesale; their short TTL keeps this fallback cheap.
func (pc *PermissionCache) OnRoleChanged(ctx context.Context, roleID int64) {
	pc.l1.Purge()
	if _, available := pc.gw.Delete(ctx, permRoleKey(roleID), menuRoleKey(roleID)); !available {
		pc.log.WithField("role_id", roleID).
			Warn("cache unavailable, role invalidation skipped; TTL ceiling bounds staleness")
		return
	}
	if _, available := pc.gw.DeletePattern(ctx, "perm:user:*"); !available {
		pc.log.WithField("role_id", roleID).
			Warn("cache unavailable mid-invalidation; TTL ceiling bounds staleness")
	}
}

// OnMenuChanged conservatively invalidates every role and user entry. Menu
// edits are rare; precision is not worth the bookkeeping.
func (pc *PermissionCache) OnMenuChanged(ctx context.Context) {
	pc.l1.Purge()
	for _, pattern := range []string{"menu:role:*", "perm:role:*", "perm:user:*"} {
		if _, available := pc.gw.DeletePattern(ctx, pattern); !available {
			pc.log.Warn("cache unavailable, menu invalidation skipped; TTL ceiling bounds staleness")
			return
		}
	}
}

// OnUserRolesChanged invalidates only the affected user's entries.
func (pc *PermissionCache) OnUserRolesChanged(ctx context.Context, userID int64) {
	key := permUserKey(userID)
	pc.l1.Remove(key)
	if _, available := pc.gw.Delete(ctx, key); !available {
		pc.log.WithField("user_id", userID).
			Warn("cache unavailable, user invalidation skipped; TTL ceiling bounds staleness")
	}
}
