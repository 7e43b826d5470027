package rbac

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/directory"
)

// countingStore counts directory reads so tests can assert cache behavior.
type countingStore struct {
	*directory.MemoryStore
	roleReads int64
	permReads int64
}

func (c *countingStore) GetRolesByUserID(ctx context.Context, userID int64) ([]directory.Role, error) {
	atomic.AddInt64(&c.roleReads, 1)
	return c.MemoryStore.GetRolesByUserID(ctx, userID)
}

func (c *countingStore) GetPermissionsByRoleID(ctx context.Context, roleID int64) ([]string, error) {
	atomic.AddInt64(&c.permReads, 1)
	return c.MemoryStore.GetPermissionsByRoleID(ctx, roleID)
}

func setupPermCache(t *testing.T) (*PermissionCache, *countingStore, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gw := cache.NewGateway(client, nil, nil, cache.Options{})
	require.NoError(t, gw.WaitReady(context.Background()))

	store := &countingStore{MemoryStore: directory.NewMemoryStore()}
	seedDirectory(store.MemoryStore)

	pc := NewPermissionCache(store, gw, nil, nil, DefaultCacheConfig())

	cleanup := func() {
		gw.Close()
		mr.Close()
	}
	return pc, store, mr, cleanup
}

// seedDirectory loads the fixture: alice holds an enabled user-admin role and
// an enabled auditor role, plus a disabled role whose grants must not leak.
func seedDirectory(store *directory.MemoryStore) {
	store.PutUser(directory.User{ID: 1, Username: "alice", DeptID: 10, Enabled: true})
	store.PutUser(directory.User{ID: 2, Username: "root", Enabled: true, IsAdmin: true})
	store.PutUser(directory.User{ID: 3, Username: "mallory", DeptID: 10, Enabled: false})

	store.PutRole(directory.Role{ID: 1, Key: "user-admin", Enabled: true, Scope: directory.ScopeOwnDept})
	store.PutRole(directory.Role{ID: 2, Key: "auditor", Enabled: true, Scope: directory.ScopeSelf})
	store.PutRole(directory.Role{ID: 3, Key: "retired", Enabled: false, Scope: directory.ScopeAll})
	store.AssignRoles(1, 1, 2, 3)
	store.AssignRoles(3, 1)

	store.PutMenu(directory.Menu{ID: 1, ParentID: 0, Name: "System", Type: directory.MenuTypeDirectory, Visible: true, Order: 1})
	store.PutMenu(directory.Menu{ID: 2, ParentID: 1, Name: "Users", Type: directory.MenuTypeMenu, Perms: "system:user:list", Visible: true, Order: 1})
	store.PutMenu(directory.Menu{ID: 3, ParentID: 2, Name: "Edit", Type: directory.MenuTypeButton, Perms: "system:user:edit", Visible: true, Order: 1})
	// Hidden menus stay out of the tree but their grants still count.
	store.PutMenu(directory.Menu{ID: 4, ParentID: 1, Name: "Internal", Type: directory.MenuTypeMenu, Perms: "system:internal:list", Visible: false, Order: 2})
	store.PutMenu(directory.Menu{ID: 5, ParentID: 0, Name: "Audit", Type: directory.MenuTypeMenu, Perms: "audit:log:list", Visible: true, Order: 2})
	store.PutMenu(directory.Menu{ID: 6, ParentID: 0, Name: "Secrets", Type: directory.MenuTypeMenu, Perms: "secret:x", Visible: true, Order: 3})
	// Empty container with no surviving children must be pruned.
	store.PutMenu(directory.Menu{ID: 7, ParentID: 0, Name: "Tools", Type: directory.MenuTypeDirectory, Visible: true, Order: 4})

	store.GrantMenus(1, 1, 2, 3, 4, 7)
	store.GrantMenus(2, 5)
	store.GrantMenus(3, 6)
}

func TestGetEffectivePermissions_UnionAcrossEnabledRoles(t *testing.T) {
	pc, _, _, cleanup := setupPermCache(t)
	defer cleanup()

	set, err := pc.GetEffectivePermissions(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"audit:log:list",
		"system:internal:list",
		"system:user:edit",
		"system:user:list",
	}, set.Strings())
	assert.True(t, set.Has("system:user:edit"))
	assert.False(t, set.Has("secret:x"), "disabled role grants must not leak")
}

func TestGetEffectivePermissions_DisabledUserFailsClosed(t *testing.T) {
	pc, _, _, cleanup := setupPermCache(t)
	defer cleanup()

	set, err := pc.GetEffectivePermissions(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, set.Strings())
	assert.False(t, set.Has("system:user:list"))
}

func TestGetEffectivePermissions_Superuser(t *testing.T) {
	pc, _, _, cleanup := setupPermCache(t)
	defer cleanup()

	set, err := pc.GetEffectivePermissions(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{PermAll}, set.Strings())
	assert.True(t, set.Has("anything:at:all"))
}

func TestGetEffectivePermissions_SecondCallServedFromCache(t *testing.T) {
	pc, store, _, cleanup := setupPermCache(t)
	defer cleanup()
	ctx := context.Background()

	_, err := pc.GetEffectivePermissions(ctx, 1)
	require.NoError(t, err)
	permReads := atomic.LoadInt64(&store.permReads)

	_, err = pc.GetEffectivePermissions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, permReads, atomic.LoadInt64(&store.permReads),
		"second lookup must not recompute from the directory")
}

func TestGetEffectivePermissions_DegradedComputesDirect(t *testing.T) {
	pc, store, mr, cleanup := setupPermCache(t)
	defer cleanup()
	ctx := context.Background()

	mr.SetError("backend down")

	set, err := pc.GetEffectivePermissions(ctx, 1)
	require.NoError(t, err)
	assert.True(t, set.Has("system:user:list"))

	// Every degraded call recomputes; nothing is cached.
	before := atomic.LoadInt64(&store.permReads)
	_, err = pc.GetEffectivePermissions(ctx, 1)
	require.NoError(t, err)
	assert.Greater(t, atomic.LoadInt64(&store.permReads), before)
}

func TestGetEffectivePermissions_CorruptEntryRecomputed(t *testing.T) {
	pc, _, mr, cleanup := setupPermCache(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, mr.Set("perm:user:1", "{not json"))

	set, err := pc.GetEffectivePermissions(ctx, 1)
	require.NoError(t, err)
	assert.True(t, set.Has("system:user:list"))

	// The corrupt entry was replaced with the recomputed one.
	raw, err := mr.Get("perm:user:1")
	require.NoError(t, err)
	assert.Contains(t, raw, "system:user:list")
}

func TestOnUserRolesChanged_FreshResultNextCall(t *testing.T) {
	pc, store, _, cleanup := setupPermCache(t)
	defer cleanup()
	ctx := context.Background()

	set, err := pc.GetEffectivePermissions(ctx, 1)
	require.NoError(t, err)
	require.True(t, set.Has("audit:log:list"))

	store.AssignRoles(1, 1) // drop the auditor role
	pc.OnUserRolesChanged(ctx, 1)

	set, err = pc.GetEffectivePermissions(ctx, 1)
	require.NoError(t, err)
	assert.False(t, set.Has("audit:log:list"))
	assert.True(t, set.Has("system:user:list"))
}

func TestOnRoleChanged_FreshResultNextCall(t *testing.T) {
	pc, store, _, cleanup := setupPermCache(t)
	defer cleanup()
	ctx := context.Background()

	set, err := pc.GetEffectivePermissions(ctx, 1)
	require.NoError(t, err)
	require.True(t, set.Has("system:user:edit"))

	store.GrantMenus(1, 1, 2) // revoke the edit button
	pc.OnRoleChanged(ctx, 1)

	set, err = pc.GetEffectivePermissions(ctx, 1)
	require.NoError(t, err)
	assert.False(t, set.Has("system:user:edit"))
}

func TestOnMenuChanged_FreshResultNextCall(t *testing.T) {
	pc, store, _, cleanup := setupPermCache(t)
	defer cleanup()
	ctx := context.Background()

	_, err := pc.GetEffectivePermissions(ctx, 1)
	require.NoError(t, err)

	store.PutMenu(directory.Menu{ID: 2, ParentID: 1, Name: "Users", Type: directory.MenuTypeMenu, Perms: "system:user:query", Visible: true, Order: 1})
	pc.OnMenuChanged(ctx)

	set, err := pc.GetEffectivePermissions(ctx, 1)
	require.NoError(t, err)
	assert.True(t, set.Has("system:user:query"))
	assert.False(t, set.Has("system:user:list"))
}

func TestOnRoleChanged_DegradedIsNoOp(t *testing.T) {
	pc, _, mr, cleanup := setupPermCache(t)
	defer cleanup()
	ctx := context.Background()

	mr.SetError("backend down")
	// Must not panic or error; staleness is bounded by the TTL ceiling.
	pc.OnRoleChanged(ctx, 1)
	pc.OnMenuChanged(ctx)
	pc.OnUserRolesChanged(ctx, 1)
}

func TestGetMenuTree_FiltersAndSorts(t *testing.T) {
	pc, _, _, cleanup := setupPermCache(t)
	defer cleanup()

	tree, err := pc.GetMenuTree(context.Background(), 1)
	require.NoError(t, err)

	// Buttons and hidden menus are excluded, the empty Tools container is
	// pruned, and siblings are ordered by Order.
	require.Len(t, tree, 2)
	assert.Equal(t, "System", tree[0].Name)
	assert.Equal(t, "Audit", tree[1].Name)

	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, "Users", tree[0].Children[0].Name)
	assert.Empty(t, tree[0].Children[0].Children)
}

func TestGetMenuTree_SuperuserSeesEverythingVisible(t *testing.T) {
	pc, _, _, cleanup := setupPermCache(t)
	defer cleanup()

	tree, err := pc.GetMenuTree(context.Background(), 2)
	require.NoError(t, err)

	names := make([]string, 0, len(tree))
	for _, n := range tree {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"System", "Audit", "Secrets"}, names)
}

func TestGetMenuTree_DisabledUserGetsNothing(t *testing.T) {
	pc, _, _, cleanup := setupPermCache(t)
	defer cleanup()

	tree, err := pc.GetMenuTree(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, tree)
}

func TestGetMenuTree_DegradedComputesDirect(t *testing.T) {
	pc, _, mr, cleanup := setupPermCache(t)
	defer cleanup()

	mr.SetError("backend down")

	tree, err := pc.GetMenuTree(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, tree)
	assert.Equal(t, "System", tree[0].Name)
}

func TestRetryOnce_SecondAttemptSucceeds(t *testing.T) {
	calls := 0
	v, err := retryOnce(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", assert.AnError
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestRetryOnce_GivesUpAfterSecondFailure(t *testing.T) {
	calls := 0
	_, err := retryOnce(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

// Menu cache entries must expire on their configured TTL so a missed
// invalidation self-heals.
func TestRoleMenuCache_TTLCeiling(t *testing.T) {
	pc, _, mr, cleanup := setupPermCache(t)
	defer cleanup()

	_, err := pc.GetMenuTree(context.Background(), 1)
	require.NoError(t, err)

	ttl := mr.TTL("menu:role:1")
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 12*time.Hour)
}
