package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupGateway creates a miniredis instance and a gateway whose first probe
// has already resolved.
func setupGateway(t *testing.T) (*Gateway, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	g := NewGateway(client, nil, nil, Options{})
	require.NoError(t, g.WaitReady(context.Background()))

	cleanup := func() {
		g.Close()
		mr.Close()
	}
	return g, mr, cleanup
}

func TestGateway_GetSetDelete(t *testing.T) {
	g, _, cleanup := setupGateway(t)
	defer cleanup()
	ctx := context.Background()

	ok, available := g.Set(ctx, "k", "v", time.Minute)
	require.True(t, available)
	require.True(t, ok)

	val, ok, available := g.Get(ctx, "k")
	require.True(t, available)
	require.True(t, ok)
	assert.Equal(t, "v", val)

	ok, available = g.Delete(ctx, "k")
	require.True(t, available)
	require.True(t, ok)

	_, ok, available = g.Get(ctx, "k")
	assert.True(t, available, "a miss must not be reported as unavailability")
	assert.False(t, ok)
}

func TestGateway_SetClampsTTL(t *testing.T) {
	g, mr, cleanup := setupGateway(t)
	defer cleanup()
	ctx := context.Background()

	ok, _ := g.Set(ctx, "long", "v", 48*time.Hour)
	require.True(t, ok)
	assert.LessOrEqual(t, mr.TTL("long"), 12*time.Hour)

	// TTL zero means "no preference" and still gets the ceiling, never
	// an unbounded entry.
	ok, _ = g.Set(ctx, "forever", "v", 0)
	require.True(t, ok)
	assert.Greater(t, mr.TTL("forever"), time.Duration(0))
	assert.LessOrEqual(t, mr.TTL("forever"), 12*time.Hour)

	ok, _ = g.Set(ctx, "short", "v", time.Minute)
	require.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("short"))
}

func TestGateway_Increment(t *testing.T) {
	g, mr, cleanup := setupGateway(t)
	defer cleanup()
	ctx := context.Background()

	count, available := g.Increment(ctx, "counter", time.Minute)
	require.True(t, available)
	assert.Equal(t, int64(1), count)

	count, _ = g.Increment(ctx, "counter", time.Minute)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, time.Minute, mr.TTL("counter"))
}

func TestGateway_DeletePattern(t *testing.T) {
	g, mr, cleanup := setupGateway(t)
	defer cleanup()
	ctx := context.Background()

	g.Set(ctx, "perm:user:1", "a", time.Minute)
	g.Set(ctx, "perm:user:2", "b", time.Minute)
	g.Set(ctx, "perm:role:1", "c", time.Minute)

	deleted, available := g.DeletePattern(ctx, "perm:user:*")
	require.True(t, available)
	assert.Equal(t, 2, deleted)
	assert.False(t, mr.Exists("perm:user:1"))
	assert.False(t, mr.Exists("perm:user:2"))
	assert.True(t, mr.Exists("perm:role:1"))
}

func TestGateway_ExistsAndTTL(t *testing.T) {
	g, _, cleanup := setupGateway(t)
	defer cleanup()
	ctx := context.Background()

	exists, available := g.Exists(ctx, "missing")
	require.True(t, available)
	assert.False(t, exists)

	g.Set(ctx, "present", "v", time.Minute)
	exists, _ = g.Exists(ctx, "present")
	assert.True(t, exists)

	ttl, available := g.TTL(ctx, "present")
	require.True(t, available)
	assert.Equal(t, time.Minute, ttl)

	ttl, available = g.TTL(ctx, "missing")
	require.True(t, available)
	assert.Equal(t, time.Duration(0), ttl)
}

func TestGateway_ScanKeys(t *testing.T) {
	g, _, cleanup := setupGateway(t)
	defer cleanup()
	ctx := context.Background()

	g.Set(ctx, "session:1", "a", time.Minute)
	g.Set(ctx, "session:2", "b", time.Minute)
	g.Set(ctx, "perm:user:1", "c", time.Minute)

	keys, available := g.ScanKeys(ctx, "session:*")
	require.True(t, available)
	assert.ElementsMatch(t, []string{"session:1", "session:2"}, keys)
}

func TestGateway_DegradesOnBackendFailure(t *testing.T) {
	g, mr, cleanup := setupGateway(t)
	defer cleanup()
	ctx := context.Background()

	mr.SetError("backend down")

	_, _, available := g.Get(ctx, "k")
	assert.False(t, available)
	assert.False(t, g.Available())

	// Inside the backoff window every call short-circuits to unavailable.
	ok, available := g.Set(ctx, "k", "v", time.Minute)
	assert.False(t, ok)
	assert.False(t, available)
}

func TestGateway_RecoversAfterBackoff(t *testing.T) {
	g, mr, cleanup := setupGateway(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now()
	g.now = func() time.Time { return base }

	mr.SetError("backend down")
	_, _, available := g.Get(ctx, "k")
	require.False(t, available)

	mr.SetError("")

	// Still inside the backoff window: no probe, still unavailable.
	_, _, available = g.Get(ctx, "k")
	assert.False(t, available)

	// Past the window the probe runs and the backend comes back.
	g.now = func() time.Time { return base.Add(2 * time.Second) }
	_, ok, available := g.Get(ctx, "k")
	assert.True(t, available)
	assert.False(t, ok)
	assert.True(t, g.Available())
}

func TestGateway_StartsDegradedWhenBackendAbsent(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	g := NewGateway(client, nil, nil, Options{OpTimeout: 100 * time.Millisecond})
	defer g.Close()

	require.NoError(t, g.WaitReady(context.Background()))
	assert.True(t, g.Started())
	assert.False(t, g.Available())

	_, _, available := g.Get(context.Background(), "k")
	assert.False(t, available)
}

func TestGateway_StartedBeforeProbeResolves(t *testing.T) {
	g, _, cleanup := setupGateway(t)
	defer cleanup()
	assert.True(t, g.Started())
}
