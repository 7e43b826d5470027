package throttle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/cache"
)

func setupThrottle(t *testing.T, cfg Config) (*Throttle, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gw := cache.NewGateway(client, nil, nil, cache.Options{})
	require.NoError(t, gw.WaitReady(context.Background()))

	thr := New(gw, nil, nil, cfg)

	cleanup := func() {
		gw.Close()
		mr.Close()
	}
	return thr, mr, cleanup
}

func TestThrottle_LocksUserAfterThreshold(t *testing.T) {
	thr, _, cleanup := setupThrottle(t, DefaultConfig())
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		thr.RecordFailure(ctx, "alice", "10.0.0.1")
		decision := thr.CheckAllowed(ctx, "alice", "10.0.0.1")
		require.True(t, decision.Allowed, "attempt %d must still be allowed", i+1)
	}

	thr.RecordFailure(ctx, "alice", "10.0.0.1")
	decision := thr.CheckAllowed(ctx, "alice", "10.0.0.1")
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonUserLocked, decision.Reason)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestThrottle_LockIsPerUserAddressPair(t *testing.T) {
	thr, _, cleanup := setupThrottle(t, DefaultConfig())
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		thr.RecordFailure(ctx, "alice", "10.0.0.1")
	}

	// The lock keys on the username, so another address is also locked out
	// for alice while bob remains unaffected.
	assert.False(t, thr.CheckAllowed(ctx, "alice", "10.0.0.2").Allowed)
	assert.True(t, thr.CheckAllowed(ctx, "bob", "10.0.0.1").Allowed)
}

func TestThrottle_LockExpiresOnTTL(t *testing.T) {
	thr, mr, cleanup := setupThrottle(t, DefaultConfig())
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		thr.RecordFailure(ctx, "alice", "10.0.0.1")
	}
	require.False(t, thr.CheckAllowed(ctx, "alice", "10.0.0.1").Allowed)

	mr.FastForward(31 * time.Minute)

	assert.True(t, thr.CheckAllowed(ctx, "alice", "10.0.0.1").Allowed)
}

func TestThrottle_FailureWindowExpires(t *testing.T) {
	thr, mr, cleanup := setupThrottle(t, DefaultConfig())
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		thr.RecordFailure(ctx, "alice", "10.0.0.1")
	}
	mr.FastForward(11 * time.Minute)

	// The counter expired with the window, so one more failure does not lock.
	thr.RecordFailure(ctx, "alice", "10.0.0.1")
	assert.True(t, thr.CheckAllowed(ctx, "alice", "10.0.0.1").Allowed)
}

func TestThrottle_SuccessClearsCounterButNotLock(t *testing.T) {
	thr, _, cleanup := setupThrottle(t, DefaultConfig())
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		thr.RecordFailure(ctx, "alice", "10.0.0.1")
	}
	thr.RecordSuccess(ctx, "alice", "10.0.0.1")

	// Counter reset: five fresh failures are needed again.
	for i := 0; i < 4; i++ {
		thr.RecordFailure(ctx, "alice", "10.0.0.1")
	}
	assert.True(t, thr.CheckAllowed(ctx, "alice", "10.0.0.1").Allowed)

	// Once locked, a success must not unlock.
	thr.RecordFailure(ctx, "alice", "10.0.0.1")
	require.False(t, thr.CheckAllowed(ctx, "alice", "10.0.0.1").Allowed)
	thr.RecordSuccess(ctx, "alice", "10.0.0.1")
	assert.False(t, thr.CheckAllowed(ctx, "alice", "10.0.0.1").Allowed)
}

func TestThrottle_IPLockIndependentOfUsernames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IPThreshold = 10
	thr, _, cleanup := setupThrottle(t, cfg)
	defer cleanup()
	ctx := context.Background()

	// Ten failures across ten usernames never trip the per-user threshold
	// but cross the address threshold.
	for i := 0; i < 10; i++ {
		thr.RecordFailure(ctx, fmt.Sprintf("user%d", i), "10.0.0.9")
	}

	decision := thr.CheckAllowed(ctx, "someone-new", "10.0.0.9")
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonIPLocked, decision.Reason)

	// Other addresses are unaffected.
	assert.True(t, thr.CheckAllowed(ctx, "someone-new", "10.0.0.10").Allowed)
}

func TestThrottle_AllowListBypassesChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowList = []string{"192.168.0.5"}
	thr, _, cleanup := setupThrottle(t, cfg)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		thr.RecordFailure(ctx, "alice", "192.168.0.5")
	}
	assert.True(t, thr.CheckAllowed(ctx, "alice", "192.168.0.5").Allowed)
}

func TestThrottle_ConcurrentFailuresAllCounted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SoftThreshold = 1000 // keep the lock out of the way
	thr, mr, cleanup := setupThrottle(t, cfg)
	defer cleanup()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			thr.RecordFailure(ctx, "alice", "10.0.0.1")
		}()
	}
	wg.Wait()

	raw, err := mr.Get("login:fail:alice:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "50", raw)
}

func TestThrottle_DegradesToOpen(t *testing.T) {
	thr, mr, cleanup := setupThrottle(t, DefaultConfig())
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		thr.RecordFailure(ctx, "alice", "10.0.0.1")
	}
	require.False(t, thr.CheckAllowed(ctx, "alice", "10.0.0.1").Allowed)

	mr.SetError("backend down")

	// Availability beats throttling when the backend is gone.
	assert.True(t, thr.CheckAllowed(ctx, "alice", "10.0.0.1").Allowed)
	// Recording failures while degraded must not panic.
	thr.RecordFailure(ctx, "alice", "10.0.0.1")
}
