package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/directory"
	"github.com/platinummonkey/warden/pkg/throttle"
)

func setupLoginService(t *testing.T) (*LoginService, *Registry, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gw := cache.NewGateway(client, nil, nil, cache.Options{})
	require.NoError(t, gw.WaitReady(context.Background()))

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	store := directory.NewMemoryStore()
	store.PutUser(directory.User{ID: 1, Username: "alice", PasswordHash: string(hash), DeptID: 10, Enabled: true})
	store.PutUser(directory.User{ID: 2, Username: "mallory", PasswordHash: string(hash), DeptID: 10, Enabled: false})

	registry, err := NewRegistry([]byte(testSecret), time.Hour, gw, nil, nil)
	require.NoError(t, err)
	thr := throttle.New(gw, nil, nil, throttle.DefaultConfig())
	svc := NewLoginService(store, thr, registry, nil)

	cleanup := func() {
		gw.Close()
		mr.Close()
	}
	return svc, registry, mr, cleanup
}

func TestLogin_Success(t *testing.T) {
	svc, registry, mr, cleanup := setupLoginService(t)
	defer cleanup()
	ctx := context.Background()

	token, err := svc.Login(ctx, "alice", "correct horse", "10.0.0.1")
	require.NoError(t, err)

	identity, err := registry.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Username)
	assert.True(t, mr.Exists("session:1"))
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, _, mr, cleanup := setupLoginService(t)
	defer cleanup()

	_, err := svc.Login(context.Background(), "alice", "wrong", "10.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.True(t, mr.Exists("login:fail:alice:10.0.0.1"), "a bad password must count toward lockout")
}

func TestLogin_UnknownUsernameDoesNotCount(t *testing.T) {
	svc, _, mr, cleanup := setupLoginService(t)
	defer cleanup()

	_, err := svc.Login(context.Background(), "nobody", "whatever", "10.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.False(t, mr.Exists("login:fail:nobody:10.0.0.1"),
		"unknown usernames are rejected without feeding the counter")
}

func TestLogin_DisabledUser(t *testing.T) {
	svc, _, _, cleanup := setupLoginService(t)
	defer cleanup()

	_, err := svc.Login(context.Background(), "mallory", "correct horse", "10.0.0.1")
	assert.ErrorIs(t, err, ErrUserDisabled)
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	svc, _, _, cleanup := setupLoginService(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Login(ctx, "alice", "wrong", "10.0.0.1")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Even the right password is refused while the lock holds.
	_, err := svc.Login(ctx, "alice", "correct horse", "10.0.0.1")
	var locked *throttle.LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, throttle.ReasonUserLocked, locked.Reason)
	assert.Greater(t, locked.RetryAfter, time.Duration(0))
}

func TestLogin_SuccessResetsFailureCounter(t *testing.T) {
	svc, _, mr, cleanup := setupLoginService(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		svc.Login(ctx, "alice", "wrong", "10.0.0.1")
	}
	_, err := svc.Login(ctx, "alice", "correct horse", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, mr.Exists("login:fail:alice:10.0.0.1"))
}

func TestLogout_RevokesSession(t *testing.T) {
	svc, registry, _, cleanup := setupLoginService(t)
	defer cleanup()
	ctx := context.Background()

	token, err := svc.Login(ctx, "alice", "correct horse", "10.0.0.1")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, token))
	_, err = registry.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestLogin_ProceedsWhenCacheDown(t *testing.T) {
	svc, registry, mr, cleanup := setupLoginService(t)
	defer cleanup()
	ctx := context.Background()

	mr.SetError("backend down")

	token, err := svc.Login(ctx, "alice", "correct horse", "10.0.0.1")
	require.NoError(t, err)

	identity, err := registry.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), identity.UserID)
}
