// Package throttle enforces login rate limiting with two independent lock
// tiers: a per-(username, address) lock after repeated failures, and a
// per-address lock after a higher global failure count. Counters live in
// redis behind the cache gateway; when the backend is unavailable the
// throttle degrades to open and authentication proceeds without lockout
// enforcement, trading throttling for availability.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Lock reasons reported by CheckAllowed.
const (
	ReasonUserLocked = "user_locked"
	ReasonIPLocked   = "ip_locked"
)

func failKey(username, address string) string {
	return fmt.Sprintf("login:fail:%s:%s", username, address)
}
func failIPKey(address string) string { return fmt.Sprintf("login:fail:ip:%s", address) }
func lockUserKey(username string) string { return fmt.Sprintf("login:lock:user:%s", username) }
func lockIPKey(address string) string { return fmt.Sprintf("login:lock:ip:%s", address) }

// Config tunes thresholds and lock durations.
type Config struct {
	// SoftThreshold locks the (username, address) pair once its failure
	// counter reaches it within the sliding window.
	SoftThreshold int
	// IPThreshold locks the source address once its global failure counter
	// reaches it. Independent of any username.
	IPThreshold int
	// FailureWindow is the sliding window both counters expire after.
	FailureWindow time.Duration
	// UserLockTTL and IPLockTTL are the lock durations. Locks expire on
	// their own TTL only; a successful login never clears them.
	UserLockTTL time.Duration
	IPLockTTL   time.Duration
	// AllowList addresses bypass all checks.
	AllowList []string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SoftThreshold: 5,
		IPThreshold:   50,
		FailureWindow: 10 * time.Minute,
		UserLockTTL:   30 * time.Minute,
		IPLockTTL:     30 * time.Minute,
	}
}

// Decision is the outcome of CheckAllowed. RetryAfter carries the remaining
// lock TTL so the boundary can render it.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// LockedError is surfaced distinctly so callers can show remaining-lockout
// information instead of a generic failure.
type LockedError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("login locked (%s), retry after %s", e.Reason, e.RetryAfter)
}

// Throttle is the login rate limiter.
type Throttle struct {
	gw      *cache.Gateway
	log     *logrus.Logger
	metrics *observability.Metrics
	cfg     Config
	allow   map[string]struct{}
}

// New creates a throttle over the cache gateway.
func New(gw *cache.Gateway, log *logrus.Logger, metrics *observability.Metrics, cfg Config) *Throttle {
	if log == nil {
		log = logrus.New()
	}
	if cfg.SoftThreshold <= 0 {
		cfg = DefaultConfig()
	}
	allow := make(map[string]struct{}, len(cfg.AllowList))
	for _, addr := range cfg.AllowList {
		allow[addr] = struct{}{}
	}
	return &Throttle{gw: gw, log: log, metrics: metrics, cfg: cfg, allow: allow}
}

// CheckAllowed reports whether a login attempt may proceed. Allow-listed
// addresses always pass. When the cache backend is unavailable the check
// degrades to open.
func (t *Throttle) CheckAllowed(ctx context.Context, username, address string) Decision {
	if _, ok := t.allow[address]; ok {
		return Decision{Allowed: true}
	}

	locked, available := t.gw.Exists(ctx, lockUserKey(username))
	if !available {
		t.log.WithField("username", username).
			Warn("cache unavailable, login throttling not enforced")
		return Decision{Allowed: true}
	}
	if locked {
		ttl, _ := t.gw.TTL(ctx, lockUserKey(username))
		return Decision{Reason: ReasonUserLocked, RetryAfter: ttl}
	}

	locked, available = t.gw.Exists(ctx, lockIPKey(address))
	if !available {
		return Decision{Allowed: true}
	}
	if locked {
		ttl, _ := t.gw.TTL(ctx, lockIPKey(address))
		return Decision{Reason: ReasonIPLocked, RetryAfter: ttl}
	}

	return Decision{Allowed: true}
}

// RecordFailure increments both failure counters atomically and establishes
// the corresponding lock when a counter crosses its threshold.
func (t *Throttle) RecordFailure(ctx context.Context, username, address string) {
	t.metrics.RecordLoginFailure()

	count, available := t.gw.Increment(ctx, failKey(username, address), t.cfg.FailureWindow)
	if !available {
		t.log.Warn("cache unavailable, login failure not recorded")
		return
	}
	if count >= int64(t.cfg.SoftThreshold) {
		if ok, _ := t.gw.Set(ctx, lockUserKey(username), "1", t.cfg.UserLockTTL); ok {
			t.metrics.RecordLockout("user")
			t.log.WithFields(logrus.Fields{"username": username, "address": address, "failures": count}).
				Warn("account locked after repeated login failures")
		}
	}

	ipCount, available := t.gw.Increment(ctx, failIPKey(address), t.cfg.FailureWindow)
	if !available {
		return
	}
	if ipCount >= int64(t.cfg.IPThreshold) {
		if ok, _ := t.gw.Set(ctx, lockIPKey(address), "1", t.cfg.IPLockTTL); ok {
			t.metrics.RecordLockout("ip")
			t.log.WithFields(logrus.Fields{"address": address, "failures": ipCount}).
				Warn("address locked after repeated login failures")
		}
	}
}

// RecordSuccess clears the per-pair failure counter. It deliberately leaves
// any established lock in place: a lock expires on its own TTL only, so a
// brute-force actor cannot clear their lockout by guessing one success.
func (t *Throttle) RecordSuccess(ctx context.Context, username, address string) {
	if _, available := t.gw.Delete(ctx, failKey(username, address)); !available {
		t.log.Debug("cache unavailable, failure counter not cleared")
	}
}
