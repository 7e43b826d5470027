// Package cache provides the resilient gateway in front of the redis
// backend. Every higher-level component reaches redis exclusively through
// the Gateway, and every call reports backend availability alongside its
// result so callers can branch into their degraded mode instead of failing
// the request.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/observability"
)

const (
	// initialProbeBackoff is the delay before the first re-probe after the
	// backend is marked unavailable.
	initialProbeBackoff = 1 * time.Second
	// maxProbeBackoff caps the exponential backoff so a down backend is
	// re-checked at a bounded interval rather than hammered.
	maxProbeBackoff = 30 * time.Second

	defaultOpTimeout = 2 * time.Second
	// defaultMaxTTL is the ceiling applied to every Set so stale cached
	// state self-heals even if an invalidation event is missed.
	defaultMaxTTL = 12 * time.Hour
)

// Options tunes Gateway behavior.
type Options struct {
	// OpTimeout bounds every redis round trip. A timeout is treated the
	// same as backend-unavailable.
	OpTimeout time.Duration
	// MaxTTL is the ceiling applied to every entry's TTL.
	MaxTTL time.Duration
}

// Gateway wraps a single redis client behind a degrade-not-fail contract.
// On backend failure operations return available=false instead of an error,
// and a capped exponential-backoff liveness probe decides when to try the
// backend again.
type Gateway struct {
	client    *redis.Client
	log       *logrus.Logger
	metrics   *observability.Metrics
	opTimeout time.Duration
	maxTTL    time.Duration

	available atomic.Bool
	backoff   int64 // nanoseconds, accessed atomically
	nextProbe int64 // unix nanoseconds, accessed atomically

	ready     chan struct{}
	readyOnce sync.Once

	now func() time.Time
}

// NewGateway creates a gateway and kicks off the first liveness probe in the
// background. Ready() resolves once that probe completes, success or not;
// until then cache-dependent endpoints are held behind the startup gate.
func NewGateway(client *redis.Client, log *logrus.Logger, metrics *observability.Metrics, opts Options) *Gateway {
	if log == nil {
		log = logrus.New()
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	if opts.MaxTTL <= 0 {
		opts.MaxTTL = defaultMaxTTL
	}

	g := &Gateway{
		client:    client,
		log:       log,
		metrics:   metrics,
		opTimeout: opts.OpTimeout,
		maxTTL:    opts.MaxTTL,
		backoff:   int64(initialProbeBackoff),
		ready:     make(chan struct{}),
		now:       time.Now,
	}

	go g.firstProbe()
	return g
}

func (g *Gateway) firstProbe() {
	defer g.readyOnce.Do(func() { close(g.ready) })

	ctx, cancel := context.WithTimeout(context.Background(), g.opTimeout)
	defer cancel()

	if err := g.client.Ping(ctx).Err(); err != nil {
		g.log.WithError(err).Warn("cache backend unavailable at startup, running degraded")
		g.markUnavailable("probe", err)
		return
	}
	g.available.Store(true)
	g.log.Info("cache backend connected")
}

// Ready returns a channel closed once the first liveness probe has resolved.
func (g *Gateway) Ready() <-chan struct{} {
	return g.ready
}

// WaitReady blocks until the first probe resolves or the context ends.
func (g *Gateway) WaitReady(ctx context.Context) error {
	select {
	case <-g.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Started reports whether the first probe has resolved.
func (g *Gateway) Started() bool {
	select {
	case <-g.ready:
		return true
	default:
		return false
	}
}

// Available reports the current availability flag without probing.
func (g *Gateway) Available() bool {
	return g.available.Load()
}

// Close releases the underlying client.
func (g *Gateway) Close() error {
	return g.client.Close()
}

// ensure reports whether the backend may be used for this call. When the
// backend is marked unavailable it attempts a cheap ping, but only once the
// current backoff window has elapsed.
func (g *Gateway) ensure(ctx context.Context) bool {
	if g.available.Load() {
		return true
	}

	nowNano := g.now().UnixNano()
	if nowNano < atomic.LoadInt64(&g.nextProbe) {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()
	if err := g.client.Ping(probeCtx).Err(); err != nil {
		g.growBackoff(err)
		return false
	}

	// Single atomic flip: concurrent requests either see the old
	// unavailable state or the fully-usable backend, never a half state.
	atomic.StoreInt64(&g.backoff, int64(initialProbeBackoff))
	g.available.Store(true)
	g.log.Info("cache backend available again")
	return true
}

func (g *Gateway) growBackoff(err error) {
	backoff := atomic.LoadInt64(&g.backoff)
	next := backoff * 2
	if next > int64(maxProbeBackoff) {
		next = int64(maxProbeBackoff)
	}
	atomic.StoreInt64(&g.backoff, next)
	atomic.StoreInt64(&g.nextProbe, g.now().UnixNano()+backoff)
	g.log.WithError(err).WithField("retry_in", time.Duration(backoff).String()).
		Debug("cache backend still unavailable")
}

func (g *Gateway) markUnavailable(op string, err error) {
	g.available.Store(false)
	atomic.StoreInt64(&g.backoff, int64(initialProbeBackoff))
	atomic.StoreInt64(&g.nextProbe, g.now().UnixNano()+int64(initialProbeBackoff))
	g.metrics.RecordCacheDegraded(op)
	g.log.WithError(err).WithField("op", op).Warn("cache backend unavailable, degrading")
}

func (g *Gateway) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.opTimeout)
}

// Get returns the value for key. ok=false with available=true is a miss;
// available=false means the backend could not be reached and callers must
// take their degraded branch.
func (g *Gateway) Get(ctx context.Context, key string) (value string, ok bool, available bool) {
	if !g.ensure(ctx) {
		return "", false, false
	}
	opCtx, cancel := g.opCtx(ctx)
	defer cancel()

	val, err := g.client.Get(opCtx, key).Result()
	if err == redis.Nil {
		return "", false, true
	}
	if err != nil {
		g.markUnavailable("get", err)
		return "", false, false
	}
	return val, true, true
}

// Set writes key with the given TTL, clamped to the configured ceiling.
func (g *Gateway) Set(ctx context.Context, key, value string, ttl time.Duration) (ok bool, available bool) {
	if !g.ensure(ctx) {
		return false, false
	}
	if ttl <= 0 || ttl > g.maxTTL {
		ttl = g.maxTTL
	}
	opCtx, cancel := g.opCtx(ctx)
	defer cancel()

	if err := g.client.Set(opCtx, key, value, ttl).Err(); err != nil {
		g.markUnavailable("set", err)
		return false, false
	}
	return true, true
}

// Delete removes the given keys. Deleting a missing key still reports ok.
func (g *Gateway) Delete(ctx context.Context, keys ...string) (ok bool, available bool) {
	if len(keys) == 0 {
		return true, g.available.Load()
	}
	if !g.ensure(ctx) {
		return false, false
	}
	opCtx, cancel := g.opCtx(ctx)
	defer cancel()

	if err := g.client.Del(opCtx, keys...).Err(); err != nil {
		g.markUnavailable("delete", err)
		return false, false
	}
	return true, true
}

// DeletePattern removes every key matching the glob pattern using SCAN, so
// large invalidations do not block the backend.
func (g *Gateway) DeletePattern(ctx context.Context, pattern string) (deleted int, available bool) {
	if !g.ensure(ctx) {
		return 0, false
	}
	opCtx, cancel := g.opCtx(ctx)
	defer cancel()

	iter := g.client.Scan(opCtx, 0, pattern, 100).Iterator()
	for iter.Next(opCtx) {
		if err := g.client.Del(opCtx, iter.Val()).Err(); err != nil {
			g.markUnavailable("delete_pattern", err)
			return deleted, false
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		g.markUnavailable("delete_pattern", err)
		return deleted, false
	}
	return deleted, true
}

// Increment atomically increments key and refreshes its expiry in a single
// pipelined round trip, returning the new counter value. The combined
// increment-with-expiry is what makes concurrent failure recordings safe.
func (g *Gateway) Increment(ctx context.Context, key string, window time.Duration) (count int64, available bool) {
	if !g.ensure(ctx) {
		return 0, false
	}
	opCtx, cancel := g.opCtx(ctx)
	defer cancel()

	pipe := g.client.Pipeline()
	incr := pipe.Incr(opCtx, key)
	pipe.Expire(opCtx, key, window)
	if _, err := pipe.Exec(opCtx); err != nil {
		g.markUnavailable("increment", err)
		return 0, false
	}
	return incr.Val(), true
}

// Exists reports whether key is present.
func (g *Gateway) Exists(ctx context.Context, key string) (exists bool, available bool) {
	if !g.ensure(ctx) {
		return false, false
	}
	opCtx, cancel := g.opCtx(ctx)
	defer cancel()

	n, err := g.client.Exists(opCtx, key).Result()
	if err != nil {
		g.markUnavailable("exists", err)
		return false, false
	}
	return n > 0, true
}

// TTL returns the remaining lifetime of key, or zero when the key is missing
// or has no expiry.
func (g *Gateway) TTL(ctx context.Context, key string) (ttl time.Duration, available bool) {
	if !g.ensure(ctx) {
		return 0, false
	}
	opCtx, cancel := g.opCtx(ctx)
	defer cancel()

	d, err := g.client.TTL(opCtx, key).Result()
	if err != nil {
		g.markUnavailable("ttl", err)
		return 0, false
	}
	if d < 0 {
		return 0, true
	}
	return d, true
}

// ScanKeys returns every key matching the glob pattern.
func (g *Gateway) ScanKeys(ctx context.Context, pattern string) (keys []string, available bool) {
	if !g.ensure(ctx) {
		return nil, false
	}
	opCtx, cancel := g.opCtx(ctx)
	defer cancel()

	iter := g.client.Scan(opCtx, 0, pattern, 100).Iterator()
	for iter.Next(opCtx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		g.markUnavailable("scan", err)
		return nil, false
	}
	return keys, true
}
