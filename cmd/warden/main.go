package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/warden/pkg/api"
	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/directory"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/session"
	"github.com/platinummonkey/warden/pkg/throttle"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server exited with error")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Redis.Password != "" {
		redisOpts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB > 0 {
		redisOpts.DB = cfg.Redis.DB
	}

	gw := cache.NewGateway(redis.NewClient(redisOpts), log, metrics, cache.Options{
		OpTimeout: cfg.Redis.OpTimeout,
		MaxTTL:    cfg.Redis.MaxTTL,
	})
	defer gw.Close()

	health := observability.NewHealthChecker()
	// The cache backend is optional: its failure degrades, never fails.
	health.AddOptionalCheck("redis", func(ctx context.Context) error {
		if !gw.Available() {
			return errors.New("cache backend unavailable")
		}
		return nil
	})

	var dir directory.Store
	switch cfg.Directory.Type {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Directory.PostgresURL)
		if err != nil {
			return fmt.Errorf("failed to open postgres: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Directory.MaxConns)

		pg := directory.NewPostgresStore(db)
		if err := pg.Ping(ctx); err != nil {
			return fmt.Errorf("failed to reach postgres: %w", err)
		}
		health.AddCheck("postgres", pg.Ping)
		dir = pg
	case "memory":
		log.Warn("using the in-memory directory store, for development only")
		dir = directory.NewMemoryStore()
	default:
		return fmt.Errorf("unknown directory type %q", cfg.Directory.Type)
	}

	perms := rbac.NewPermissionCache(dir, gw, log, metrics, rbac.CacheConfig{
		UserTTL: cfg.Cache.UserTTL,
		RoleTTL: cfg.Cache.RoleTTL,
		MenuTTL: cfg.Cache.MenuTTL,
		L1Size:  cfg.Cache.L1Size,
		L1TTL:   cfg.Cache.L1TTL,
	})
	scopes := rbac.NewScopeResolver(dir, log)
	thr := throttle.New(gw, log, metrics, cfg.Throttle)

	registry, err := session.NewRegistry([]byte(cfg.Auth.JWTSecret), cfg.Auth.SessionTTL, gw, log, metrics)
	if err != nil {
		return fmt.Errorf("failed to create session registry: %w", err)
	}
	login := session.NewLoginService(dir, thr, registry, log)

	server := api.NewServer(login, registry, perms, scopes, gw, log, metrics)

	var handler http.Handler = server.Router()
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "warden")
	}

	appSrv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthSrv := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", appSrv.Addr).Info("starting API server")
		if err := appSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.WithField("addr", healthSrv.Addr).Info("starting health server")
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := appSrv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("API server shutdown failed")
		}
		return healthSrv.Shutdown(shutdownCtx)
	})

	// Log the outcome of the initial cache probe without blocking startup.
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := gw.WaitReady(waitCtx); err == nil {
			log.WithField("available", gw.Available()).Info("cache probe resolved")
		}
	}()

	return g.Wait()
}
