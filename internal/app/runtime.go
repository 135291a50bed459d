package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/dimensions"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reconcile"
	"github.com/odyssey-erp/odyssey-gl/internal/audit"
	"github.com/odyssey-erp/odyssey-gl/internal/integration"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
	"github.com/odyssey-erp/odyssey-gl/internal/observability"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

// detectTestMode reads the ODYSSEY_TEST_MODE flag once.
func detectTestMode() {
	testModeFlag.Store(os.Getenv(testModeEnv) == "1")
}

// InTestMode reports whether the application should skip runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode updates the cached flag after environment changes.
func RefreshTestMode() {
	detectTestMode()
}

// Runtime holds the long-lived ledger components shared by the server, the worker and the CLI.
type Runtime struct {
	Config *Config
	Logger *slog.Logger

	Pool  *pgxpool.Pool
	Redis *redis.Client
	Cache *cache.Versioned

	Metrics    *observability.Metrics
	JobMetrics *jobmetrics.Metrics

	Accounts   accounts.Repository
	Dimensions *dimensions.Repository
	Sources    *posting.Repository
	Reports    *reconcile.Repository
	AuditStore *audit.Repository

	Registry   *dimensions.Registry
	Resolver   *accounts.Resolver
	Tracker    *audit.Tracker
	Strategies posting.Strategies
	Engine     *posting.Engine
	Reconciler *reconcile.Engine
	Reconcile  *reconcile.Service
}

// OpenRuntime connects to Postgres and Redis, loads the dimension and chart snapshots and
// builds both engines. Redis is optional: when unreachable the cache is disabled.
func OpenRuntime(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	tolerance, err := cfg.Tolerance()
	if err != nil {
		return nil, err
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Logger: logger, Pool: pool}

	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, gl cache disabled", slog.Any("error", err))
	} else {
		rt.Redis = client
	}
	rt.Cache = cache.NewVersioned(rt.Redis, cfg.GLCacheTTL)

	rt.Metrics = observability.NewMetrics()
	rt.JobMetrics = jobmetrics.NewMetrics(rt.Metrics.Registerer())

	rt.Accounts = accounts.NewRepository(pool)
	rt.Dimensions = dimensions.NewRepository(pool)
	rt.Sources = posting.NewRepository(pool)
	rt.Reports = reconcile.NewRepository(pool)
	rt.AuditStore = audit.NewRepository(pool)

	rt.Registry = dimensions.NewRegistry(rt.Dimensions, logger)
	rt.Resolver = accounts.NewResolver(rt.Accounts, logger)
	if err := rt.Refresh(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	rt.Tracker = audit.NewTracker(rt.AuditStore, logger)
	rt.Strategies = integration.Strategies()

	rt.Engine = posting.NewEngine(rt.Sources, rt.Registry, rt.Resolver, rt.Strategies, logger)
	rt.Engine.WithInvalidator(rt.Cache)
	rt.Engine.WithMetrics(posting.NewMetrics(rt.Metrics.Registerer()))

	rt.Reconciler = reconcile.NewEngine(rt.Reports, rt.Registry, rt.Strategies, tolerance, logger)
	rt.Reconcile = reconcile.NewService(rt.Reconciler, rt.Reports, rt.Tracker, rt.Cache, logger)
	return rt, nil
}

// Refresh reloads the dimension and chart-of-accounts snapshots.
func (rt *Runtime) Refresh(ctx context.Context) error {
	if err := rt.Registry.Refresh(ctx); err != nil {
		return fmt.Errorf("load dimensions: %w", err)
	}
	if err := rt.Resolver.Refresh(ctx); err != nil {
		return fmt.Errorf("load chart of accounts: %w", err)
	}
	return nil
}

// RefreshEvery reloads the snapshots on interval until ctx ends. Failures keep the previous snapshot.
func (rt *Runtime) RefreshEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := rt.Refresh(ctx); err != nil {
					rt.Logger.Warn("refresh gl snapshots", slog.Any("error", err))
				}
			}
		}
	}()
}

// GLHandler builds the HTTP handler for the /gl routes.
func (rt *Runtime) GLHandler() *accounting.Handler {
	accountsHandler := accounts.NewHandler(rt.Logger, accounts.NewService(rt.Accounts, rt.Resolver))
	h := accounting.NewHandler(rt.Logger, rt.Engine, rt.Reconcile, accountsHandler, rt.Tracker)
	if rt.Config.GLReconcileRate > 0 {
		h.ReconcileRate = rt.Config.GLReconcileRate
	}
	return h
}

// Readiness lists the dependencies probed by /readyz.
func (rt *Runtime) Readiness() map[string]Pinger {
	checks := map[string]Pinger{"postgres": rt.Pool}
	if rt.Redis != nil {
		checks["redis"] = redisPinger{rt.Redis}
	}
	return checks
}

// Close releases pool and client resources.
func (rt *Runtime) Close() {
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }
