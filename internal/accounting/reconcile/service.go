package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gl/internal/platform/cache"
)

// Service runs reconciliations, persists their snapshots and serves cached reads.
type Service struct {
	engine    *Engine
	store     ReportStore
	audit     AuditPort
	cache     *cache.Versioned
	coalescer cache.Coalescer
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the reconciliation service. store, audit and cacheLayer may be nil.
func NewService(engine *Engine, store ReportStore, audit AuditPort, cacheLayer *cache.Versioned, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, store: store, audit: audit, cache: cacheLayer, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Run computes a report, persists it and records the outcome for actorID.
func (s *Service) Run(ctx context.Context, req Request, actorID int64) (Report, error) {
	report, err := s.engine.Reconcile(ctx, req)
	if err != nil {
		return Report{}, err
	}
	report.GeneratedAt = s.now().UTC()
	if s.store != nil {
		if err := s.store.SaveReport(ctx, report); err != nil {
			return Report{}, err
		}
	}
	if s.audit != nil {
		if err := s.audit.RecordReconciliation(ctx, report.ID, actorID, s.now(), string(report.Status), report.Period, report.Axis); err != nil {
			s.logger.WarnContext(ctx, "record reconciliation audit", slog.String("report_id", report.ID.String()), slog.Any("error", err))
		}
	}
	return report, nil
}

// Current returns a report for req without persisting it. Results are cached until the next
// posting bumps the cache generation; concurrent identical requests share one computation.
func (s *Service) Current(ctx context.Context, req Request) (Report, error) {
	modules := make([]string, 0, len(req.Modules))
	for _, m := range req.Modules {
		modules = append(modules, strings.ToUpper(string(m)))
	}
	sort.Strings(modules)
	parts := []string{"gl", "reconcile", req.Period, strings.ToLower(req.Axis), strings.Join(modules, ",")}
	load := func(ctx context.Context) (Report, error) {
		report, err := s.engine.Reconcile(ctx, req)
		if err != nil {
			return Report{}, err
		}
		report.GeneratedAt = s.now().UTC()
		return report, nil
	}

	key := strings.Join(parts, ":")
	if s.cache.Enabled() {
		versioned, err := s.cache.Key(ctx, parts...)
		if err != nil {
			s.logger.WarnContext(ctx, "build reconcile cache key", slog.Any("error", err))
			return load(ctx)
		}
		key = versioned
	}
	value, err, _ := s.coalescer.Do(ctx, key, func(ctx context.Context) (any, error) {
		report, err := cache.Fetch(ctx, s.cache, key, load)
		return report, err
	})
	if err != nil {
		return Report{}, err
	}
	return value.(Report), nil
}

// Get returns a persisted report.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Report, error) {
	if s.store == nil {
		return Report{}, errors.New("reconcile: report store not configured")
	}
	return s.store.GetReport(ctx, id)
}

// List returns the latest persisted reports for period and axis, newest first.
func (s *Service) List(ctx context.Context, period, axis string, limit int) ([]Report, error) {
	if s.store == nil {
		return nil, errors.New("reconcile: report store not configured")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListReports(ctx, period, axis, limit)
}
