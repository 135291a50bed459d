package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// ErrInvalidTransition menandakan transisi posting_status yang tidak diizinkan.
var ErrInvalidTransition = errors.New("audit: invalid posting status transition")

// Store menyimpan event audit secara append-only.
type Store interface {
	LastStatus(ctx context.Context, sourceID uuid.UUID) (StatusEvent, bool, error)
	AppendStatus(ctx context.Context, event StatusEvent) (StatusEvent, error)
	History(ctx context.Context, sourceID uuid.UUID) ([]StatusEvent, error)
	LastReconciliation(ctx context.Context, period, axis string) (ReconciliationEvent, bool, error)
	AppendReconciliation(ctx context.Context, event ReconciliationEvent) (ReconciliationEvent, error)
	// Timeline mengembalikan paling banyak limit baris mulai dari offset, terbaru dulu.
	Timeline(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error)
}

// StatusLog adalah bagian Store untuk transisi posting_status. Posting engine
// memakai implementasi yang terikat pada transaksi database yang sama.
type StatusLog interface {
	LastStatus(ctx context.Context, sourceID uuid.UUID) (StatusEvent, bool, error)
	AppendStatus(ctx context.Context, event StatusEvent) (StatusEvent, error)
}

// Tracker mencatat transisi status posting dan hasil rekonsiliasi.
type Tracker struct {
	store  Store
	logger *slog.Logger
}

// NewTracker membuat tracker baru.
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// ValidateTransition checks a posting status change. POSTED is terminal.
func ValidateTransition(from, to shared.PostingStatus) error {
	switch {
	case from == shared.StatusPosted:
	case to == shared.StatusPosted && (from == shared.StatusUnposted || from == shared.StatusError):
		return nil
	case to == shared.StatusError && (from == shared.StatusUnposted || from == shared.StatusError):
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// RecordPosting appends the transition to POSTED on log.
func RecordPosting(ctx context.Context, log StatusLog, sourceID uuid.UUID, actorID int64, at time.Time, batchID uuid.UUID) (StatusEvent, error) {
	return transition(ctx, log, StatusEvent{SourceID: sourceID, To: shared.StatusPosted, ActorID: actorID, At: at, BatchID: &batchID})
}

// RecordPostingError appends the transition to ERROR on log.
func RecordPostingError(ctx context.Context, log StatusLog, sourceID uuid.UUID, actorID int64, at time.Time, reason string) (StatusEvent, error) {
	return transition(ctx, log, StatusEvent{SourceID: sourceID, To: shared.StatusError, ActorID: actorID, At: at, Reason: reason})
}

func transition(ctx context.Context, log StatusLog, event StatusEvent) (StatusEvent, error) {
	event.From = shared.StatusUnposted
	last, ok, err := log.LastStatus(ctx, event.SourceID)
	if err != nil {
		return StatusEvent{}, err
	}
	if ok {
		event.From = last.To
	}
	if err := ValidateTransition(event.From, event.To); err != nil {
		return StatusEvent{}, err
	}
	return log.AppendStatus(ctx, event)
}

// RecordReconciliation mencatat hasil rekonsiliasi untuk (period, axis).
func (t *Tracker) RecordReconciliation(ctx context.Context, reportID uuid.UUID, actorID int64, at time.Time, status, period, axis string) error {
	if t == nil || t.store == nil {
		return errors.New("audit: store not configured")
	}
	if status != StatusReconciled && status != StatusVarianceDetected {
		return fmt.Errorf("audit: unknown reconciliation status %q", status)
	}
	from := StatusUnreconciled
	last, ok, err := t.store.LastReconciliation(ctx, period, axis)
	if err != nil {
		return err
	}
	if ok {
		from = last.To
	}
	_, err = t.store.AppendReconciliation(ctx, ReconciliationEvent{
		ReportID: reportID,
		Period:   period,
		Axis:     axis,
		From:     from,
		To:       status,
		ActorID:  actorID,
		At:       at,
	})
	return err
}

// History mengembalikan transisi status transaksi sumber berurutan menurut seq.
func (t *Tracker) History(ctx context.Context, sourceID uuid.UUID) ([]StatusEvent, error) {
	if t == nil || t.store == nil {
		return nil, errors.New("audit: store not configured")
	}
	return t.store.History(ctx, sourceID)
}

// Timeline mengambil data audit dengan paging.
func (t *Tracker) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if t == nil || t.store == nil {
		return Result{}, errors.New("audit: store not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := t.store.Timeline(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	return Result{Rows: rows, Paging: paging}, nil
}
