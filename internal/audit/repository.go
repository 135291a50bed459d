package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository menyimpan event audit GL di Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository membuat repository audit.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// querier dipenuhi oleh pool maupun pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxStatusLog mengikat pencatatan transisi status ke transaksi tx sehingga event
// ikut commit atau rollback bersama perubahan posting_status.
func TxStatusLog(tx pgx.Tx) StatusLog {
	return statusLog{q: tx}
}

type statusLog struct {
	q querier
}

func (r *Repository) LastStatus(ctx context.Context, sourceID uuid.UUID) (StatusEvent, bool, error) {
	return statusLog{q: r.pool}.LastStatus(ctx, sourceID)
}

func (r *Repository) AppendStatus(ctx context.Context, e StatusEvent) (StatusEvent, error) {
	return statusLog{q: r.pool}.AppendStatus(ctx, e)
}

func (l statusLog) LastStatus(ctx context.Context, sourceID uuid.UUID) (StatusEvent, bool, error) {
	var e StatusEvent
	err := l.q.QueryRow(ctx, `SELECT seq, source_id, from_status, to_status, COALESCE(actor_id, 0), occurred_at, batch_id, COALESCE(reason, '')
FROM gl_status_events WHERE source_id=$1 ORDER BY seq DESC LIMIT 1`, sourceID).
		Scan(&e.Seq, &e.SourceID, &e.From, &e.To, &e.ActorID, &e.At, &e.BatchID, &e.Reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StatusEvent{}, false, nil
		}
		return StatusEvent{}, false, err
	}
	return e, true, nil
}

func (l statusLog) AppendStatus(ctx context.Context, e StatusEvent) (StatusEvent, error) {
	err := l.q.QueryRow(ctx, `INSERT INTO gl_status_events (source_id, from_status, to_status, actor_id, occurred_at, batch_id, reason)
VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,'')) RETURNING seq`, e.SourceID, e.From, e.To, nullActor(e.ActorID), e.At, e.BatchID, e.Reason).Scan(&e.Seq)
	return e, err
}

func (r *Repository) History(ctx context.Context, sourceID uuid.UUID) ([]StatusEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT seq, source_id, from_status, to_status, COALESCE(actor_id, 0), occurred_at, batch_id, COALESCE(reason, '')
FROM gl_status_events WHERE source_id=$1 ORDER BY seq`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []StatusEvent{}
	for rows.Next() {
		var e StatusEvent
		if err := rows.Scan(&e.Seq, &e.SourceID, &e.From, &e.To, &e.ActorID, &e.At, &e.BatchID, &e.Reason); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) LastReconciliation(ctx context.Context, period, axis string) (ReconciliationEvent, bool, error) {
	var e ReconciliationEvent
	err := r.pool.QueryRow(ctx, `SELECT seq, report_id, period, axis, from_status, to_status, COALESCE(actor_id, 0), occurred_at
FROM gl_reconciliation_events WHERE period=$1 AND axis=$2 ORDER BY seq DESC LIMIT 1`, period, axis).
		Scan(&e.Seq, &e.ReportID, &e.Period, &e.Axis, &e.From, &e.To, &e.ActorID, &e.At)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ReconciliationEvent{}, false, nil
		}
		return ReconciliationEvent{}, false, err
	}
	return e, true, nil
}

func (r *Repository) AppendReconciliation(ctx context.Context, e ReconciliationEvent) (ReconciliationEvent, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO gl_reconciliation_events (report_id, period, axis, from_status, to_status, actor_id, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING seq`, e.ReportID, e.Period, e.Axis, e.From, e.To, nullActor(e.ActorID), e.At).Scan(&e.Seq)
	return e, err
}

// Timeline menggabungkan event posting dan rekonsiliasi, terbaru dulu.
func (r *Repository) Timeline(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT seq, occurred_at, actor_id, kind, entity_id, from_status, to_status, detail FROM (
	SELECT seq, occurred_at, COALESCE(actor_id, 0) AS actor_id, 'posting' AS kind, source_id::text AS entity_id,
		from_status, to_status, COALESCE(reason, batch_id::text, '') AS detail
	FROM gl_status_events
	UNION ALL
	SELECT seq, occurred_at, COALESCE(actor_id, 0), 'reconciliation', report_id::text, from_status, to_status, period || ' ' || axis
	FROM gl_reconciliation_events
) t
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
	AND ($2::timestamptz IS NULL OR occurred_at < $2)
	AND ($3::bigint = 0 OR actor_id = $3)
	AND ($4::text IS NULL OR kind = $4)
ORDER BY occurred_at DESC, seq DESC
OFFSET $5 LIMIT $6`, toPgTime(filters.From), toPgTime(filters.To), filters.ActorID, optionalText(string(filters.Kind)), offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		if err := rows.Scan(&row.Seq, &row.At, &row.ActorID, &row.Kind, &row.EntityID, &row.From, &row.To, &row.Detail); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func nullActor(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
