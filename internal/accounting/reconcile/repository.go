package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// ErrReportNotFound indicates a missing reconciliation snapshot.
var ErrReportNotFound = errors.New("gl: reconciliation report not found")

// Repository reads totals and stores reports in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Totals aggregates source amounts and measured ledger movement in one snapshot.
func (r *Repository) Totals(ctx context.Context, q Query) ([]Total, []Total, error) {
	modules := make([]string, 0, len(q.Modules))
	var pairModules, pairRoles []string
	for _, m := range q.Modules {
		modules = append(modules, string(m))
		for _, role := range q.Measured[m] {
			pairModules = append(pairModules, string(m))
			pairRoles = append(pairRoles, string(role))
		}
	}
	var source, ledger []Total
	err := db.WithReadTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		source, err = collectTotals(ctx, tx, `SELECT COALESCE(d.value_id, 0), SUM(s.amount)::text
FROM gl_source_transactions s
LEFT JOIN gl_source_dimensions d ON d.source_id = s.id AND d.dimension_id = $4
WHERE s.date >= $1 AND s.date < $2
	AND (s.module = ANY($3) OR (s.module = 'REVERSAL' AND s.origin_module = ANY($3)))
GROUP BY 1`, q.Period.Start, q.Period.End, modules, q.DimensionID)
		if err != nil {
			return fmt.Errorf("source totals: %w", err)
		}
		ledger, err = collectTotals(ctx, tx, `WITH measured AS (
	SELECT unnest($3::text[]) AS module, unnest($4::text[]) AS role
)
SELECT COALESCE(d.value_id, 0), SUM(e.debit - e.credit)::text
FROM gl_entries e
JOIN measured m ON m.module = e.source_module AND m.role = e.role
LEFT JOIN gl_entry_dimensions d ON d.entry_id = e.id AND d.dimension_id = $5
WHERE e.date >= $1 AND e.date < $2
GROUP BY 1`, q.Period.Start, q.Period.End, pairModules, pairRoles, q.DimensionID)
		if err != nil {
			return fmt.Errorf("ledger totals: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return source, ledger, nil
}

func collectTotals(ctx context.Context, tx pgx.Tx, sql string, args ...any) ([]Total, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Total
	for rows.Next() {
		var (
			t      Total
			amount string
		)
		if err := rows.Scan(&t.ValueID, &amount); err != nil {
			return nil, err
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveReport stores a snapshot. Re-saving an identical report is a no-op.
func (r *Repository) SaveReport(ctx context.Context, report Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO gl_reconciliation_reports (id, period, axis, status, variance, payload, generated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (id) DO NOTHING`,
		report.ID, report.Period, report.Axis, report.Status, report.Variance.StringFixed(shared.CurrencyScale), payload, report.GeneratedAt)
	return err
}

// GetReport loads a snapshot by id.
func (r *Repository) GetReport(ctx context.Context, id uuid.UUID) (Report, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `SELECT payload FROM gl_reconciliation_reports WHERE id=$1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Report{}, ErrReportNotFound
		}
		return Report{}, err
	}
	var report Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return Report{}, fmt.Errorf("reconcile: decode report %s: %w", id, err)
	}
	return report, nil
}

// ListReports returns the newest snapshots for period and axis.
func (r *Repository) ListReports(ctx context.Context, period, axis string, limit int) ([]Report, error) {
	rows, err := r.pool.Query(ctx, `SELECT payload FROM gl_reconciliation_reports
WHERE ($1 = '' OR period = $1) AND ($2 = '' OR axis = $2)
ORDER BY generated_at DESC LIMIT $3`, period, axis, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Report{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var report Report
		if err := json.Unmarshal(payload, &report); err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, rows.Err()
}
