package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/dimensions"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/audit"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// Repository persists source transactions and ledger batches in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("posting repository not initialised")
	}
	return mapPgError(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	}))
}

const sourceColumns = `id, module, COALESCE(origin_module, ''), number, description, date, branch_id, amount::text,
	components, account_overrides, status, batch_id, posted_by, posted_at, COALESCE(last_error, ''), reverses_batch_id, mirror`

// GetSource loads a source transaction without locking.
func (r *Repository) GetSource(ctx context.Context, id uuid.UUID) (SourceTransaction, error) {
	return loadSource(ctx, r.pool, `SELECT `+sourceColumns+` FROM gl_source_transactions WHERE id=$1`, id)
}

// RegisterSource stores a source transaction handed over by an operational module.
func (r *Repository) RegisterSource(ctx context.Context, src SourceTransaction) error {
	return r.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertSource(ctx, src)
	})
}

// GetBatch loads a batch with its entries.
func (r *Repository) GetBatch(ctx context.Context, id uuid.UUID) (Batch, error) {
	return loadBatch(ctx, r.pool, id)
}

// BatchesInPeriod loads every batch dated inside period, ordered by date and id.
func (r *Repository) BatchesInPeriod(ctx context.Context, period shared.Period) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM gl_batches WHERE date >= $1 AND date < $2 ORDER BY date, id`, period.Start, period.End)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}
	out := make([]Batch, 0, len(ids))
	for _, id := range ids {
		batch, err := loadBatch(ctx, r.pool, id)
		if err != nil {
			return nil, err
		}
		out = append(out, batch)
	}
	return out, nil
}

func (r *txRepository) LockSource(ctx context.Context, id uuid.UUID) (SourceTransaction, error) {
	src, err := loadSource(ctx, r.tx, `SELECT `+sourceColumns+` FROM gl_source_transactions WHERE id=$1 FOR UPDATE`, id)
	return src, mapPgError(err)
}

func (r *txRepository) GetBatch(ctx context.Context, id uuid.UUID) (Batch, error) {
	return loadBatch(ctx, r.tx, id)
}

func (r *txRepository) BatchForSource(ctx context.Context, sourceID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.tx.QueryRow(ctx, `SELECT id FROM gl_batches WHERE source_id=$1`, sourceID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, shared.ErrBatchNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (r *txRepository) InsertBatch(ctx context.Context, batch Batch) error {
	tag, err := r.tx.Exec(ctx, `INSERT INTO gl_batches (id, source_id, source_module, date, posted_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT ON CONSTRAINT uq_gl_batches_source DO NOTHING`,
		batch.ID, batch.SourceID, batch.SourceModule, batch.Date, nullInt(batch.PostedBy), batch.PostedAt)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAlreadyPosted
	}
	return nil
}

func (r *txRepository) InsertEntries(ctx context.Context, entries []Entry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO gl_entries (id, batch_id, line_no, account_id, role, debit, credit, date, description, source_id, source_module)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			e.ID, e.BatchID, e.LineNo, e.AccountID, e.Role, numeric(e.Debit), numeric(e.Credit), e.Date, e.Description, e.SourceID, e.SourceModule)
		for _, ref := range e.Dimensions {
			batch.Queue(`INSERT INTO gl_entry_dimensions (entry_id, dimension_id, value_id) VALUES ($1,$2,$3)`, e.ID, ref.DimensionID, ref.ValueID)
		}
	}
	results := r.tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return mapPgError(err)
		}
	}
	return results.Close()
}

func (r *txRepository) MarkPosted(ctx context.Context, sourceID, batchID uuid.UUID, actorID int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE gl_source_transactions SET status='POSTED', batch_id=$2, posted_by=$3, posted_at=$4, last_error=NULL, updated_at=NOW()
WHERE id=$1 AND status <> 'POSTED'`, sourceID, batchID, nullInt(actorID), at)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return &shared.AlreadyPostedError{SourceID: sourceID, BatchID: batchID}
	}
	return nil
}

func (r *txRepository) MarkError(ctx context.Context, sourceID uuid.UUID, reason string) error {
	_, err := r.tx.Exec(ctx, `UPDATE gl_source_transactions SET status='ERROR', last_error=$2, updated_at=NOW()
WHERE id=$1 AND status <> 'POSTED'`, sourceID, reason)
	return mapPgError(err)
}

func (r *txRepository) LastStatus(ctx context.Context, sourceID uuid.UUID) (audit.StatusEvent, bool, error) {
	return audit.TxStatusLog(r.tx).LastStatus(ctx, sourceID)
}

func (r *txRepository) AppendStatus(ctx context.Context, event audit.StatusEvent) (audit.StatusEvent, error) {
	return audit.TxStatusLog(r.tx).AppendStatus(ctx, event)
}

// InsertSource stores src once. A known id keeps its original row and dimension references.
func (r *txRepository) InsertSource(ctx context.Context, src SourceTransaction) error {
	tag, err := r.tx.Exec(ctx, `INSERT INTO gl_source_transactions (id, module, origin_module, number, description, date, branch_id, amount,
	components, account_overrides, status, reverses_batch_id, mirror)
VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,'UNPOSTED',$11,$12) ON CONFLICT (id) DO NOTHING`,
		src.ID, src.Module, string(src.OriginModule), src.Number, src.Description, src.Date, src.BranchID, numeric(src.Amount),
		jsonMap(src.Components), jsonMap(src.AccountOverrides), src.ReversesBatchID, mirrorJSON(src.Mirror))
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 || len(src.DimensionRefs) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(src.DimensionRefs))
	for _, ref := range src.DimensionRefs {
		rows = append(rows, []any{src.ID, ref.DimensionID, ref.ValueID})
	}
	_, err = r.tx.CopyFrom(ctx, pgx.Identifier{"gl_source_dimensions"}, []string{"source_id", "dimension_id", "value_id"}, pgx.CopyFromRows(rows))
	return mapPgError(err)
}

func loadSource(ctx context.Context, q querier, sql string, id uuid.UUID) (SourceTransaction, error) {
	var (
		src        SourceTransaction
		amount     string
		origin     string
		components map[shared.Component]decimal.Decimal
		overrides  map[shared.Role]int64
		mirror     []mirrorLine
	)
	err := q.QueryRow(ctx, sql, id).Scan(&src.ID, &src.Module, &origin, &src.Number, &src.Description, &src.Date, &src.BranchID, &amount,
		&components, &overrides, &src.Status, &src.BatchID, &src.PostedBy, &src.PostedAt, &src.LastError, &src.ReversesBatchID, &mirror)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SourceTransaction{}, fmt.Errorf("%w: %s", shared.ErrSourceNotFound, id)
		}
		return SourceTransaction{}, err
	}
	if src.Amount, err = decimal.NewFromString(amount); err != nil {
		return SourceTransaction{}, fmt.Errorf("posting: source %s amount: %w", id, err)
	}
	src.OriginModule = shared.ModuleType(origin)
	src.Components = components
	src.AccountOverrides = overrides
	for _, line := range mirror {
		src.Mirror = append(src.Mirror, line.spec())
	}
	refs, err := q.Query(ctx, `SELECT dimension_id, value_id FROM gl_source_dimensions WHERE source_id=$1 ORDER BY dimension_id, value_id`, id)
	if err != nil {
		return SourceTransaction{}, err
	}
	defer refs.Close()
	for refs.Next() {
		var ref dimensions.Reference
		if err := refs.Scan(&ref.DimensionID, &ref.ValueID); err != nil {
			return SourceTransaction{}, err
		}
		src.DimensionRefs = append(src.DimensionRefs, ref)
	}
	return src, refs.Err()
}

func loadBatch(ctx context.Context, q querier, id uuid.UUID) (Batch, error) {
	var (
		batch    Batch
		postedBy *int64
	)
	err := q.QueryRow(ctx, `SELECT id, source_id, source_module, date, posted_by, posted_at FROM gl_batches WHERE id=$1`, id).
		Scan(&batch.ID, &batch.SourceID, &batch.SourceModule, &batch.Date, &postedBy, &batch.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, fmt.Errorf("%w: %s", shared.ErrBatchNotFound, id)
		}
		return Batch{}, err
	}
	if postedBy != nil {
		batch.PostedBy = *postedBy
	}
	rows, err := q.Query(ctx, `SELECT e.id, e.line_no, e.account_id, a.code, e.role, e.debit::text, e.credit::text, e.date, e.description, e.source_id, e.source_module,
	COALESCE(array_agg(d.dimension_id ORDER BY d.dimension_id, d.value_id) FILTER (WHERE d.entry_id IS NOT NULL), '{}'),
	COALESCE(array_agg(d.value_id ORDER BY d.dimension_id, d.value_id) FILTER (WHERE d.entry_id IS NOT NULL), '{}')
FROM gl_entries e
JOIN accounts a ON a.id = e.account_id
LEFT JOIN gl_entry_dimensions d ON d.entry_id = e.id
WHERE e.batch_id=$1
GROUP BY e.id, a.code
ORDER BY e.line_no`, id)
	if err != nil {
		return Batch{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e             Entry
			debit, credit string
			dimIDs        []int64
			valueIDs      []int64
		)
		if err := rows.Scan(&e.ID, &e.LineNo, &e.AccountID, &e.AccountCode, &e.Role, &debit, &credit, &e.Date, &e.Description, &e.SourceID, &e.SourceModule, &dimIDs, &valueIDs); err != nil {
			return Batch{}, err
		}
		e.BatchID = batch.ID
		e.Debit = decimal.RequireFromString(debit)
		e.Credit = decimal.RequireFromString(credit)
		e.Dimensions = make([]dimensions.Reference, len(dimIDs))
		for i := range dimIDs {
			e.Dimensions[i] = dimensions.Reference{DimensionID: dimIDs[i], ValueID: valueIDs[i]}
		}
		batch.Entries = append(batch.Entries, e)
	}
	return batch, rows.Err()
}

// mirrorLine is the jsonb shape of a reversal line.
type mirrorLine struct {
	Role   shared.Role     `json:"role"`
	Debit  decimal.Decimal `json:"debit"`
	Credit decimal.Decimal `json:"credit"`
	Memo   string          `json:"memo,omitempty"`
}

func (m mirrorLine) spec() LineSpec {
	return LineSpec{Role: m.Role, Debit: m.Debit, Credit: m.Credit, Memo: m.Memo}
}

func mirrorJSON(lines []LineSpec) []mirrorLine {
	if len(lines) == 0 {
		return nil
	}
	out := make([]mirrorLine, len(lines))
	for i, l := range lines {
		out[i] = mirrorLine{Role: l.Role, Debit: l.Debit, Credit: l.Credit, Memo: l.Memo}
	}
	return out
}

func jsonMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}

// mapPgError translates constraint and serialization failures into domain errors.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == "40001" || pgErr.Code == "40P01":
		return fmt.Errorf("%w: %s", ErrConcurrentUpdate, pgErr.Message)
	case pgErr.ConstraintName == "uq_gl_batches_source":
		return shared.ErrAlreadyPosted
	}
	return err
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func numeric(v decimal.Decimal) string {
	return v.StringFixed(shared.CurrencyScale)
}
