// Package memory keeps the whole GL state in process. It serialises every unit of work on one
// mutex, which gives the same at-most-once posting guarantee as the row lock and unique batch
// constraint of the Postgres repositories.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/dimensions"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reconcile"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/audit"
)

// Store is a mutex-guarded in-memory implementation of every GL repository port.
type Store struct {
	mu sync.Mutex

	nextID int64
	now    func() time.Time

	dimensions map[int64]dimensions.Dimension
	values     map[int64]dimensions.Value

	accounts map[int64]accounts.Account
	mappings []accounts.RoleMapping

	sources       map[uuid.UUID]posting.SourceTransaction
	batches       map[uuid.UUID]posting.Batch
	batchBySource map[uuid.UUID]uuid.UUID
	batchOrder    []uuid.UUID

	reports []reconcile.Report

	auditSeq       int64
	statusEvents   []audit.StatusEvent
	reconcileEvent []audit.ReconciliationEvent
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		now:           time.Now,
		dimensions:    map[int64]dimensions.Dimension{},
		values:        map[int64]dimensions.Value{},
		accounts:      map[int64]accounts.Account{},
		sources:       map[uuid.UUID]posting.SourceTransaction{},
		batches:       map[uuid.UUID]posting.Batch{},
		batchBySource: map[uuid.UUID]uuid.UUID{},
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// ListDimensions implements dimensions.Source.
func (s *Store) ListDimensions(ctx context.Context) ([]dimensions.Dimension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dimensions.Dimension, 0, len(s.dimensions))
	for _, d := range s.dimensions {
		d.RequiredFor = append([]string(nil), d.RequiredFor...)
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// ListValues implements dimensions.Source.
func (s *Store) ListValues(ctx context.Context) ([]dimensions.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dimensions.Value, 0, len(s.values))
	for _, v := range s.values {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// EnsureDimension upserts a dimension by code.
func (s *Store) EnsureDimension(ctx context.Context, in dimensions.EnsureDimensionInput) (dimensions.Dimension, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return dimensions.Dimension{}, fmt.Errorf("dimensions: code required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var d dimensions.Dimension
	found := false
	for _, existing := range s.dimensions {
		if existing.Code == code {
			d, found = existing, true
			break
		}
	}
	if !found {
		d = dimensions.Dimension{ID: s.id(), CreatedAt: now, Active: true}
	}
	d.Code = code
	d.Name = in.Name
	d.Required = in.Required
	d.Hierarchical = in.Hierarchical
	d.AllowMultiple = in.AllowMultiple
	d.RequiredFor = append([]string(nil), in.RequiredFor...)
	d.UpdatedAt = now
	s.dimensions[d.ID] = d
	return d, nil
}

// EnsureValue upserts a dimension value by (dimension, code).
func (s *Store) EnsureValue(ctx context.Context, in dimensions.EnsureValueInput) (dimensions.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dim *dimensions.Dimension
	for _, d := range s.dimensions {
		if d.Code == in.DimensionCode {
			d := d
			dim = &d
			break
		}
	}
	if dim == nil {
		return dimensions.Value{}, fmt.Errorf("%w: %s", shared.ErrDimensionNotFound, in.DimensionCode)
	}
	if in.ParentCode != "" && !dim.Hierarchical {
		return dimensions.Value{}, fmt.Errorf("%w: %s cannot parent %s under %s", dimensions.ErrFlatDimension, in.DimensionCode, in.Code, in.ParentCode)
	}
	var parentID *int64
	if in.ParentCode != "" {
		parent, ok := s.valueByCode(dim.ID, in.ParentCode)
		if !ok {
			return dimensions.Value{}, fmt.Errorf("dimensions: parent %s not in dimension %s", in.ParentCode, in.DimensionCode)
		}
		id := parent.ID
		parentID = &id
	}
	now := s.now()
	v, ok := s.valueByCode(dim.ID, in.Code)
	if !ok {
		v = dimensions.Value{ID: s.id(), DimensionID: dim.ID, Code: in.Code, Active: true, CreatedAt: now}
	}
	v.Name = in.Name
	v.ParentID = parentID
	v.UpdatedAt = now
	s.values[v.ID] = v
	return v, nil
}

// SetValueActive toggles a value, the soft delete used by administrators.
func (s *Store) SetValueActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[id]; ok {
		v.Active = active
		s.values[id] = v
	}
}

func (s *Store) valueByCode(dimensionID int64, code string) (dimensions.Value, bool) {
	for _, v := range s.values {
		if v.DimensionID == dimensionID && v.Code == code {
			return v, true
		}
	}
	return dimensions.Value{}, false
}

// List implements accounts.Repository.
func (s *Store) List(ctx context.Context) ([]accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]accounts.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// ListMappings implements accounts.Repository.
func (s *Store) ListMappings(ctx context.Context) ([]accounts.RoleMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]accounts.RoleMapping(nil), s.mappings...), nil
}

// EnsureAccount upserts an account by code.
func (s *Store) EnsureAccount(ctx context.Context, in accounts.EnsureAccountInput) (accounts.Account, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" || !in.Type.Valid() {
		return accounts.Account{}, fmt.Errorf("accounts: invalid account %q (%s)", in.Code, in.Type)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var parentID *int64
	if in.ParentCode != "" {
		parent, ok := s.accountByCode(in.ParentCode)
		if !ok {
			return accounts.Account{}, fmt.Errorf("%w: %s", shared.ErrAccountNotFound, in.ParentCode)
		}
		id := parent.ID
		parentID = &id
	}
	now := s.now()
	a, ok := s.accountByCode(code)
	if !ok {
		a = accounts.Account{ID: s.id(), Code: code, IsActive: true, CreatedAt: now}
	}
	a.Name = in.Name
	a.Type = in.Type
	a.ParentID = parentID
	a.Postable = in.Postable == nil || *in.Postable
	a.UpdatedAt = now
	s.accounts[a.ID] = a
	return a, nil
}

// SetAccountActive toggles an account.
func (s *Store) SetAccountActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		a.IsActive = active
		s.accounts[id] = a
	}
}

// EnsureMapping upserts a role mapping keyed by (module, role, branch).
func (s *Store) EnsureMapping(ctx context.Context, in accounts.EnsureMappingInput) (accounts.RoleMapping, error) {
	module, err := shared.ParseModule(in.Module)
	if err != nil {
		return accounts.RoleMapping{}, err
	}
	role := shared.Role(strings.ToUpper(strings.TrimSpace(in.Role)))
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accountByCode(in.AccountCode)
	if !ok {
		return accounts.RoleMapping{}, fmt.Errorf("%w: %s", shared.ErrAccountNotFound, in.AccountCode)
	}
	now := s.now()
	m := accounts.RoleMapping{Module: module, Role: role, BranchID: in.BranchID, AccountID: account.ID, CreatedAt: now, UpdatedAt: now}
	for i, existing := range s.mappings {
		if existing.Module == module && existing.Role == role && sameBranch(existing.BranchID, in.BranchID) {
			m.CreatedAt = existing.CreatedAt
			s.mappings[i] = m
			return m, nil
		}
	}
	s.mappings = append(s.mappings, m)
	return m, nil
}

func (s *Store) accountByCode(code string) (accounts.Account, bool) {
	for _, a := range s.accounts {
		if a.Code == strings.TrimSpace(code) {
			return a, true
		}
	}
	return accounts.Account{}, false
}

func sameBranch(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Totals implements reconcile.TotalsReader.
func (s *Store) Totals(ctx context.Context, q reconcile.Query) ([]reconcile.Total, []reconcile.Total, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inScope := make(map[shared.ModuleType]bool, len(q.Modules))
	for _, m := range q.Modules {
		inScope[m] = true
	}
	source := map[int64]decimal.Decimal{}
	for _, src := range s.sources {
		if !q.Period.Contains(src.Date) || !inScope[src.LedgerModule()] {
			continue
		}
		for _, valueID := range axisValues(src.DimensionRefs, q.DimensionID) {
			source[valueID] = source[valueID].Add(src.Amount)
		}
	}
	measured := make(map[shared.ModuleType]map[shared.Role]bool, len(q.Measured))
	for module, roles := range q.Measured {
		set := make(map[shared.Role]bool, len(roles))
		for _, r := range roles {
			set[r] = true
		}
		measured[module] = set
	}
	ledger := map[int64]decimal.Decimal{}
	for _, id := range s.batchOrder {
		for _, e := range s.batches[id].Entries {
			if !q.Period.Contains(e.Date) || !measured[e.SourceModule][e.Role] {
				continue
			}
			for _, valueID := range axisValues(e.Dimensions, q.DimensionID) {
				ledger[valueID] = ledger[valueID].Add(e.Debit.Sub(e.Credit))
			}
		}
	}
	return flatten(source), flatten(ledger), nil
}

func axisValues(refs []dimensions.Reference, dimensionID int64) []int64 {
	var out []int64
	for _, ref := range refs {
		if ref.DimensionID == dimensionID {
			out = append(out, ref.ValueID)
		}
	}
	if len(out) == 0 {
		return []int64{0}
	}
	return out
}

func flatten(m map[int64]decimal.Decimal) []reconcile.Total {
	out := make([]reconcile.Total, 0, len(m))
	for id, amount := range m {
		out = append(out, reconcile.Total{ValueID: id, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValueID < out[j].ValueID })
	return out
}

// SaveReport implements reconcile.ReportStore. Identical reports are stored once.
func (s *Store) SaveReport(ctx context.Context, report reconcile.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.reports {
		if existing.ID == report.ID {
			return nil
		}
	}
	s.reports = append(s.reports, report)
	return nil
}

// GetReport implements reconcile.ReportStore.
func (s *Store) GetReport(ctx context.Context, id uuid.UUID) (reconcile.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports {
		if r.ID == id {
			return r, nil
		}
	}
	return reconcile.Report{}, reconcile.ErrReportNotFound
}

// ListReports implements reconcile.ReportStore.
func (s *Store) ListReports(ctx context.Context, period, axis string, limit int) ([]reconcile.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []reconcile.Report{}
	for i := len(s.reports) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.reports[i]
		if (period == "" || r.Period == period) && (axis == "" || r.Axis == axis) {
			out = append(out, r)
		}
	}
	return out, nil
}

// RegisterSource stores a source transaction. An existing id is left untouched.
func (s *Store) RegisterSource(ctx context.Context, src posting.SourceTransaction) error {
	return s.WithTx(ctx, func(ctx context.Context, tx posting.TxRepository) error {
		return tx.InsertSource(ctx, src)
	})
}

// WithTx runs fn with exclusive access. Writes are staged and applied only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, posting.TxRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &ledgerTx{
		store:   s,
		sources: map[uuid.UUID]posting.SourceTransaction{},
		batches: map[uuid.UUID]posting.Batch{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// GetSource implements posting.RepositoryPort.
func (s *Store) GetSource(ctx context.Context, id uuid.UUID) (posting.SourceTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return posting.SourceTransaction{}, shared.ErrSourceNotFound
	}
	return cloneSource(src), nil
}

// GetBatch implements posting.RepositoryPort.
func (s *Store) GetBatch(ctx context.Context, id uuid.UUID) (posting.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return posting.Batch{}, shared.ErrBatchNotFound
	}
	return cloneBatch(batch), nil
}

// Batches returns every committed batch in posting order.
func (s *Store) Batches() []posting.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]posting.Batch, 0, len(s.batchOrder))
	for _, id := range s.batchOrder {
		out = append(out, cloneBatch(s.batches[id]))
	}
	return out
}

// BatchesInPeriod returns the committed batches dated inside period.
func (s *Store) BatchesInPeriod(ctx context.Context, period shared.Period) ([]posting.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []posting.Batch
	for _, b := range s.Batches() {
		if period.Contains(b.Date) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Entries returns every committed ledger entry in posting order.
func (s *Store) Entries() []posting.Entry {
	var out []posting.Entry
	for _, b := range s.Batches() {
		out = append(out, b.Entries...)
	}
	return out
}

type ledgerTx struct {
	store      *Store
	sources    map[uuid.UUID]posting.SourceTransaction
	batches    map[uuid.UUID]posting.Batch
	batchOrder []uuid.UUID
	events     []audit.StatusEvent
}

func (tx *ledgerTx) source(id uuid.UUID) (posting.SourceTransaction, bool) {
	if src, ok := tx.sources[id]; ok {
		return src, true
	}
	src, ok := tx.store.sources[id]
	return src, ok
}

func (tx *ledgerTx) batch(id uuid.UUID) (posting.Batch, bool) {
	if b, ok := tx.batches[id]; ok {
		return b, true
	}
	b, ok := tx.store.batches[id]
	return b, ok
}

func (tx *ledgerTx) LockSource(ctx context.Context, id uuid.UUID) (posting.SourceTransaction, error) {
	src, ok := tx.source(id)
	if !ok {
		return posting.SourceTransaction{}, shared.ErrSourceNotFound
	}
	return cloneSource(src), nil
}

func (tx *ledgerTx) InsertBatch(ctx context.Context, batch posting.Batch) error {
	if _, err := tx.BatchForSource(ctx, batch.SourceID); err == nil {
		return shared.ErrAlreadyPosted
	}
	batch.Entries = nil
	tx.batches[batch.ID] = batch
	tx.batchOrder = append(tx.batchOrder, batch.ID)
	return nil
}

func (tx *ledgerTx) InsertEntries(ctx context.Context, entries []posting.Entry) error {
	for _, e := range entries {
		b, ok := tx.batches[e.BatchID]
		if !ok {
			return fmt.Errorf("memory: entry %s references unknown batch %s", e.ID, e.BatchID)
		}
		e.Dimensions = append([]dimensions.Reference(nil), e.Dimensions...)
		b.Entries = append(b.Entries, e)
		tx.batches[e.BatchID] = b
	}
	return nil
}

func (tx *ledgerTx) MarkPosted(ctx context.Context, sourceID, batchID uuid.UUID, actorID int64, at time.Time) error {
	src, ok := tx.source(sourceID)
	if !ok {
		return shared.ErrSourceNotFound
	}
	if src.Status == shared.StatusPosted {
		return shared.ErrAlreadyPosted
	}
	src = cloneSource(src)
	src.Status = shared.StatusPosted
	src.BatchID = &batchID
	src.PostedBy = &actorID
	src.PostedAt = &at
	src.LastError = ""
	tx.sources[sourceID] = src
	return nil
}

func (tx *ledgerTx) MarkError(ctx context.Context, sourceID uuid.UUID, reason string) error {
	src, ok := tx.source(sourceID)
	if !ok {
		return shared.ErrSourceNotFound
	}
	if src.Status == shared.StatusPosted {
		return nil
	}
	src = cloneSource(src)
	src.Status = shared.StatusError
	src.LastError = reason
	tx.sources[sourceID] = src
	return nil
}

func (tx *ledgerTx) InsertSource(ctx context.Context, src posting.SourceTransaction) error {
	if _, ok := tx.source(src.ID); ok {
		return nil
	}
	if src.Status == "" {
		src.Status = shared.StatusUnposted
	}
	tx.sources[src.ID] = cloneSource(src)
	return nil
}

func (tx *ledgerTx) BatchForSource(ctx context.Context, sourceID uuid.UUID) (uuid.UUID, error) {
	for id, b := range tx.batches {
		if b.SourceID == sourceID {
			return id, nil
		}
	}
	if id, ok := tx.store.batchBySource[sourceID]; ok {
		return id, nil
	}
	return uuid.Nil, shared.ErrBatchNotFound
}

func (tx *ledgerTx) GetBatch(ctx context.Context, id uuid.UUID) (posting.Batch, error) {
	b, ok := tx.batch(id)
	if !ok {
		return posting.Batch{}, shared.ErrBatchNotFound
	}
	return cloneBatch(b), nil
}

func (tx *ledgerTx) LastStatus(ctx context.Context, sourceID uuid.UUID) (audit.StatusEvent, bool, error) {
	for i := len(tx.events) - 1; i >= 0; i-- {
		if tx.events[i].SourceID == sourceID {
			return tx.events[i], true, nil
		}
	}
	for i := len(tx.store.statusEvents) - 1; i >= 0; i-- {
		if tx.store.statusEvents[i].SourceID == sourceID {
			return tx.store.statusEvents[i], true, nil
		}
	}
	return audit.StatusEvent{}, false, nil
}

// AppendStatus stages event; its sequence number is assigned on commit.
func (tx *ledgerTx) AppendStatus(ctx context.Context, event audit.StatusEvent) (audit.StatusEvent, error) {
	tx.events = append(tx.events, event)
	return event, nil
}

func (tx *ledgerTx) commit() {
	for _, e := range tx.events {
		tx.store.auditSeq++
		e.Seq = tx.store.auditSeq
		tx.store.statusEvents = append(tx.store.statusEvents, e)
	}
	for id, src := range tx.sources {
		tx.store.sources[id] = src
	}
	for _, id := range tx.batchOrder {
		b := tx.batches[id]
		tx.store.batches[id] = b
		tx.store.batchBySource[b.SourceID] = id
		tx.store.batchOrder = append(tx.store.batchOrder, id)
	}
}

func cloneSource(src posting.SourceTransaction) posting.SourceTransaction {
	if src.Components != nil {
		components := make(map[shared.Component]decimal.Decimal, len(src.Components))
		for k, v := range src.Components {
			components[k] = v
		}
		src.Components = components
	}
	if src.AccountOverrides != nil {
		overrides := make(map[shared.Role]int64, len(src.AccountOverrides))
		for k, v := range src.AccountOverrides {
			overrides[k] = v
		}
		src.AccountOverrides = overrides
	}
	src.DimensionRefs = append([]dimensions.Reference(nil), src.DimensionRefs...)
	src.Mirror = append([]posting.LineSpec(nil), src.Mirror...)
	return src
}

func cloneBatch(b posting.Batch) posting.Batch {
	entries := make([]posting.Entry, len(b.Entries))
	for i, e := range b.Entries {
		e.Dimensions = append([]dimensions.Reference(nil), e.Dimensions...)
		entries[i] = e
	}
	b.Entries = entries
	return b
}

// LastStatus implements audit.Store.
func (s *Store) LastStatus(ctx context.Context, sourceID uuid.UUID) (audit.StatusEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.statusEvents) - 1; i >= 0; i-- {
		if s.statusEvents[i].SourceID == sourceID {
			return s.statusEvents[i], true, nil
		}
	}
	return audit.StatusEvent{}, false, nil
}

// AppendStatus implements audit.Store.
func (s *Store) AppendStatus(ctx context.Context, event audit.StatusEvent) (audit.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditSeq++
	event.Seq = s.auditSeq
	s.statusEvents = append(s.statusEvents, event)
	return event, nil
}

// History implements audit.Store.
func (s *Store) History(ctx context.Context, sourceID uuid.UUID) ([]audit.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []audit.StatusEvent{}
	for _, e := range s.statusEvents {
		if e.SourceID == sourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

// LastReconciliation implements audit.Store.
func (s *Store) LastReconciliation(ctx context.Context, period, axis string) (audit.ReconciliationEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.reconcileEvent) - 1; i >= 0; i-- {
		e := s.reconcileEvent[i]
		if e.Period == period && e.Axis == axis {
			return e, true, nil
		}
	}
	return audit.ReconciliationEvent{}, false, nil
}

// AppendReconciliation implements audit.Store.
func (s *Store) AppendReconciliation(ctx context.Context, event audit.ReconciliationEvent) (audit.ReconciliationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditSeq++
	event.Seq = s.auditSeq
	s.reconcileEvent = append(s.reconcileEvent, event)
	return event, nil
}

// Timeline implements audit.Store.
func (s *Store) Timeline(ctx context.Context, filters audit.TimelineFilters, offset, limit int) ([]audit.TimelineRow, error) {
	s.mu.Lock()
	rows := make([]audit.TimelineRow, 0, len(s.statusEvents)+len(s.reconcileEvent))
	for _, e := range s.statusEvents {
		detail := e.Reason
		if detail == "" && e.BatchID != nil {
			detail = e.BatchID.String()
		}
		rows = append(rows, audit.TimelineRow{
			Seq: e.Seq, At: e.At, ActorID: e.ActorID, Kind: audit.KindPosting,
			EntityID: e.SourceID.String(), From: string(e.From), To: string(e.To), Detail: detail,
		})
	}
	for _, e := range s.reconcileEvent {
		rows = append(rows, audit.TimelineRow{
			Seq: e.Seq, At: e.At, ActorID: e.ActorID, Kind: audit.KindReconciliation,
			EntityID: e.ReportID.String(), From: e.From, To: e.To, Detail: e.Period + " " + e.Axis,
		})
	}
	s.mu.Unlock()

	filtered := rows[:0]
	for _, row := range rows {
		if !filters.From.IsZero() && row.At.Before(filters.From) {
			continue
		}
		if !filters.To.IsZero() && !row.At.Before(filters.To) {
			continue
		}
		if filters.ActorID != 0 && row.ActorID != filters.ActorID {
			continue
		}
		if filters.Kind != "" && row.Kind != filters.Kind {
			continue
		}
		filtered = append(filtered, row)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if !filtered[i].At.Equal(filtered[j].At) {
			return filtered[i].At.After(filtered[j].At)
		}
		return filtered[i].Seq > filtered[j].Seq
	})
	if offset >= len(filtered) {
		return []audit.TimelineRow{}, nil
	}
	filtered = filtered[offset:]
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}
