package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/dimensions"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

var reportNamespace = uuid.MustParse("2d4c7b1e-95a0-5f3c-8e27-41b6d09a3c58")

// DimensionLookup resolves the axis and value labels.
type DimensionLookup interface {
	GetDimension(code string) (dimensions.Dimension, error)
	Value(id int64) (dimensions.Value, bool)
}

// Engine compares source-module totals with posted ledger totals per dimension value.
// It only reads.
type Engine struct {
	reader    TotalsReader
	dims      DimensionLookup
	roles     RoleSource
	tolerance Tolerance
	logger    *slog.Logger
}

// NewEngine constructs the reconciliation engine.
func NewEngine(reader TotalsReader, dims DimensionLookup, roles RoleSource, tolerance Tolerance, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{reader: reader, dims: dims, roles: roles, tolerance: tolerance, logger: logger}
}

// Tolerance returns the configured tolerance.
func (e *Engine) Tolerance() Tolerance {
	return e.tolerance
}

// Reconcile builds a report for req. Variance is reported as data; only lookup and store
// failures are returned as errors. Unchanged data yields an identical report; GeneratedAt is
// left for the caller to stamp.
func (e *Engine) Reconcile(ctx context.Context, req Request) (Report, error) {
	period, err := shared.ParsePeriod(req.Period)
	if err != nil {
		return Report{}, err
	}
	axis, err := e.dims.GetDimension(req.Axis)
	if err != nil {
		return Report{}, err
	}
	modules, err := normalizeModules(req.Modules)
	if err != nil {
		return Report{}, err
	}
	measured := make(map[shared.ModuleType][]shared.Role, len(modules))
	for _, module := range modules {
		roles := e.roles.MeasuredRoles(module)
		if len(roles) == 0 {
			return Report{}, fmt.Errorf("%w: %s cannot be reconciled", shared.ErrUnsupportedModule, module)
		}
		measured[module] = roles
	}

	source, ledger, err := e.reader.Totals(ctx, Query{Period: period, DimensionID: axis.ID, Modules: modules, Measured: measured})
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: load totals: %w", err)
	}

	rows := ComputeRows(source, ledger, e.tolerance, e.label)
	report := Report{
		Period:    period.Code,
		Axis:      axis.Code,
		Modules:   modules,
		Rows:      rows,
		Tolerance: e.tolerance,
		Status:    StatusReconciled,
	}
	for _, row := range rows {
		report.SourceTotal = report.SourceTotal.Add(row.SourceTotal)
		report.LedgerTotal = report.LedgerTotal.Add(row.LedgerTotal)
		if row.Status != StatusReconciled {
			report.Status = StatusVarianceDetected
		}
	}
	report.Variance = report.LedgerTotal.Sub(report.SourceTotal)
	if !e.tolerance.Within(report.Variance, report.SourceTotal) {
		report.Status = StatusVarianceDetected
	}
	report.ID = fingerprint(report)

	e.logger.InfoContext(ctx, "gl reconciliation computed",
		slog.String("period", report.Period),
		slog.String("axis", report.Axis),
		slog.String("status", string(report.Status)),
		slog.Int("rows", len(report.Rows)),
		slog.String("variance", report.Variance.StringFixed(2)))
	return report, nil
}

func (e *Engine) label(valueID int64) (string, string) {
	if valueID == 0 {
		return "", "unassigned"
	}
	v, ok := e.dims.Value(valueID)
	if !ok {
		return "#" + strconv.FormatInt(valueID, 10), ""
	}
	return v.Code, v.Name
}

// ComputeRows outer-joins source and ledger totals. Every value present on either side yields a row.
func ComputeRows(source, ledger []Total, tolerance Tolerance, label func(int64) (string, string)) []Row {
	lookup := make(map[int64]Row)
	for _, t := range source {
		row := lookup[t.ValueID]
		row.ValueID = t.ValueID
		row.SourceTotal = row.SourceTotal.Add(t.Amount)
		lookup[t.ValueID] = row
	}
	for _, t := range ledger {
		row := lookup[t.ValueID]
		row.ValueID = t.ValueID
		row.LedgerTotal = row.LedgerTotal.Add(t.Amount)
		lookup[t.ValueID] = row
	}
	rows := make([]Row, 0, len(lookup))
	for _, row := range lookup {
		row.SourceTotal = shared.Round2(row.SourceTotal)
		row.LedgerTotal = shared.Round2(row.LedgerTotal)
		row.Variance = row.LedgerTotal.Sub(row.SourceTotal)
		row.Status = StatusReconciled
		if !tolerance.Within(row.Variance, row.SourceTotal) {
			row.Status = StatusVarianceDetected
		}
		if label != nil {
			row.ValueCode, row.ValueName = label(row.ValueID)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ValueCode != rows[j].ValueCode {
			return rows[i].ValueCode < rows[j].ValueCode
		}
		return rows[i].ValueID < rows[j].ValueID
	})
	return rows
}

func normalizeModules(in []shared.ModuleType) ([]shared.ModuleType, error) {
	if len(in) == 0 {
		in = DefaultModules
	}
	seen := make(map[shared.ModuleType]struct{}, len(in))
	out := make([]shared.ModuleType, 0, len(in))
	for _, raw := range in {
		module, err := shared.ParseModule(string(raw))
		if err != nil {
			return nil, err
		}
		if module == shared.ModuleAny || module == shared.ModuleReversal {
			return nil, fmt.Errorf("%w: %s cannot be reconciled", shared.ErrUnsupportedModule, module)
		}
		if _, dup := seen[module]; dup {
			continue
		}
		seen[module] = struct{}{}
		out = append(out, module)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// fingerprint derives the report id from its content so unchanged data yields the same id.
func fingerprint(r Report) uuid.UUID {
	var b strings.Builder
	b.WriteString(r.Period)
	b.WriteByte('|')
	b.WriteString(r.Axis)
	for _, m := range r.Modules {
		b.WriteByte('|')
		b.WriteString(string(m))
	}
	fmt.Fprintf(&b, "|%s|%s", r.Tolerance.Absolute.String(), r.Tolerance.Percent.String())
	for _, row := range r.Rows {
		fmt.Fprintf(&b, "|%d:%s:%s", row.ValueID, row.SourceTotal.StringFixed(2), row.LedgerTotal.StringFixed(2))
	}
	return uuid.NewSHA1(reportNamespace, []byte(b.String()))
}
