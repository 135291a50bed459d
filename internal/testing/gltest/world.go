// Package gltest builds a seeded in-memory general ledger for tests.
package gltest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/dimensions"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/memory"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reconcile"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/audit"
	"github.com/odyssey-erp/odyssey-gl/internal/integration"
)

func init() {
	if os.Getenv("ODYSSEY_TEST_MODE") == "" {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
	}
}

// Chart is the chart of accounts, role mappings and dimensions every World starts with.
const Chart = `
accounts:
  - {code: "1000", name: Assets, type: ASSET, postable: false}
  - {code: "1100", name: Bank, type: ASSET, parent: "1000"}
  - {code: "1200", name: Accounts Receivable, type: ASSET, parent: "1000"}
  - {code: "1300", name: Inventory, type: ASSET, parent: "1000"}
  - {code: "1310", name: Work in Process, type: ASSET, parent: "1000"}
  - {code: "1400", name: VAT Input, type: ASSET, parent: "1000"}
  - {code: "1900", name: Bank Clearing, type: ASSET, parent: "1000"}
  - {code: "2100", name: Accounts Payable, type: LIABILITY}
  - {code: "2200", name: VAT Output, type: LIABILITY}
  - {code: "2300", name: Production Clearing, type: LIABILITY}
  - {code: "4100", name: Sales Revenue, type: REVENUE}
  - {code: "4110", name: Sales Revenue Branch 7, type: REVENUE}
  - {code: "4900", name: Inventory Gain, type: REVENUE}
  - {code: "5100", name: Direct Labor, type: EXPENSE}
  - {code: "5200", name: Operating Expense, type: EXPENSE}
  - {code: "5900", name: Inventory Loss, type: EXPENSE}
mappings:
  - {module: MANUFACTURING, role: WIP, account: "1310"}
  - {module: MANUFACTURING, role: LABOR, account: "5100"}
  - {module: MANUFACTURING, role: PRODUCTION_OFFSET, account: "2300"}
  - {module: SALES, role: RECEIVABLE, account: "1200"}
  - {module: SALES, role: REVENUE, account: "4100"}
  - {module: SALES, role: REVENUE, branch_id: 7, account: "4110"}
  - {module: "*", role: VAT_OUTPUT, account: "2200"}
  - {module: PURCHASE, role: EXPENSE, account: "5200"}
  - {module: PURCHASE, role: INVENTORY, account: "1300"}
  - {module: PURCHASE, role: VAT_INPUT, account: "1400"}
  - {module: PURCHASE, role: PAYABLE, account: "2100"}
  - {module: BANKING, role: BANK, account: "1100"}
  - {module: BANKING, role: COUNTERPART, account: "1900"}
  - {module: INVENTORY, role: INVENTORY, account: "1300"}
  - {module: INVENTORY, role: ADJUSTMENT_GAIN, account: "4900"}
  - {module: INVENTORY, role: ADJUSTMENT_LOSS, account: "5900"}
dimensions:
  - {code: cost_center, name: Cost Center, required: true, hierarchical: true, required_for: [MANUFACTURING]}
  - {code: project, name: Project, allow_multiple: true}
  - {code: department, name: Department, required: true, required_for: ["5200"]}
dimension_values:
  - {dimension: cost_center, code: CC-001, name: Assembly}
  - {dimension: cost_center, code: CC-001-A, name: Assembly Line A, parent: CC-001}
  - {dimension: cost_center, code: CC-002, name: Packaging}
  - {dimension: project, code: PRJ-A, name: Project A}
  - {dimension: project, code: PRJ-B, name: Project B}
  - {dimension: department, code: DEP-FIN, name: Finance}
`

// Period is the accounting period fixtures are dated in.
const Period = "2025-10"

// World is a fully wired ledger over one memory.Store.
type World struct {
	Store      *memory.Store
	Registry   *dimensions.Registry
	Resolver   *accounts.Resolver
	Tracker    *audit.Tracker
	Strategies posting.Strategies
	Engine     *posting.Engine
	Reconciler *reconcile.Engine
	Logger     *slog.Logger
	Now        time.Time
}

// Option adjusts the chart before it is applied.
type Option func(*accounts.ChartFile)

// WithoutMapping drops the role mapping of module and role for every branch.
func WithoutMapping(module shared.ModuleType, role shared.Role) Option {
	return func(file *accounts.ChartFile) {
		kept := file.Mappings[:0]
		for _, m := range file.Mappings {
			if strings.EqualFold(m.Module, string(module)) && strings.EqualFold(m.Role, string(role)) {
				continue
			}
			kept = append(kept, m)
		}
		file.Mappings = kept
	}
}

// NewWorld seeds a store from Chart and wires every engine over it.
func NewWorld(t testing.TB, opts ...Option) *World {
	t.Helper()
	ctx := context.Background()
	file, err := accounts.ParseChartFile([]byte(Chart))
	require.NoError(t, err)
	for _, opt := range opts {
		opt(&file)
	}

	w := &World{
		Store:      memory.NewStore(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Strategies: integration.Strategies(),
		Now:        time.Date(2025, 10, 20, 9, 0, 0, 0, time.UTC),
	}
	_, err = accounts.NewBootstrapper(w.Store, w.Store, w.Logger).Apply(ctx, file)
	require.NoError(t, err)

	w.Registry = dimensions.NewRegistry(w.Store, w.Logger)
	require.NoError(t, w.Registry.Refresh(ctx))
	w.Resolver = accounts.NewResolver(w.Store, w.Logger)
	require.NoError(t, w.Resolver.Refresh(ctx))
	w.Tracker = audit.NewTracker(w.Store, w.Logger)

	w.Engine = posting.NewEngine(w.Store, w.Registry, w.Resolver, w.Strategies, w.Logger)
	w.Engine.WithNow(w.clock)
	w.Reconciler = reconcile.NewEngine(w.Store, w.Registry, w.Strategies, reconcile.DefaultTolerance(), w.Logger)
	return w
}

func (w *World) clock() time.Time { return w.Now }

// Refresh reloads the registry and resolver snapshots after the store changed.
func (w *World) Refresh(t testing.TB) {
	t.Helper()
	require.NoError(t, w.Registry.Refresh(context.Background()))
	require.NoError(t, w.Resolver.Refresh(context.Background()))
}

// Dimension returns a seeded dimension.
func (w *World) Dimension(t testing.TB, code string) dimensions.Dimension {
	t.Helper()
	d, err := w.Registry.GetDimension(code)
	require.NoError(t, err)
	return d
}

// Ref returns the reference to value code in dimension dim.
func (w *World) Ref(t testing.TB, dim, code string) dimensions.Reference {
	t.Helper()
	d := w.Dimension(t, dim)
	values, err := w.Store.ListValues(context.Background())
	require.NoError(t, err)
	for _, v := range values {
		if v.DimensionID == d.ID && v.Code == code {
			return dimensions.Reference{DimensionID: d.ID, ValueID: v.ID}
		}
	}
	t.Fatalf("dimension value %s/%s not seeded", dim, code)
	return dimensions.Reference{}
}

// Account returns a seeded account by code.
func (w *World) Account(t testing.TB, code string) accounts.Account {
	t.Helper()
	a, ok := w.Resolver.AccountByCode(code)
	require.True(t, ok, "account %s not seeded", code)
	return a
}

// Register stores src, defaulting its id and date.
func (w *World) Register(t testing.TB, src posting.SourceTransaction) posting.SourceTransaction {
	t.Helper()
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	if src.Date.IsZero() {
		src.Date = time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC)
	}
	require.NoError(t, w.Store.RegisterSource(context.Background(), src))
	return src
}

// ManufacturingOrder registers a production order costed at material, labor and overhead.
func (w *World) ManufacturingOrder(t testing.TB, material, labor, overhead string, refs ...dimensions.Reference) posting.SourceTransaction {
	t.Helper()
	m, l, o := D(material), D(labor), D(overhead)
	return w.Register(t, posting.SourceTransaction{
		Module: shared.ModuleManufacturing,
		Number: "MO-" + strings.ReplaceAll(material, ".", ""),
		Amount: m.Add(l).Add(o),
		Components: map[shared.Component]decimal.Decimal{
			shared.ComponentMaterial: m,
			shared.ComponentLabor:    l,
			shared.ComponentOverhead: o,
		},
		DimensionRefs: refs,
	})
}

// SalesInvoice registers an invoice for net plus tax.
func (w *World) SalesInvoice(t testing.TB, net, tax string, refs ...dimensions.Reference) posting.SourceTransaction {
	t.Helper()
	n, x := D(net), D(tax)
	return w.Register(t, posting.SourceTransaction{
		Module: shared.ModuleSales,
		Number: "SI-" + strings.ReplaceAll(net, ".", ""),
		Amount: n.Add(x),
		Components: map[shared.Component]decimal.Decimal{
			shared.ComponentNet: n,
			shared.ComponentTax: x,
		},
		DimensionRefs: refs,
	})
}

// D parses a decimal literal and panics on malformed input.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
