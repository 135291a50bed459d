package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reconcile"
	gl "github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Exit codes of the reconcile command.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitVariance = 10
)

// ReconcileRunner persists a reconciliation report.
type ReconcileRunner interface {
	Run(ctx context.Context, req reconcile.Request, actorID int64) (reconcile.Report, error)
}

// ReconcileOptions defines available flags for the reconcile command.
type ReconcileOptions struct {
	Period     string
	Axis       string
	Modules    []string
	ActorID    int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileCLI runs reconciliations from the command line.
type ReconcileCLI struct {
	runner  ReconcileRunner
	printer *message.Printer
}

// NewReconcileCLI constructs the helper.
func NewReconcileCLI(runner ReconcileRunner) *ReconcileCLI {
	return &ReconcileCLI{runner: runner, printer: message.NewPrinter(language.English)}
}

// RunCommand reconciles one period and axis and prints the report. It returns ExitVariance when
// any row falls outside tolerance.
func (c *ReconcileCLI) RunCommand(ctx context.Context, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if strings.TrimSpace(opts.Axis) == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "reconcile: --axis is required")
		return ExitFailure
	}
	if _, err := gl.ParsePeriod(opts.Period); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return ExitFailure
	}
	modules := make([]gl.ModuleType, 0, len(opts.Modules))
	for _, raw := range opts.Modules {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			module, err := gl.ParseModule(part)
			if err != nil {
				_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
				return ExitFailure
			}
			modules = append(modules, module)
		}
	}

	report, err := c.runner.Run(ctx, reconcile.Request{Period: opts.Period, Axis: opts.Axis, Modules: modules}, opts.ActorID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return ExitFailure
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(report); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", err)
			return ExitFailure
		}
	} else {
		c.renderHuman(opts.Stdout, report)
	}
	if !report.Reconciled() {
		return ExitVariance
	}
	return ExitOK
}

func (c *ReconcileCLI) renderHuman(out io.Writer, report reconcile.Report) {
	modules := make([]string, len(report.Modules))
	for i, m := range report.Modules {
		modules[i] = string(m)
	}
	_, _ = fmt.Fprintf(out, "Reconciliation %s for %s by %s (%s)\n", report.ID, report.Period, report.Axis, strings.Join(modules, ", "))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(tw, "VALUE\tSOURCE\tLEDGER\tVARIANCE\tSTATUS\t")
	for _, row := range report.Rows {
		code := row.ValueCode
		if code == "" {
			code = "(none)"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", code,
			c.amount(row.SourceTotal.StringFixed(2)), c.amount(row.LedgerTotal.StringFixed(2)),
			c.amount(row.Variance.StringFixed(2)), row.Status)
	}
	_, _ = fmt.Fprintf(tw, "TOTAL\t%s\t%s\t%s\t%s\t\n",
		c.amount(report.SourceTotal.StringFixed(2)), c.amount(report.LedgerTotal.StringFixed(2)),
		c.amount(report.Variance.StringFixed(2)), report.Status)
	_ = tw.Flush()
}

// amount groups the integer digits of a fixed-point string without going through float64.
func (c *ReconcileCLI) amount(fixed string) string {
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")
	var n int64
	if _, err := fmt.Sscan(whole, &n); err != nil {
		return sign + fixed
	}
	grouped := c.printer.Sprintf("%d", n)
	if frac != "" {
		grouped += "." + frac
	}
	return sign + grouped
}
