package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
)

// ChartApplier seeds a chart document.
type ChartApplier interface {
	Apply(ctx context.Context, file accounts.ChartFile) (accounts.BootstrapSummary, error)
}

// BootstrapOptions defines available flags for the bootstrap command.
type BootstrapOptions struct {
	Path   string
	DryRun bool
	Stdout io.Writer
	Stderr io.Writer
}

// BootstrapCommand loads the chart file at opts.Path and applies it. With DryRun the file is only
// parsed and summarised.
func BootstrapCommand(ctx context.Context, applier ChartApplier, opts BootstrapOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Path == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "bootstrap: -f is required")
		return ExitFailure
	}
	file, err := accounts.LoadChartFile(opts.Path)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "bootstrap: %v\n", err)
		return ExitFailure
	}
	if opts.DryRun {
		_, _ = fmt.Fprintf(opts.Stdout, "chart %s: %d accounts, %d mappings, %d dimensions, %d dimension values (dry run)\n",
			opts.Path, len(file.Accounts), len(file.Mappings), len(file.Dimensions), len(file.DimensionValues))
		return ExitOK
	}
	summary, err := applier.Apply(ctx, file)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "bootstrap: %v\n", err)
		return ExitFailure
	}
	_, _ = fmt.Fprintf(opts.Stdout, "chart %s applied: %d accounts, %d mappings, %d dimensions, %d dimension values\n",
		opts.Path, summary.Accounts, summary.Mappings, summary.Dimensions, summary.DimensionValues)
	return ExitOK
}
