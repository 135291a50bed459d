package accounts

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/dimensions"
)

// ChartFile is the YAML seeding document for accounts, role mappings and dimensions.
type ChartFile struct {
	Accounts        []EnsureAccountInput              `yaml:"accounts"`
	Mappings        []EnsureMappingInput              `yaml:"mappings"`
	Dimensions      []dimensions.EnsureDimensionInput `yaml:"dimensions"`
	DimensionValues []dimensions.EnsureValueInput     `yaml:"dimension_values"`
}

// LoadChartFile reads and decodes a chart file.
func LoadChartFile(path string) (ChartFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ChartFile{}, fmt.Errorf("accounts: read chart file: %w", err)
	}
	return ParseChartFile(raw)
}

// ParseChartFile decodes a chart document, rejecting unknown keys.
func ParseChartFile(raw []byte) (ChartFile, error) {
	var file ChartFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return ChartFile{}, fmt.Errorf("accounts: decode chart file: %w", err)
	}
	return file, nil
}

// DimensionSeeder persists dimension configuration.
type DimensionSeeder interface {
	EnsureDimension(ctx context.Context, in dimensions.EnsureDimensionInput) (dimensions.Dimension, error)
	EnsureValue(ctx context.Context, in dimensions.EnsureValueInput) (dimensions.Value, error)
}

// AccountSeeder persists accounts and mappings.
type AccountSeeder interface {
	EnsureAccount(ctx context.Context, in EnsureAccountInput) (Account, error)
	EnsureMapping(ctx context.Context, in EnsureMappingInput) (RoleMapping, error)
}

// BootstrapSummary counts applied records.
type BootstrapSummary struct {
	Accounts        int `json:"accounts"`
	Mappings        int `json:"mappings"`
	Dimensions      int `json:"dimensions"`
	DimensionValues int `json:"dimension_values"`
}

// Bootstrapper applies a ChartFile. Every operation is an upsert so re-running is safe.
type Bootstrapper struct {
	accounts   AccountSeeder
	dimensions DimensionSeeder
	logger     *slog.Logger
}

// NewBootstrapper constructs a Bootstrapper.
func NewBootstrapper(accounts AccountSeeder, dims DimensionSeeder, logger *slog.Logger) *Bootstrapper {
	return &Bootstrapper{accounts: accounts, dimensions: dims, logger: logger}
}

// Apply seeds accounts before mappings and dimensions before values. Parents must be listed
// before their children.
func (b *Bootstrapper) Apply(ctx context.Context, file ChartFile) (BootstrapSummary, error) {
	var summary BootstrapSummary
	for _, in := range file.Accounts {
		if _, err := b.accounts.EnsureAccount(ctx, in); err != nil {
			return summary, err
		}
		summary.Accounts++
	}
	for _, in := range file.Mappings {
		if _, err := b.accounts.EnsureMapping(ctx, in); err != nil {
			return summary, err
		}
		summary.Mappings++
	}
	for _, in := range file.Dimensions {
		if _, err := b.dimensions.EnsureDimension(ctx, in); err != nil {
			return summary, err
		}
		summary.Dimensions++
	}
	for _, in := range file.DimensionValues {
		if _, err := b.dimensions.EnsureValue(ctx, in); err != nil {
			return summary, err
		}
		summary.DimensionValues++
	}
	if b.logger != nil {
		b.logger.InfoContext(ctx, "chart bootstrapped",
			slog.Int("accounts", summary.Accounts),
			slog.Int("mappings", summary.Mappings),
			slog.Int("dimensions", summary.Dimensions),
			slog.Int("dimension_values", summary.DimensionValues))
	}
	return summary, nil
}
