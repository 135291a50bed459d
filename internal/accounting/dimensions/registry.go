package dimensions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Source loads dimension configuration.
type Source interface {
	ListDimensions(ctx context.Context) ([]Dimension, error)
	ListValues(ctx context.Context) ([]Value, error)
}

type snapshot struct {
	byCode map[string]Dimension
	byID   map[int64]Dimension
	values map[int64]Value
}

// Registry serves dimension lookups from an immutable snapshot shared by all callers.
type Registry struct {
	source Source
	logger *slog.Logger
	snap   atomic.Pointer[snapshot]
}

// NewRegistry constructs an empty registry. Call Refresh before use.
func NewRegistry(source Source, logger *slog.Logger) *Registry {
	r := &Registry{source: source, logger: logger}
	r.snap.Store(&snapshot{byCode: map[string]Dimension{}, byID: map[int64]Dimension{}, values: map[int64]Value{}})
	return r
}

// Refresh reloads the snapshot from the source.
func (r *Registry) Refresh(ctx context.Context) error {
	dims, err := r.source.ListDimensions(ctx)
	if err != nil {
		return fmt.Errorf("dimensions: list dimensions: %w", err)
	}
	values, err := r.source.ListValues(ctx)
	if err != nil {
		return fmt.Errorf("dimensions: list values: %w", err)
	}
	next := &snapshot{
		byCode: make(map[string]Dimension, len(dims)),
		byID:   make(map[int64]Dimension, len(dims)),
		values: make(map[int64]Value, len(values)),
	}
	for _, d := range dims {
		next.byID[d.ID] = d
		next.byCode[strings.ToLower(d.Code)] = d
	}
	for _, v := range values {
		next.values[v.ID] = v
	}
	// parent must live in the same, hierarchical dimension
	for id, v := range next.values {
		if v.ParentID == nil {
			continue
		}
		if d, ok := next.byID[v.DimensionID]; ok && !d.Hierarchical {
			if r.logger != nil {
				r.logger.Warn("dimension value parent ignored: dimension is flat",
					slog.Int64("value_id", v.ID), slog.Int64("dimension_id", v.DimensionID))
			}
			v.ParentID = nil
			next.values[id] = v
			continue
		}
		parent, ok := next.values[*v.ParentID]
		if !ok || parent.DimensionID != v.DimensionID {
			if r.logger != nil {
				r.logger.Warn("dimension value dropped: parent outside dimension",
					slog.Int64("value_id", v.ID), slog.Int64("dimension_id", v.DimensionID))
			}
			delete(next.values, id)
		}
	}
	r.snap.Store(next)
	return nil
}

// GetDimension returns an active dimension by code.
func (r *Registry) GetDimension(code string) (Dimension, error) {
	d, ok := r.snap.Load().byCode[strings.ToLower(strings.TrimSpace(code))]
	if !ok || !d.Active {
		return Dimension{}, fmt.Errorf("%w: %s", shared.ErrDimensionNotFound, code)
	}
	return d, nil
}

// Value returns a dimension value by id regardless of its state.
func (r *Registry) Value(id int64) (Value, bool) {
	v, ok := r.snap.Load().values[id]
	return v, ok
}

// ValidateValue reports whether the value exists and it and its dimension are active.
func (r *Registry) ValidateValue(id int64) bool {
	snap := r.snap.Load()
	v, ok := snap.values[id]
	if !ok || !v.Active {
		return false
	}
	d, ok := snap.byID[v.DimensionID]
	return ok && d.Active
}

// ListRequiredDimensions returns the dimensions a posting in scope must carry, ordered by code.
func (r *Registry) ListRequiredDimensions(scope Scope) []Dimension {
	snap := r.snap.Load()
	var out []Dimension
	for _, d := range snap.byID {
		if d.requiredIn(scope) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ValidateReferences rejects unknown values, values outside their dimension, duplicate
// single-valued dimensions and missing required dimensions.
func (r *Registry) ValidateReferences(refs []Reference, scope Scope) error {
	snap := r.snap.Load()
	seen := make(map[int64]int, len(refs))
	for _, ref := range refs {
		d, ok := snap.byID[ref.DimensionID]
		if !ok || !d.Active {
			return &shared.DimensionError{DimensionID: ref.DimensionID, ValueID: ref.ValueID, Reason: "dimension not found"}
		}
		v, ok := snap.values[ref.ValueID]
		if !ok || !v.Active {
			return &shared.DimensionError{DimensionID: ref.DimensionID, ValueID: ref.ValueID, Reason: "value not found or inactive"}
		}
		if v.DimensionID != ref.DimensionID {
			return &shared.DimensionError{DimensionID: ref.DimensionID, ValueID: ref.ValueID, Reason: fmt.Sprintf("value belongs to dimension %d", v.DimensionID)}
		}
		seen[ref.DimensionID]++
		if seen[ref.DimensionID] > 1 && !d.AllowMultiple {
			return &shared.DimensionError{DimensionID: ref.DimensionID, ValueID: ref.ValueID, Reason: "dimension does not allow multiple values"}
		}
	}
	for _, d := range r.ListRequiredDimensions(scope) {
		if seen[d.ID] == 0 {
			return &shared.DimensionError{DimensionID: d.ID, Reason: fmt.Sprintf("required dimension %s missing", d.Code)}
		}
	}
	return nil
}
