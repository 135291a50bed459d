package dimensions_test

import (
	"context"
	"errors"
	"testing"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/dimensions"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/memory"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

type fixture struct {
	store    *memory.Store
	registry *dimensions.Registry
	dims     map[string]dimensions.Dimension
	values   map[string]dimensions.Value
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memory.NewStore(), dims: map[string]dimensions.Dimension{}, values: map[string]dimensions.Value{}}
	for _, in := range []dimensions.EnsureDimensionInput{
		{Code: "cost_center", Name: "Cost Center", Required: true, Hierarchical: true, RequiredFor: []string{"MANUFACTURING"}},
		{Code: "project", Name: "Project", AllowMultiple: true},
		{Code: "department", Name: "Department", Required: true, RequiredFor: []string{"6100"}},
		{Code: "region", Name: "Region", Required: true},
	} {
		d, err := f.store.EnsureDimension(ctx, in)
		if err != nil {
			t.Fatalf("ensure dimension: %v", err)
		}
		f.dims[d.Code] = d
	}
	for _, in := range []dimensions.EnsureValueInput{
		{DimensionCode: "cost_center", Code: "CC-1", Name: "One"},
		{DimensionCode: "cost_center", Code: "CC-2", Name: "Two"},
		{DimensionCode: "project", Code: "P-1", Name: "P1"},
		{DimensionCode: "project", Code: "P-2", Name: "P2"},
		{DimensionCode: "region", Code: "EU", Name: "Europe"},
	} {
		v, err := f.store.EnsureValue(ctx, in)
		if err != nil {
			t.Fatalf("ensure value: %v", err)
		}
		f.values[v.Code] = v
	}
	f.registry = dimensions.NewRegistry(f.store, nil)
	if err := f.registry.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return f
}

func (f *fixture) ref(code string) dimensions.Reference {
	v := f.values[code]
	return dimensions.Reference{DimensionID: v.DimensionID, ValueID: v.ID}
}

func TestGetDimension(t *testing.T) {
	f := newFixture(t)
	d, err := f.registry.GetDimension(" Cost_Center ")
	if err != nil {
		t.Fatalf("get dimension: %v", err)
	}
	if d.ID != f.dims["cost_center"].ID {
		t.Fatalf("unexpected dimension %+v", d)
	}
	if _, err := f.registry.GetDimension("unknown"); !errors.Is(err, shared.ErrDimensionNotFound) {
		t.Fatalf("expected ErrDimensionNotFound, got %v", err)
	}
}

func TestListRequiredDimensionsByScope(t *testing.T) {
	f := newFixture(t)
	codes := func(list []dimensions.Dimension) []string {
		out := make([]string, 0, len(list))
		for _, d := range list {
			out = append(out, d.Code)
		}
		return out
	}

	got := codes(f.registry.ListRequiredDimensions(dimensions.Scope{Module: "manufacturing"}))
	if len(got) != 2 || got[0] != "cost_center" || got[1] != "region" {
		t.Fatalf("unexpected manufacturing scope %v", got)
	}
	got = codes(f.registry.ListRequiredDimensions(dimensions.Scope{Module: "PURCHASE", AccountCodes: []string{"2100", "6100"}}))
	if len(got) != 2 || got[0] != "department" || got[1] != "region" {
		t.Fatalf("unexpected purchase scope %v", got)
	}
}

func TestValidateReferences(t *testing.T) {
	f := newFixture(t)
	scope := dimensions.Scope{Module: "SALES"}

	if err := f.registry.ValidateReferences([]dimensions.Reference{f.ref("EU"), f.ref("P-1"), f.ref("P-2")}, scope); err != nil {
		t.Fatalf("expected valid references, got %v", err)
	}

	cases := map[string][]dimensions.Reference{
		"missing required": {f.ref("P-1")},
		"duplicate":        {f.ref("EU"), f.ref("CC-1"), f.ref("CC-2")},
		"wrong dimension":  {f.ref("EU"), {DimensionID: f.dims["project"].ID, ValueID: f.values["CC-1"].ID}},
		"unknown value":    {f.ref("EU"), {DimensionID: f.dims["project"].ID, ValueID: 4040}},
		"unknown dim":      {f.ref("EU"), {DimensionID: 4040, ValueID: f.values["P-1"].ID}},
	}
	for name, refs := range cases {
		err := f.registry.ValidateReferences(refs, scope)
		if !errors.Is(err, shared.ErrInvalidDimensionReference) {
			t.Fatalf("%s: expected ErrInvalidDimensionReference, got %v", name, err)
		}
		var dimErr *shared.DimensionError
		if !errors.As(err, &dimErr) {
			t.Fatalf("%s: expected DimensionError", name)
		}
	}
}

func TestValidateValueFollowsSoftDelete(t *testing.T) {
	f := newFixture(t)
	id := f.values["P-1"].ID
	if !f.registry.ValidateValue(id) {
		t.Fatalf("expected active value")
	}
	f.store.SetValueActive(id, false)
	if err := f.registry.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if f.registry.ValidateValue(id) {
		t.Fatalf("expected inactive value to fail validation")
	}
	if _, ok := f.registry.Value(id); !ok {
		t.Fatalf("inactive values stay resolvable for labels")
	}
}

func TestEnsureValueRejectsParentFromOtherDimension(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.EnsureValue(context.Background(), dimensions.EnsureValueInput{DimensionCode: "cost_center", Code: "CC-3", ParentCode: "P-1"})
	if err == nil {
		t.Fatalf("expected parent outside dimension rejected")
	}
	if _, err := f.store.EnsureValue(context.Background(), dimensions.EnsureValueInput{DimensionCode: "nope", Code: "X"}); !errors.Is(err, shared.ErrDimensionNotFound) {
		t.Fatalf("expected ErrDimensionNotFound, got %v", err)
	}
}

func TestEnsureValueRejectsParentOnFlatDimension(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.EnsureValue(context.Background(), dimensions.EnsureValueInput{DimensionCode: "project", Code: "P-1-A", ParentCode: "P-1"})
	if !errors.Is(err, dimensions.ErrFlatDimension) {
		t.Fatalf("expected ErrFlatDimension, got %v", err)
	}
	child, err := f.store.EnsureValue(context.Background(), dimensions.EnsureValueInput{DimensionCode: "cost_center", Code: "CC-1-A", ParentCode: "CC-1"})
	if err != nil {
		t.Fatalf("hierarchical dimension accepts a parent: %v", err)
	}
	if child.ParentID == nil || *child.ParentID != f.values["CC-1"].ID {
		t.Fatalf("unexpected parent on %+v", child)
	}
}

type staticSource struct {
	dims   []dimensions.Dimension
	values []dimensions.Value
}

func (s staticSource) ListDimensions(context.Context) ([]dimensions.Dimension, error) {
	return s.dims, nil
}

func (s staticSource) ListValues(context.Context) ([]dimensions.Value, error) {
	return s.values, nil
}

func TestRefreshIgnoresParentOnFlatDimension(t *testing.T) {
	parent := int64(10)
	registry := dimensions.NewRegistry(staticSource{
		dims: []dimensions.Dimension{{ID: 1, Code: "project", Active: true}},
		values: []dimensions.Value{
			{ID: 10, DimensionID: 1, Code: "P-1", Active: true},
			{ID: 11, DimensionID: 1, Code: "P-1-A", Active: true, ParentID: &parent},
		},
	}, nil)
	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	v, ok := registry.Value(11)
	if !ok {
		t.Fatalf("expected value kept")
	}
	if v.ParentID != nil {
		t.Fatalf("expected parent dropped on flat dimension, got %d", *v.ParentID)
	}
	if !registry.ValidateValue(11) {
		t.Fatalf("expected value to stay valid")
	}
}
