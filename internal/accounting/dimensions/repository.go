package dimensions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Repository persists dimension configuration.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListDimensions returns every dimension including inactive ones.
func (r *Repository) ListDimensions(ctx context.Context) ([]Dimension, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, is_required, is_hierarchical, allow_multiple, required_for, is_active, created_at, updated_at
FROM gl_dimensions ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Dimension
	for rows.Next() {
		var d Dimension
		if err := rows.Scan(&d.ID, &d.Code, &d.Name, &d.Required, &d.Hierarchical, &d.AllowMultiple, &d.RequiredFor, &d.Active, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListValues returns every dimension value including inactive ones.
func (r *Repository) ListValues(ctx context.Context) ([]Value, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, dimension_id, code, name, parent_id, is_active, created_at, updated_at
FROM gl_dimension_values ORDER BY dimension_id, code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Value
	for rows.Next() {
		var v Value
		if err := rows.Scan(&v.ID, &v.DimensionID, &v.Code, &v.Name, &v.ParentID, &v.Active, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// EnsureDimension upserts a dimension by code. Seeding only; posting never calls it.
func (r *Repository) EnsureDimension(ctx context.Context, in EnsureDimensionInput) (Dimension, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return Dimension{}, errors.New("dimensions: code required")
	}
	if in.RequiredFor == nil {
		in.RequiredFor = []string{}
	}
	var d Dimension
	err := r.pool.QueryRow(ctx, `INSERT INTO gl_dimensions (code, name, is_required, is_hierarchical, allow_multiple, required_for, is_active)
VALUES ($1,$2,$3,$4,$5,$6,TRUE)
ON CONFLICT (code) DO UPDATE SET name=EXCLUDED.name, is_required=EXCLUDED.is_required, is_hierarchical=EXCLUDED.is_hierarchical,
	allow_multiple=EXCLUDED.allow_multiple, required_for=EXCLUDED.required_for, updated_at=NOW()
RETURNING id, code, name, is_required, is_hierarchical, allow_multiple, required_for, is_active, created_at, updated_at`,
		code, in.Name, in.Required, in.Hierarchical, in.AllowMultiple, in.RequiredFor).
		Scan(&d.ID, &d.Code, &d.Name, &d.Required, &d.Hierarchical, &d.AllowMultiple, &d.RequiredFor, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Dimension{}, fmt.Errorf("dimensions: ensure %s: %w", code, err)
	}
	return d, nil
}

// EnsureValue upserts a dimension value by (dimension, code).
func (r *Repository) EnsureValue(ctx context.Context, in EnsureValueInput) (Value, error) {
	var (
		dimensionID  int64
		hierarchical bool
	)
	err := r.pool.QueryRow(ctx, `SELECT id, is_hierarchical FROM gl_dimensions WHERE code=$1`, in.DimensionCode).Scan(&dimensionID, &hierarchical)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Value{}, fmt.Errorf("%w: %s", shared.ErrDimensionNotFound, in.DimensionCode)
		}
		return Value{}, err
	}
	if in.ParentCode != "" && !hierarchical {
		return Value{}, fmt.Errorf("%w: %s cannot parent %s under %s", ErrFlatDimension, in.DimensionCode, in.Code, in.ParentCode)
	}
	var parentID *int64
	if in.ParentCode != "" {
		var id int64
		err := r.pool.QueryRow(ctx, `SELECT id FROM gl_dimension_values WHERE dimension_id=$1 AND code=$2`, dimensionID, in.ParentCode).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return Value{}, fmt.Errorf("dimensions: parent %s not in dimension %s", in.ParentCode, in.DimensionCode)
			}
			return Value{}, err
		}
		parentID = &id
	}
	var v Value
	err = r.pool.QueryRow(ctx, `INSERT INTO gl_dimension_values (dimension_id, code, name, parent_id, is_active)
VALUES ($1,$2,$3,$4,TRUE)
ON CONFLICT (dimension_id, code) DO UPDATE SET name=EXCLUDED.name, parent_id=EXCLUDED.parent_id, updated_at=NOW()
RETURNING id, dimension_id, code, name, parent_id, is_active, created_at, updated_at`, dimensionID, in.Code, in.Name, parentID).
		Scan(&v.ID, &v.DimensionID, &v.Code, &v.Name, &v.ParentID, &v.Active, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return Value{}, fmt.Errorf("dimensions: ensure value %s/%s: %w", in.DimensionCode, in.Code, err)
	}
	return v, nil
}
