package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Repository loads and seeds the chart of accounts and role mappings.
type Repository interface {
	List(ctx context.Context) ([]Account, error)
	ListMappings(ctx context.Context) ([]RoleMapping, error)
	EnsureAccount(ctx context.Context, in EnsureAccountInput) (Account, error)
	EnsureMapping(ctx context.Context, in EnsureMappingInput) (RoleMapping, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT id, code, name, type, parent_id, is_postable, is_active, created_at, updated_at FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.Postable, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repository) ListMappings(ctx context.Context) ([]RoleMapping, error) {
	rows, err := r.db.Query(ctx, `SELECT module, role, branch_id, account_id, created_at, updated_at FROM gl_account_roles ORDER BY module, role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RoleMapping
	for rows.Next() {
		var m RoleMapping
		if err := rows.Scan(&m.Module, &m.Role, &m.BranchID, &m.AccountID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// EnsureAccount upserts an account by code.
func (r *repository) EnsureAccount(ctx context.Context, in EnsureAccountInput) (Account, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" || !in.Type.Valid() {
		return Account{}, fmt.Errorf("accounts: invalid account %q (%s)", in.Code, in.Type)
	}
	postable := true
	if in.Postable != nil {
		postable = *in.Postable
	}
	var parentID *int64
	if in.ParentCode != "" {
		id, err := r.idByCode(ctx, in.ParentCode)
		if err != nil {
			return Account{}, err
		}
		parentID = &id
	}
	var a Account
	err := r.db.QueryRow(ctx, `INSERT INTO accounts (code, name, type, parent_id, is_postable, is_active)
VALUES ($1,$2,$3,$4,$5,TRUE)
ON CONFLICT (code) DO UPDATE SET name=EXCLUDED.name, type=EXCLUDED.type, parent_id=EXCLUDED.parent_id,
	is_postable=EXCLUDED.is_postable, updated_at=NOW()
RETURNING id, code, name, type, parent_id, is_postable, is_active, created_at, updated_at`,
		code, in.Name, in.Type, parentID, postable).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.Postable, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Account{}, fmt.Errorf("accounts: ensure %s: %w", code, err)
	}
	return a, nil
}

// EnsureMapping upserts a role mapping. The unique key is (module, role, branch).
func (r *repository) EnsureMapping(ctx context.Context, in EnsureMappingInput) (RoleMapping, error) {
	module, err := shared.ParseModule(in.Module)
	if err != nil {
		return RoleMapping{}, err
	}
	role := shared.Role(strings.ToUpper(strings.TrimSpace(in.Role)))
	if role == "" {
		return RoleMapping{}, errors.New("accounts: role required")
	}
	accountID, err := r.idByCode(ctx, in.AccountCode)
	if err != nil {
		return RoleMapping{}, err
	}
	var m RoleMapping
	err = r.db.QueryRow(ctx, `INSERT INTO gl_account_roles (module, role, branch_id, account_id)
VALUES ($1,$2,$3,$4)
ON CONFLICT (module, role, COALESCE(branch_id, 0)) DO UPDATE SET account_id=EXCLUDED.account_id, updated_at=NOW()
RETURNING module, role, branch_id, account_id, created_at, updated_at`, module, role, in.BranchID, accountID).
		Scan(&m.Module, &m.Role, &m.BranchID, &m.AccountID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return RoleMapping{}, fmt.Errorf("accounts: ensure mapping %s/%s: %w", module, role, err)
	}
	return m, nil
}

func (r *repository) idByCode(ctx context.Context, code string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT id FROM accounts WHERE code=$1`, strings.TrimSpace(code)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", shared.ErrAccountNotFound, code)
		}
		return 0, err
	}
	return id, nil
}
