package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Source loads the chart and role mappings.
type Source interface {
	List(ctx context.Context) ([]Account, error)
	ListMappings(ctx context.Context) ([]RoleMapping, error)
}

type mappingKey struct {
	module shared.ModuleType
	role   shared.Role
	branch int64
}

type chart struct {
	byID     map[int64]Account
	byCode   map[string]Account
	mappings map[mappingKey]int64
}

// Resolver maps logical roles to postable ledger accounts.
type Resolver struct {
	source Source
	logger *slog.Logger
	snap   atomic.Pointer[chart]
}

// NewResolver constructs an empty resolver. Call Refresh before use.
func NewResolver(source Source, logger *slog.Logger) *Resolver {
	r := &Resolver{source: source, logger: logger}
	r.snap.Store(&chart{byID: map[int64]Account{}, byCode: map[string]Account{}, mappings: map[mappingKey]int64{}})
	return r
}

// Refresh reloads accounts and mappings.
func (r *Resolver) Refresh(ctx context.Context) error {
	accounts, err := r.source.List(ctx)
	if err != nil {
		return fmt.Errorf("accounts: list: %w", err)
	}
	mappings, err := r.source.ListMappings(ctx)
	if err != nil {
		return fmt.Errorf("accounts: list mappings: %w", err)
	}
	next := &chart{
		byID:     make(map[int64]Account, len(accounts)),
		byCode:   make(map[string]Account, len(accounts)),
		mappings: make(map[mappingKey]int64, len(mappings)),
	}
	for _, a := range accounts {
		next.byID[a.ID] = a
		next.byCode[a.Code] = a
	}
	for _, m := range mappings {
		key := mappingKey{module: m.Module, role: m.Role}
		if m.BranchID != nil {
			key.branch = *m.BranchID
		}
		next.mappings[key] = m.AccountID
	}
	r.snap.Store(next)
	return nil
}

// Account returns an account by id.
func (r *Resolver) Account(id int64) (Account, bool) {
	a, ok := r.snap.Load().byID[id]
	return a, ok
}

// AccountByCode returns an account by code.
func (r *Resolver) AccountByCode(code string) (Account, bool) {
	a, ok := r.snap.Load().byCode[code]
	return a, ok
}

// ResolveAccount picks the account for role: a valid override first, then the mapping for
// module+branch, module, and finally the global mapping.
func (r *Resolver) ResolveAccount(ctx context.Context, role shared.Role, rc ResolveContext) (Account, error) {
	account, ok := r.resolve(ctx, r.snap.Load(), role, rc)
	if !ok {
		return Account{}, &shared.ResolutionError{Module: rc.Module, Roles: []shared.Role{role}}
	}
	return account, nil
}

// ResolveRoles resolves every role and reports all the ones that are missing at once.
func (r *Resolver) ResolveRoles(ctx context.Context, roles []shared.Role, rc ResolveContext) (map[shared.Role]Account, error) {
	snap := r.snap.Load()
	out := make(map[shared.Role]Account, len(roles))
	var missing []shared.Role
	for _, role := range roles {
		if _, done := out[role]; done {
			continue
		}
		account, ok := r.resolve(ctx, snap, role, rc)
		if !ok {
			missing = append(missing, role)
			continue
		}
		out[role] = account
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return nil, &shared.ResolutionError{Module: rc.Module, Roles: missing}
	}
	return out, nil
}

func (r *Resolver) resolve(ctx context.Context, snap *chart, role shared.Role, rc ResolveContext) (Account, bool) {
	if id, ok := rc.Overrides[role]; ok {
		if a, found := snap.byID[id]; found && a.CanPost() {
			return a, true
		}
		if r.logger != nil {
			r.logger.WarnContext(ctx, "account override ignored",
				slog.String("module", string(rc.Module)), slog.String("role", string(role)), slog.Int64("account_id", id))
		}
	}
	candidates := make([]mappingKey, 0, 3)
	if rc.BranchID != nil {
		candidates = append(candidates, mappingKey{module: rc.Module, role: role, branch: *rc.BranchID})
	}
	candidates = append(candidates,
		mappingKey{module: rc.Module, role: role},
		mappingKey{module: shared.ModuleAny, role: role},
	)
	for _, key := range candidates {
		id, ok := snap.mappings[key]
		if !ok {
			continue
		}
		// first configured mapping wins even if its account is unusable
		a, found := snap.byID[id]
		return a, found && a.CanPost()
	}
	return Account{}, false
}
