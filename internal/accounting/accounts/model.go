package accounts

import (
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether the type is one of the CoA categories.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// Account models a chart of accounts node.
type Account struct {
	ID        int64
	Code      string
	Name      string
	Type      AccountType
	ParentID  *int64
	Postable  bool
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanPost reports whether ledger entries may reference the account.
func (a Account) CanPost() bool {
	return a.IsActive && a.Postable
}

// RoleMapping links a logical role to a ledger account. BranchID nil applies to every branch;
// Module "*" applies to every module.
type RoleMapping struct {
	Module    shared.ModuleType
	Role      shared.Role
	BranchID  *int64
	AccountID int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ResolveContext carries the source attributes role resolution depends on.
type ResolveContext struct {
	Module    shared.ModuleType
	BranchID  *int64
	Overrides map[shared.Role]int64
}

// EnsureAccountInput seeds a ledger account.
type EnsureAccountInput struct {
	Code       string      `yaml:"code"`
	Name       string      `yaml:"name"`
	Type       AccountType `yaml:"type"`
	ParentCode string      `yaml:"parent"`
	Postable   *bool       `yaml:"postable"`
}

// EnsureMappingInput seeds a role mapping.
type EnsureMappingInput struct {
	Module      string `yaml:"module"`
	Role        string `yaml:"role"`
	BranchID    *int64 `yaml:"branch_id"`
	AccountCode string `yaml:"account"`
}
