package dimensions

import (
	"errors"
	"strings"
	"time"
)

// ErrFlatDimension rejects a parent on a value of a non-hierarchical dimension.
var ErrFlatDimension = errors.New("dimensions: dimension is not hierarchical")

// Dimension is a named classification axis such as cost center or project.
type Dimension struct {
	ID            int64
	Code          string
	Name          string
	Required      bool
	Hierarchical  bool
	AllowMultiple bool
	// RequiredFor narrows Required to module codes or account codes. Empty means everywhere.
	RequiredFor []string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Value is one permissible member of a Dimension.
type Value struct {
	ID          int64
	DimensionID int64
	Code        string
	Name        string
	ParentID    *int64
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reference points a source transaction at one dimension value.
type Reference struct {
	DimensionID int64 `json:"dimension_id"`
	ValueID     int64 `json:"value_id"`
}

// Scope selects which required dimensions apply.
type Scope struct {
	Module       string
	AccountCodes []string
}

func (d Dimension) requiredIn(scope Scope) bool {
	if !d.Required || !d.Active {
		return false
	}
	if len(d.RequiredFor) == 0 {
		return true
	}
	for _, target := range d.RequiredFor {
		if strings.EqualFold(target, scope.Module) {
			return true
		}
		for _, code := range scope.AccountCodes {
			if target == code {
				return true
			}
		}
	}
	return false
}

// EnsureDimensionInput seeds a dimension.
type EnsureDimensionInput struct {
	Code          string   `yaml:"code"`
	Name          string   `yaml:"name"`
	Required      bool     `yaml:"required"`
	Hierarchical  bool     `yaml:"hierarchical"`
	AllowMultiple bool     `yaml:"allow_multiple"`
	RequiredFor   []string `yaml:"required_for"`
}

// EnsureValueInput seeds a dimension value.
type EnsureValueInput struct {
	DimensionCode string `yaml:"dimension"`
	Code          string `yaml:"code"`
	Name          string `yaml:"name"`
	ParentCode    string `yaml:"parent"`
}
