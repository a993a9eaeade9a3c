// internal/catalog/domain.go
package catalog

import (
	"github.com/shopspring/decimal"
)

// PlanInput describes a new plan.
type PlanInput struct {
	Name         string          `json:"name"`
	Type         string          `json:"plan_type"`
	Price        decimal.Decimal `json:"price"`
	SwimCount    *int            `json:"swim_count,omitempty"`
	DurationDays *int            `json:"duration_days,omitempty"`
	DisplayOrder int             `json:"display_order"`
}

// PlanPatch edits a plan. Nil fields are left alone. The plan type is fixed
// once created.
type PlanPatch struct {
	Name         *string          `json:"name,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	SwimCount    *int             `json:"swim_count,omitempty"`
	DurationDays *int             `json:"duration_days,omitempty"`
	DisplayOrder *int             `json:"display_order,omitempty"`
	IsActive     *bool            `json:"is_active,omitempty"`
}

func (p PlanPatch) empty() bool {
	return p.Name == nil && p.Price == nil && p.SwimCount == nil &&
		p.DurationDays == nil && p.DisplayOrder == nil && p.IsActive == nil
}
