// internal/domain/plan.go
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlanType is the kind of entitlement a plan sells.
type PlanType string

const (
	PlanSingle   PlanType = "single"
	PlanSwimPass PlanType = "swim_pass"
	PlanMonthly  PlanType = "monthly"
)

// DefaultDurationDays applies to monthly plans without an explicit duration.
const DefaultDurationDays = 30

func (t PlanType) Valid() bool {
	switch t {
	case PlanSingle, PlanSwimPass, PlanMonthly:
		return true
	}
	return false
}

// Metered reports whether memberships of this type consume a visit per swim.
func (t PlanType) Metered() bool {
	return t == PlanSingle || t == PlanSwimPass
}

// Plan is a catalog template for purchasable memberships.
type Plan struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Type         PlanType        `json:"plan_type" db:"plan_type"`
	Price        decimal.Decimal `json:"price" db:"price"`
	SwimCount    *int            `json:"swim_count,omitempty" db:"swim_count"`
	DurationDays *int            `json:"duration_days,omitempty" db:"duration_days"`
	IsActive     bool            `json:"is_active" db:"is_active"`
	DisplayOrder int             `json:"display_order" db:"display_order"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Duration returns the validity length in days for monthly plans.
func (p *Plan) Duration() int {
	if p.DurationDays == nil || *p.DurationDays <= 0 {
		return DefaultDurationDays
	}
	return *p.DurationDays
}

// Visits returns the number of visits a new membership of this plan carries.
func (p *Plan) Visits() int {
	if p.Type == PlanSingle || p.SwimCount == nil || *p.SwimCount <= 0 {
		return 1
	}
	return *p.SwimCount
}

// Validate checks a plan before it is saved. Memberships copy what they need
// from the plan at creation, so a valid edit never reaches existing ones.
func (p *Plan) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return errors.New("plan name is required")
	case !p.Type.Valid():
		return fmt.Errorf("unknown plan type %q", p.Type)
	case p.Price.IsNegative():
		return errors.New("price cannot be negative")
	case p.SwimCount != nil && *p.SwimCount <= 0:
		return errors.New("swim count must be positive")
	case p.Type == PlanSwimPass && p.SwimCount == nil:
		return errors.New("swim passes need a swim count")
	case p.DurationDays != nil && *p.DurationDays <= 0:
		return errors.New("duration must be positive")
	}
	return nil
}
