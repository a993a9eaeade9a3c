// internal/domain/membership.go
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Membership is one purchased instance of a plan for one member. The plan
// type is copied at purchase so later plan edits never change its behavior.
type Membership struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	MemberID   uuid.UUID  `json:"member_id" db:"member_id"`
	PlanID     uuid.UUID  `json:"plan_id" db:"plan_id"`
	PlanType   PlanType   `json:"plan_type" db:"plan_type"`
	SwimsTotal *int       `json:"swims_total,omitempty" db:"swims_total"`
	SwimsUsed  int        `json:"swims_used" db:"swims_used"`
	ValidFrom  *time.Time `json:"valid_from,omitempty" db:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty" db:"valid_until"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	Version    int        `json:"version" db:"version"`
}

// NewMembership stamps a fresh membership from plan, starting on today.
func NewMembership(memberID uuid.UUID, plan *Plan, today time.Time) *Membership {
	m := &Membership{
		ID:        uuid.New(),
		MemberID:  memberID,
		PlanID:    plan.ID,
		PlanType:  plan.Type,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	switch plan.Type {
	case PlanMonthly:
		m.ValidFrom = datePtr(today)
		m.ValidUntil = datePtr(AddDays(today, plan.Duration()))
	default:
		total := plan.Visits()
		m.SwimsTotal = &total
	}
	return m
}

// SwimsRemaining returns unused visits on a metered membership.
func (m *Membership) SwimsRemaining() int {
	if m.SwimsTotal == nil {
		return 0
	}
	if r := *m.SwimsTotal - m.SwimsUsed; r > 0 {
		return r
	}
	return 0
}

// CoversDay reports whether a monthly membership's window includes day.
func (m *Membership) CoversDay(day time.Time) bool {
	if m.ValidFrom == nil || m.ValidUntil == nil {
		return false
	}
	d := DateOf(day)
	return !d.Before(DateOf(*m.ValidFrom)) && !d.After(DateOf(*m.ValidUntil))
}

// Usable is the single expiry rule: expiry is never stored, every reader
// derives it from dates and counters through this method.
func (m *Membership) Usable(today time.Time) bool {
	if !m.IsActive {
		return false
	}
	switch m.PlanType {
	case PlanMonthly:
		return m.CoversDay(today)
	case PlanSwimPass, PlanSingle:
		return m.SwimsTotal != nil && m.SwimsUsed < *m.SwimsTotal
	}
	return false
}

// Expired reports the derived "active but used up" condition.
func (m *Membership) Expired(today time.Time) bool {
	switch m.PlanType {
	case PlanMonthly:
		return m.ValidUntil != nil && DateOf(today).After(DateOf(*m.ValidUntil))
	default:
		return m.SwimsRemaining() == 0
	}
}

// CheckInvariants validates the type-specific counters and dates.
func (m *Membership) CheckInvariants() error {
	switch m.PlanType {
	case PlanMonthly:
		if m.ValidFrom == nil || m.ValidUntil == nil {
			return fmt.Errorf("monthly membership requires valid_from and valid_until")
		}
		if DateOf(*m.ValidFrom).After(DateOf(*m.ValidUntil)) {
			return fmt.Errorf("valid_from %s is after valid_until %s",
				m.ValidFrom.Format(time.DateOnly), m.ValidUntil.Format(time.DateOnly))
		}
	case PlanSwimPass, PlanSingle:
		if m.SwimsTotal == nil || *m.SwimsTotal < 0 {
			return fmt.Errorf("metered membership requires a non-negative swims_total")
		}
		if m.SwimsUsed < 0 || m.SwimsUsed > *m.SwimsTotal {
			return fmt.Errorf("swims_used %d outside [0, %d]", m.SwimsUsed, *m.SwimsTotal)
		}
	default:
		return fmt.Errorf("unknown plan type %q", m.PlanType)
	}
	return nil
}

// Clone returns a deep copy.
func (m *Membership) Clone() *Membership {
	c := *m
	if m.SwimsTotal != nil {
		v := *m.SwimsTotal
		c.SwimsTotal = &v
	}
	if m.ValidFrom != nil {
		v := *m.ValidFrom
		c.ValidFrom = &v
	}
	if m.ValidUntil != nil {
		v := *m.ValidUntil
		c.ValidUntil = &v
	}
	return &c
}
