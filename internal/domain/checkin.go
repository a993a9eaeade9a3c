// internal/domain/checkin.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

type CheckinType string

const (
	CheckinMembership CheckinType = "membership"
	CheckinSwimPass   CheckinType = "swim_pass"
	CheckinPaidSingle CheckinType = "paid_single"
	CheckinFree       CheckinType = "free"
)

// CheckinTypeFor classifies a visit by the plan type it consumed.
func CheckinTypeFor(t PlanType) CheckinType {
	switch t {
	case PlanMonthly:
		return CheckinMembership
	case PlanSwimPass:
		return CheckinSwimPass
	case PlanSingle:
		return CheckinPaidSingle
	}
	return CheckinFree
}

// Checkin is an append-only visit record.
type Checkin struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	MemberID     uuid.UUID   `json:"member_id" db:"member_id"`
	MembershipID *uuid.UUID  `json:"membership_id,omitempty" db:"membership_id"`
	Type         CheckinType `json:"checkin_type" db:"checkin_type"`
	GuestCount   int         `json:"guest_count" db:"guest_count"`
	CheckedInAt  time.Time   `json:"checked_in_at" db:"checked_in_at"`
	Notes        *string     `json:"notes,omitempty" db:"notes"`
}
