// internal/membership/domain.go
package membership

import (
	"time"

	"github.com/google/uuid"
)

// FreezeRequest asks for a hold of Days days, or until EndDate. Exactly one
// of the two is consulted; Days wins when both are set.
type FreezeRequest struct {
	Days     *int       `json:"freeze_days,omitempty"`
	EndDate  *time.Time `json:"freeze_end,omitempty"`
	Reason   string     `json:"reason,omitempty"`
	Actor    string     `json:"-"`
	FrozenBy *uuid.UUID `json:"-"`
}

// Patch is an administrative override. Nil fields are left alone.
type Patch struct {
	SwimsTotal *int       `json:"swims_total,omitempty"`
	SwimsUsed  *int       `json:"swims_used,omitempty"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	IsActive   *bool      `json:"is_active,omitempty"`
}

func (p Patch) empty() bool {
	return p.SwimsTotal == nil && p.SwimsUsed == nil && p.ValidFrom == nil && p.ValidUntil == nil && p.IsActive == nil
}

// SignupRequest registers a member from the kiosk.
type SignupRequest struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Phone     string  `json:"phone"`
	Email     *string `json:"email,omitempty"`
	PIN       string  `json:"pin"`
}

// snapshot is the audited view of a membership's mutable fields.
type snapshot struct {
	SwimsTotal *int    `json:"swims_total"`
	SwimsUsed  int     `json:"swims_used"`
	ValidFrom  *string `json:"valid_from"`
	ValidUntil *string `json:"valid_until"`
	IsActive   bool    `json:"is_active"`
}

func dateString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.DateOnly)
	return &s
}
