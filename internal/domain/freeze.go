// internal/domain/freeze.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// MembershipFreeze is an append-only hold record. A nil FreezeEnd marks an
// open freeze. Bounded freezes cover [FreezeStart, FreezeEnd).
type MembershipFreeze struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	MembershipID uuid.UUID  `json:"membership_id" db:"membership_id"`
	FrozenBy     *uuid.UUID `json:"frozen_by,omitempty" db:"frozen_by"`
	FreezeStart  time.Time  `json:"freeze_start" db:"freeze_start"`
	FreezeEnd    *time.Time `json:"freeze_end,omitempty" db:"freeze_end"`
	DaysExtended int        `json:"days_extended" db:"days_extended"`
	Reason       *string    `json:"reason,omitempty" db:"reason"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

func (f *MembershipFreeze) Open() bool {
	return f.FreezeEnd == nil
}

// Covers reports whether the hold blocks entry on day. The end day itself
// is open for entry, unlike an inclusive [start, end] reading, so a
// same-day unfreeze admits the member at once.
func (f *MembershipFreeze) Covers(day time.Time) bool {
	if f.Open() {
		return true
	}
	d := DateOf(day)
	return !d.Before(DateOf(f.FreezeStart)) && d.Before(DateOf(*f.FreezeEnd))
}

// FreezeState summarizes the holds on one membership for a day.
type FreezeState struct {
	Frozen bool
	// Until is the first day the membership is usable again; nil for an
	// open freeze.
	Until *time.Time
}

// FreezeStateOn folds a membership's freeze history into its state on day.
func FreezeStateOn(freezes []*MembershipFreeze, day time.Time) FreezeState {
	var st FreezeState
	for _, f := range freezes {
		if !f.Covers(day) {
			continue
		}
		if f.Open() {
			return FreezeState{Frozen: true}
		}
		st.Frozen = true
		if st.Until == nil || f.FreezeEnd.After(*st.Until) {
			end := DateOf(*f.FreezeEnd)
			st.Until = &end
		}
	}
	return st
}

// OpenFreeze returns the open hold in freezes, if any.
func OpenFreeze(freezes []*MembershipFreeze) *MembershipFreeze {
	for _, f := range freezes {
		if f.Open() {
			return f
		}
	}
	return nil
}

// LatestFreeze returns the most recently created hold.
func LatestFreeze(freezes []*MembershipFreeze) *MembershipFreeze {
	var latest *MembershipFreeze
	for _, f := range freezes {
		if latest == nil || !f.CreatedAt.Before(latest.CreatedAt) {
			latest = f
		}
	}
	return latest
}
