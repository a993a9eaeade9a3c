// internal/domain/entitlement.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Entitlement is the outcome of resolving which membership, if any, admits
// a member today.
type Entitlement struct {
	Membership  *Membership `json:"membership,omitempty"`
	Frozen      bool        `json:"is_frozen"`
	FrozenUntil *time.Time  `json:"frozen_until,omitempty"`
}

// Found reports whether a usable membership was selected.
func (e Entitlement) Found() bool {
	return e.Membership != nil
}

// SelectEntitlement walks memberships in storage order and returns the first
// usable one that is not on hold. Ties between several usable memberships
// resolve to storage order (created_at, id); price and recency play no part.
func SelectEntitlement(memberships []*Membership, freezes map[uuid.UUID][]*MembershipFreeze, today time.Time) Entitlement {
	var ent Entitlement
	for _, m := range memberships {
		if !m.IsActive {
			continue
		}
		if st := FreezeStateOn(freezes[m.ID], today); st.Frozen {
			ent.Frozen = true
			if st.Until != nil {
				ent.FrozenUntil = st.Until
			}
			continue
		}
		if m.Usable(today) {
			ent.Membership = m
			return ent
		}
	}
	return ent
}
