// internal/domain/saved_card.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SavedCard is a tokenized payment instrument. The raw card number is never
// stored; only the processor token and display fields.
type SavedCard struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	MemberID          uuid.UUID  `json:"member_id" db:"member_id"`
	ProcessorToken    string     `json:"-" db:"processor_token"`
	Last4             string     `json:"last4" db:"card_last4"`
	Brand             string     `json:"brand" db:"card_brand"`
	FriendlyName      *string    `json:"friendly_name,omitempty" db:"friendly_name"`
	IsDefault         bool       `json:"is_default" db:"is_default"`
	AutoChargeEnabled bool       `json:"auto_charge_enabled" db:"auto_charge_enabled"`
	AutoChargePlanID  *uuid.UUID `json:"auto_charge_plan_id,omitempty" db:"auto_charge_plan_id"`
	NextChargeDate    *time.Time `json:"next_charge_date,omitempty" db:"next_charge_date"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Display renders the card the way receipts show it.
func (c *SavedCard) Display() string {
	if c.FriendlyName != nil && *c.FriendlyName != "" {
		return *c.FriendlyName
	}
	return c.Brand + " ending " + c.Last4
}

// DueOn reports whether the card should be charged by the sweep on today.
func (c *SavedCard) DueOn(today time.Time) bool {
	return c.AutoChargeEnabled &&
		c.AutoChargePlanID != nil &&
		c.NextChargeDate != nil &&
		!DateOf(*c.NextChargeDate).After(DateOf(today))
}

// Clone returns a deep copy.
func (c *SavedCard) Clone() *SavedCard {
	cp := *c
	if c.FriendlyName != nil {
		v := *c.FriendlyName
		cp.FriendlyName = &v
	}
	if c.AutoChargePlanID != nil {
		v := *c.AutoChargePlanID
		cp.AutoChargePlanID = &v
	}
	if c.NextChargeDate != nil {
		v := *c.NextChargeDate
		cp.NextChargeDate = &v
	}
	return &cp
}
