// internal/domain/guest.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GuestVisit is a paid walk-in by someone without a member account. Its
// revenue is also recorded as a member-less payment Transaction.
type GuestVisit struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Phone         *string         `json:"phone,omitempty" db:"phone"`
	PlanID        uuid.UUID       `json:"plan_id" db:"plan_id"`
	Method        PaymentMethod   `json:"payment_method" db:"payment_method"`
	AmountPaid    decimal.Decimal `json:"amount_paid" db:"amount_paid"`
	TransactionID uuid.UUID       `json:"transaction_id" db:"transaction_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
