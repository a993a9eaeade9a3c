// internal/billing/domain.go
package billing

import (
	"swimdesk/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CashRequest struct {
	MemberID       uuid.UUID       `json:"member_id"`
	PIN            string          `json:"pin"`
	PlanID         uuid.UUID       `json:"plan_id"`
	AmountTendered decimal.Decimal `json:"amount_tendered"`
	WantsChange    bool            `json:"wants_change"`
	UseCredit      bool            `json:"use_credit"`
}

// CardRequest pays by saved card, by a terminal session the caller already
// ran (SessionID), or by starting a new session.
type CardRequest struct {
	MemberID     uuid.UUID  `json:"member_id"`
	PIN          string     `json:"pin"`
	PlanID       uuid.UUID  `json:"plan_id"`
	UseCredit    bool       `json:"use_credit"`
	SavedCardID  *uuid.UUID `json:"saved_card_id,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`
	SaveCard     bool       `json:"save_card"`
	CardLast4    string     `json:"card_last4,omitempty"`
	CardBrand    string     `json:"card_brand,omitempty"`
	FriendlyName string     `json:"friendly_name,omitempty"`
}

type SplitRequest struct {
	MemberID    uuid.UUID       `json:"member_id"`
	PIN         string          `json:"pin"`
	PlanID      uuid.UUID       `json:"plan_id"`
	CashAmount  decimal.Decimal `json:"cash_amount"`
	SavedCardID *uuid.UUID      `json:"saved_card_id,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
}

type CreditRequest struct {
	MemberID uuid.UUID `json:"member_id"`
	PIN      string    `json:"pin"`
	PlanID   uuid.UUID `json:"plan_id"`
}

// Result reports a settled purchase.
type Result struct {
	MembershipID  uuid.UUID             `json:"membership_id"`
	TransactionID uuid.UUID             `json:"transaction_id"`
	Transactions  []*domain.Transaction `json:"transactions"`
	ChangeDue     decimal.Decimal       `json:"change_due"`
	CreditAdded   decimal.Decimal       `json:"credit_added"`
	CreditUsed    decimal.Decimal       `json:"credit_used"`
	CardCharged   decimal.Decimal       `json:"card_charged"`
	CreditBalance decimal.Decimal       `json:"credit_balance"`
	SavedCard     *domain.SavedCard     `json:"saved_card,omitempty"`
	CardSaveError string                `json:"card_save_error,omitempty"`
	Message       string                `json:"message"`
}

// CreditQuote previews how much of a plan the member's credit covers.
type CreditQuote struct {
	Balance      decimal.Decimal `json:"credit_balance"`
	Price        decimal.Decimal `json:"price"`
	CreditUsed   decimal.Decimal `json:"credit_used"`
	RemainingDue decimal.Decimal `json:"remaining_due"`
	CoversFull   bool            `json:"covers_full"`
}

type RefundRequest struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	// Amount defaults to whatever has not been refunded yet.
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason"`
	Actor  string           `json:"-"`
}

type SaveCardRequest struct {
	MemberID     uuid.UUID `json:"member_id"`
	PIN          string    `json:"pin"`
	Last4        string    `json:"card_last4"`
	Brand        string    `json:"card_brand"`
	FriendlyName string    `json:"friendly_name,omitempty"`
}

type AutoChargeRequest struct {
	MemberID uuid.UUID `json:"member_id"`
	PIN      string    `json:"pin"`
	CardID   uuid.UUID `json:"-"`
	PlanID   uuid.UUID `json:"plan_id"`
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
