// internal/domain/transaction.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxPayment          TransactionType = "payment"
	TxRefund           TransactionType = "refund"
	TxCreditAdd        TransactionType = "credit_add"
	TxCreditUse        TransactionType = "credit_use"
	TxManualAdjustment TransactionType = "manual_adjustment"
)

type PaymentMethod string

const (
	MethodCash   PaymentMethod = "cash"
	MethodCard   PaymentMethod = "card"
	MethodCredit PaymentMethod = "credit"
	MethodManual PaymentMethod = "manual"
)

// Transaction is an immutable ledger row. Notes is the only field that may
// change after insert.
type Transaction struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	MemberID      *uuid.UUID      `json:"member_id,omitempty" db:"member_id"`
	Type          TransactionType `json:"transaction_type" db:"transaction_type"`
	Method        PaymentMethod   `json:"payment_method" db:"payment_method"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	PlanID        *uuid.UUID      `json:"plan_id,omitempty" db:"plan_id"`
	MembershipID  *uuid.UUID      `json:"membership_id,omitempty" db:"membership_id"`
	SavedCardID   *uuid.UUID      `json:"saved_card_id,omitempty" db:"saved_card_id"`
	RefundOf      *uuid.UUID      `json:"refund_of,omitempty" db:"refund_of"`
	ReferenceID   *string         `json:"reference_id,omitempty" db:"reference_id"`
	Notes         *string         `json:"notes,omitempty" db:"notes"`
	CreatedBy     *string         `json:"created_by,omitempty" db:"created_by"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// NewTransaction returns a ledger row with identity and timestamp set.
func NewTransaction(memberID uuid.UUID, typ TransactionType, method PaymentMethod, amount decimal.Decimal) *Transaction {
	return &Transaction{
		ID:        uuid.New(),
		MemberID:  &memberID,
		Type:      typ,
		Method:    method,
		Amount:    amount.Round(2),
		CreatedAt: time.Now().UTC(),
	}
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// UUIDPtr returns a pointer to a copy of id.
func UUIDPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
