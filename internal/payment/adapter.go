// internal/payment/adapter.go
package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a payment session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrUnsupported is returned by adapters that cannot perform an operation.
var ErrUnsupported = errors.New("operation not supported by payment adapter")

// Session is the outcome of starting a payment.
type Session struct {
	ID      string          `json:"session_id"`
	Status  Status          `json:"status"`
	Amount  decimal.Decimal `json:"amount"`
	Message string          `json:"message,omitempty"`
}

type RefundResult struct {
	Success  bool   `json:"success"`
	RefundID string `json:"refund_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

type ChargeResult struct {
	Success     bool   `json:"success"`
	ReferenceID string `json:"reference_id,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Adapter moves money through one backend. Declines come back as
// unsuccessful results; a non-nil error means the backend could not be
// reached or answered nonsense.
type Adapter interface {
	Name() string
	InitiatePayment(ctx context.Context, amount decimal.Decimal, memberRef, description string) (Session, error)
	CheckStatus(ctx context.Context, sessionID string) (Status, error)
	Refund(ctx context.Context, originalRef string, amount decimal.Decimal) (RefundResult, error)
	TokenizeCard(ctx context.Context, last4, brand, memberRef string) (string, error)
	ChargeSavedCard(ctx context.Context, token string, amount decimal.Decimal, memberRef, description string) (ChargeResult, error)
}

// ConnectionTester is implemented by adapters that can verify credentials.
type ConnectionTester interface {
	TestConnection(ctx context.Context) (bool, string)
}

// ManualCard is a raw card typed in by staff. It never leaves the adapter.
type ManualCard struct {
	Number     string
	ExpMonth   int
	ExpYear    int
	CVC        string
	Cardholder string
}

func (c ManualCard) Last4() string {
	digits := onlyDigits(c.Number)
	if len(digits) < 4 {
		return digits
	}
	return digits[len(digits)-4:]
}

// Brand guesses the network from the IIN prefix.
func (c ManualCard) Brand() string {
	d := onlyDigits(c.Number)
	switch {
	case strings.HasPrefix(d, "4"):
		return "visa"
	case strings.HasPrefix(d, "34"), strings.HasPrefix(d, "37"):
		return "amex"
	case strings.HasPrefix(d, "6011"), strings.HasPrefix(d, "65"):
		return "discover"
	case len(d) >= 2 && d[0] == '5' && d[1] >= '1' && d[1] <= '5':
		return "mastercard"
	case strings.HasPrefix(d, "2"):
		return "mastercard"
	}
	return "card"
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TokenizedCard is what a manual-entry tokenization hands back.
type TokenizedCard struct {
	Token string
	Last4 string
	Brand string
}

// ManualEntryTokenizer is the only path that accepts a raw card number.
type ManualEntryTokenizer interface {
	TokenizeManualEntry(ctx context.Context, card ManualCard, memberRef string) (TokenizedCard, error)
}

// SafeCharge converts adapter errors into a failed charge result.
func SafeCharge(ctx context.Context, a Adapter, token string, amount decimal.Decimal, memberRef, description string) ChargeResult {
	res, err := a.ChargeSavedCard(ctx, token, amount, memberRef, description)
	if err != nil {
		return ChargeResult{Success: false, Message: err.Error()}
	}
	return res
}

// SafeInitiate converts adapter errors into a failed session.
func SafeInitiate(ctx context.Context, a Adapter, amount decimal.Decimal, memberRef, description string) Session {
	s, err := a.InitiatePayment(ctx, amount, memberRef, description)
	if err != nil {
		return Session{Status: StatusFailed, Amount: amount, Message: err.Error()}
	}
	return s
}

// SafeRefund converts adapter errors into a failed refund result.
func SafeRefund(ctx context.Context, a Adapter, originalRef string, amount decimal.Decimal) RefundResult {
	r, err := a.Refund(ctx, originalRef, amount)
	if err != nil {
		return RefundResult{Success: false, Message: err.Error()}
	}
	return r
}

// SafeStatus reports StatusFailed when the backend cannot be queried.
func SafeStatus(ctx context.Context, a Adapter, sessionID string) Status {
	st, err := a.CheckStatus(ctx, sessionID)
	if err != nil {
		return StatusFailed
	}
	return st
}

func toCents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
