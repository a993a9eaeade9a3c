// internal/payment/stub.go
package payment

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DeclineTokenPrefix marks stub tokens whose charges are declined.
const DeclineTokenPrefix = "stub_decline"

// StubOptions shape how the stub behaves in demos and tests.
type StubOptions struct {
	// InitiateStatus is reported by InitiatePayment and CheckStatus.
	// Empty means completed.
	InitiateStatus Status
	DeclineRefunds bool
}

// Call is one recorded stub invocation.
type Call struct {
	Op     string
	Ref    string
	Amount decimal.Decimal
}

// Stub succeeds unless told otherwise and records every call.
type Stub struct {
	logger *zap.Logger
	opts   StubOptions

	mu    sync.Mutex
	calls []Call
}

func NewStub(logger *zap.Logger, opts StubOptions) *Stub {
	if opts.InitiateStatus == "" {
		opts.InitiateStatus = StatusCompleted
	}
	return &Stub{logger: logger, opts: opts}
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) record(op, ref string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: op, Ref: ref, Amount: amount})
}

// Calls returns the recorded invocations.
func (s *Stub) Calls(op string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (s *Stub) InitiatePayment(_ context.Context, amount decimal.Decimal, memberRef, _ string) (Session, error) {
	id := "stub_" + shortID(12)
	s.record("initiate", id, amount)
	s.logger.Info("Stub payment initiated",
		zap.String("session_id", id),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("member_id", memberRef),
	)
	return Session{ID: id, Status: s.opts.InitiateStatus, Amount: amount, Message: "Stub payment " + string(s.opts.InitiateStatus)}, nil
}

func (s *Stub) CheckStatus(_ context.Context, sessionID string) (Status, error) {
	s.record("status", sessionID, decimal.Zero)
	return s.opts.InitiateStatus, nil
}

func (s *Stub) Refund(_ context.Context, originalRef string, amount decimal.Decimal) (RefundResult, error) {
	s.record("refund", originalRef, amount)
	if s.opts.DeclineRefunds {
		return RefundResult{Success: false, Message: "Stub refund declined"}, nil
	}
	return RefundResult{Success: true, RefundID: "stub_refund_" + shortID(12), Message: "Stub refund completed successfully"}, nil
}

func (s *Stub) TokenizeCard(_ context.Context, last4, brand, memberRef string) (string, error) {
	token := "stub_tok_" + shortID(16)
	s.record("tokenize", token, decimal.Zero)
	s.logger.Info("Stub card tokenized",
		zap.String("last4", last4),
		zap.String("brand", brand),
		zap.String("member_id", memberRef),
	)
	return token, nil
}

func (s *Stub) ChargeSavedCard(_ context.Context, token string, amount decimal.Decimal, memberRef, _ string) (ChargeResult, error) {
	s.record("charge", token, amount)
	if strings.HasPrefix(token, DeclineTokenPrefix) {
		return ChargeResult{Success: false, Message: "Stub card declined"}, nil
	}
	ref := "stub_sc_" + shortID(12)
	s.logger.Info("Stub saved card charged",
		zap.String("reference_id", ref),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("member_id", memberRef),
	)
	return ChargeResult{Success: true, ReferenceID: ref, Message: "Saved card charge completed successfully"}, nil
}

func (s *Stub) TestConnection(context.Context) (bool, string) {
	return true, "Stub adapter is always available"
}

// TokenizeManualEntry lets staff flows run end to end without a processor.
func (s *Stub) TokenizeManualEntry(ctx context.Context, card ManualCard, memberRef string) (TokenizedCard, error) {
	token, err := s.TokenizeCard(ctx, card.Last4(), card.Brand(), memberRef)
	if err != nil {
		return TokenizedCard{}, err
	}
	return TokenizedCard{Token: token, Last4: card.Last4(), Brand: card.Brand()}, nil
}
