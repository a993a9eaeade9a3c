// internal/payment/cash.go
package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Cash records till payments. It completes synchronously and cannot hold
// cards.
type Cash struct {
	logger *zap.Logger
}

func NewCash(logger *zap.Logger) *Cash {
	return &Cash{logger: logger}
}

func (c *Cash) Name() string { return "cash" }

func (c *Cash) InitiatePayment(_ context.Context, amount decimal.Decimal, memberRef, _ string) (Session, error) {
	id := "cash_" + shortID(12)
	c.logger.Info("Cash payment recorded",
		zap.String("session_id", id),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("member_id", memberRef),
	)
	return Session{ID: id, Status: StatusCompleted, Amount: amount, Message: "Cash payment recorded"}, nil
}

func (c *Cash) CheckStatus(context.Context, string) (Status, error) {
	return StatusCompleted, nil
}

func (c *Cash) Refund(_ context.Context, _ string, _ decimal.Decimal) (RefundResult, error) {
	return RefundResult{Success: true, RefundID: "cash_refund_" + shortID(12), Message: "Cash refund recorded"}, nil
}

func (c *Cash) TokenizeCard(context.Context, string, string, string) (string, error) {
	c.logger.Warn("Tokenize attempt on cash adapter")
	return "", fmt.Errorf("cash adapter: %w", ErrUnsupported)
}

func (c *Cash) ChargeSavedCard(context.Context, string, decimal.Decimal, string, string) (ChargeResult, error) {
	c.logger.Warn("Saved card charge attempt on cash adapter")
	return ChargeResult{Success: false, Message: "Cash adapter cannot charge saved cards"}, nil
}

func shortID(n int) string {
	s := uuid.NewString()
	s = s[:8] + s[9:13] + s[14:18] + s[19:23] + s[24:]
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}
