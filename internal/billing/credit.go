// internal/billing/credit.go
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swimdesk/internal/apperr"
	"swimdesk/internal/audit"
	"swimdesk/internal/domain"
	"swimdesk/internal/payment"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RefundResult pairs the ledger row with what the processor reported.
type RefundResult struct {
	Transaction *domain.Transaction   `json:"transaction"`
	Processor   *payment.RefundResult `json:"processor,omitempty"`
	Remaining   decimal.Decimal       `json:"remaining_refundable"`
	// CreditBalance is the member's balance after a credit refund.
	CreditBalance *decimal.Decimal `json:"credit_balance,omitempty"`
}

// AdjustCredit moves a member's credit balance by amount, positive or
// negative, and records it on the ledger.
func (o *Orchestrator) AdjustCredit(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal, notes, actor string) (*domain.Member, error) {
	ctx, span := o.tracer.Start(ctx, "billing.adjust_credit", trace.WithAttributes(
		attribute.String("member.id", memberID.String()),
		attribute.String("amount", amount.StringFixed(2)),
	))
	defer span.End()

	if amount.IsZero() {
		return nil, apperr.InvalidInput("adjustment amount cannot be zero")
	}

	var updated *domain.Member
	err := store.Retry(ctx, o.store, store.DefaultRetries, func(tx store.Tx) error {
		member, err := tx.LockMember(ctx, memberID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("member not found")
			}
			return err
		}
		before := member.CreditBalance
		balance := before.Add(amount)
		if balance.IsNegative() {
			return apperr.InvalidInput("credit balance cannot go negative (current %s)", money(before))
		}
		if err := tx.UpdateMemberCredit(ctx, memberID, balance); err != nil {
			return err
		}

		typ := domain.TxCreditAdd
		if amount.IsNegative() {
			typ = domain.TxManualAdjustment
		}
		t := domain.NewTransaction(memberID, typ, domain.MethodManual, amount.Abs())
		t.Notes = domain.StringPtr(notes)
		t.CreatedBy = domain.StringPtr(actor)
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		if _, err := o.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityMember,
			EntityID:   memberID,
			Action:     "credit.adjust",
			Before:     map[string]string{"credit_balance": before.StringFixed(2)},
			After:      map[string]string{"credit_balance": balance.StringFixed(2)},
			Note:       notes,
			Actor:      actor,
		}); err != nil {
			return err
		}

		member.CreditBalance = balance.Round(2)
		updated = member
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	o.logger.Info("Credit adjusted",
		zap.String("member_id", memberID.String()),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("balance", updated.CreditBalance.StringFixed(2)),
		zap.String("actor", actor),
	)
	return updated, nil
}

// Refund returns money against a payment row or a credit drawdown. Card
// payments go back through the processor, credit drawdowns back to the
// balance, and cash refunds only record what staff handed over. The sum of
// refunds never exceeds the original amount.
func (o *Orchestrator) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	ctx, span := o.tracer.Start(ctx, "billing.refund", trace.WithAttributes(
		attribute.String("transaction.id", req.TransactionID.String()),
	))
	defer span.End()

	out := &RefundResult{}
	err := o.store.InTx(ctx, func(tx store.Tx) error {
		// Step 1: Load the original and work out what is still refundable
		orig, err := tx.GetTransaction(ctx, req.TransactionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("transaction not found")
			}
			return err
		}
		if !refundable(orig) {
			return apperr.InvalidInput("only payments and credit purchases can be refunded")
		}
		if orig.MemberID != nil {
			// Serializes concurrent refunds of the same member's payments.
			if _, err := tx.LockMember(ctx, *orig.MemberID); err != nil {
				return err
			}
		}
		refunded, err := tx.RefundedAmount(ctx, orig.ID)
		if err != nil {
			return err
		}
		remaining := orig.Amount.Sub(refunded)
		amount := remaining
		if req.Amount != nil {
			amount = req.Amount.Round(2)
		}
		if !amount.IsPositive() {
			return apperr.InvalidInput("refund amount must be positive")
		}
		if amount.GreaterThan(remaining) {
			return apperr.InvalidInput("refund of %s exceeds refundable %s", money(amount), money(remaining))
		}

		// Step 2: Return the money
		switch orig.Method {
		case domain.MethodCard:
			if orig.ReferenceID == nil {
				return apperr.InvalidInput("card payment has no processor reference")
			}
			adapter, err := o.adapter(ctx)
			if err != nil {
				return err
			}
			res := payment.SafeRefund(ctx, adapter, *orig.ReferenceID, amount)
			if !res.Success {
				return apperr.ChargeDeclined("refund declined: %s", orDefault(res.Message, "processor refused"))
			}
			out.Processor = &res
		case domain.MethodCredit:
			member, err := tx.GetMember(ctx, *orig.MemberID)
			if err != nil {
				return err
			}
			balance := member.CreditBalance.Add(amount).Round(2)
			if err := tx.UpdateMemberCredit(ctx, member.ID, balance); err != nil {
				return err
			}
			out.CreditBalance = &balance
		case domain.MethodCash:
		default:
			return apperr.InvalidInput("%s payments cannot be refunded", orig.Method)
		}

		// Step 3: Record the refund row
		t := &domain.Transaction{
			ID:        uuid.New(),
			CreatedAt: time.Now().UTC(),
			MemberID:  orig.MemberID,
			Type:      domain.TxRefund,
			Method:    orig.Method,
			Amount:    amount,
			PlanID:    orig.PlanID,
			RefundOf:  domain.UUIDPtr(orig.ID),
			Notes:     domain.StringPtr(req.Reason),
			CreatedBy: domain.StringPtr(req.Actor),
		}
		if out.Processor != nil {
			t.ReferenceID = domain.StringPtr(out.Processor.RefundID)
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return fmt.Errorf("insert refund: %w", err)
		}
		if _, err := o.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityTransaction,
			EntityID:   orig.ID,
			Action:     "transaction.refund",
			After:      t,
			Note:       req.Reason,
			Actor:      req.Actor,
		}); err != nil {
			return err
		}
		out.Transaction = t
		out.Remaining = remaining.Sub(amount)
		return nil
	})
	if err != nil {
		if out.Processor != nil {
			o.logger.Error("Processor refund issued but not recorded",
				zap.String("transaction_id", req.TransactionID.String()),
				zap.String("refund_id", out.Processor.RefundID),
				zap.Error(err),
			)
		}
		span.RecordError(err)
		return nil, err
	}

	o.logger.Info("Refund recorded",
		zap.String("transaction_id", req.TransactionID.String()),
		zap.String("refund_id", out.Transaction.ID.String()),
		zap.String("amount", out.Transaction.Amount.StringFixed(2)),
		zap.String("method", string(out.Transaction.Method)),
	)
	return out, nil
}

// refundable reports whether t is money the member paid for something:
// a payment row, or credit drawn down against a purchase.
func refundable(t *domain.Transaction) bool {
	switch t.Type {
	case domain.TxPayment:
		return true
	case domain.TxCreditUse:
		return t.Method == domain.MethodCredit && t.MemberID != nil
	}
	return false
}

// UpdateTransactionNote replaces the note on a ledger row, the only field
// that may change after insert.
func (o *Orchestrator) UpdateTransactionNote(ctx context.Context, id uuid.UUID, note, actor string) error {
	return store.Retry(ctx, o.store, store.DefaultRetries, func(tx store.Tx) error {
		t, err := tx.GetTransaction(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("transaction not found")
			}
			return err
		}
		if err := tx.UpdateTransactionNote(ctx, id, domain.StringPtr(note)); err != nil {
			return err
		}
		_, err = o.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityTransaction,
			EntityID:   id,
			Action:     "transaction.note",
			Before:     map[string]*string{"notes": t.Notes},
			After:      map[string]*string{"notes": domain.StringPtr(note)},
			Actor:      actor,
		})
		return err
	})
}
