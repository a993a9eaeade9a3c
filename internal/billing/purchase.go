// internal/billing/purchase.go
package billing

import (
	"context"
	"errors"
	"fmt"

	"swimdesk/internal/apperr"
	"swimdesk/internal/domain"
	"swimdesk/internal/notify"
	"swimdesk/internal/payment"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const kioskActor = "kiosk"

// quote is what one purchase owes once credit is applied.
type quote struct {
	member     *domain.Member
	plan       *domain.Plan
	balance    decimal.Decimal
	creditUsed decimal.Decimal
	due        decimal.Decimal
}

// cardCharge is money that moved on a card inside a purchase transaction.
type cardCharge struct {
	adapter payment.Adapter
	ref     string
	amount  decimal.Decimal
	cardID  *uuid.UUID
}

func (o *Orchestrator) authorize(ctx context.Context, memberID uuid.UUID, pin string) error {
	return o.auth.Verify(ctx, memberID, pin)
}

func (o *Orchestrator) adapter(ctx context.Context) (payment.Adapter, error) {
	a, err := o.payments.Adapter(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "payment processor unavailable")
	}
	return a, nil
}

// loadQuote locks the member row and prices the plan.
func (o *Orchestrator) loadQuote(ctx context.Context, tx store.Tx, memberID, planID uuid.UUID, useCredit bool) (*quote, error) {
	member, err := tx.LockMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("member not found")
		}
		return nil, err
	}
	if !member.IsActive {
		return nil, apperr.NotFound("member not found")
	}
	plan, err := tx.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("plan not found")
		}
		return nil, err
	}
	if !plan.IsActive {
		return nil, apperr.NotFound("plan not found")
	}

	q := &quote{member: member, plan: plan, balance: member.CreditBalance, due: plan.Price}
	if useCredit && member.CreditBalance.IsPositive() {
		q.creditUsed = decimal.Min(member.CreditBalance, plan.Price)
		q.due = plan.Price.Sub(q.creditUsed)
	}
	return q, nil
}

// settle creates the membership and draws the credit portion. Payment rows
// for the rest are appended by the caller.
func (o *Orchestrator) settle(ctx context.Context, tx store.Tx, q *quote, res *Result) (*domain.Membership, error) {
	ms, err := o.memberships.Create(ctx, tx, q.member.ID, q.plan.ID)
	if err != nil {
		return nil, err
	}
	res.MembershipID = ms.ID

	if q.creditUsed.IsPositive() {
		q.balance = q.balance.Sub(q.creditUsed)
		if err := tx.UpdateMemberCredit(ctx, q.member.ID, q.balance); err != nil {
			return nil, err
		}
		if _, err := o.record(ctx, tx, res, q, ms, domain.TxCreditUse, domain.MethodCredit, q.creditUsed,
			"Credit applied to "+q.plan.Name); err != nil {
			return nil, err
		}
		res.CreditUsed = q.creditUsed
	}
	return ms, nil
}

func (o *Orchestrator) record(ctx context.Context, tx store.Tx, res *Result, q *quote, ms *domain.Membership,
	typ domain.TransactionType, method domain.PaymentMethod, amount decimal.Decimal, note string, opts ...func(*domain.Transaction)) (*domain.Transaction, error) {
	t := domain.NewTransaction(q.member.ID, typ, method, amount)
	t.PlanID = domain.UUIDPtr(q.plan.ID)
	if ms != nil {
		t.MembershipID = domain.UUIDPtr(ms.ID)
	}
	t.Notes = domain.StringPtr(note)
	t.CreatedBy = domain.StringPtr(kioskActor)
	for _, opt := range opts {
		opt(t)
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	res.Transactions = append(res.Transactions, t)
	return t, nil
}

func (o *Orchestrator) recordCard(ctx context.Context, tx store.Tx, res *Result, q *quote, ms *domain.Membership, c *cardCharge, note string) error {
	_, err := o.record(ctx, tx, res, q, ms, domain.TxPayment, domain.MethodCard, c.amount, note, func(t *domain.Transaction) {
		t.ReferenceID = domain.StringPtr(c.ref)
		t.SavedCardID = c.cardID
	})
	if err != nil {
		return err
	}
	res.CardCharged = res.CardCharged.Add(c.amount)
	return nil
}

// chargeCard moves amount through the adapter: a saved card, a terminal
// session the caller already ran, or a fresh session.
func (o *Orchestrator) chargeCard(ctx context.Context, tx store.Tx, adapter payment.Adapter, memberID uuid.UUID,
	amount decimal.Decimal, savedCardID *uuid.UUID, sessionID, description string) (*cardCharge, error) {
	memberRef := memberID.String()
	switch {
	case savedCardID != nil:
		card, err := tx.GetSavedCard(ctx, *savedCardID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if card == nil || card.MemberID != memberID {
			return nil, apperr.NotFound("saved card not found")
		}
		res := payment.SafeCharge(ctx, adapter, card.ProcessorToken, amount, memberRef, description)
		if !res.Success {
			return nil, apperr.ChargeDeclined("card declined: %s", orDefault(res.Message, "charge failed"))
		}
		return &cardCharge{adapter: adapter, ref: res.ReferenceID, amount: amount, cardID: domain.UUIDPtr(card.ID)}, nil

	default:
		return terminalCharge(ctx, adapter, amount, memberRef, sessionID, description)
	}
}

// terminalCharge confirms a session the caller already ran, or starts one.
func terminalCharge(ctx context.Context, adapter payment.Adapter, amount decimal.Decimal, ref, sessionID, description string) (*cardCharge, error) {
	if sessionID != "" {
		if st := payment.SafeStatus(ctx, adapter, sessionID); st != payment.StatusCompleted {
			return nil, apperr.ChargeDeclined("card payment %s", st)
		}
		return &cardCharge{adapter: adapter, ref: sessionID, amount: amount}, nil
	}
	sess := payment.SafeInitiate(ctx, adapter, amount, ref, description)
	switch sess.Status {
	case payment.StatusCompleted:
		return &cardCharge{adapter: adapter, ref: sess.ID, amount: amount}, nil
	case payment.StatusPending:
		return nil, apperr.ChargeDeclined("card payment pending on terminal, retry with session %s", sess.ID)
	}
	return nil, apperr.ChargeDeclined("card payment failed: %s", orDefault(sess.Message, "declined"))
}

// compensate refunds a card charge whose purchase did not commit.
func (o *Orchestrator) compensate(ctx context.Context, c *cardCharge, cause error) {
	if c == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	res := payment.SafeRefund(ctx, c.adapter, c.ref, c.amount)
	if !res.Success {
		o.logger.Error("Compensating refund failed, manual refund required",
			zap.String("reference_id", c.ref),
			zap.String("amount", c.amount.StringFixed(2)),
			zap.String("refund_message", res.Message),
			zap.Error(cause),
		)
		return
	}
	o.logger.Warn("Card charge refunded after failed purchase",
		zap.String("reference_id", c.ref),
		zap.String("refund_id", res.RefundID),
		zap.String("amount", c.amount.StringFixed(2)),
		zap.Error(cause),
	)
}

// finish runs the post-commit steps shared by every purchase.
func (o *Orchestrator) finish(ctx context.Context, span trace.Span, q *quote, res *Result, method string) {
	for _, t := range res.Transactions {
		if t.Type == domain.TxPayment {
			res.TransactionID = t.ID
			break
		}
	}
	if res.TransactionID == uuid.Nil && len(res.Transactions) > 0 {
		res.TransactionID = res.Transactions[0].ID
	}
	res.CreditBalance = q.balance
	if q.creditUsed.IsPositive() {
		o.checkLowBalance(ctx, q.member, q.balance)
	}

	span.SetAttributes(
		attribute.String("membership.id", res.MembershipID.String()),
		attribute.String("plan.price", q.plan.Price.StringFixed(2)),
	)
	o.logger.Info("Purchase settled",
		zap.String("member_id", q.member.ID.String()),
		zap.String("plan", q.plan.Name),
		zap.String("method", method),
		zap.String("price", q.plan.Price.StringFixed(2)),
		zap.String("credit_used", res.CreditUsed.StringFixed(2)),
		zap.String("membership_id", res.MembershipID.String()),
	)
}

func (o *Orchestrator) checkLowBalance(ctx context.Context, member *domain.Member, balance decimal.Decimal) {
	if !o.cfg.LowBalanceThreshold.IsPositive() || !balance.LessThan(o.cfg.LowBalanceThreshold) {
		return
	}
	o.notifier.Notify(ctx, notify.EventLowBalance, notify.Payload{
		"member_id":      member.ID.String(),
		"member_name":    member.FullName(),
		"credit_balance": balance.StringFixed(2),
		"threshold":      o.cfg.LowBalanceThreshold.StringFixed(2),
	})
}

// PayCash settles a plan with cash, optionally drawing credit first.
// Overpayment is returned as change or banked as credit.
func (o *Orchestrator) PayCash(ctx context.Context, req CashRequest) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "billing.pay_cash", trace.WithAttributes(
		attribute.String("member.id", req.MemberID.String()),
		attribute.String("plan.id", req.PlanID.String()),
	))
	defer span.End()

	if req.AmountTendered.IsNegative() {
		return nil, apperr.InvalidInput("amount tendered cannot be negative")
	}

	// Step 1: Verify the member's PIN
	if err := o.authorize(ctx, req.MemberID, req.PIN); err != nil {
		return nil, err
	}

	var q *quote
	res := &Result{}
	err := o.store.InTx(ctx, func(tx store.Tx) error {
		// Step 2: Lock the member and price the plan
		var err error
		q, err = o.loadQuote(ctx, tx, req.MemberID, req.PlanID, req.UseCredit)
		if err != nil {
			return err
		}
		if req.AmountTendered.LessThan(q.due) {
			if q.creditUsed.IsPositive() {
				return apperr.InvalidInput("minimum %s required (after %s credit applied)", money(q.due), money(q.creditUsed))
			}
			return apperr.InvalidInput("minimum %s required", money(q.due))
		}

		// Step 3: Create the membership and draw credit
		ms, err := o.settle(ctx, tx, q, res)
		if err != nil {
			return err
		}

		// Step 4: Record the cash taken for the plan
		if q.due.IsPositive() {
			if _, err := o.record(ctx, tx, res, q, ms, domain.TxPayment, domain.MethodCash, q.due, "Purchase: "+q.plan.Name); err != nil {
				return err
			}
		}

		// Step 5: Hand back change or bank the overpayment
		overpay := req.AmountTendered.Sub(q.due)
		if !overpay.IsPositive() {
			return nil
		}
		if req.WantsChange {
			res.ChangeDue = overpay
			return nil
		}
		q.balance = q.balance.Add(overpay)
		if err := tx.UpdateMemberCredit(ctx, q.member.ID, q.balance); err != nil {
			return err
		}
		if _, err := o.record(ctx, tx, res, q, ms, domain.TxCreditAdd, domain.MethodCash, overpay, "Overpayment added as credit"); err != nil {
			return err
		}
		res.CreditAdded = overpay
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	switch {
	case res.ChangeDue.IsPositive():
		res.Message = fmt.Sprintf("Payment successful. Change due: %s", money(res.ChangeDue))
	case res.CreditAdded.IsPositive():
		res.Message = fmt.Sprintf("Payment successful. %s added to your credit", money(res.CreditAdded))
	default:
		res.Message = "Payment successful"
	}
	o.finish(ctx, span, q, res, string(domain.MethodCash))
	return res, nil
}

// PayCard settles a plan by card. When the purchase fails to commit after
// the card was charged, the charge is refunded.
func (o *Orchestrator) PayCard(ctx context.Context, req CardRequest) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "billing.pay_card", trace.WithAttributes(
		attribute.String("member.id", req.MemberID.String()),
		attribute.String("plan.id", req.PlanID.String()),
		attribute.Bool("saved_card", req.SavedCardID != nil),
	))
	defer span.End()

	// Step 1: Verify the member's PIN
	if err := o.authorize(ctx, req.MemberID, req.PIN); err != nil {
		return nil, err
	}
	adapter, err := o.adapter(ctx)
	if err != nil {
		return nil, err
	}

	res, q, charge, err := o.purchaseByCard(ctx, adapter, req.MemberID, req.PlanID, req.UseCredit, req.SavedCardID, req.SessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// Step 6: Best-effort card save; the purchase already stands
	if req.SaveCard && req.SavedCardID == nil && charge != nil {
		card, err := o.storeCard(ctx, adapter, req.MemberID, req.CardLast4, req.CardBrand, req.FriendlyName, kioskActor)
		if err != nil {
			res.CardSaveError = err.Error()
			o.logger.Warn("Card not saved after purchase", zap.String("member_id", req.MemberID.String()), zap.Error(err))
		} else {
			res.SavedCard = card
		}
	}

	res.Message = "Payment successful"
	o.finish(ctx, span, q, res, string(domain.MethodCard))
	return res, nil
}

// ChargeSavedCardNow buys planID for memberID on one of their saved cards.
// It is the staff path and skips the PIN.
func (o *Orchestrator) ChargeSavedCardNow(ctx context.Context, memberID, cardID, planID uuid.UUID) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "billing.charge_saved_card", trace.WithAttributes(
		attribute.String("member.id", memberID.String()),
		attribute.String("card.id", cardID.String()),
	))
	defer span.End()

	adapter, err := o.adapter(ctx)
	if err != nil {
		return nil, err
	}
	res, q, _, err := o.purchaseByCard(ctx, adapter, memberID, planID, false, &cardID, "")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res.Message = "Saved card charged"
	o.finish(ctx, span, q, res, string(domain.MethodCard))
	return res, nil
}

func (o *Orchestrator) purchaseByCard(ctx context.Context, adapter payment.Adapter, memberID, planID uuid.UUID,
	useCredit bool, savedCardID *uuid.UUID, sessionID string) (*Result, *quote, *cardCharge, error) {
	var (
		q      *quote
		charge *cardCharge
	)
	res := &Result{}
	err := o.store.InTx(ctx, func(tx store.Tx) error {
		// Step 2: Lock the member and price the plan
		var err error
		q, err = o.loadQuote(ctx, tx, memberID, planID, useCredit)
		if err != nil {
			return err
		}

		// Step 3: Charge whatever credit does not cover
		if q.due.IsPositive() {
			charge, err = o.chargeCard(ctx, tx, adapter, memberID, q.due, savedCardID, sessionID, "Purchase: "+q.plan.Name)
			if err != nil {
				return err
			}
		}

		// Step 4: Create the membership and draw credit
		ms, err := o.settle(ctx, tx, q, res)
		if err != nil {
			return err
		}

		// Step 5: Record the card payment
		if charge != nil {
			return o.recordCard(ctx, tx, res, q, ms, charge, "Purchase: "+q.plan.Name)
		}
		return nil
	})
	if err != nil {
		o.compensate(ctx, charge, err)
		return nil, nil, nil, err
	}
	return res, q, charge, nil
}

// PaySplit settles a plan with part cash and the rest by card.
func (o *Orchestrator) PaySplit(ctx context.Context, req SplitRequest) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "billing.pay_split", trace.WithAttributes(
		attribute.String("member.id", req.MemberID.String()),
		attribute.String("plan.id", req.PlanID.String()),
		attribute.String("cash.amount", req.CashAmount.StringFixed(2)),
	))
	defer span.End()

	if !o.cfg.SplitEnabled {
		return nil, apperr.InvalidInput("split payments are disabled")
	}
	if !req.CashAmount.IsPositive() {
		return nil, apperr.InvalidInput("cash amount must be greater than zero for a split payment")
	}

	// Step 1: Verify the member's PIN
	if err := o.authorize(ctx, req.MemberID, req.PIN); err != nil {
		return nil, err
	}
	adapter, err := o.adapter(ctx)
	if err != nil {
		return nil, err
	}

	var (
		q      *quote
		charge *cardCharge
	)
	res := &Result{}
	err = o.store.InTx(ctx, func(tx store.Tx) error {
		// Step 2: Lock the member and price the plan
		var err error
		q, err = o.loadQuote(ctx, tx, req.MemberID, req.PlanID, false)
		if err != nil {
			return err
		}
		if !req.CashAmount.LessThan(q.plan.Price) {
			return apperr.InvalidInput("cash covers the full price, use the cash-only flow")
		}

		// Step 3: Charge the card portion
		cardPortion := q.plan.Price.Sub(req.CashAmount)
		charge, err = o.chargeCard(ctx, tx, adapter, req.MemberID, cardPortion, req.SavedCardID, req.SessionID,
			fmt.Sprintf("Split payment: %s (card portion)", q.plan.Name))
		if err != nil {
			return err
		}

		// Step 4: Create the membership
		ms, err := o.settle(ctx, tx, q, res)
		if err != nil {
			return err
		}

		// Step 5: Record both halves
		if _, err := o.record(ctx, tx, res, q, ms, domain.TxPayment, domain.MethodCash, req.CashAmount, "Split payment (cash portion)"); err != nil {
			return err
		}
		return o.recordCard(ctx, tx, res, q, ms, charge, "Split payment (card portion)")
	})
	if err != nil {
		o.compensate(ctx, charge, err)
		span.RecordError(err)
		return nil, err
	}

	res.Message = fmt.Sprintf("Split payment successful: %s cash, %s card", money(req.CashAmount), money(res.CardCharged))
	o.finish(ctx, span, q, res, "split")
	return res, nil
}

// PayCredit settles a plan entirely from the member's credit balance.
func (o *Orchestrator) PayCredit(ctx context.Context, req CreditRequest) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "billing.pay_credit", trace.WithAttributes(
		attribute.String("member.id", req.MemberID.String()),
		attribute.String("plan.id", req.PlanID.String()),
	))
	defer span.End()

	// Step 1: Verify the member's PIN
	if err := o.authorize(ctx, req.MemberID, req.PIN); err != nil {
		return nil, err
	}

	var q *quote
	res := &Result{}
	err := o.store.InTx(ctx, func(tx store.Tx) error {
		// Step 2: Lock the member and check the balance covers the plan
		var err error
		q, err = o.loadQuote(ctx, tx, req.MemberID, req.PlanID, true)
		if err != nil {
			return err
		}
		if !q.member.CreditBalance.IsPositive() {
			return apperr.PaymentRequired("no credit balance available")
		}
		if q.due.IsPositive() {
			return apperr.PaymentRequired("credit of %s applied, %s remaining to pay", money(q.creditUsed), money(q.due))
		}

		// Step 3: Create the membership and draw credit
		_, err = o.settle(ctx, tx, q, res)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res.Message = fmt.Sprintf("Paid with credit. Remaining balance: %s", money(q.balance))
	o.finish(ctx, span, q, res, string(domain.MethodCredit))
	return res, nil
}

// QuoteCredit previews how far the member's credit goes toward planID.
func (o *Orchestrator) QuoteCredit(ctx context.Context, req CreditRequest) (*CreditQuote, error) {
	if err := o.authorize(ctx, req.MemberID, req.PIN); err != nil {
		return nil, err
	}
	var q *quote
	err := o.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		q, err = o.loadQuote(ctx, tx, req.MemberID, req.PlanID, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &CreditQuote{
		Balance:      q.member.CreditBalance,
		Price:        q.plan.Price,
		CreditUsed:   q.creditUsed,
		RemainingDue: q.due,
		CoversFull:   !q.due.IsPositive(),
	}, nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
