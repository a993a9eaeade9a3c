// internal/billing/renewal.go
package billing

import (
	"context"
	"errors"

	"swimdesk/internal/domain"
	"swimdesk/internal/payment"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const autoChargeActor = "auto_charge"

type RenewalStatus string

const (
	RenewalSucceeded RenewalStatus = "succeeded"
	RenewalFailed    RenewalStatus = "failed"
	RenewalSkipped   RenewalStatus = "skipped"
)

// Renewal is the outcome of charging one auto-charge card.
type Renewal struct {
	CardID        uuid.UUID       `json:"card_id"`
	MemberID      uuid.UUID       `json:"member_id"`
	MemberName    string          `json:"member_name,omitempty"`
	PlanName      string          `json:"plan_name,omitempty"`
	CardLast4     string          `json:"card_last4,omitempty"`
	Status        RenewalStatus   `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	MembershipID  *uuid.UUID      `json:"membership_id,omitempty"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
	NextCharge    *string         `json:"next_charge_date,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

func (r *Renewal) fail(reason string) {
	r.Status = RenewalFailed
	r.Reason = reason
}

// RenewCard charges one due auto-charge card and, on success, sells its
// plan again and advances the next charge date. The card row stays locked
// across the charge and the advance, so a card another sweep already
// advanced is skipped. A decline leaves the card due for the next run.
func (o *Orchestrator) RenewCard(ctx context.Context, adapter payment.Adapter, cardID uuid.UUID) Renewal {
	ctx, span := o.tracer.Start(ctx, "billing.renew_card", trace.WithAttributes(
		attribute.String("card.id", cardID.String()),
	))
	defer span.End()

	today := o.clock()
	out := Renewal{CardID: cardID, Status: RenewalSkipped}
	var charge *cardCharge

	err := o.store.InTx(ctx, func(tx store.Tx) error {
		// Step 1: Lock the card and confirm it is still due
		card, err := tx.LockSavedCard(ctx, cardID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				out.Reason = "card removed"
				return nil
			}
			return err
		}
		out.MemberID = card.MemberID
		out.CardLast4 = card.Last4
		if !card.DueOn(today) {
			out.Reason = "no longer due"
			return nil
		}

		// Step 2: Resolve plan and member
		plan, err := tx.GetPlan(ctx, *card.AutoChargePlanID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if plan == nil || !plan.IsActive {
			out.PlanName = "Unknown"
			out.fail("plan not found")
			return nil
		}
		out.PlanName = plan.Name
		out.Amount = plan.Price

		member, err := tx.LockMember(ctx, card.MemberID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if member == nil || !member.IsActive {
			out.fail("member inactive")
			return nil
		}
		out.MemberName = member.FullName()

		// Step 3: Charge the saved card
		res := payment.SafeCharge(ctx, adapter, card.ProcessorToken, plan.Price, member.ID.String(), "Auto-charge: "+plan.Name)
		if !res.Success {
			out.fail(orDefault(res.Message, "charge declined"))
			return nil
		}
		charge = &cardCharge{adapter: adapter, ref: res.ReferenceID, amount: plan.Price, cardID: domain.UUIDPtr(card.ID)}

		// Step 4: Sell the plan again and record the payment
		ms, err := o.memberships.Create(ctx, tx, member.ID, plan.ID)
		if err != nil {
			return err
		}
		q := &quote{member: member, plan: plan, balance: member.CreditBalance}
		t, err := o.record(ctx, tx, &Result{}, q, ms, domain.TxPayment, domain.MethodCard, plan.Price, "Auto-charge",
			func(t *domain.Transaction) {
				t.ReferenceID = domain.StringPtr(charge.ref)
				t.SavedCardID = charge.cardID
				t.CreatedBy = domain.StringPtr(autoChargeActor)
			})
		if err != nil {
			return err
		}

		// Step 5: Advance the card
		next := domain.AddDays(today, plan.Duration())
		card.NextChargeDate = &next
		if err := tx.UpdateSavedCard(ctx, card); err != nil {
			return err
		}

		nextStr := next.Format("2006-01-02")
		out.Status = RenewalSucceeded
		out.Reason = ""
		out.MembershipID = domain.UUIDPtr(ms.ID)
		out.TransactionID = domain.UUIDPtr(t.ID)
		out.NextCharge = &nextStr
		return nil
	})
	if err != nil {
		// Step 6: Refund a charge whose renewal did not commit
		o.compensate(ctx, charge, err)
		span.RecordError(err)
		out.MembershipID, out.TransactionID, out.NextCharge = nil, nil, nil
		out.fail(err.Error())
	}

	span.SetAttributes(attribute.String("renewal.status", string(out.Status)))
	o.logger.Info("Auto-charge processed",
		zap.String("card_id", cardID.String()),
		zap.String("member_id", out.MemberID.String()),
		zap.String("status", string(out.Status)),
		zap.String("amount", out.Amount.StringFixed(2)),
		zap.String("reason", out.Reason),
	)
	return out
}
