// internal/billing/guest.go
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"swimdesk/internal/apperr"
	"swimdesk/internal/audit"
	"swimdesk/internal/domain"
	"swimdesk/internal/payment"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// GuestRequest sells one visit to a walk-in without an account.
type GuestRequest struct {
	Name      string               `json:"name"`
	Phone     string               `json:"phone,omitempty"`
	PlanID    uuid.UUID            `json:"plan_id"`
	Method    domain.PaymentMethod `json:"payment_method"`
	SessionID string               `json:"session_id,omitempty"`
}

// GuestResult reports a paid guest visit.
type GuestResult struct {
	Visit       *domain.GuestVisit  `json:"guest_visit"`
	Transaction *domain.Transaction `json:"transaction"`
	Message     string              `json:"message"`
}

// GuestVisit takes payment for a walk-in at the plan price. The payment row
// carries no member.
func (o *Orchestrator) GuestVisit(ctx context.Context, req GuestRequest) (*GuestResult, error) {
	ctx, span := o.tracer.Start(ctx, "billing.guest_visit", trace.WithAttributes(
		attribute.String("plan.id", req.PlanID.String()),
		attribute.String("method", string(req.Method)),
	))
	defer span.End()

	if !o.cfg.GuestVisitsEnabled {
		return nil, apperr.InvalidInput("guest visits are disabled")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, apperr.InvalidInput("guest name is required")
	}
	if req.Method != domain.MethodCash && req.Method != domain.MethodCard {
		return nil, apperr.InvalidInput("payment_method must be cash or card")
	}

	var adapter payment.Adapter
	if req.Method == domain.MethodCard {
		var err error
		if adapter, err = o.adapter(ctx); err != nil {
			return nil, err
		}
	}

	var charge *cardCharge
	out := &GuestResult{}
	err := o.store.InTx(ctx, func(tx store.Tx) error {
		// Step 1: Price the visit
		plan, err := tx.GetPlan(ctx, req.PlanID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("plan not found")
			}
			return err
		}
		if !plan.IsActive {
			return apperr.NotFound("plan not found")
		}

		// Step 2: Take the card payment
		if adapter != nil && plan.Price.IsPositive() {
			charge, err = terminalCharge(ctx, adapter, plan.Price, "guest:"+req.Name, req.SessionID, "Guest visit: "+plan.Name)
			if err != nil {
				return err
			}
		}

		// Step 3: Record the payment and the visit
		t := domain.NewTransaction(uuid.Nil, domain.TxPayment, req.Method, plan.Price)
		t.MemberID = nil
		t.PlanID = domain.UUIDPtr(plan.ID)
		t.Notes = domain.StringPtr(fmt.Sprintf("Guest visit: %s - %s", req.Name, plan.Name))
		t.CreatedBy = domain.StringPtr(kioskActor)
		if charge != nil {
			t.ReferenceID = domain.StringPtr(charge.ref)
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		visit := &domain.GuestVisit{
			ID:            uuid.New(),
			Name:          req.Name,
			Phone:         domain.StringPtr(strings.TrimSpace(req.Phone)),
			PlanID:        plan.ID,
			Method:        req.Method,
			AmountPaid:    t.Amount,
			TransactionID: t.ID,
		}
		if err := tx.InsertGuestVisit(ctx, visit); err != nil {
			return fmt.Errorf("insert guest visit: %w", err)
		}
		if _, err := o.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityGuestVisit,
			EntityID:   visit.ID,
			Action:     "guest.visit",
			After:      visit,
			Actor:      kioskActor,
		}); err != nil {
			return err
		}
		out.Visit, out.Transaction = visit, t
		return nil
	})
	if err != nil {
		o.compensate(ctx, charge, err)
		span.RecordError(err)
		return nil, err
	}

	out.Message = fmt.Sprintf("Welcome, %s! Enjoy your swim.", req.Name)
	o.logger.Info("Guest visit paid",
		zap.String("guest", req.Name),
		zap.String("method", string(req.Method)),
		zap.String("amount", out.Transaction.Amount.StringFixed(2)),
		zap.String("transaction_id", out.Transaction.ID.String()),
	)
	return out, nil
}
