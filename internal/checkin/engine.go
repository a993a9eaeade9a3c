// internal/checkin/engine.go
package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swimdesk/internal/apperr"
	"swimdesk/internal/domain"
	"swimdesk/internal/entitlement"
	"swimdesk/internal/notify"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Request is one kiosk check-in attempt.
type Request struct {
	MemberID   uuid.UUID `json:"member_id"`
	GuestCount int       `json:"guest_count"`
	Notes      string    `json:"notes,omitempty"`
}

// Result describes an admitted visit.
type Result struct {
	Checkin        *domain.Checkin    `json:"checkin"`
	Membership     *domain.Membership `json:"membership"`
	SwimsRemaining *int               `json:"swims_remaining,omitempty"`
	MemberName     string             `json:"member_name"`
}

// Engine admits members and consumes their entitlement.
type Engine struct {
	store    store.Store
	resolver *entitlement.Resolver
	notifier notify.Notifier
	clock    domain.Clock
	logger   *zap.Logger
	tracer   trace.Tracer
	visits   metric.Int64Counter
	retries  uint
}

func NewEngine(s store.Store, resolver *entitlement.Resolver, notifier notify.Notifier, clock domain.Clock, logger *zap.Logger) *Engine {
	visits, err := otel.Meter("swimdesk/checkin").Int64Counter("swimdesk.checkins",
		metric.WithDescription("Admitted check-ins by classification"),
	)
	if err != nil {
		logger.Warn("Check-in counter unavailable", zap.Error(err))
	}
	return &Engine{
		store:    s,
		resolver: resolver,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		tracer:   otel.Tracer("swimdesk/checkin"),
		visits:   visits,
		retries:  store.DefaultRetries,
	}
}

// CheckIn admits the member plus guests, all against one membership.
func (e *Engine) CheckIn(ctx context.Context, req Request) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "checkin.check_in",
		trace.WithAttributes(
			attribute.String("member.id", req.MemberID.String()),
			attribute.Int("guest_count", req.GuestCount),
		),
	)
	defer span.End()

	if req.GuestCount < 0 {
		return nil, apperr.InvalidInput("guest count cannot be negative")
	}
	units := 1 + req.GuestCount
	today := e.clock()

	var (
		res    *Result
		member *domain.Member
	)
	err := store.Retry(ctx, e.store, e.retries, func(tx store.Tx) error {
		// Step 1: Validate the member
		m, err := tx.GetMember(ctx, req.MemberID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("member not found")
			}
			return err
		}
		if !m.IsActive {
			return apperr.NotFound("member not found")
		}
		member = m

		// Step 2: Resolve entitlement
		ent, err := e.resolver.Resolve(ctx, tx, req.MemberID, today)
		if err != nil {
			return err
		}
		if !ent.Found() {
			return noEntitlement(ent)
		}

		// Step 3: Consume visits for metered memberships
		ms := ent.Membership
		if ms.PlanType.Metered() {
			ms, err = tx.LockMembership(ctx, ms.ID)
			if err != nil {
				return err
			}
			if remaining := ms.SwimsRemaining(); remaining < units {
				return apperr.PaymentRequired("not enough visits remaining: %d left, %d needed", remaining, units)
			}
			ms.SwimsUsed += units
			if err := tx.UpdateMembership(ctx, ms); err != nil {
				return err
			}
		}

		// Step 4: Record the visit
		c := &domain.Checkin{
			ID:           uuid.New(),
			MemberID:     req.MemberID,
			MembershipID: domain.UUIDPtr(ms.ID),
			Type:         domain.CheckinTypeFor(ms.PlanType),
			GuestCount:   req.GuestCount,
			CheckedInAt:  time.Now().UTC(),
			Notes:        domain.StringPtr(req.Notes),
		}
		if err := tx.InsertCheckin(ctx, c); err != nil {
			return fmt.Errorf("insert checkin: %w", err)
		}

		res = &Result{Checkin: c, Membership: ms, MemberName: m.FullName()}
		if ms.PlanType.Metered() {
			left := ms.SwimsRemaining()
			res.SwimsRemaining = &left
		}
		return nil
	})
	if err != nil {
		if store.IsRetryable(err) {
			// Another kiosk kept winning the race for the same visits.
			return nil, apperr.Wrap(apperr.KindPaymentRequired, err, "not enough visits remaining")
		}
		return nil, err
	}

	if e.visits != nil {
		e.visits.Add(ctx, 1, metric.WithAttributes(attribute.String("checkin.type", string(res.Checkin.Type))))
	}
	span.SetAttributes(attribute.String("checkin.type", string(res.Checkin.Type)))

	e.notifier.Notify(ctx, notify.EventCheckin, notify.Payload{
		"member_id":    req.MemberID.String(),
		"member_name":  member.FullName(),
		"checkin_type": string(res.Checkin.Type),
		"guest_count":  res.Checkin.GuestCount,
	})
	e.logger.Info("Kiosk check-in",
		zap.String("member_id", req.MemberID.String()),
		zap.String("checkin_type", string(res.Checkin.Type)),
		zap.Int("guests", req.GuestCount),
	)
	return res, nil
}

func noEntitlement(ent entitlement.Result) error {
	if ent.Frozen {
		if ent.FrozenUntil != nil {
			return apperr.PaymentRequired("membership is frozen until %s", ent.FrozenUntil.Format(time.DateOnly))
		}
		return apperr.PaymentRequired("membership is frozen")
	}
	return apperr.PaymentRequired("no active membership")
}
