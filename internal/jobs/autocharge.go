// internal/jobs/autocharge.go
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swimdesk/internal/billing"
	"swimdesk/internal/domain"
	"swimdesk/internal/notify"
	"swimdesk/internal/payment"
	"swimdesk/internal/redisx"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrSweepRunning is returned when another process holds today's sweep lock.
var ErrSweepRunning = errors.New("auto-charge sweep already running")

// Renewer charges one auto-charge card. billing.Orchestrator implements it.
type Renewer interface {
	RenewCard(ctx context.Context, adapter payment.Adapter, cardID uuid.UUID) billing.Renewal
}

// Summary tallies one sweep.
type Summary struct {
	Processed int               `json:"processed"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Outcomes  []billing.Renewal `json:"outcomes"`
}

// AutoCharge renews monthly plans on saved cards whose charge date has come.
// Running it twice on the same day charges each card at most once.
type AutoCharge struct {
	store    store.Store
	renewer  Renewer
	payments payment.Resolver
	notifier notify.Notifier
	clock    domain.Clock
	logger   *zap.Logger
	tracer   trace.Tracer
	outcomes metric.Int64Counter

	locker  *redisx.Locker
	lockTTL time.Duration
}

func NewAutoCharge(s store.Store, renewer Renewer, payments payment.Resolver, notifier notify.Notifier, clock domain.Clock, logger *zap.Logger) *AutoCharge {
	outcomes, err := otel.Meter("swimdesk/jobs").Int64Counter("swimdesk.auto_charge.outcomes",
		metric.WithDescription("Auto-charge sweep outcomes by status"),
	)
	if err != nil {
		logger.Warn("Auto-charge counter unavailable", zap.Error(err))
	}
	return &AutoCharge{
		store:    s,
		renewer:  renewer,
		payments: payments,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		tracer:   otel.Tracer("swimdesk/jobs"),
		outcomes: outcomes,
	}
}

// WithLocker keeps overlapping sweeps from running on the same day.
func (j *AutoCharge) WithLocker(l *redisx.Locker, ttl time.Duration) *AutoCharge {
	j.locker = l
	j.lockTTL = ttl
	return j
}

func (j *AutoCharge) Run(ctx context.Context) (*Summary, error) {
	today := j.clock()
	ctx, span := j.tracer.Start(ctx, "jobs.auto_charge", trace.WithAttributes(
		attribute.String("sweep.day", today.Format(time.DateOnly)),
	))
	defer span.End()

	if j.locker != nil {
		lock, err := j.locker.Acquire(ctx, "autocharge:"+today.Format(time.DateOnly), j.lockTTL)
		switch {
		case errors.Is(err, redisx.ErrLockHeld):
			return nil, ErrSweepRunning
		case err != nil:
			j.logger.Warn("Sweep lock unavailable, continuing without it", zap.Error(err))
		default:
			defer func() {
				if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
					j.logger.Warn("Failed to release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	var due []uuid.UUID
	if err := j.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		due, err = tx.ListDueAutoChargeCards(ctx, today)
		return err
	}); err != nil {
		return nil, fmt.Errorf("list due cards: %w", err)
	}

	adapter, err := j.payments.Adapter(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve payment adapter: %w", err)
	}

	sum := &Summary{Outcomes: make([]billing.Renewal, 0, len(due))}
	for _, id := range due {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		out := j.renewer.RenewCard(ctx, adapter, id)
		sum.Processed++
		sum.Outcomes = append(sum.Outcomes, out)

		switch out.Status {
		case billing.RenewalSucceeded:
			sum.Succeeded++
			j.notifier.Notify(ctx, notify.EventAutoChargeSuccess, renewalPayload(out))
		case billing.RenewalFailed:
			sum.Failed++
			payload := renewalPayload(out)
			payload["reason"] = out.Reason
			j.notifier.Notify(ctx, notify.EventAutoChargeFailed, payload)
		default:
			sum.Skipped++
		}
		if j.outcomes != nil {
			j.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(out.Status))))
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.processed", sum.Processed),
		attribute.Int("sweep.succeeded", sum.Succeeded),
		attribute.Int("sweep.failed", sum.Failed),
	)
	j.logger.Info("Auto-charge sweep complete",
		zap.Time("day", today),
		zap.Int("processed", sum.Processed),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
	)
	return sum, nil
}

func renewalPayload(r billing.Renewal) notify.Payload {
	return notify.Payload{
		"member_id":   r.MemberID.String(),
		"member_name": r.MemberName,
		"plan_name":   r.PlanName,
		"amount":      r.Amount.StringFixed(2),
		"card_last4":  r.CardLast4,
	}
}
