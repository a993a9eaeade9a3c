// internal/billing/service.go
package billing

import (
	"context"

	"swimdesk/internal/audit"
	"swimdesk/internal/domain"
	"swimdesk/internal/notify"
	"swimdesk/internal/payment"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Authorizer verifies a member's kiosk PIN.
type Authorizer interface {
	Verify(ctx context.Context, memberID uuid.UUID, pin string) error
}

// MembershipCreator creates a membership inside the caller's transaction.
type MembershipCreator interface {
	Create(ctx context.Context, tx store.Tx, memberID, planID uuid.UUID) (*domain.Membership, error)
}

type Config struct {
	LowBalanceThreshold decimal.Decimal
	SplitEnabled        bool
	GuestVisitsEnabled  bool
}

// Orchestrator settles purchases across cash, card, credit and split tender,
// and manages saved cards, credit adjustments and refunds.
type Orchestrator struct {
	store       store.Store
	memberships MembershipCreator
	payments    payment.Resolver
	auth        Authorizer
	notifier    notify.Notifier
	audit       *audit.Recorder
	clock       domain.Clock
	cfg         Config
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewOrchestrator(
	s store.Store,
	memberships MembershipCreator,
	payments payment.Resolver,
	auth Authorizer,
	notifier notify.Notifier,
	rec *audit.Recorder,
	clock domain.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:       s,
		memberships: memberships,
		payments:    payments,
		auth:        auth,
		notifier:    notifier,
		audit:       rec,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
		tracer:      otel.Tracer("swimdesk/billing"),
	}
}
