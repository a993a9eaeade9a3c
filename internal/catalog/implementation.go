// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"swimdesk/internal/apperr"
	"swimdesk/internal/audit"
	"swimdesk/internal/domain"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Catalog maintains the plans sold at the kiosk. Memberships snapshot their
// plan when created, so editing or retiring a plan leaves them untouched.
type Catalog struct {
	store  store.Store
	audit  *audit.Recorder
	logger *zap.Logger
	tracer trace.Tracer
}

// NewCatalog creates a plan catalog.
func NewCatalog(s store.Store, rec *audit.Recorder, logger *zap.Logger) *Catalog {
	return &Catalog{
		store:  s,
		audit:  rec,
		logger: logger,
		tracer: otel.Tracer("swimdesk/catalog"),
	}
}

// AddPlan creates an active plan.
func (c *Catalog) AddPlan(ctx context.Context, in PlanInput, actor string) (*domain.Plan, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.add_plan",
		trace.WithAttributes(attribute.String("plan.type", in.Type)),
	)
	defer span.End()

	p := &domain.Plan{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(in.Name),
		Type:         domain.PlanType(in.Type),
		Price:        in.Price.Round(2),
		SwimCount:    in.SwimCount,
		DurationDays: in.DurationDays,
		IsActive:     true,
		DisplayOrder: in.DisplayOrder,
	}
	if p.Type == domain.PlanSingle {
		p.SwimCount = nil
	}
	if err := p.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, err, "invalid plan")
	}

	err := c.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertPlan(ctx, p); err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}
		_, err := c.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityPlan,
			EntityID:   p.ID,
			Action:     "plan.create",
			After:      p,
			Actor:      actor,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Plan added",
		zap.String("plan_id", p.ID.String()),
		zap.String("name", p.Name),
		zap.String("price", p.Price.StringFixed(2)),
		zap.String("actor", actor),
	)
	return p, nil
}

// GetPlan returns a plan by id.
func (c *Catalog) GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	var out *domain.Plan
	err := c.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = getPlan(ctx, tx, id)
		return err
	})
	return out, err
}

// UpdatePlan applies patch to a plan.
func (c *Catalog) UpdatePlan(ctx context.Context, id uuid.UUID, patch PlanPatch, actor string) (*domain.Plan, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.update_plan",
		trace.WithAttributes(attribute.String("plan.id", id.String())),
	)
	defer span.End()

	if patch.empty() {
		return nil, apperr.InvalidInput("no fields to update")
	}

	var out *domain.Plan
	err := c.store.InTx(ctx, func(tx store.Tx) error {
		p, err := getPlan(ctx, tx, id)
		if err != nil {
			return err
		}
		before := *p
		if patch.Name != nil {
			p.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Price != nil {
			p.Price = patch.Price.Round(2)
		}
		if patch.SwimCount != nil && p.Type != domain.PlanSingle {
			v := *patch.SwimCount
			p.SwimCount = &v
		}
		if patch.DurationDays != nil {
			v := *patch.DurationDays
			p.DurationDays = &v
		}
		if patch.DisplayOrder != nil {
			p.DisplayOrder = *patch.DisplayOrder
		}
		if patch.IsActive != nil {
			p.IsActive = *patch.IsActive
		}
		if err := p.Validate(); err != nil {
			return apperr.Wrap(apperr.KindInvalidInput, err, "invalid plan")
		}
		if err := tx.UpdatePlan(ctx, p); err != nil {
			return err
		}
		if _, err := c.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityPlan,
			EntityID:   p.ID,
			Action:     "plan.update",
			Before:     before,
			After:      p,
			Actor:      actor,
		}); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Plan updated",
		zap.String("plan_id", id.String()),
		zap.Bool("active", out.IsActive),
		zap.String("actor", actor),
	)
	return out, nil
}

// RetirePlan takes a plan off sale. Plans are never deleted because
// memberships and transactions reference them.
func (c *Catalog) RetirePlan(ctx context.Context, id uuid.UUID, actor string) (*domain.Plan, error) {
	inactive := false
	return c.UpdatePlan(ctx, id, PlanPatch{IsActive: &inactive}, actor)
}

// ListPlans returns plans in kiosk display order.
func (c *Catalog) ListPlans(ctx context.Context, activeOnly bool) ([]*domain.Plan, error) {
	var out []*domain.Plan
	err := c.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListPlans(ctx, activeOnly)
		return err
	})
	return out, err
}

func getPlan(ctx context.Context, tx store.Tx, id uuid.UUID) (*domain.Plan, error) {
	p, err := tx.GetPlan(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("plan not found")
		}
		return nil, err
	}
	return p, nil
}
