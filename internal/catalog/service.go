// internal/catalog/service.go
package catalog

import (
	"context"

	"swimdesk/internal/domain"

	"github.com/google/uuid"
)

// Service defines the plan catalog operations.
type Service interface {
	AddPlan(ctx context.Context, in PlanInput, actor string) (*domain.Plan, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error)
	UpdatePlan(ctx context.Context, id uuid.UUID, patch PlanPatch, actor string) (*domain.Plan, error)
	RetirePlan(ctx context.Context, id uuid.UUID, actor string) (*domain.Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]*domain.Plan, error)
}

var _ Service = (*Catalog)(nil)
