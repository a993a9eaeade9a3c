package catalog

import (
	"context"
	"testing"

	"swimdesk/internal/apperr"
	"swimdesk/internal/audit"
	"swimdesk/internal/domain"
	"swimdesk/internal/membership"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func intPtr(v int) *int { return &v }

func newCatalog(t *testing.T) (*Catalog, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	return NewCatalog(s, audit.NewRecorder(), zap.NewNop()), s
}

func TestAddPlanValidates(t *testing.T) {
	ctx := context.Background()
	c, _ := newCatalog(t)

	tests := []struct {
		name string
		in   PlanInput
	}{
		{"missing name", PlanInput{Name: " ", Type: "single", Price: decimal.NewFromInt(5)}},
		{"unknown type", PlanInput{Name: "Day", Type: "daily", Price: decimal.NewFromInt(5)}},
		{"negative price", PlanInput{Name: "Day", Type: "single", Price: decimal.NewFromInt(-1)}},
		{"pass without count", PlanInput{Name: "Pass", Type: "swim_pass", Price: decimal.NewFromInt(40)}},
		{"zero duration", PlanInput{Name: "Month", Type: "monthly", Price: decimal.NewFromInt(60), DurationDays: intPtr(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.AddPlan(ctx, tt.in, "maria")
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}

	p, err := c.AddPlan(ctx, PlanInput{Name: " 10 Swim Pass ", Type: "swim_pass", Price: decimal.RequireFromString("45.999"), SwimCount: intPtr(10)}, "maria")
	require.NoError(t, err)
	assert.Equal(t, "10 Swim Pass", p.Name)
	assert.True(t, p.IsActive)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("46.00")))
}

func TestUpdatePlanLeavesMembershipsAlone(t *testing.T) {
	ctx := context.Background()
	c, s := newCatalog(t)
	today := domain.Date(2025, 5, 1)
	members := membership.NewManager(s, audit.NewRecorder(), domain.FixedClock(today), zap.NewNop())

	plan, err := c.AddPlan(ctx, PlanInput{Name: "10 Swim Pass", Type: "swim_pass", Price: decimal.NewFromInt(45), SwimCount: intPtr(10)}, "maria")
	require.NoError(t, err)

	m := &domain.Member{ID: uuid.New(), FirstName: "Ana", LastName: "Lima", IsActive: true, CreditBalance: decimal.Zero}
	var ms *domain.Membership
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertMember(ctx, m); err != nil {
			return err
		}
		var err error
		ms, err = members.Create(ctx, tx, m.ID, plan.ID)
		return err
	}))

	price := decimal.NewFromInt(50)
	updated, err := c.UpdatePlan(ctx, plan.ID, PlanPatch{SwimCount: intPtr(12), Price: &price}, "maria")
	require.NoError(t, err)
	assert.Equal(t, 12, *updated.SwimCount)
	assert.True(t, updated.Price.Equal(price))

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		got, err := tx.GetMembership(ctx, ms.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, *got.SwimsTotal)
		assert.Equal(t, domain.PlanSwimPass, got.PlanType)

		history, err := tx.ListActivity(ctx, plan.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "plan.create", history[0].Action)
		assert.Equal(t, "plan.update", history[1].Action)
		return nil
	}))

	_, err = c.UpdatePlan(ctx, plan.ID, PlanPatch{}, "maria")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = c.UpdatePlan(ctx, plan.ID, PlanPatch{SwimCount: intPtr(-3)}, "maria")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = c.UpdatePlan(ctx, uuid.New(), PlanPatch{Price: &price}, "maria")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRetiredPlansLeaveTheKioskList(t *testing.T) {
	ctx := context.Background()
	c, _ := newCatalog(t)

	single, err := c.AddPlan(ctx, PlanInput{Name: "Single Swim", Type: "single", Price: decimal.NewFromInt(6), SwimCount: intPtr(4), DisplayOrder: 1}, "maria")
	require.NoError(t, err)
	assert.Nil(t, single.SwimCount)
	monthly, err := c.AddPlan(ctx, PlanInput{Name: "Monthly", Type: "monthly", Price: decimal.NewFromInt(60), DurationDays: intPtr(30), DisplayOrder: 0}, "maria")
	require.NoError(t, err)

	active, err := c.ListPlans(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, monthly.ID, active[0].ID)

	retired, err := c.RetirePlan(ctx, monthly.ID, "maria")
	require.NoError(t, err)
	assert.False(t, retired.IsActive)

	active, err = c.ListPlans(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, single.ID, active[0].ID)

	all, err := c.ListPlans(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got, err := c.GetPlan(ctx, monthly.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}
