package store

import (
	"context"
	"fmt"
	"os"
	"testing"

	"swimdesk/internal/domain"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/lib/pq"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// setupTestDB connects to the PG* database and applies the schema. It skips
// the test when no server is reachable.
func setupTestDB(t testing.TB) *Postgres {
	t.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"), envOr("PGPORT", "5432"), envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"), envOr("PGDATABASE", "testdb"))

	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping postgres tests: could not connect to postgres: %v", err)
	}

	s := NewPostgres(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertFixture(t testing.TB, s Store) (*domain.Member, *domain.Plan) {
	t.Helper()
	ctx := context.Background()
	count := 10
	member := &domain.Member{ID: uuid.New(), FirstName: "Test", LastName: "Swimmer", IsActive: true, CreditBalance: decimal.Zero}
	plan := &domain.Plan{ID: uuid.New(), Name: "10 Swim Pass", Type: domain.PlanSwimPass, Price: decimal.NewFromInt(50), SwimCount: &count, IsActive: true}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertMember(ctx, member); err != nil {
			return err
		}
		return tx.InsertPlan(ctx, plan)
	}))
	return member, plan
}

func TestPostgresMembershipRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	member, plan := insertFixture(t, s)

	ms := domain.NewMembership(member.ID, plan, domain.Date(2025, 5, 1))
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.InsertMembership(ctx, ms) }))

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		got, err := tx.LockMembership(ctx, ms.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PlanSwimPass, got.PlanType)
		assert.Equal(t, 10, *got.SwimsTotal)

		got.SwimsUsed = 3
		return tx.UpdateMembership(ctx, got)
	}))

	stale := ms.Clone()
	stale.SwimsUsed = 5
	err := s.InTx(ctx, func(tx Tx) error { return tx.UpdateMembership(ctx, stale) })
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestPostgresPartialIndexAllowsOneAutoChargeCard(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	member, plan := insertFixture(t, s)

	a := &domain.SavedCard{ID: uuid.New(), MemberID: member.ID, ProcessorToken: "tok_a", Last4: "4242", Brand: "visa", AutoChargeEnabled: true, AutoChargePlanID: &plan.ID}
	b := &domain.SavedCard{ID: uuid.New(), MemberID: member.ID, ProcessorToken: "tok_b", Last4: "0005", Brand: "amex", AutoChargeEnabled: true, AutoChargePlanID: &plan.ID}

	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.InsertSavedCard(ctx, a) }))
	err := s.InTx(ctx, func(tx Tx) error { return tx.InsertSavedCard(ctx, b) })
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestPostgresCreditCheckConstraint(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	member, _ := insertFixture(t, s)

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		return tx.UpdateMemberCredit(ctx, member.ID, decimal.RequireFromString("7.25"))
	}))
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		got, err := tx.GetMember(ctx, member.ID)
		require.NoError(t, err)
		assert.True(t, got.CreditBalance.Equal(decimal.RequireFromString("7.25")))
		return nil
	}))
}

func BenchmarkAppendActivity(b *testing.B) {
	s := setupTestDB(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		a := &domain.Activity{EntityType: "membership", EntityID: uuid.New(), Action: "bench", After: []byte(fmt.Sprintf(`{"n":%d}`, i))}
		b.StartTimer()

		if err := s.InTx(ctx, func(tx Tx) error { return tx.AppendActivity(ctx, a) }); err != nil {
			b.Fatalf("AppendActivity failed: %v", err)
		}
	}
}

func TestPostgresRFIDUniqueConstraint(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	member, _ := insertFixture(t, s)
	other, _ := insertFixture(t, s)
	uid := "IT" + uuid.NewString()[:8]

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		return tx.InsertCard(ctx, &domain.Card{ID: uuid.New(), MemberID: member.ID, RFIDUID: uid, IsActive: true})
	}))
	err := s.InTx(ctx, func(tx Tx) error {
		return tx.InsertCard(ctx, &domain.Card{ID: uuid.New(), MemberID: other.ID, RFIDUID: uid, IsActive: true})
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}
