package pin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"swimdesk/internal/apperr"
	"swimdesk/internal/audit"
	"swimdesk/internal/domain"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func openPostgres(t *testing.T) *store.Postgres {
	t.Helper()
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"), envOr("PGPORT", "5432"), envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"), envOr("PGDATABASE", "testdb"))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s, err := store.OpenPostgres(ctx, dsn, 10, 10, time.Minute)
	if err != nil {
		t.Skipf("skipping postgres tests: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestParallelWrongPINsCannotOutrunLockout(t *testing.T) {
	s := openPostgres(t)
	ctx := context.Background()

	h, err := Hash("2468")
	require.NoError(t, err)
	member := &domain.Member{ID: uuid.New(), FirstName: "Pat", LastName: "Diver", PINHash: &h, IsActive: true, CreditBalance: decimal.Zero}
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error { return tx.InsertMember(ctx, member) }))

	svc := NewService(s, audit.NewRecorder(), Config{MaxAttempts: 3, Lockout: 30 * time.Minute}, zap.NewNop())

	const guesses = 6
	errs := make([]error, guesses)
	var wg sync.WaitGroup
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Verify(ctx, member.ID, "9999")
		}(i)
	}
	wg.Wait()

	var unauthorized, locked int
	for _, err := range errs {
		switch {
		case errors.Is(err, apperr.ErrUnauthorized):
			unauthorized++
		case errors.Is(err, apperr.ErrLocked):
			locked++
		default:
			t.Fatalf("unexpected verify result: %v", err)
		}
	}
	assert.Equal(t, 2, unauthorized)
	assert.Equal(t, guesses-2, locked)

	st, err := svc.Status(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, st.FailedAttempts)
	require.NotNil(t, st.LockedUntil)
	assert.ErrorIs(t, svc.Verify(ctx, member.ID, "2468"), apperr.ErrLocked)
}
