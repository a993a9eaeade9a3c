package pin

import (
	"context"
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

func TestHashRoundTrip(t *testing.T) {
	h, err := Hash("1234")
	require.NoError(t, err)

	ok, err := Compare("1234", h)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Compare("4321", h)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Compare("1234", "plaintext")
	assert.Error(t, err)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("0007"))
	assert.False(t, Valid("123"))
	assert.False(t, Valid("12a4"))
	assert.False(t, Valid("12345"))
}

type fixture struct {
	store  *store.Memory
	svc    *Service
	member uuid.UUID
	now    time.Time
}

func newFixture(t *testing.T, withPIN bool) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: store.NewMemory(), member: uuid.New(), now: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
	m := &domain.Member{ID: f.member, FirstName: "Pat", LastName: "Diver", IsActive: true, CreditBalance: decimal.Zero}
	if withPIN {
		h, err := Hash("2468")
		require.NoError(t, err)
		m.PINHash = &h
	}
	require.NoError(t, f.store.InTx(ctx, func(tx store.Tx) error { return tx.InsertMember(ctx, m) }))
	f.svc = NewService(f.store, audit.NewRecorder(), Config{MaxAttempts: 3, Lockout: 30 * time.Minute}, zap.NewNop()).
		WithNow(func() time.Time { return f.now })
	return f
}

func TestVerifyWithoutPIN(t *testing.T) {
	f := newFixture(t, false)
	err := f.svc.Verify(context.Background(), f.member, "1234")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Contains(t, err.Error(), "PIN not set")
}

func TestVerifyUnknownMember(t *testing.T) {
	f := newFixture(t, true)
	err := f.svc.Verify(context.Background(), uuid.New(), "2468")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestWrongPINCountsAndLocks(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	err := f.svc.Verify(ctx, f.member, "0000")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.Contains(t, err.Error(), "2 attempts remaining")

	err = f.svc.Verify(ctx, f.member, "0000")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	err = f.svc.Verify(ctx, f.member, "0000")
	assert.ErrorIs(t, err, apperr.ErrLocked)

	// The right PIN is refused while locked.
	err = f.svc.Verify(ctx, f.member, "2468")
	assert.ErrorIs(t, err, apperr.ErrLocked)

	f.now = f.now.Add(31 * time.Minute)
	require.NoError(t, f.svc.Verify(ctx, f.member, "2468"))

	st, err := f.svc.Status(ctx, f.member)
	require.NoError(t, err)
	assert.Equal(t, 0, st.FailedAttempts)
	assert.Nil(t, st.LockedUntil)
}

func TestSuccessResetsCounter(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.Error(t, f.svc.Verify(ctx, f.member, "1111"))
	require.NoError(t, f.svc.Verify(ctx, f.member, "2468"))
	require.Error(t, f.svc.Verify(ctx, f.member, "1111"))

	st, err := f.svc.Status(ctx, f.member)
	require.NoError(t, err)
	assert.Equal(t, 1, st.FailedAttempts)
}

func TestUnlock(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = f.svc.Verify(ctx, f.member, "9999")
	}
	assert.ErrorIs(t, f.svc.Verify(ctx, f.member, "2468"), apperr.ErrLocked)

	cleared, err := f.svc.Unlock(ctx, f.member, "staff")
	require.NoError(t, err)
	assert.True(t, cleared)
	require.NoError(t, f.svc.Verify(ctx, f.member, "2468"))

	cleared, err = f.svc.Unlock(ctx, f.member, "staff")
	require.NoError(t, err)
	assert.False(t, cleared)
}

func TestSetPIN(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.SetPIN(ctx, f.member, "12", "staff"), apperr.ErrInvalidInput)
	require.NoError(t, f.svc.SetPIN(ctx, f.member, "1357", "staff"))
	require.NoError(t, f.svc.Verify(ctx, f.member, "1357"))
}

// lockingStore records whether the lockout row is ever read before the
// member row is locked in the same transaction.
type lockingStore struct {
	store.Store
	mu       sync.Mutex
	unlocked int
}

func (s *lockingStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.InTx(ctx, func(tx store.Tx) error {
		return fn(&lockingTx{Tx: tx, parent: s})
	})
}

type lockingTx struct {
	store.Tx
	parent *lockingStore
	locked bool
}

func (t *lockingTx) LockMember(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	t.locked = true
	return t.Tx.LockMember(ctx, id)
}

func (t *lockingTx) GetPinLockout(ctx context.Context, id uuid.UUID) (*domain.PinLockout, error) {
	if !t.locked {
		t.parent.mu.Lock()
		t.parent.unlocked++
		t.parent.mu.Unlock()
	}
	return t.Tx.GetPinLockout(ctx, id)
}

func TestLockoutReadsHoldTheMemberLock(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	spy := &lockingStore{Store: f.store}
	svc := NewService(spy, audit.NewRecorder(), Config{MaxAttempts: 3, Lockout: 30 * time.Minute}, zap.NewNop()).
		WithNow(func() time.Time { return f.now })

	assert.ErrorIs(t, svc.Verify(ctx, f.member, "9999"), apperr.ErrUnauthorized)
	require.NoError(t, svc.Verify(ctx, f.member, "2468"))
	_ = svc.Verify(ctx, f.member, "9999")
	_, err := svc.Unlock(ctx, f.member, "staff")
	require.NoError(t, err)

	assert.Zero(t, spy.unlocked)

	_, err = svc.Unlock(ctx, uuid.New(), "staff")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
