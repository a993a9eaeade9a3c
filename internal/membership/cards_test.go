package membership

import (
	"context"
	"testing"

	"swimdesk/internal/apperr"
	"swimdesk/internal/domain"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) otherMember(t *testing.T, first string, active bool) *domain.Member {
	t.Helper()
	m := &domain.Member{ID: uuid.New(), FirstName: first, LastName: "Okafor", IsActive: active, CreditBalance: decimal.Zero}
	require.NoError(t, f.store.InTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertMember(context.Background(), m)
	}))
	return m
}

func TestAssignCardRejectsActiveDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, domain.Date(2025, 4, 1))
	other := f.otherMember(t, "Femi", true)

	card, err := f.manager.AssignCard(ctx, f.member.ID, " 04a1b2c3 ", "maria")
	require.NoError(t, err)
	assert.Equal(t, "04A1B2C3", card.RFIDUID)
	assert.True(t, card.IsActive)

	_, err = f.manager.AssignCard(ctx, other.ID, "04A1B2C3", "maria")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, err.Error(), "card already assigned")

	got, err := f.manager.MemberByCard(ctx, "04a1b2c3")
	require.NoError(t, err)
	assert.Equal(t, f.member.ID, got.ID)
}

func TestAssignCardReleasesDeactivatedUID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, domain.Date(2025, 4, 1))
	other := f.otherMember(t, "Femi", true)

	old, err := f.manager.AssignCard(ctx, f.member.ID, "BEEF01", "maria")
	require.NoError(t, err)
	_, err = f.manager.DeactivateCard(ctx, f.member.ID, old.ID, "maria")
	require.NoError(t, err)

	_, err = f.manager.MemberByCard(ctx, "BEEF01")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	card, err := f.manager.AssignCard(ctx, other.ID, "BEEF01", "maria")
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, card.ID)

	mine, err := f.manager.Cards(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)

	got, err := f.manager.MemberByCard(ctx, "BEEF01")
	require.NoError(t, err)
	assert.Equal(t, other.ID, got.ID)
}

func TestCardOperationsAreScopedToMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, domain.Date(2025, 4, 1))
	other := f.otherMember(t, "Femi", true)

	card, err := f.manager.AssignCard(ctx, f.member.ID, "C0FFEE", "maria")
	require.NoError(t, err)

	_, err = f.manager.DeactivateCard(ctx, other.ID, card.ID, "maria")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, f.manager.RemoveCard(ctx, other.ID, card.ID, "maria"), apperr.ErrNotFound)

	_, err = f.manager.DeactivateCard(ctx, f.member.ID, card.ID, "maria")
	require.NoError(t, err)
	back, err := f.manager.ReactivateCard(ctx, f.member.ID, card.ID, "maria")
	require.NoError(t, err)
	assert.True(t, back.IsActive)

	require.NoError(t, f.manager.RemoveCard(ctx, f.member.ID, card.ID, "maria"))
	_, err = f.manager.MemberByCard(ctx, "C0FFEE")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	var actions []string
	require.NoError(t, f.store.InTx(ctx, func(tx store.Tx) error {
		history, err := tx.ListActivity(ctx, card.ID)
		for _, a := range history {
			actions = append(actions, a.Action)
		}
		return err
	}))
	assert.Equal(t, []string{"card.assign", "card.deactivate", "card.reactivate", "card.delete"}, actions)
}

func TestScanInactiveMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, domain.Date(2025, 4, 1))
	gone := f.otherMember(t, "Femi", false)

	_, err := f.manager.AssignCard(ctx, gone.ID, "AA55", "maria")
	require.NoError(t, err)

	_, err = f.manager.MemberByCard(ctx, "AA55")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Contains(t, err.Error(), "member not found or inactive")

	_, err = f.manager.MemberByCard(ctx, "FFFF")
	assert.Contains(t, err.Error(), "card not recognized")

	_, err = f.manager.AssignCard(ctx, uuid.New(), "AB12", "maria")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.manager.AssignCard(ctx, f.member.ID, "   ", "maria")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestSearchMembers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, domain.Date(2025, 4, 1))
	f.otherMember(t, "Femi", true)
	f.otherMember(t, "Hidden", false)

	got, err := f.manager.SearchMembers(ctx, "okafor")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Femi", got[0].FirstName)

	_, err = f.manager.SearchMembers(ctx, "  ")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	all, err := f.manager.ListMembers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Femi", all[0].FirstName)
	assert.Equal(t, "Noor", all[1].FirstName)
}
