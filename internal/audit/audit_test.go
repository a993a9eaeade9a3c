package audit

import (
	"context"
	"encoding/json"
	"testing"

	"swimdesk/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAssignsVersionsPerEntity(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	r := NewRecorder()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		v, err := r.Record(ctx, tx, Entry{EntityType: EntityMembership, EntityID: a, Action: "freeze",
			Before: map[string]int{"swims_used": 1}, After: map[string]int{"swims_used": 2}, Actor: "staff-1"})
		require.NoError(t, err)
		assert.Equal(t, 1, v)

		v, err = r.Record(ctx, tx, Entry{EntityType: EntityMembership, EntityID: a, Action: "unfreeze"})
		require.NoError(t, err)
		assert.Equal(t, 2, v)

		v, err = r.Record(ctx, tx, Entry{EntityType: EntityMember, EntityID: b, Action: "credit_adjusted"})
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		return nil
	}))

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		history, err := r.History(ctx, tx, a)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "freeze", history[0].Action)
		assert.JSONEq(t, `{"swims_used":2}`, string(history[0].After))
		require.NotNil(t, history[0].Actor)
		assert.Equal(t, "staff-1", *history[0].Actor)
		assert.Nil(t, history[1].Before)
		return nil
	}))
}

func TestRecordRollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	r := NewRecorder()
	id := uuid.New()

	_ = s.InTx(ctx, func(tx store.Tx) error {
		_, err := r.Record(ctx, tx, Entry{EntityType: EntityMember, EntityID: id, Action: "pin_set"})
		require.NoError(t, err)
		return assert.AnError
	})

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		history, err := r.History(ctx, tx, id)
		require.NoError(t, err)
		assert.Empty(t, history)
		return nil
	}))
}

func TestRecordPassesRawJSONThrough(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	r := NewRecorder()
	id := uuid.New()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		_, err := r.Record(ctx, tx, Entry{EntityType: EntityTransaction, EntityID: id, Action: "note", After: json.RawMessage(`{"a":1}`)})
		return err
	}))
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		history, err := r.History(ctx, tx, id)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, `{"a":1}`, string(history[0].After))
		return nil
	}))
}
