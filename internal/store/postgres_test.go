package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"swimdesk/internal/apperr"
	"swimdesk/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresLockMemberUsesRowLock(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM members WHERE id = $1 FOR UPDATE`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "first_name", "last_name", "phone", "email", "pin_hash", "credit_balance", "is_active", "created_at", "updated_at", "version",
		}).AddRow(id.String(), "Ada", "Lane", nil, nil, nil, "2.50", true, now, now, 3))
	mock.ExpectCommit()

	var got *domain.Member
	err := s.InTx(context.Background(), func(tx Tx) error {
		var err error
		got, err = tx.LockMember(context.Background(), id)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.True(t, got.CreditBalance.Equal(decimal.RequireFromString("2.50")))
	assert.Equal(t, 3, got.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMissingRowIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM plans WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(tx Tx) error {
		_, err := tx.GetPlan(context.Background(), id)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateMembershipVersionConflict(t *testing.T) {
	s, mock := newMockStore(t)
	total := 10
	m := &domain.Membership{ID: uuid.New(), PlanType: domain.PlanSwimPass, SwimsTotal: &total, SwimsUsed: 4, IsActive: true, Version: 2}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE memberships`)).
		WithArgs(m.SwimsTotal, 4, nil, nil, true, m.ID, 2).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.UpdateMembership(context.Background(), m)
	})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Equal(t, 2, m.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateMembershipBumpsVersion(t *testing.T) {
	s, mock := newMockStore(t)
	from, until := domain.Date(2025, 3, 1), domain.Date(2025, 3, 31)
	m := &domain.Membership{ID: uuid.New(), PlanType: domain.PlanMonthly, ValidFrom: &from, ValidUntil: &until, IsActive: true, Version: 1}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE memberships`)).
		WithArgs(nil, 0, "2025-03-01", "2025-03-31", true, m.ID, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.UpdateMembership(context.Background(), m)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUniqueViolationIsDuplicate(t *testing.T) {
	s, mock := newMockStore(t)
	c := &domain.SavedCard{ID: uuid.New(), MemberID: uuid.New(), ProcessorToken: "tok", Last4: "4242", Brand: "visa", AutoChargeEnabled: true}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE saved_cards`)).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.UpdateSavedCard(context.Background(), c)
	})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSerializationFailureIsRetryable(t *testing.T) {
	err := mapErr("update", &pq.Error{Code: "40001"})
	assert.True(t, IsRetryable(err))

	err = mapErr("update", &pq.Error{Code: "40P01"})
	assert.True(t, IsRetryable(err))

	err = mapErr("update", &pq.Error{Code: "23514"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestPostgresNegativeCreditNeverReachesDatabase(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.UpdateMemberCredit(context.Background(), uuid.New(), decimal.NewFromInt(-5))
	})
	assert.ErrorIs(t, err, apperr.ErrPaymentRequired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendActivityAssignsVersion(t *testing.T) {
	s, mock := newMockStore(t)
	a := &domain.Activity{EntityType: "member", EntityID: uuid.New(), Action: "credit_adjusted", After: []byte(`{"balance":"5.00"}`)}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO activity_log`)).
		WithArgs(a.EntityType, a.EntityID, a.Action, nil, `{"balance":"5.00"}`, nil, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version"}).AddRow(int64(41), 4))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.AppendActivity(context.Background(), a)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(41), a.ID)
	assert.Equal(t, 4, a.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListDueCards(t *testing.T) {
	s, mock := newMockStore(t)
	a, b := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`next_charge_date <= $1`)).
		WithArgs("2025-04-01").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(a.String()).AddRow(b.String()))
	mock.ExpectCommit()

	var ids []uuid.UUID
	err := s.InTx(context.Background(), func(tx Tx) error {
		var err error
		ids, err = tx.ListDueAutoChargeCards(context.Background(), domain.Date(2025, 4, 1))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCommitFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})

	err := s.InTx(context.Background(), func(tx Tx) error { return nil })
	assert.True(t, IsRetryable(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDuplicateRFIDIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	c := &domain.Card{ID: uuid.New(), MemberID: uuid.New(), RFIDUID: "04A1B2C3", IsActive: true}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO rfid_cards`)).
		WithArgs(c.ID, c.MemberID, "04A1B2C3", true, sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505", Message: `duplicate key value violates unique constraint "rfid_cards_rfid_uid_key"`})
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.InsertCard(context.Background(), c)
	})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindMemberByCardRequiresActiveRows(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE c.rfid_uid = $1 AND c.is_active AND m.is_active`)).
		WithArgs("04A1B2C3").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(tx Tx) error {
		_, err := tx.FindMemberByCard(context.Background(), "04A1B2C3")
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSearchMembersEscapesWildcards(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`first_name ILIKE $1 OR last_name ILIKE $1 OR phone ILIKE $1`)).
		WithArgs(`%50\%\_off%`, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(tx Tx) error {
		got, err := tx.SearchMembers(context.Background(), "50%_off", 10)
		assert.Empty(t, got)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdatePlanMissingIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	p := &domain.Plan{ID: uuid.New(), Name: "Monthly", Type: domain.PlanMonthly, Price: decimal.NewFromInt(60), IsActive: true}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE plans`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.UpdatePlan(context.Background(), p)
	})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
