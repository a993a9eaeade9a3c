// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"swimdesk/internal/apperr"
	"swimdesk/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrDuplicate           = errors.New("duplicate record")
	ErrSerialization       = errors.New("serialization failure")
)

// Store opens transactions. InTx never retries on its own: callers whose
// function has no external side effects wrap it in Retry.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the unit of work every engine operation runs in. Lock* methods take
// a row lock held until the transaction ends.
type Tx interface {
	GetMember(ctx context.Context, id uuid.UUID) (*domain.Member, error)
	LockMember(ctx context.Context, id uuid.UUID) (*domain.Member, error)
	InsertMember(ctx context.Context, m *domain.Member) error
	FindActiveMemberByPhone(ctx context.Context, phone string) (*domain.Member, error)
	UpdateMemberCredit(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
	UpdateMemberPIN(ctx context.Context, id uuid.UUID, hash *string) error
	// SearchMembers matches active members by name or phone substring,
	// case-insensitively, ordered by name.
	SearchMembers(ctx context.Context, query string, limit int) ([]*domain.Member, error)
	ListActiveMembers(ctx context.Context) ([]*domain.Member, error)

	GetCard(ctx context.Context, id uuid.UUID) (*domain.Card, error)
	FindCardByUID(ctx context.Context, uid string) (*domain.Card, error)
	// FindMemberByCard resolves a scan: an active card held by an active member.
	FindMemberByCard(ctx context.Context, uid string) (*domain.Member, error)
	// InsertCard returns ErrDuplicate when the RFID uid is already stored.
	InsertCard(ctx context.Context, c *domain.Card) error
	UpdateCard(ctx context.Context, c *domain.Card) error
	DeleteCard(ctx context.Context, id uuid.UUID) error
	ListCards(ctx context.Context, memberID uuid.UUID) ([]*domain.Card, error)

	GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error)
	InsertPlan(ctx context.Context, p *domain.Plan) error
	UpdatePlan(ctx context.Context, p *domain.Plan) error
	// ListPlans orders by (display_order, name).
	ListPlans(ctx context.Context, activeOnly bool) ([]*domain.Plan, error)

	GetMembership(ctx context.Context, id uuid.UUID) (*domain.Membership, error)
	LockMembership(ctx context.Context, id uuid.UUID) (*domain.Membership, error)
	// ListActiveMemberships returns the member's active memberships ordered
	// by (created_at, id).
	ListActiveMemberships(ctx context.Context, memberID uuid.UUID) ([]*domain.Membership, error)
	ListMonthlyEndingOn(ctx context.Context, day time.Time) ([]*domain.Membership, error)
	InsertMembership(ctx context.Context, m *domain.Membership) error
	// UpdateMembership writes m if its stored version still equals m.Version
	// and bumps m.Version; otherwise it returns ErrConcurrencyConflict.
	UpdateMembership(ctx context.Context, m *domain.Membership) error

	ListFreezes(ctx context.Context, membershipID uuid.UUID) ([]*domain.MembershipFreeze, error)
	InsertFreeze(ctx context.Context, f *domain.MembershipFreeze) error
	UpdateFreeze(ctx context.Context, f *domain.MembershipFreeze) error

	InsertCheckin(ctx context.Context, c *domain.Checkin) error
	InsertGuestVisit(ctx context.Context, g *domain.GuestVisit) error

	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	UpdateTransactionNote(ctx context.Context, id uuid.UUID, note *string) error
	// RefundedAmount sums refund rows pointing at the original transaction.
	RefundedAmount(ctx context.Context, originalID uuid.UUID) (decimal.Decimal, error)

	GetSavedCard(ctx context.Context, id uuid.UUID) (*domain.SavedCard, error)
	LockSavedCard(ctx context.Context, id uuid.UUID) (*domain.SavedCard, error)
	InsertSavedCard(ctx context.Context, c *domain.SavedCard) error
	UpdateSavedCard(ctx context.Context, c *domain.SavedCard) error
	ListSavedCards(ctx context.Context, memberID uuid.UUID) ([]*domain.SavedCard, error)
	DeleteSavedCard(ctx context.Context, id uuid.UUID) error
	ClearDefaultCardExcept(ctx context.Context, memberID, keepID uuid.UUID) error
	DisableAutoChargeExcept(ctx context.Context, memberID, keepID uuid.UUID) error
	ListDueAutoChargeCards(ctx context.Context, today time.Time) ([]uuid.UUID, error)

	// GetPinLockout returns a zero lockout when no row exists.
	GetPinLockout(ctx context.Context, memberID uuid.UUID) (*domain.PinLockout, error)
	SavePinLockout(ctx context.Context, l *domain.PinLockout) error

	// AppendActivity assigns a.Version as the entity's next version.
	AppendActivity(ctx context.Context, a *domain.Activity) error
	ListActivity(ctx context.Context, entityID uuid.UUID) ([]*domain.Activity, error)

	GetSettings(ctx context.Context, prefix string) (map[string]string, error)
	PutSetting(ctx context.Context, key, value string) error

	// SummarizeDay aggregates check-ins and ledger rows created in [from, to).
	SummarizeDay(ctx context.Context, from, to time.Time) (*domain.DaySummary, error)
}

func notFound(what string, id any) error {
	return apperr.Wrap(apperr.KindNotFound, ErrNotFound, "%s %v not found", what, id)
}

func conflict(what string, id any) error {
	return apperr.Wrap(apperr.KindConflict, ErrConcurrencyConflict, "%s %v was modified concurrently", what, id)
}

func duplicate(what string, err error) error {
	return apperr.Wrap(apperr.KindConflict, errors.Join(ErrDuplicate, err), "%s already exists", what)
}

// IsRetryable reports whether a failed transaction may be replayed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrSerialization)
}
