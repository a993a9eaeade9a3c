// internal/membership/service.go
package membership

import (
	"context"

	"swimdesk/internal/domain"
	"swimdesk/internal/store"

	"github.com/google/uuid"
)

// Service defines the membership lifecycle operations.
type Service interface {
	Create(ctx context.Context, tx store.Tx, memberID, planID uuid.UUID) (*domain.Membership, error)
	Freeze(ctx context.Context, membershipID uuid.UUID, req FreezeRequest) (*domain.MembershipFreeze, error)
	FreezeForMember(ctx context.Context, memberID uuid.UUID, req FreezeRequest) (*domain.MembershipFreeze, error)
	Unfreeze(ctx context.Context, membershipID uuid.UUID, actor string) (*domain.Membership, error)
	UnfreezeForMember(ctx context.Context, memberID uuid.UUID, actor string) (*domain.Membership, error)
	AdjustSwims(ctx context.Context, membershipID uuid.UUID, delta int, notes, actor string) (*domain.Membership, error)
	Update(ctx context.Context, membershipID uuid.UUID, patch Patch, actor string) (*domain.Membership, error)
	Deactivate(ctx context.Context, membershipID uuid.UUID, actor string) (*domain.Membership, error)
	History(ctx context.Context, membershipID uuid.UUID) ([]*domain.Activity, error)
	RegisterMember(ctx context.Context, req SignupRequest) (*domain.Member, error)
	SearchMembers(ctx context.Context, query string) ([]*domain.Member, error)
	ListMembers(ctx context.Context) ([]*domain.Member, error)

	AssignCard(ctx context.Context, memberID uuid.UUID, uid, actor string) (*domain.Card, error)
	DeactivateCard(ctx context.Context, memberID, cardID uuid.UUID, actor string) (*domain.Card, error)
	ReactivateCard(ctx context.Context, memberID, cardID uuid.UUID, actor string) (*domain.Card, error)
	RemoveCard(ctx context.Context, memberID, cardID uuid.UUID, actor string) error
	Cards(ctx context.Context, memberID uuid.UUID) ([]*domain.Card, error)
	MemberByCard(ctx context.Context, uid string) (*domain.Member, error)
}

var _ Service = (*Manager)(nil)
