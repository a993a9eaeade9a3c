// internal/entitlement/resolver.go
package entitlement

import (
	"context"
	"fmt"
	"time"

	"swimdesk/internal/domain"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Result is the membership that admits the member today, if any.
type Result struct {
	Membership     *domain.Membership `json:"membership,omitempty"`
	Frozen         bool               `json:"is_frozen"`
	FrozenUntil    *time.Time         `json:"frozen_until,omitempty"`
	SwimsRemaining *int               `json:"swims_remaining,omitempty"`
}

func (r Result) Found() bool {
	return r.Membership != nil
}

// Resolver loads a member's memberships and holds and applies
// domain.SelectEntitlement to them.
type Resolver struct {
	tracer trace.Tracer
}

func NewResolver() *Resolver {
	return &Resolver{tracer: otel.Tracer("swimdesk/entitlement")}
}

// Resolve picks the usable membership for memberID on today inside tx.
func (r *Resolver) Resolve(ctx context.Context, tx store.Tx, memberID uuid.UUID, today time.Time) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "entitlement.resolve",
		trace.WithAttributes(attribute.String("member.id", memberID.String())),
	)
	defer span.End()

	memberships, err := tx.ListActiveMemberships(ctx, memberID)
	if err != nil {
		return Result{}, fmt.Errorf("list memberships: %w", err)
	}
	freezes := make(map[uuid.UUID][]*domain.MembershipFreeze, len(memberships))
	for _, m := range memberships {
		fs, err := tx.ListFreezes(ctx, m.ID)
		if err != nil {
			return Result{}, fmt.Errorf("list freezes for %s: %w", m.ID, err)
		}
		freezes[m.ID] = fs
	}

	ent := domain.SelectEntitlement(memberships, freezes, today)
	res := Result{Membership: ent.Membership, Frozen: ent.Frozen, FrozenUntil: ent.FrozenUntil}
	if ent.Found() && ent.Membership.PlanType.Metered() {
		remaining := ent.Membership.SwimsRemaining()
		res.SwimsRemaining = &remaining
	}
	span.SetAttributes(
		attribute.Bool("entitlement.found", res.Found()),
		attribute.Bool("entitlement.frozen", res.Frozen),
	)
	return res, nil
}

// Status is the member-facing view shown on the kiosk status screen.
type Status struct {
	Member         *domain.Member     `json:"member"`
	HasMembership  bool               `json:"has_membership"`
	Membership     *domain.Membership `json:"membership,omitempty"`
	SwimsRemaining *int               `json:"swims_remaining,omitempty"`
	ValidUntil     *time.Time         `json:"valid_until,omitempty"`
	DaysRemaining  *int               `json:"days_remaining,omitempty"`
	Frozen         bool               `json:"is_frozen"`
	FrozenUntil    *time.Time         `json:"frozen_until,omitempty"`
	PINSet         bool               `json:"pin_set"`
}

// Status builds the kiosk status view for memberID.
func (r *Resolver) Status(ctx context.Context, tx store.Tx, memberID uuid.UUID, today time.Time) (*Status, error) {
	member, err := tx.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	res, err := r.Resolve(ctx, tx, memberID, today)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Member:         member,
		HasMembership:  res.Found(),
		Membership:     res.Membership,
		SwimsRemaining: res.SwimsRemaining,
		Frozen:         res.Frozen,
		FrozenUntil:    res.FrozenUntil,
		PINSet:         member.HasPIN(),
	}
	if res.Found() && res.Membership.ValidUntil != nil {
		until := *res.Membership.ValidUntil
		days := domain.DaysBetween(today, until)
		st.ValidUntil = &until
		st.DaysRemaining = &days
	}
	return st, nil
}
