// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"swimdesk/internal/apperr"
	"swimdesk/internal/audit"
	"swimdesk/internal/domain"
	"swimdesk/internal/pin"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Manager implements the membership lifecycle.
type Manager struct {
	store       store.Store
	audit       *audit.Recorder
	clock       domain.Clock
	logger      *zap.Logger
	tracer      trace.Tracer
	rateLimiter *rate.Limiter
}

// NewManager creates a membership manager.
func NewManager(s store.Store, rec *audit.Recorder, clock domain.Clock, logger *zap.Logger) *Manager {
	return &Manager{
		store:       s,
		audit:       rec,
		clock:       clock,
		logger:      logger,
		tracer:      otel.Tracer("swimdesk/membership"),
		rateLimiter: rate.NewLimiter(rate.Every(6*time.Second), 10), // 10 signups per minute
	}
}

// Create stamps a new membership for memberID from planID inside the
// caller's transaction. Purchases and the auto-charge sweep both land here.
func (s *Manager) Create(ctx context.Context, tx store.Tx, memberID, planID uuid.UUID) (*domain.Membership, error) {
	ctx, span := s.tracer.Start(ctx, "membership.create",
		trace.WithAttributes(
			attribute.String("member.id", memberID.String()),
			attribute.String("plan.id", planID.String()),
		),
	)
	defer span.End()

	plan, err := tx.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("plan not found")
		}
		return nil, err
	}

	m := domain.NewMembership(memberID, plan, s.clock())
	if err := tx.InsertMembership(ctx, m); err != nil {
		return nil, fmt.Errorf("insert membership: %w", err)
	}
	if _, err := s.audit.Record(ctx, tx, audit.Entry{
		EntityType: audit.EntityMembership,
		EntityID:   m.ID,
		Action:     "membership.create",
		After:      snap(m),
	}); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("membership.id", m.ID.String()), attribute.String("plan.type", string(plan.Type)))
	return m, nil
}

// AdjustSwims returns delta visits to a pass (negative delta consumes them).
// swims_used never drops below zero.
func (s *Manager) AdjustSwims(ctx context.Context, membershipID uuid.UUID, delta int, notes, actor string) (*domain.Membership, error) {
	ctx, span := s.tracer.Start(ctx, "membership.adjust_swims",
		trace.WithAttributes(
			attribute.String("membership.id", membershipID.String()),
			attribute.Int("delta", delta),
		),
	)
	defer span.End()

	var out *domain.Membership
	err := store.Retry(ctx, s.store, store.DefaultRetries, func(tx store.Tx) error {
		m, err := lockMembership(ctx, tx, membershipID)
		if err != nil {
			return err
		}
		if m.PlanType != domain.PlanSwimPass {
			return apperr.InvalidInput("can only adjust swims for swim pass memberships")
		}

		before := snap(m)
		used := m.SwimsUsed - delta
		if used < 0 {
			used = 0
		}
		m.SwimsUsed = used
		if err := m.CheckInvariants(); err != nil {
			return apperr.Wrap(apperr.KindInvalidInput, err, "adjustment exceeds the pass total")
		}
		if err := tx.UpdateMembership(ctx, m); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityMembership,
			EntityID:   m.ID,
			Action:     "membership.swim_adjust",
			Before:     before,
			After:      snap(m),
			Note:       notes,
			Actor:      actor,
		}); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Swims adjusted",
		zap.String("membership_id", membershipID.String()),
		zap.Int("delta", delta),
		zap.Int("swims_used", out.SwimsUsed),
		zap.String("actor", actor),
	)
	return out, nil
}

// Update applies an administrative override, validated against the
// membership invariants.
func (s *Manager) Update(ctx context.Context, membershipID uuid.UUID, patch Patch, actor string) (*domain.Membership, error) {
	ctx, span := s.tracer.Start(ctx, "membership.update",
		trace.WithAttributes(attribute.String("membership.id", membershipID.String())),
	)
	defer span.End()

	if patch.empty() {
		return nil, apperr.InvalidInput("no fields to update")
	}

	var out *domain.Membership
	err := store.Retry(ctx, s.store, store.DefaultRetries, func(tx store.Tx) error {
		m, err := lockMembership(ctx, tx, membershipID)
		if err != nil {
			return err
		}
		before := snap(m)
		if patch.SwimsTotal != nil {
			v := *patch.SwimsTotal
			m.SwimsTotal = &v
		}
		if patch.SwimsUsed != nil {
			m.SwimsUsed = *patch.SwimsUsed
		}
		if patch.ValidFrom != nil {
			v := domain.DateOf(*patch.ValidFrom)
			m.ValidFrom = &v
		}
		if patch.ValidUntil != nil {
			v := domain.DateOf(*patch.ValidUntil)
			m.ValidUntil = &v
		}
		if patch.IsActive != nil {
			m.IsActive = *patch.IsActive
		}
		if err := m.CheckInvariants(); err != nil {
			return apperr.Wrap(apperr.KindInvalidInput, err, "invalid membership update")
		}
		if err := tx.UpdateMembership(ctx, m); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityMembership,
			EntityID:   m.ID,
			Action:     "membership.update",
			Before:     before,
			After:      snap(m),
			Actor:      actor,
		}); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// Deactivate retires a membership. Memberships are never deleted.
func (s *Manager) Deactivate(ctx context.Context, membershipID uuid.UUID, actor string) (*domain.Membership, error) {
	inactive := false
	return s.Update(ctx, membershipID, Patch{IsActive: &inactive}, actor)
}

// History returns the membership's audit trail.
func (s *Manager) History(ctx context.Context, membershipID uuid.UUID) ([]*domain.Activity, error) {
	var out []*domain.Activity
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetMembership(ctx, membershipID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("membership not found")
			}
			return err
		}
		var err error
		out, err = s.audit.History(ctx, tx, membershipID)
		return err
	})
	return out, err
}

// RegisterMember creates a member with a kiosk PIN.
func (s *Manager) RegisterMember(ctx context.Context, req SignupRequest) (*domain.Member, error) {
	if !s.rateLimiter.Allow() {
		return nil, apperr.RateLimited("too many signups, please wait a moment")
	}
	ctx, span := s.tracer.Start(ctx, "membership.register_member")
	defer span.End()

	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.FirstName == "" || req.LastName == "" {
		return nil, apperr.InvalidInput("first and last name are required")
	}
	if req.Phone == "" {
		return nil, apperr.InvalidInput("phone number is required")
	}
	if !pin.Valid(req.PIN) {
		return nil, apperr.InvalidInput("PIN must be exactly 4 digits")
	}

	pinHash, err := pin.Hash(req.PIN)
	if err != nil {
		return nil, fmt.Errorf("failed to hash PIN: %w", err)
	}

	member := &domain.Member{
		ID:            uuid.New(),
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Phone:         &req.Phone,
		Email:         req.Email,
		PINHash:       &pinHash,
		CreditBalance: decimal.Zero,
		IsActive:      true,
	}
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.FindActiveMemberByPhone(ctx, req.Phone)
		switch {
		case err == nil:
			return apperr.Conflict("an account with this phone number already exists")
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		if err := tx.InsertMember(ctx, member); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityMember,
			EntityID:   member.ID,
			Action:     "member.signup",
			After:      member,
			Actor:      "kiosk",
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Kiosk signup",
		zap.String("member_id", member.ID.String()),
		zap.String("name", member.FullName()),
	)
	return member, nil
}

func lockMembership(ctx context.Context, tx store.Tx, id uuid.UUID) (*domain.Membership, error) {
	m, err := tx.LockMembership(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("membership not found")
		}
		return nil, err
	}
	return m, nil
}

func snap(m *domain.Membership) snapshot {
	return snapshot{
		SwimsTotal: m.SwimsTotal,
		SwimsUsed:  m.SwimsUsed,
		ValidFrom:  dateString(m.ValidFrom),
		ValidUntil: dateString(m.ValidUntil),
		IsActive:   m.IsActive,
	}
}
