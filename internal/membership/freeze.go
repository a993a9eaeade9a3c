// internal/membership/freeze.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swimdesk/internal/apperr"
	"swimdesk/internal/audit"
	"swimdesk/internal/domain"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Freeze puts a membership on hold and immediately pushes valid_until out by
// the hold length. Passes carry no end date, so for them the hold only
// pauses entry.
func (s *Manager) Freeze(ctx context.Context, membershipID uuid.UUID, req FreezeRequest) (*domain.MembershipFreeze, error) {
	ctx, span := s.tracer.Start(ctx, "membership.freeze",
		trace.WithAttributes(attribute.String("membership.id", membershipID.String())),
	)
	defer span.End()

	var out *domain.MembershipFreeze
	err := store.Retry(ctx, s.store, store.DefaultRetries, func(tx store.Tx) error {
		f, err := s.freeze(ctx, tx, membershipID, req)
		out = f
		return err
	})
	return out, err
}

// FreezeForMember freezes the membership that admits the member today,
// falling back to the first active one in storage order when none does.
func (s *Manager) FreezeForMember(ctx context.Context, memberID uuid.UUID, req FreezeRequest) (*domain.MembershipFreeze, error) {
	ctx, span := s.tracer.Start(ctx, "membership.freeze_for_member",
		trace.WithAttributes(attribute.String("member.id", memberID.String())),
	)
	defer span.End()

	var out *domain.MembershipFreeze
	err := store.Retry(ctx, s.store, store.DefaultRetries, func(tx store.Tx) error {
		m, err := s.freezeTarget(ctx, tx, memberID)
		if err != nil {
			return err
		}
		f, err := s.freeze(ctx, tx, m.ID, req)
		out = f
		return err
	})
	return out, err
}

func (s *Manager) freeze(ctx context.Context, tx store.Tx, membershipID uuid.UUID, req FreezeRequest) (*domain.MembershipFreeze, error) {
	m, err := tx.LockMembership(ctx, membershipID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("active membership not found")
		}
		return nil, err
	}
	if !m.IsActive {
		return nil, apperr.NotFound("active membership not found")
	}

	freezes, err := tx.ListFreezes(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("list freezes: %w", err)
	}
	if domain.OpenFreeze(freezes) != nil {
		return nil, apperr.Conflict("membership is already frozen")
	}

	today := s.clock()
	days, err := freezeDays(req, today)
	if err != nil {
		return nil, err
	}
	end := domain.AddDays(today, days)

	before := snap(m)
	if m.ValidUntil != nil {
		until := domain.AddDays(*m.ValidUntil, days)
		m.ValidUntil = &until
		if err := tx.UpdateMembership(ctx, m); err != nil {
			return nil, err
		}
	}

	f := &domain.MembershipFreeze{
		ID:           uuid.New(),
		MembershipID: m.ID,
		FrozenBy:     req.FrozenBy,
		FreezeStart:  today,
		FreezeEnd:    &end,
		DaysExtended: days,
		Reason:       domain.StringPtr(req.Reason),
	}
	if err := tx.InsertFreeze(ctx, f); err != nil {
		return nil, fmt.Errorf("insert freeze: %w", err)
	}

	if _, err := s.audit.Record(ctx, tx, audit.Entry{
		EntityType: audit.EntityMembership,
		EntityID:   m.ID,
		Action:     "membership.freeze",
		Before:     before,
		After: map[string]any{
			"freeze_end":    end.Format(time.DateOnly),
			"days_extended": days,
			"valid_until":   dateString(m.ValidUntil),
			"freeze_id":     f.ID,
			"freeze_reason": req.Reason,
		},
		Actor: req.Actor,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Membership frozen",
		zap.String("membership_id", m.ID.String()),
		zap.Int("days", days),
		zap.Time("freeze_end", end),
	)
	return f, nil
}

func freezeDays(req FreezeRequest, today time.Time) (int, error) {
	switch {
	case req.Days != nil:
		if *req.Days <= 0 {
			return 0, apperr.InvalidInput("freeze days must be positive")
		}
		return *req.Days, nil
	case req.EndDate != nil:
		days := domain.DaysBetween(today, *req.EndDate)
		if days <= 0 {
			return 0, apperr.InvalidInput("freeze end must be after today")
		}
		return days, nil
	}
	return 0, apperr.InvalidInput("provide freeze days or freeze end")
}

// Unfreeze ends the open hold, or failing that the latest one, as of today.
// The extension granted at freeze time stays in place.
func (s *Manager) Unfreeze(ctx context.Context, membershipID uuid.UUID, actor string) (*domain.Membership, error) {
	ctx, span := s.tracer.Start(ctx, "membership.unfreeze",
		trace.WithAttributes(attribute.String("membership.id", membershipID.String())),
	)
	defer span.End()

	var out *domain.Membership
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		m, err := tx.GetMembership(ctx, membershipID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("membership not found")
			}
			return err
		}
		out = m
		return s.unfreeze(ctx, tx, m, actor)
	})
	return out, err
}

// UnfreezeForMember lifts the hold on the first membership frozen today,
// falling back to the first active one.
func (s *Manager) UnfreezeForMember(ctx context.Context, memberID uuid.UUID, actor string) (*domain.Membership, error) {
	ctx, span := s.tracer.Start(ctx, "membership.unfreeze_for_member",
		trace.WithAttributes(attribute.String("member.id", memberID.String())),
	)
	defer span.End()

	var out *domain.Membership
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		m, err := s.unfreezeTarget(ctx, tx, memberID)
		if err != nil {
			return err
		}
		out = m
		return s.unfreeze(ctx, tx, m, actor)
	})
	return out, err
}

func (s *Manager) unfreeze(ctx context.Context, tx store.Tx, m *domain.Membership, actor string) error {
	freezes, err := tx.ListFreezes(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("list freezes: %w", err)
	}
	f := domain.OpenFreeze(freezes)
	if f == nil {
		f = domain.LatestFreeze(freezes)
	}

	today := s.clock()
	entry := audit.Entry{
		EntityType: audit.EntityMembership,
		EntityID:   m.ID,
		Action:     "membership.unfreeze",
		Actor:      actor,
	}
	// A hold that already ended is left as recorded.
	if f != nil && (f.Open() || f.FreezeEnd.After(today)) {
		entry.Before = map[string]any{"freeze_end": dateString(f.FreezeEnd)}
		f.FreezeEnd = &today
		if err := tx.UpdateFreeze(ctx, f); err != nil {
			return fmt.Errorf("close freeze: %w", err)
		}
		entry.After = map[string]any{"freeze_end": dateString(f.FreezeEnd)}
		s.logger.Info("Membership unfrozen",
			zap.String("membership_id", m.ID.String()),
			zap.String("freeze_id", f.ID.String()),
		)
	}
	_, err = s.audit.Record(ctx, tx, entry)
	return err
}

// activeWithFreezes loads the member's active memberships in storage order
// with their holds.
func activeWithFreezes(ctx context.Context, tx store.Tx, memberID uuid.UUID) ([]*domain.Membership, map[uuid.UUID][]*domain.MembershipFreeze, error) {
	ms, err := tx.ListActiveMemberships(ctx, memberID)
	if err != nil {
		return nil, nil, fmt.Errorf("list memberships: %w", err)
	}
	if len(ms) == 0 {
		return nil, nil, apperr.NotFound("no active membership found")
	}
	freezes := make(map[uuid.UUID][]*domain.MembershipFreeze, len(ms))
	for _, m := range ms {
		fs, err := tx.ListFreezes(ctx, m.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("list freezes: %w", err)
		}
		freezes[m.ID] = fs
	}
	return ms, freezes, nil
}

func (s *Manager) freezeTarget(ctx context.Context, tx store.Tx, memberID uuid.UUID) (*domain.Membership, error) {
	ms, freezes, err := activeWithFreezes(ctx, tx, memberID)
	if err != nil {
		return nil, err
	}
	if ent := domain.SelectEntitlement(ms, freezes, s.clock()); ent.Found() {
		return ent.Membership, nil
	}
	return ms[0], nil
}

func (s *Manager) unfreezeTarget(ctx context.Context, tx store.Tx, memberID uuid.UUID) (*domain.Membership, error) {
	ms, freezes, err := activeWithFreezes(ctx, tx, memberID)
	if err != nil {
		return nil, err
	}
	today := s.clock()
	for _, m := range ms {
		if domain.FreezeStateOn(freezes[m.ID], today).Frozen {
			return m, nil
		}
	}
	return ms[0], nil
}
