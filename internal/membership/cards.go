// internal/membership/cards.go
package membership

import (
	"context"
	"errors"
	"fmt"

	"swimdesk/internal/apperr"
	"swimdesk/internal/audit"
	"swimdesk/internal/domain"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// AssignCard binds an RFID uid to a member. An active card with the same uid
// is a conflict; a deactivated one is released and reassigned.
func (s *Manager) AssignCard(ctx context.Context, memberID uuid.UUID, uid, actor string) (*domain.Card, error) {
	ctx, span := s.tracer.Start(ctx, "membership.assign_card",
		trace.WithAttributes(attribute.String("member.id", memberID.String())),
	)
	defer span.End()

	uid = domain.NormalizeRFID(uid)
	if uid == "" {
		return nil, apperr.InvalidInput("rfid_uid is required")
	}

	card := &domain.Card{ID: uuid.New(), MemberID: memberID, RFIDUID: uid, IsActive: true}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var released any
		if _, err := tx.LockMember(ctx, memberID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("member not found")
			}
			return err
		}

		existing, err := tx.FindCardByUID(ctx, uid)
		switch {
		case err == nil && existing.IsActive:
			return apperr.Conflict("card already assigned to a member")
		case err == nil:
			if err := tx.DeleteCard(ctx, existing.ID); err != nil {
				return fmt.Errorf("release card: %w", err)
			}
			released = existing
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		if err := tx.InsertCard(ctx, card); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Wrap(apperr.KindConflict, err, "card already assigned to a member")
			}
			return err
		}
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityCard,
			EntityID:   card.ID,
			Action:     "card.assign",
			Before:     released,
			After:      card,
			Actor:      actor,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("RFID card assigned",
		zap.String("member_id", memberID.String()),
		zap.String("card_id", card.ID.String()),
		zap.String("actor", actor),
	)
	return card, nil
}

// DeactivateCard stops a card from scanning without releasing its uid.
func (s *Manager) DeactivateCard(ctx context.Context, memberID, cardID uuid.UUID, actor string) (*domain.Card, error) {
	return s.setCardActive(ctx, memberID, cardID, false, actor)
}

// ReactivateCard restores a deactivated card.
func (s *Manager) ReactivateCard(ctx context.Context, memberID, cardID uuid.UUID, actor string) (*domain.Card, error) {
	return s.setCardActive(ctx, memberID, cardID, true, actor)
}

func (s *Manager) setCardActive(ctx context.Context, memberID, cardID uuid.UUID, active bool, actor string) (*domain.Card, error) {
	action := "card.deactivate"
	if active {
		action = "card.reactivate"
	}
	ctx, span := s.tracer.Start(ctx, "membership.set_card_active",
		trace.WithAttributes(
			attribute.String("card.id", cardID.String()),
			attribute.Bool("active", active),
		),
	)
	defer span.End()

	var out *domain.Card
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		c, err := memberCard(ctx, tx, memberID, cardID)
		if err != nil {
			return err
		}
		before := *c
		c.IsActive = active
		if err := tx.UpdateCard(ctx, c); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityCard,
			EntityID:   c.ID,
			Action:     action,
			Before:     before,
			After:      c,
			Actor:      actor,
		}); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// RemoveCard deletes a card and frees its uid.
func (s *Manager) RemoveCard(ctx context.Context, memberID, cardID uuid.UUID, actor string) error {
	ctx, span := s.tracer.Start(ctx, "membership.remove_card",
		trace.WithAttributes(attribute.String("card.id", cardID.String())),
	)
	defer span.End()

	return s.store.InTx(ctx, func(tx store.Tx) error {
		c, err := memberCard(ctx, tx, memberID, cardID)
		if err != nil {
			return err
		}
		if err := tx.DeleteCard(ctx, c.ID); err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityCard,
			EntityID:   c.ID,
			Action:     "card.delete",
			Before:     c,
			Actor:      actor,
		})
		return err
	})
}

// Cards lists every card issued to a member, active or not.
func (s *Manager) Cards(ctx context.Context, memberID uuid.UUID) ([]*domain.Card, error) {
	var out []*domain.Card
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetMember(ctx, memberID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("member not found")
			}
			return err
		}
		var err error
		out, err = tx.ListCards(ctx, memberID)
		return err
	})
	return out, err
}

// MemberByCard resolves a scanned uid to its active member.
func (s *Manager) MemberByCard(ctx context.Context, uid string) (*domain.Member, error) {
	uid = domain.NormalizeRFID(uid)
	if uid == "" {
		return nil, apperr.InvalidInput("rfid_uid is required")
	}
	var out *domain.Member
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		c, err := tx.FindCardByUID(ctx, uid)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("card not recognized")
			}
			return err
		}
		if !c.IsActive {
			return apperr.NotFound("card not recognized")
		}
		m, err := tx.FindMemberByCard(ctx, uid)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("member not found or inactive")
			}
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// memberCard loads a card and checks it belongs to memberID.
func memberCard(ctx context.Context, tx store.Tx, memberID, cardID uuid.UUID) (*domain.Card, error) {
	c, err := tx.GetCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("card not found")
		}
		return nil, err
	}
	if c.MemberID != memberID {
		return nil, apperr.NotFound("card not found")
	}
	return c, nil
}
