// internal/billing/cards.go
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"swimdesk/internal/apperr"
	"swimdesk/internal/audit"
	"swimdesk/internal/domain"
	"swimdesk/internal/payment"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SaveCard tokenizes a card the member presented and keeps it on file.
func (o *Orchestrator) SaveCard(ctx context.Context, req SaveCardRequest) (*domain.SavedCard, error) {
	ctx, span := o.tracer.Start(ctx, "billing.save_card", trace.WithAttributes(
		attribute.String("member.id", req.MemberID.String()),
	))
	defer span.End()

	if err := o.authorize(ctx, req.MemberID, req.PIN); err != nil {
		return nil, err
	}
	adapter, err := o.adapter(ctx)
	if err != nil {
		return nil, err
	}
	card, err := o.storeCard(ctx, adapter, req.MemberID, req.Last4, req.Brand, req.FriendlyName, kioskActor)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return card, nil
}

// ManualEntry tokenizes a card typed in by staff. Only adapters that
// implement payment.ManualEntryTokenizer accept raw card numbers.
func (o *Orchestrator) ManualEntry(ctx context.Context, memberID uuid.UUID, card payment.ManualCard, friendlyName, actor string) (*domain.SavedCard, error) {
	ctx, span := o.tracer.Start(ctx, "billing.manual_entry", trace.WithAttributes(
		attribute.String("member.id", memberID.String()),
	))
	defer span.End()

	if n := len(card.Last4()); n < 4 || len(strings.TrimSpace(card.Number)) < 12 {
		return nil, apperr.InvalidInput("card number is incomplete")
	}
	if card.ExpMonth < 1 || card.ExpMonth > 12 {
		return nil, apperr.InvalidInput("expiry month must be 1-12")
	}
	now := time.Now().UTC()
	if card.ExpYear < now.Year() || (card.ExpYear == now.Year() && card.ExpMonth < int(now.Month())) {
		return nil, apperr.InvalidInput("card has expired")
	}

	adapter, err := o.adapter(ctx)
	if err != nil {
		return nil, err
	}
	tokenizer, ok := adapter.(payment.ManualEntryTokenizer)
	if !ok {
		return nil, apperr.InvalidInput("%s does not support manual card entry", adapter.Name())
	}
	tok, err := tokenizer.TokenizeManualEntry(ctx, card, memberID.String())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindChargeDeclined, err, "card could not be tokenized")
	}
	saved, err := o.insertCard(ctx, memberID, tok.Token, tok.Last4, tok.Brand, friendlyName, actor)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return saved, nil
}

func (o *Orchestrator) storeCard(ctx context.Context, adapter payment.Adapter, memberID uuid.UUID, last4, brand, friendlyName, actor string) (*domain.SavedCard, error) {
	if !validLast4(last4) {
		return nil, apperr.InvalidInput("card_last4 must be 4 digits")
	}
	if brand == "" {
		brand = "card"
	}
	token, err := adapter.TokenizeCard(ctx, last4, brand, memberID.String())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindChargeDeclined, err, "card could not be tokenized")
	}
	return o.insertCard(ctx, memberID, token, last4, brand, friendlyName, actor)
}

func (o *Orchestrator) insertCard(ctx context.Context, memberID uuid.UUID, token, last4, brand, friendlyName, actor string) (*domain.SavedCard, error) {
	card := &domain.SavedCard{
		ID:             uuid.New(),
		MemberID:       memberID,
		ProcessorToken: token,
		Last4:          last4,
		Brand:          brand,
		FriendlyName:   domain.StringPtr(friendlyName),
	}
	err := store.Retry(ctx, o.store, store.DefaultRetries, func(tx store.Tx) error {
		if _, err := tx.LockMember(ctx, memberID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("member not found")
			}
			return err
		}
		existing, err := tx.ListSavedCards(ctx, memberID)
		if err != nil {
			return err
		}
		card.IsDefault = len(existing) == 0
		if err := tx.InsertSavedCard(ctx, card); err != nil {
			return fmt.Errorf("insert saved card: %w", err)
		}
		_, err = o.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntitySavedCard,
			EntityID:   card.ID,
			Action:     "card.save",
			After:      card,
			Actor:      actor,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("Card saved",
		zap.String("member_id", memberID.String()),
		zap.String("card_id", card.ID.String()),
		zap.String("display", card.Display()),
	)
	return card, nil
}

// SavedCards lists the member's cards, default first.
func (o *Orchestrator) SavedCards(ctx context.Context, memberID uuid.UUID, pin string) ([]*domain.SavedCard, error) {
	if err := o.authorize(ctx, memberID, pin); err != nil {
		return nil, err
	}
	var cards []*domain.SavedCard
	err := o.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		cards, err = tx.ListSavedCards(ctx, memberID)
		return err
	})
	return cards, err
}

// EnableAutoCharge turns on monthly renewal for one card and off for every
// other card of the member, under the member row lock.
func (o *Orchestrator) EnableAutoCharge(ctx context.Context, req AutoChargeRequest) (*domain.SavedCard, error) {
	ctx, span := o.tracer.Start(ctx, "billing.enable_auto_charge", trace.WithAttributes(
		attribute.String("member.id", req.MemberID.String()),
		attribute.String("card.id", req.CardID.String()),
		attribute.String("plan.id", req.PlanID.String()),
	))
	defer span.End()

	if err := o.authorize(ctx, req.MemberID, req.PIN); err != nil {
		return nil, err
	}

	var card *domain.SavedCard
	err := store.Retry(ctx, o.store, store.DefaultRetries, func(tx store.Tx) error {
		// Step 1: Lock the member so concurrent enables serialize
		if _, err := tx.LockMember(ctx, req.MemberID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("member not found")
			}
			return err
		}
		var err error
		card, err = o.lockMemberCard(ctx, tx, req.MemberID, req.CardID)
		if err != nil {
			return err
		}

		// Step 2: Only active monthly plans renew
		plan, err := tx.GetPlan(ctx, req.PlanID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("plan not found")
			}
			return err
		}
		if !plan.IsActive {
			return apperr.NotFound("plan not found")
		}
		if plan.Type != domain.PlanMonthly {
			return apperr.InvalidInput("auto-charge is only available for monthly plans")
		}

		// Step 3: Disable every other card, then enable this one
		if err := tx.DisableAutoChargeExcept(ctx, req.MemberID, card.ID); err != nil {
			return err
		}
		before := card.Clone()
		next := domain.AddDays(o.clock(), plan.Duration())
		card.AutoChargeEnabled = true
		card.AutoChargePlanID = domain.UUIDPtr(plan.ID)
		card.NextChargeDate = &next
		if err := tx.UpdateSavedCard(ctx, card); err != nil {
			return err
		}
		_, err = o.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntitySavedCard,
			EntityID:   card.ID,
			Action:     "card.auto_charge_enable",
			Before:     before,
			After:      card,
			Actor:      kioskActor,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	o.logger.Info("Auto-charge enabled",
		zap.String("member_id", req.MemberID.String()),
		zap.String("card_id", card.ID.String()),
		zap.Time("next_charge_date", *card.NextChargeDate),
	)
	return card, nil
}

// DisableAutoCharge stops renewals on one card.
func (o *Orchestrator) DisableAutoCharge(ctx context.Context, memberID uuid.UUID, pin string, cardID uuid.UUID) (*domain.SavedCard, error) {
	ctx, span := o.tracer.Start(ctx, "billing.disable_auto_charge", trace.WithAttributes(
		attribute.String("member.id", memberID.String()),
		attribute.String("card.id", cardID.String()),
	))
	defer span.End()

	if err := o.authorize(ctx, memberID, pin); err != nil {
		return nil, err
	}

	var card *domain.SavedCard
	err := store.Retry(ctx, o.store, store.DefaultRetries, func(tx store.Tx) error {
		var err error
		card, err = o.lockMemberCard(ctx, tx, memberID, cardID)
		if err != nil {
			return err
		}
		before := card.Clone()
		card.AutoChargeEnabled = false
		card.AutoChargePlanID = nil
		card.NextChargeDate = nil
		if err := tx.UpdateSavedCard(ctx, card); err != nil {
			return err
		}
		_, err = o.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntitySavedCard,
			EntityID:   card.ID,
			Action:     "card.auto_charge_disable",
			Before:     before,
			After:      card,
			Actor:      kioskActor,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	o.logger.Info("Auto-charge disabled", zap.String("member_id", memberID.String()), zap.String("card_id", cardID.String()))
	return card, nil
}

// RemoveSavedCard deletes one of the member's cards. When it was the
// default, the next card on file takes over.
func (o *Orchestrator) RemoveSavedCard(ctx context.Context, memberID uuid.UUID, pin string, cardID uuid.UUID) error {
	ctx, span := o.tracer.Start(ctx, "billing.remove_saved_card", trace.WithAttributes(
		attribute.String("member.id", memberID.String()),
		attribute.String("card.id", cardID.String()),
	))
	defer span.End()

	if err := o.authorize(ctx, memberID, pin); err != nil {
		return err
	}
	err := store.Retry(ctx, o.store, store.DefaultRetries, func(tx store.Tx) error {
		if _, err := tx.LockMember(ctx, memberID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("member not found")
			}
			return err
		}
		card, err := o.lockMemberCard(ctx, tx, memberID, cardID)
		if err != nil {
			return err
		}
		if err := tx.DeleteSavedCard(ctx, card.ID); err != nil {
			return err
		}
		if card.IsDefault {
			rest, err := tx.ListSavedCards(ctx, memberID)
			if err != nil {
				return err
			}
			if len(rest) > 0 {
				next := rest[0]
				next.IsDefault = true
				if err := tx.UpdateSavedCard(ctx, next); err != nil {
					return err
				}
			}
		}
		_, err = o.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntitySavedCard,
			EntityID:   card.ID,
			Action:     "card.delete",
			Before:     card,
			Actor:      kioskActor,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	o.logger.Info("Saved card removed", zap.String("member_id", memberID.String()), zap.String("card_id", cardID.String()))
	return nil
}

// SetDefaultCard makes cardID the member's default and clears the flag on
// every other card.
func (o *Orchestrator) SetDefaultCard(ctx context.Context, memberID uuid.UUID, pin string, cardID uuid.UUID) (*domain.SavedCard, error) {
	ctx, span := o.tracer.Start(ctx, "billing.set_default_card", trace.WithAttributes(
		attribute.String("member.id", memberID.String()),
		attribute.String("card.id", cardID.String()),
	))
	defer span.End()

	if err := o.authorize(ctx, memberID, pin); err != nil {
		return nil, err
	}
	var card *domain.SavedCard
	err := store.Retry(ctx, o.store, store.DefaultRetries, func(tx store.Tx) error {
		if _, err := tx.LockMember(ctx, memberID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("member not found")
			}
			return err
		}
		var err error
		card, err = o.lockMemberCard(ctx, tx, memberID, cardID)
		if err != nil {
			return err
		}
		if err := tx.ClearDefaultCardExcept(ctx, memberID, card.ID); err != nil {
			return err
		}
		before := card.Clone()
		card.IsDefault = true
		if err := tx.UpdateSavedCard(ctx, card); err != nil {
			return err
		}
		_, err = o.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntitySavedCard,
			EntityID:   card.ID,
			Action:     "card.set_default",
			Before:     before,
			After:      card,
			Actor:      kioskActor,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return card, nil
}

// RenameCard changes the label shown for a saved card. An empty name clears it.
func (o *Orchestrator) RenameCard(ctx context.Context, memberID uuid.UUID, pin string, cardID uuid.UUID, name string) (*domain.SavedCard, error) {
	ctx, span := o.tracer.Start(ctx, "billing.rename_card", trace.WithAttributes(
		attribute.String("card.id", cardID.String()),
	))
	defer span.End()

	name = strings.TrimSpace(name)
	if len(name) > 50 {
		return nil, apperr.InvalidInput("friendly_name is limited to 50 characters")
	}
	if err := o.authorize(ctx, memberID, pin); err != nil {
		return nil, err
	}
	var card *domain.SavedCard
	err := store.Retry(ctx, o.store, store.DefaultRetries, func(tx store.Tx) error {
		var err error
		card, err = o.lockMemberCard(ctx, tx, memberID, cardID)
		if err != nil {
			return err
		}
		before := card.Clone()
		card.FriendlyName = domain.StringPtr(name)
		if err := tx.UpdateSavedCard(ctx, card); err != nil {
			return err
		}
		_, err = o.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntitySavedCard,
			EntityID:   card.ID,
			Action:     "card.rename",
			Before:     before,
			After:      card,
			Actor:      kioskActor,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return card, nil
}

func (o *Orchestrator) lockMemberCard(ctx context.Context, tx store.Tx, memberID, cardID uuid.UUID) (*domain.SavedCard, error) {
	card, err := tx.LockSavedCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("saved card not found")
		}
		return nil, err
	}
	if card.MemberID != memberID {
		return nil, apperr.NotFound("saved card not found")
	}
	return card, nil
}

func validLast4(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
