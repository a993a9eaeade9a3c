// internal/pin/service.go
package pin

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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Config struct {
	MaxAttempts int
	Lockout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Lockout <= 0 {
		c.Lockout = 30 * time.Minute
	}
	return c
}

// Service verifies kiosk PINs and tracks lockouts.
type Service struct {
	store  store.Store
	audit  *audit.Recorder
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
	tracer trace.Tracer
}

func NewService(s store.Store, rec *audit.Recorder, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		store:  s,
		audit:  rec,
		cfg:    cfg.withDefaults(),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
		tracer: otel.Tracer("swimdesk/pin"),
	}
}

// WithNow overrides the wall clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Verify checks pin for memberID. A wrong PIN is counted even though the
// call fails, so the attempt counter commits before the error is returned.
// The member row lock serializes concurrent attempts on one account, so
// parallel guesses cannot all read the same failure count.
func (s *Service) Verify(ctx context.Context, memberID uuid.UUID, pin string) error {
	ctx, span := s.tracer.Start(ctx, "pin.verify", trace.WithAttributes(attribute.String("member.id", memberID.String())))
	defer span.End()

	var failure error
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		failure = nil
		member, err := tx.LockMember(ctx, memberID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("member not found")
			}
			return err
		}
		if !member.HasPIN() {
			return apperr.InvalidInput("PIN not set")
		}

		lockout, err := tx.GetPinLockout(ctx, memberID)
		if err != nil {
			return err
		}
		now := s.now()
		if lockout.Locked(now) {
			s.logger.Warn("PIN attempt on locked account",
				zap.String("member_id", memberID.String()),
				zap.Time("locked_until", *lockout.LockedUntil),
			)
			return apperr.Locked("account locked due to too many failed PIN attempts, please see staff")
		}

		ok, err := Compare(pin, *member.PINHash)
		if err != nil {
			return fmt.Errorf("compare pin: %w", err)
		}
		if ok {
			if lockout.FailedAttempts == 0 && lockout.LockedUntil == nil {
				return nil
			}
			lockout.FailedAttempts = 0
			lockout.LockedUntil = nil
			return tx.SavePinLockout(ctx, lockout)
		}

		if lockout.LockedUntil != nil {
			// An expired lockout starts a fresh count.
			lockout.FailedAttempts = 0
			lockout.LockedUntil = nil
		}
		lockout.FailedAttempts++
		lockout.LastAttemptAt = &now
		remaining := s.cfg.MaxAttempts - lockout.FailedAttempts
		if remaining <= 0 {
			until := now.Add(s.cfg.Lockout)
			lockout.LockedUntil = &until
			s.logger.Warn("Account locked after failed PIN attempts",
				zap.String("member_id", memberID.String()),
				zap.Int("attempts", lockout.FailedAttempts),
			)
			failure = apperr.Locked("account locked, please see staff")
		} else {
			s.logger.Info("Failed PIN attempt",
				zap.String("member_id", memberID.String()),
				zap.Int("attempts", lockout.FailedAttempts),
				zap.Int("max_attempts", s.cfg.MaxAttempts),
			)
			failure = apperr.Unauthorized("invalid PIN, %d attempts remaining", remaining)
		}
		return tx.SavePinLockout(ctx, lockout)
	})
	if err != nil {
		return err
	}
	return failure
}

// SetPIN replaces a member's PIN.
func (s *Service) SetPIN(ctx context.Context, memberID uuid.UUID, pin, actor string) error {
	if !Valid(pin) {
		return apperr.InvalidInput("PIN must be exactly 4 digits")
	}
	hash, err := Hash(pin)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	return s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockMember(ctx, memberID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("member not found")
			}
			return err
		}
		if err := tx.UpdateMemberPIN(ctx, memberID, &hash); err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityMember,
			EntityID:   memberID,
			Action:     "pin_set",
			Actor:      actor,
		})
		return err
	})
}

// Unlock clears a lockout. It reports false when there was nothing to clear.
func (s *Service) Unlock(ctx context.Context, memberID uuid.UUID, actor string) (bool, error) {
	var cleared bool
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockMember(ctx, memberID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("member not found")
			}
			return err
		}
		lockout, err := tx.GetPinLockout(ctx, memberID)
		if err != nil {
			return err
		}
		if lockout.FailedAttempts == 0 && lockout.LockedUntil == nil {
			return nil
		}
		before := *lockout
		lockout.FailedAttempts = 0
		lockout.LockedUntil = nil
		if err := tx.SavePinLockout(ctx, lockout); err != nil {
			return err
		}
		cleared = true
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityMember,
			EntityID:   memberID,
			Action:     "pin_unlocked",
			Before:     before,
			After:      lockout,
			Actor:      actor,
		})
		return err
	})
	if cleared {
		s.logger.Info("PIN unlocked by staff", zap.String("member_id", memberID.String()), zap.String("actor", actor))
	}
	return cleared, err
}

// Status returns the member's lockout record.
func (s *Service) Status(ctx context.Context, memberID uuid.UUID) (*domain.PinLockout, error) {
	var out *domain.PinLockout
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.GetPinLockout(ctx, memberID)
		return err
	})
	return out, err
}
