// internal/domain/member.go
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Member represents a facility member.
type Member struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	FirstName     string          `json:"first_name" db:"first_name"`
	LastName      string          `json:"last_name" db:"last_name"`
	Phone         *string         `json:"phone,omitempty" db:"phone"`
	Email         *string         `json:"email,omitempty" db:"email"`
	PINHash       *string         `json:"-" db:"pin_hash"`
	CreditBalance decimal.Decimal `json:"credit_balance" db:"credit_balance"`
	IsActive      bool            `json:"is_active" db:"is_active"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	Version       int             `json:"version" db:"version"`
}

// FullName returns the display name used on receipts and notifications.
func (m *Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

func (m *Member) HasPIN() bool {
	return m.PINHash != nil && *m.PINHash != ""
}

// PinLockout tracks failed kiosk PIN attempts for a member.
type PinLockout struct {
	MemberID       uuid.UUID  `json:"member_id" db:"member_id"`
	FailedAttempts int        `json:"failed_attempts" db:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
}

// Locked reports whether the lockout is in force at now.
func (l *PinLockout) Locked(now time.Time) bool {
	return l.LockedUntil != nil && l.LockedUntil.After(now)
}
