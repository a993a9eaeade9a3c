// internal/domain/card.go
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Card is an RFID wristband or fob assigned to a member. An RFID uid is
// unique across all cards; a deactivated card keeps its uid until it is
// deleted or reassigned.
type Card struct {
	ID         uuid.UUID `json:"id" db:"id"`
	MemberID   uuid.UUID `json:"member_id" db:"member_id"`
	RFIDUID    string    `json:"rfid_uid" db:"rfid_uid"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	AssignedAt time.Time `json:"assigned_at" db:"assigned_at"`
}

// NormalizeRFID trims reader noise and upper-cases the hex uid so the same
// tag scans identically on every reader.
func NormalizeRFID(uid string) string {
	return strings.ToUpper(strings.TrimSpace(uid))
}
