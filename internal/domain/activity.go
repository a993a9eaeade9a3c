// internal/domain/activity.go
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Activity is one append-only audit row. Version increments per entity so
// concurrent writers of the same entity collide on (entity_id, version).
type Activity struct {
	ID         int64           `json:"id" db:"id"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id" db:"entity_id"`
	Version    int             `json:"version" db:"version"`
	Action     string          `json:"action" db:"action"`
	Before     json.RawMessage `json:"before,omitempty" db:"before_state"`
	After      json.RawMessage `json:"after,omitempty" db:"after_state"`
	Note       *string         `json:"note,omitempty" db:"note"`
	Actor      *string         `json:"actor,omitempty" db:"actor"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// DaySummary aggregates one facility day.
type DaySummary struct {
	Day             time.Time                         `json:"day"`
	Checkins        int                               `json:"checkins"`
	Guests          int                               `json:"guests"`
	RevenueByMethod map[PaymentMethod]decimal.Decimal `json:"revenue_by_method"`
	Refunds         decimal.Decimal                   `json:"refunds"`
}

// TotalRevenue sums payments across methods.
func (s *DaySummary) TotalRevenue() decimal.Decimal {
	total := decimal.Zero
	for _, v := range s.RevenueByMethod {
		total = total.Add(v)
	}
	return total
}
