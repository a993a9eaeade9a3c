// internal/audit/audit.go
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"swimdesk/internal/domain"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Entity types recorded in the activity log.
const (
	EntityMember      = "member"
	EntityMembership  = "membership"
	EntityTransaction = "transaction"
	EntitySavedCard   = "saved_card"
	EntityCard        = "rfid_card"
	EntityPlan        = "plan"
	EntityGuestVisit  = "guest_visit"
)

// Entry describes one state change. Before and After are marshaled to JSON;
// nil values are stored as absent.
type Entry struct {
	EntityType string
	EntityID   uuid.UUID
	Action     string
	Before     any
	After      any
	Note       string
	Actor      string
}

// Recorder appends entries to the activity log inside the caller's
// transaction, so the audit row commits or rolls back with the change.
type Recorder struct {
	tracer trace.Tracer
}

func NewRecorder() *Recorder {
	return &Recorder{tracer: otel.Tracer("swimdesk/audit")}
}

// Record appends e and returns the entity version it was assigned.
func (r *Recorder) Record(ctx context.Context, tx store.Tx, e Entry) (int, error) {
	ctx, span := r.tracer.Start(ctx, "audit.record",
		trace.WithAttributes(
			attribute.String("entity.type", e.EntityType),
			attribute.String("entity.id", e.EntityID.String()),
			attribute.String("action", e.Action),
		),
	)
	defer span.End()

	before, err := marshal(e.Before)
	if err != nil {
		return 0, fmt.Errorf("marshal before state: %w", err)
	}
	after, err := marshal(e.After)
	if err != nil {
		return 0, fmt.Errorf("marshal after state: %w", err)
	}

	a := &domain.Activity{
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		Before:     before,
		After:      after,
		Note:       domain.StringPtr(e.Note),
		Actor:      domain.StringPtr(e.Actor),
	}
	if err := tx.AppendActivity(ctx, a); err != nil {
		return 0, fmt.Errorf("append activity: %w", err)
	}

	span.AddEvent("activity.appended", trace.WithAttributes(
		attribute.Int64("activity.id", a.ID),
		attribute.Int("activity.version", a.Version),
	))
	return a.Version, nil
}

// History returns the entity's activity in version order.
func (r *Recorder) History(ctx context.Context, tx store.Tx, entityID uuid.UUID) ([]*domain.Activity, error) {
	ctx, span := r.tracer.Start(ctx, "audit.history",
		trace.WithAttributes(attribute.String("entity.id", entityID.String())),
	)
	defer span.End()

	entries, err := tx.ListActivity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	span.SetAttributes(attribute.Int("activity.loaded", len(entries)))
	return entries, nil
}

func marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
