// internal/notify/notify.go
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Event names a notification the engine emits.
type Event string

const (
	EventCheckin            Event = "checkin"
	EventMembershipExpiring Event = "membership_expiring"
	EventMembershipExpired  Event = "membership_expired"
	EventAutoChargeSuccess  Event = "auto_charge_success"
	EventAutoChargeFailed   Event = "auto_charge_failed"
	EventLowBalance         Event = "low_balance"
	EventDailySummary       Event = "daily_summary"
)

// Payload is the event body handed to sinks.
type Payload map[string]any

// Notifier delivers events. Delivery failures stay inside the sink; the
// caller never learns whether anything was delivered.
type Notifier interface {
	Notify(ctx context.Context, event Event, payload Payload)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event, Payload) {}

// Log writes events to the structured log.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, event Event, payload Payload) {
	l.logger.Info("Notification", zap.String("event", string(event)), zap.Any("payload", payload))
}

// Multi fans an event out to every sink in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event, payload Payload) {
	for _, n := range m {
		n.Notify(ctx, event, payload)
	}
}

// Sent is one captured notification.
type Sent struct {
	Event   Event
	Payload Payload
}

// Capture keeps events in memory. Used by tests and the demo kiosk.
type Capture struct {
	mu   sync.Mutex
	sent []Sent
}

func (c *Capture) Notify(_ context.Context, event Event, payload Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Sent{Event: event, Payload: payload})
}

// Events returns captured notifications of the given kind, or all of them
// when event is empty.
func (c *Capture) Events(event Event) []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Sent
	for _, s := range c.sent {
		if event == "" || s.Event == event {
			out = append(out, s)
		}
	}
	return out
}
