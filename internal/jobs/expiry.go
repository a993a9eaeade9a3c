// internal/jobs/expiry.go
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swimdesk/internal/domain"
	"swimdesk/internal/notify"
	"swimdesk/internal/store"

	"go.uber.org/zap"
)

// DefaultWarnDays is how far ahead members hear about an ending plan.
const DefaultWarnDays = 3

// ExpiryReport counts the notices one run sent.
type ExpiryReport struct {
	Expiring int `json:"expiring"`
	Expired  int `json:"expired"`
}

// Expiry warns members whose monthly plan ends soon and tells those whose
// plan ended yesterday.
type Expiry struct {
	store    store.Store
	notifier notify.Notifier
	clock    domain.Clock
	warnDays int
	logger   *zap.Logger
}

func NewExpiry(s store.Store, notifier notify.Notifier, clock domain.Clock, warnDays int, logger *zap.Logger) *Expiry {
	if warnDays <= 0 {
		warnDays = DefaultWarnDays
	}
	return &Expiry{store: s, notifier: notifier, clock: clock, warnDays: warnDays, logger: logger}
}

type notice struct {
	event   notify.Event
	payload notify.Payload
}

func (j *Expiry) Run(ctx context.Context) (*ExpiryReport, error) {
	today := j.clock()
	var notices []notice
	err := j.store.InTx(ctx, func(tx store.Tx) error {
		notices = notices[:0]
		expiring, err := tx.ListMonthlyEndingOn(ctx, domain.AddDays(today, j.warnDays))
		if err != nil {
			return err
		}
		for _, m := range expiring {
			p, err := j.payload(ctx, tx, m)
			if err != nil {
				return err
			}
			if p == nil {
				continue
			}
			p["days_remaining"] = j.warnDays
			notices = append(notices, notice{notify.EventMembershipExpiring, p})
		}

		expired, err := tx.ListMonthlyEndingOn(ctx, domain.AddDays(today, -1))
		if err != nil {
			return err
		}
		for _, m := range expired {
			p, err := j.payload(ctx, tx, m)
			if err != nil {
				return err
			}
			if p != nil {
				notices = append(notices, notice{notify.EventMembershipExpired, p})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("expiry check: %w", err)
	}

	report := &ExpiryReport{}
	for _, n := range notices {
		j.notifier.Notify(ctx, n.event, n.payload)
		if n.event == notify.EventMembershipExpiring {
			report.Expiring++
		} else {
			report.Expired++
		}
	}
	j.logger.Info("Expiry check complete",
		zap.Time("day", today),
		zap.Int("expiring", report.Expiring),
		zap.Int("expired", report.Expired),
	)
	return report, nil
}

// payload returns nil for memberships whose member is gone or inactive.
func (j *Expiry) payload(ctx context.Context, tx store.Tx, m *domain.Membership) (notify.Payload, error) {
	member, err := tx.GetMember(ctx, m.MemberID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !member.IsActive {
		return nil, nil
	}
	planName := "Unknown"
	if plan, err := tx.GetPlan(ctx, m.PlanID); err == nil {
		planName = plan.Name
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return notify.Payload{
		"member_id":     member.ID.String(),
		"member_name":   member.FullName(),
		"membership_id": m.ID.String(),
		"plan_name":     planName,
		"valid_until":   m.ValidUntil.Format(time.DateOnly),
	}, nil
}
