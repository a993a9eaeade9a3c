// internal/jobs/summary.go
package jobs

import (
	"context"
	"fmt"
	"time"

	"swimdesk/internal/domain"
	"swimdesk/internal/notify"
	"swimdesk/internal/store"

	"go.uber.org/zap"
)

// DailySummary reports one facility day of visits and revenue.
type DailySummary struct {
	store    store.Store
	notifier notify.Notifier
	loc      *time.Location
	logger   *zap.Logger
}

func NewDailySummary(s store.Store, notifier notify.Notifier, loc *time.Location, logger *zap.Logger) *DailySummary {
	if loc == nil {
		loc = time.UTC
	}
	return &DailySummary{store: s, notifier: notifier, loc: loc, logger: logger}
}

// Run aggregates the facility-local calendar day containing day.
func (j *DailySummary) Run(ctx context.Context, day time.Time) (*domain.DaySummary, error) {
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, j.loc)
	to := from.AddDate(0, 0, 1)

	var sum *domain.DaySummary
	if err := j.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		sum, err = tx.SummarizeDay(ctx, from.UTC(), to.UTC())
		return err
	}); err != nil {
		return nil, fmt.Errorf("summarize day: %w", err)
	}
	sum.Day = domain.Date(y, m, d)

	revenue := map[string]string{}
	for method, amount := range sum.RevenueByMethod {
		revenue[string(method)] = amount.StringFixed(2)
	}
	j.notifier.Notify(ctx, notify.EventDailySummary, notify.Payload{
		"date":              sum.Day.Format(time.DateOnly),
		"checkins":          sum.Checkins,
		"guests":            sum.Guests,
		"revenue_by_method": revenue,
		"total_revenue":     sum.TotalRevenue().StringFixed(2),
		"refunds":           sum.Refunds.StringFixed(2),
	})
	j.logger.Info("Daily summary",
		zap.String("date", sum.Day.Format(time.DateOnly)),
		zap.Int("checkins", sum.Checkins),
		zap.String("total_revenue", sum.TotalRevenue().StringFixed(2)),
	)
	return sum, nil
}
