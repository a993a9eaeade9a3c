// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"swimdesk/internal/audit"
	"swimdesk/internal/billing"
	"swimdesk/internal/catalog"
	"swimdesk/internal/checkin"
	"swimdesk/internal/config"
	"swimdesk/internal/domain"
	"swimdesk/internal/entitlement"
	"swimdesk/internal/jobs"
	"swimdesk/internal/kiosk"
	"swimdesk/internal/membership"
	"swimdesk/internal/notify"
	"swimdesk/internal/payment"
	"swimdesk/internal/pin"
	"swimdesk/internal/redisx"
	"swimdesk/internal/store"
	"swimdesk/internal/telemetry"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// App holds every wired service for one process.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    store.Store
	Redis    *redis.Client
	Location *time.Location
	Clock    domain.Clock

	Payments    *payment.Factory
	Notifier    notify.Notifier
	PINs        *pin.Service
	Memberships *membership.Manager
	Catalog     *catalog.Catalog
	Entitlement *entitlement.Resolver
	Checkins    *checkin.Engine
	Billing     *billing.Orchestrator

	AutoCharge *jobs.AutoCharge
	Expiry     *jobs.Expiry
	Summary    *jobs.DailySummary

	closers []func(context.Context) error
}

// New builds the process graph from cfg. Telemetry is installed first so
// the engines pick up the configured meter.
func New(ctx context.Context, cfg *config.Config, service string, logger *zap.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("facility timezone: %w", err)
	}
	threshold, err := cfg.LowBalanceThreshold()
	if err != nil {
		return nil, fmt.Errorf("low balance threshold: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Location: loc, Clock: domain.SystemClock(loc)}

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
		ServiceName: service,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	if err := a.openStore(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	if err := a.openRedis(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	sinks := notify.Multi{notify.NewLog(logger)}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(notify.WebhookConfig{
			URL:     cfg.Notify.WebhookURL,
			Secret:  cfg.Notify.WebhookSecret,
			Timeout: cfg.Notify.WebhookTimeout,
		}, logger))
	}
	if a.Redis != nil && cfg.Redis.Stream != "" {
		sinks = append(sinks, notify.NewStream(a.Redis, cfg.Redis.Stream, cfg.Redis.StreamMaxLen, logger))
	}
	a.Notifier = sinks

	a.Payments = payment.NewFactory(payment.StoreSource{Store: a.Store, Fallback: cfg.Payment}, cfg.PaymentTimeout, logger)

	rec := audit.NewRecorder()
	a.PINs = pin.NewService(a.Store, rec, pin.Config{MaxAttempts: cfg.PIN.MaxAttempts, Lockout: cfg.PIN.Lockout}, logger)
	a.Memberships = membership.NewManager(a.Store, rec, a.Clock, logger)
	a.Catalog = catalog.NewCatalog(a.Store, rec, logger)
	a.Entitlement = entitlement.NewResolver()
	a.Checkins = checkin.NewEngine(a.Store, a.Entitlement, a.Notifier, a.Clock, logger)
	a.Billing = billing.NewOrchestrator(a.Store, a.Memberships, a.Payments, a.PINs, a.Notifier, rec, a.Clock,
		billing.Config{
			LowBalanceThreshold: threshold,
			SplitEnabled:        cfg.Billing.SplitEnabled,
			GuestVisitsEnabled:  cfg.Billing.GuestVisitsEnabled,
		}, logger)

	a.AutoCharge = jobs.NewAutoCharge(a.Store, a.Billing, a.Payments, a.Notifier, a.Clock, logger)
	if a.Redis != nil {
		a.AutoCharge.WithLocker(redisx.NewLocker(a.Redis, "swimdesk:"), cfg.Redis.LockTTL)
	}
	a.Expiry = jobs.NewExpiry(a.Store, a.Notifier, a.Clock, cfg.Expiry.WarnDays, logger)
	a.Summary = jobs.NewDailySummary(a.Store, a.Notifier, loc, logger)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	db := a.Config.Database
	if db.URL == "" {
		a.Logger.Warn("No database configured, using in-memory store")
		a.Store = store.NewMemory()
		return nil
	}
	pg, err := store.OpenPostgres(ctx, db.URL, db.MaxOpenConns, db.MaxIdleConns, db.ConnMaxLifetime)
	if err != nil {
		return err
	}
	a.Store = pg
	a.closers = append(a.closers, func(context.Context) error { return pg.Close() })
	return nil
}

func (a *App) openRedis(ctx context.Context) error {
	client := redisx.NewClient(redisx.Config{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if client == nil {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisx.Ping(pingCtx, client); err != nil {
		client.Close()
		return fmt.Errorf("connect redis %s: %w", a.Config.Redis.Addr, err)
	}
	a.Redis = client
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	return nil
}

// Migrate applies the schema when the store is Postgres.
func (a *App) Migrate(ctx context.Context) error {
	pg, ok := a.Store.(*store.Postgres)
	if !ok {
		a.Logger.Info("In-memory store needs no migration")
		return nil
	}
	return pg.Migrate(ctx)
}

// TestProcessor checks the active payment backend's credentials.
func (a *App) TestProcessor(ctx context.Context) (string, bool, string, error) {
	adapter, err := a.Payments.Adapter(ctx)
	if err != nil {
		return "", false, "", err
	}
	tester, ok := adapter.(payment.ConnectionTester)
	if !ok {
		return adapter.Name(), false, "adapter cannot test its connection", nil
	}
	ok, msg := tester.TestConnection(ctx)
	return adapter.Name(), ok, msg, nil
}

// KioskHandler returns the HTTP surface for cmd/kiosk.
func (a *App) KioskHandler() http.Handler {
	return kiosk.NewRouter(kiosk.NewHandler(kiosk.Deps{
		Store:             a.Store,
		Checkins:          a.Checkins,
		Entitlement:       a.Entitlement,
		Memberships:       a.Memberships,
		Catalog:           a.Catalog,
		Billing:           a.Billing,
		PINs:              a.PINs,
		Clock:             a.Clock,
		Logger:            a.Logger,
		MaxGuests:         a.Config.Kiosk.MaxGuests,
		RequestsPerMinute: a.Config.Kiosk.RequestsPerMinute,
		AdminToken:        a.Config.HTTP.AdminToken,
	}))
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
