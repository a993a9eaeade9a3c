// internal/payment/factory.go
package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"swimdesk/internal/store"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Settings keys in the database settings table.
const (
	SettingAdapter         = "payment.adapter"
	SettingProcessorPrefix = "processor."
)

// ProcessorConfig holds one backend's keys, e.g. secret_key or api_pin.
type ProcessorConfig map[string]string

// Settings selects the active backend and carries every backend's keys.
type Settings struct {
	Active     string                     `mapstructure:"adapter"`
	Processors map[string]ProcessorConfig `mapstructure:"processors"`
}

// ConfigSource yields the payment settings in force right now.
type ConfigSource interface {
	PaymentSettings(ctx context.Context) (Settings, error)
}

// StaticSource serves settings loaded once from the config file.
type StaticSource Settings

func (s StaticSource) PaymentSettings(context.Context) (Settings, error) {
	return Settings(s), nil
}

// StoreSource reads settings from the settings table so staff can switch
// processors without a restart. Missing keys fall back to Fallback.
type StoreSource struct {
	Store    store.Store
	Fallback Settings
}

func (s StoreSource) PaymentSettings(ctx context.Context) (Settings, error) {
	var rows map[string]string
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		adapter, err := tx.GetSettings(ctx, SettingAdapter)
		if err != nil {
			return err
		}
		procs, err := tx.GetSettings(ctx, SettingProcessorPrefix)
		if err != nil {
			return err
		}
		rows = procs
		for k, v := range adapter {
			rows[k] = v
		}
		return nil
	})
	if err != nil {
		return Settings{}, fmt.Errorf("load payment settings: %w", err)
	}
	return ParseSettings(rows, s.Fallback), nil
}

// ParseSettings folds flat settings rows over fallback.
func ParseSettings(rows map[string]string, fallback Settings) Settings {
	out := Settings{Active: fallback.Active, Processors: map[string]ProcessorConfig{}}
	for name, cfg := range fallback.Processors {
		cp := ProcessorConfig{}
		for k, v := range cfg {
			cp[k] = v
		}
		out.Processors[name] = cp
	}
	for key, value := range rows {
		switch {
		case key == SettingAdapter:
			if value != "" {
				out.Active = value
			}
		case strings.HasPrefix(key, SettingProcessorPrefix):
			name, field, ok := strings.Cut(strings.TrimPrefix(key, SettingProcessorPrefix), ".")
			if !ok || name == "" || field == "" {
				continue
			}
			if out.Processors[name] == nil {
				out.Processors[name] = ProcessorConfig{}
			}
			out.Processors[name][field] = value
		}
	}
	return out
}

// Factory builds the active adapter. Callers resolve once per operation so
// a settings change takes effect on the next purchase or sweep.
type Factory struct {
	source  ConfigSource
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	stub     *Stub
}

func NewFactory(source ConfigSource, timeout time.Duration, logger *zap.Logger) *Factory {
	return &Factory{
		source:   source,
		timeout:  timeout,
		logger:   logger,
		breakers: map[string]*gobreaker.CircuitBreaker{},
	}
}

// Adapter resolves the currently configured backend.
func (f *Factory) Adapter(ctx context.Context) (Adapter, error) {
	settings, err := f.source.PaymentSettings(ctx)
	if err != nil {
		return nil, err
	}
	name := settings.Active
	if name == "" {
		name = "stub"
	}
	return f.Build(name, settings.Processors[name])
}

// Build constructs a named backend from its keys.
func (f *Factory) Build(name string, cfg ProcessorConfig) (Adapter, error) {
	switch name {
	case "stub":
		return f.stubAdapter(cfg), nil
	case "cash":
		return NewCash(f.logger), nil
	case "stripe":
		return NewStripe(StripeConfig{
			SecretKey: cfg["secret_key"],
			BaseURL:   cfg["base_url"],
			Currency:  cfg["currency"],
			Timeout:   f.timeout,
		}, f.breaker(name), f.logger), nil
	case "usaepay":
		return NewUSAePay(USAePayConfig{
			APIKey:      cfg["api_key"],
			APIPin:      cfg["api_pin"],
			Environment: cfg["environment"],
			BaseURL:     cfg["base_url"],
			Timeout:     f.timeout,
		}, f.breaker(name), f.logger), nil
	}
	return nil, fmt.Errorf("unknown payment adapter %q", name)
}

func (f *Factory) breaker(name string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.breakers[name]
	if !ok {
		b = NewBreaker(name, f.logger)
		f.breakers[name] = b
	}
	return b
}

// stubAdapter keeps one stub per factory so its call log spans operations.
func (f *Factory) stubAdapter(cfg ProcessorConfig) *Stub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stub == nil {
		f.stub = NewStub(f.logger, StubOptions{
			InitiateStatus: Status(cfg["initiate_status"]),
			DeclineRefunds: cfg["decline_refunds"] == "true",
		})
	}
	return f.stub
}

// Fixed is a Resolver that always returns the same adapter.
type Fixed struct{ A Adapter }

func (f Fixed) Adapter(context.Context) (Adapter, error) { return f.A, nil }

// Resolver is what engines depend on to obtain an adapter.
type Resolver interface {
	Adapter(ctx context.Context) (Adapter, error)
}
