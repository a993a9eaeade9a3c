// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"swimdesk/internal/payment"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SWIMDESK_HTTP_ADDR.
const EnvPrefix = "SWIMDESK"

type Config struct {
	Database  DatabaseConfig   `mapstructure:"database"`
	HTTP      HTTPConfig       `mapstructure:"http"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Log       LogConfig        `mapstructure:"log"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry"`
	Facility  FacilityConfig   `mapstructure:"facility"`
	Kiosk     KioskConfig      `mapstructure:"kiosk"`
	PIN       PINConfig        `mapstructure:"pin"`
	Billing   BillingConfig    `mapstructure:"billing"`
	Expiry    ExpiryConfig     `mapstructure:"expiry"`
	Notify    NotifyConfig     `mapstructure:"notify"`
	Payment   payment.Settings `mapstructure:"payment"`
	// PaymentTimeout bounds every processor call.
	PaymentTimeout time.Duration `mapstructure:"payment_timeout"`
}

type DatabaseConfig struct {
	// URL empty selects the in-memory store.
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AdminToken guards /admin routes; empty disables them.
	AdminToken string `mapstructure:"admin_token"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	// StreamMaxLen caps the notification stream (approximate).
	StreamMaxLen int64         `mapstructure:"stream_max_len"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetryConfig struct {
	// Endpoint is an OTLP/HTTP collector host:port; empty disables export.
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type FacilityConfig struct {
	Name     string `mapstructure:"name"`
	Timezone string `mapstructure:"timezone"`
}

type KioskConfig struct {
	MaxGuests int `mapstructure:"max_guests"`
	// RequestsPerMinute limits kiosk calls per client address.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

type PINConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Lockout     time.Duration `mapstructure:"lockout"`
}

type BillingConfig struct {
	LowBalanceThreshold string `mapstructure:"low_balance_threshold"`
	SplitEnabled        bool   `mapstructure:"split_enabled"`
	GuestVisitsEnabled  bool   `mapstructure:"guest_visits_enabled"`
}

type ExpiryConfig struct {
	WarnDays int `mapstructure:"warn_days"`
}

type NotifyConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookSecret  string        `mapstructure:"webhook_secret"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("redis.stream", "swimdesk:events")
	v.SetDefault("redis.stream_max_len", 10000)
	v.SetDefault("redis.lock_ttl", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("facility.name", "Swim Facility")
	v.SetDefault("facility.timezone", "UTC")

	v.SetDefault("kiosk.max_guests", 5)
	v.SetDefault("kiosk.requests_per_minute", 60)

	v.SetDefault("pin.max_attempts", 3)
	v.SetDefault("pin.lockout", 30*time.Minute)

	v.SetDefault("billing.low_balance_threshold", "5.00")
	v.SetDefault("billing.split_enabled", true)
	v.SetDefault("billing.guest_visits_enabled", true)

	v.SetDefault("expiry.warn_days", 3)

	v.SetDefault("notify.webhook_timeout", 5*time.Second)

	v.SetDefault("payment.adapter", "stub")
	v.SetDefault("payment_timeout", 30*time.Second)
}

// Load reads path (optional) and applies SWIMDESK_* environment overrides
// over the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows about.
	for _, key := range []string{"database.url", "http.admin_token", "redis.addr", "redis.password",
		"redis.db", "telemetry.endpoint", "telemetry.insecure", "notify.webhook_url", "notify.webhook_secret"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("facility.timezone: %w", err))
	}
	if _, err := c.LowBalanceThreshold(); err != nil {
		errs = append(errs, fmt.Errorf("billing.low_balance_threshold: %w", err))
	}
	if c.Kiosk.MaxGuests < 0 {
		errs = append(errs, errors.New("kiosk.max_guests must not be negative"))
	}
	if c.PIN.MaxAttempts <= 0 {
		errs = append(errs, errors.New("pin.max_attempts must be positive"))
	}
	return errors.Join(errs...)
}

// Location resolves the facility timezone used for calendar days.
func (c *Config) Location() (*time.Location, error) {
	if c.Facility.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Facility.Timezone)
}

func (c *Config) LowBalanceThreshold() (decimal.Decimal, error) {
	if c.Billing.LowBalanceThreshold == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(c.Billing.LowBalanceThreshold)
}
