// Package conf loads dealerdash settings from YAML, .env and environment variables.
package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// DEALERDASH_DATABASE_DRIVER=mysql.
const EnvPrefix = "DEALERDASH"

// Environments select schedule defaults.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Default schedules per environment.
const (
	DevelopmentSchedule = "@every 5m"
	ProductionSchedule  = "@hourly"
)

// Settings is the root configuration.
type Settings struct {
	App          AppSettings          `mapstructure:"app" yaml:"app"`
	Log          LogSettings          `mapstructure:"log" yaml:"log"`
	Database     DatabaseSettings     `mapstructure:"database" yaml:"database"`
	Alerting     AlertingSettings     `mapstructure:"alerting" yaml:"alerting"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification"`
	Broker       BrokerSettings       `mapstructure:"broker" yaml:"broker"`
	Redis        RedisSettings        `mapstructure:"redis" yaml:"redis"`
	HTTP         HTTPSettings         `mapstructure:"http" yaml:"http"`
	Sentry       SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
}

type AppSettings struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

type LogSettings struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// DatabaseSettings selects the relational store. Driver is one of sqlite,
// mysql or postgres; Path is used by sqlite, DSN by the others.
type DatabaseSettings struct {
	Driver       string   `mapstructure:"driver" yaml:"driver"`
	Path         string   `mapstructure:"path" yaml:"path"`
	DSN          string   `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns int      `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int      `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLife  Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	Debug        bool     `mapstructure:"debug" yaml:"debug"`
}

// AlertingSettings configures the scheduled alert checks.
type AlertingSettings struct {
	Enabled               bool          `mapstructure:"enabled" yaml:"enabled"`
	Schedule              string        `mapstructure:"schedule" yaml:"schedule"` // cron spec, empty = per-environment default
	RunOnStart            bool          `mapstructure:"run_on_start" yaml:"run_on_start"`
	IncludeLowStock       bool          `mapstructure:"include_low_stock" yaml:"include_low_stock"`
	ResolvedRetentionDays int           `mapstructure:"resolved_retention_days" yaml:"resolved_retention_days"`
	LockTTL               Duration      `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	Retry                 RetrySettings `mapstructure:"retry" yaml:"retry"`
}

type RetrySettings struct {
	MaxAttempts int      `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// NotificationSettings configures outbound notifications. URLs are shoutrrr
// service URLs; Recipients maps a recipient name to its own URL set.
type NotificationSettings struct {
	Enabled          bool                `mapstructure:"enabled" yaml:"enabled"`
	URLs             []string            `mapstructure:"urls" yaml:"urls"`
	Recipients       map[string][]string `mapstructure:"recipients" yaml:"recipients"`
	DefaultRecipient string              `mapstructure:"default_recipient" yaml:"default_recipient"`
	MinPriority      string              `mapstructure:"min_priority" yaml:"min_priority"`
	DedupeWindow     Duration            `mapstructure:"dedupe_window" yaml:"dedupe_window"`
	RatePerMinute    int                 `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
	Timeout          Duration            `mapstructure:"timeout" yaml:"timeout"`
}

type BrokerSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	URL      string `mapstructure:"url" yaml:"url"`
	Exchange string `mapstructure:"exchange" yaml:"exchange"`
}

type RedisSettings struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

type HTTPSettings struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

type SentrySettings struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dealerdash")
	v.SetDefault("app.environment", EnvDevelopment)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.file", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "dealerdash.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.debug", false)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.schedule", "")
	v.SetDefault("alerting.run_on_start", true)
	v.SetDefault("alerting.include_low_stock", true)
	v.SetDefault("alerting.resolved_retention_days", 90)
	v.SetDefault("alerting.lock_ttl", "10m")
	v.SetDefault("alerting.retry.max_attempts", 3)
	v.SetDefault("alerting.retry.base_delay", "1s")
	v.SetDefault("alerting.retry.max_delay", "30s")

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.urls", []string{})
	v.SetDefault("notification.min_priority", "high")
	v.SetDefault("notification.default_recipient", "admin")
	v.SetDefault("notification.dedupe_window", "1h")
	v.SetDefault("notification.rate_per_minute", 30)
	v.SetDefault("notification.timeout", "10s")

	v.SetDefault("broker.enabled", false)
	v.SetDefault("broker.url", "")
	v.SetDefault("broker.exchange", "dealerdash.alerts")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("sentry.dsn", "")

	v.SetDefault("http.listen", ":8080")
}

// Load reads settings from the optional YAML file at path, a .env file in the
// working directory if present, and DEALERDASH_* environment variables, in
// increasing order of precedence.
func Load(path string) (*Settings, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	s.applyEnvironmentDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) applyEnvironmentDefaults() {
	if s.Alerting.Schedule != "" {
		return
	}
	if s.App.Environment == EnvProduction {
		s.Alerting.Schedule = ProductionSchedule
	} else {
		s.Alerting.Schedule = DevelopmentSchedule
	}
}

// Validate checks settings for values the rest of the program cannot handle.
func (s *Settings) Validate() error {
	var errs []error

	switch s.App.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("app.environment must be %q or %q, got %q", EnvDevelopment, EnvProduction, s.App.Environment))
	}

	switch s.Database.Driver {
	case "sqlite":
		if s.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "mysql", "postgres":
		if s.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for %s", s.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", s.Database.Driver))
	}

	r := s.Alerting.Retry
	if r.MaxAttempts < 1 {
		errs = append(errs, errors.New("alerting.retry.max_attempts must be at least 1"))
	}
	if r.BaseDelay.Std() <= 0 || r.MaxDelay.Std() < r.BaseDelay.Std() {
		errs = append(errs, errors.New("alerting.retry delays must satisfy 0 < base_delay <= max_delay"))
	}

	switch s.Notification.MinPriority {
	case "low", "medium", "high":
	default:
		errs = append(errs, fmt.Errorf("notification.min_priority must be low, medium or high, got %q", s.Notification.MinPriority))
	}
	if s.Notification.Enabled && len(s.Notification.URLs) == 0 && len(s.Notification.Recipients) == 0 {
		errs = append(errs, errors.New("notification.urls or notification.recipients required when notifications are enabled"))
	}

	if s.Broker.Enabled && s.Broker.URL == "" {
		errs = append(errs, errors.New("broker.url is required when the broker is enabled"))
	}

	return errors.Join(errs...)
}

// RetentionCutoff returns the instant before which resolved alerts may be
// purged, or the zero time when retention is disabled.
func (a AlertingSettings) RetentionCutoff(now time.Time) time.Time {
	if a.ResolvedRetentionDays <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -a.ResolvedRetentionDays)
}
