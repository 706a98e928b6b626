// Package config loads the engine configuration from defaults, an optional
// config file, PURSUE_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dukerupert/pursue/internal/effectiveness"
	"github.com/dukerupert/pursue/internal/pattern"
	"github.com/dukerupert/pursue/internal/reminder"
)

const EnvPrefix = "PURSUE"

type Config struct {
	Addr      string `mapstructure:"addr"`
	DBPath    string `mapstructure:"db_path"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Auth          AuthConfig          `mapstructure:"auth"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Reminders     RemindersConfig     `mapstructure:"reminders"`
	Patterns      PatternsConfig      `mapstructure:"patterns"`
	Effectiveness EffectivenessConfig `mapstructure:"effectiveness"`
	Push          PushConfig          `mapstructure:"push"`
	Redis         RedisConfig         `mapstructure:"redis"`
	WebSocket     WebSocketConfig     `mapstructure:"websocket"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
	// InternalKeyHash is the bcrypt hash of the key internal triggers send.
	InternalKeyHash string `mapstructure:"internal_key_hash"`
}

type SchedulerConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	ProcessInterval       time.Duration `mapstructure:"process_interval"`
	PatternInterval       time.Duration `mapstructure:"pattern_interval"`
	EffectivenessInterval time.Duration `mapstructure:"effectiveness_interval"`
}

type RemindersConfig struct {
	Workers               int           `mapstructure:"workers"`
	ClaimTTL              time.Duration `mapstructure:"claim_ttl"`
	StaleAfter            time.Duration `mapstructure:"stale_after"`
	FallbackAnchorHour    int           `mapstructure:"fallback_anchor_hour"`
	BalancedOffsetHours   int           `mapstructure:"balanced_offset_hours"`
	PersistentOffsetHours int           `mapstructure:"persistent_offset_hours"`
	LastChanceHour        int           `mapstructure:"last_chance_hour"`
	// DispatchRate is notifications per second across the whole tick; zero
	// disables the limiter.
	DispatchRate  float64 `mapstructure:"dispatch_rate"`
	DispatchBurst int     `mapstructure:"dispatch_burst"`
}

type PatternsConfig struct {
	LookbackDays        int           `mapstructure:"lookback_days"`
	MinSamples          int           `mapstructure:"min_samples"`
	Coverage            float64       `mapstructure:"coverage"`
	MinWidth            int           `mapstructure:"min_width"`
	MaxWidth            int           `mapstructure:"max_width"`
	SaturationSamples   int           `mapstructure:"saturation_samples"`
	MinBucketConfidence float64       `mapstructure:"min_bucket_confidence"`
	Workers             int           `mapstructure:"workers"`
	RecalcTimeout       time.Duration `mapstructure:"recalc_timeout"`
	RecalcPerMinute     int           `mapstructure:"recalc_per_minute"`
}

type EffectivenessConfig struct {
	Lookback  time.Duration `mapstructure:"lookback"`
	Retention time.Duration `mapstructure:"retention"`
	// Suppress turns on the threshold suppressor.
	Suppress           bool          `mapstructure:"suppress"`
	SuppressWindow     time.Duration `mapstructure:"suppress_window"`
	SuppressMinLabeled int           `mapstructure:"suppress_min_labeled"`
	SuppressBelow      float64       `mapstructure:"suppress_below"`
}

type PushConfig struct {
	VAPIDPublicKey     string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey    string `mapstructure:"vapid_private_key"`
	VAPIDSubscriber    string `mapstructure:"vapid_subscriber"`
	FCMCredentialsFile string `mapstructure:"fcm_credentials_file"`
}

// WebPushEnabled reports whether both VAPID keys are set.
func (p PushConfig) WebPushEnabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type WebSocketConfig struct {
	OriginPatterns []string `mapstructure:"origin_patterns"`
}

// SetDefaults registers every key with its default. Environment variables
// only reach Unmarshal for keys viper already knows about.
func SetDefaults(v *viper.Viper) {
	sched := reminder.DefaultConfig()
	pat := pattern.DefaultConfig()
	eff := effectiveness.DefaultConfig()
	sup := effectiveness.DefaultThresholdConfig()

	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "pursue.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "")
	v.SetDefault("auth.internal_key_hash", "")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.process_interval", 15*time.Minute)
	v.SetDefault("scheduler.pattern_interval", 7*24*time.Hour)
	v.SetDefault("scheduler.effectiveness_interval", 24*time.Hour)

	v.SetDefault("reminders.workers", 8)
	v.SetDefault("reminders.claim_ttl", 5*time.Minute)
	v.SetDefault("reminders.stale_after", sched.StaleAfter)
	v.SetDefault("reminders.fallback_anchor_hour", sched.FallbackAnchorHour)
	v.SetDefault("reminders.balanced_offset_hours", sched.BalancedOffsetHours)
	v.SetDefault("reminders.persistent_offset_hours", sched.PersistentOffsetHours)
	v.SetDefault("reminders.last_chance_hour", sched.LastChanceHour)
	v.SetDefault("reminders.dispatch_rate", 50.0)
	v.SetDefault("reminders.dispatch_burst", 10)

	v.SetDefault("patterns.lookback_days", pat.LookbackDays)
	v.SetDefault("patterns.min_samples", pat.MinSamples)
	v.SetDefault("patterns.coverage", pat.Coverage)
	v.SetDefault("patterns.min_width", pat.MinWidth)
	v.SetDefault("patterns.max_width", pat.MaxWidth)
	v.SetDefault("patterns.saturation_samples", pat.SaturationSamples)
	v.SetDefault("patterns.min_bucket_confidence", pat.MinBucketConfidence)
	v.SetDefault("patterns.workers", 4)
	v.SetDefault("patterns.recalc_timeout", 2*time.Second)
	v.SetDefault("patterns.recalc_per_minute", 6)

	v.SetDefault("effectiveness.lookback", eff.Lookback)
	v.SetDefault("effectiveness.retention", eff.Retention)
	v.SetDefault("effectiveness.suppress", false)
	v.SetDefault("effectiveness.suppress_window", sup.Window)
	v.SetDefault("effectiveness.suppress_min_labeled", sup.MinLabeled)
	v.SetDefault("effectiveness.suppress_below", sup.Below)

	v.SetDefault("push.vapid_public_key", "")
	v.SetDefault("push.vapid_private_key", "")
	v.SetDefault("push.vapid_subscriber", "")
	v.SetDefault("push.fcm_credentials_file", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", time.Hour)

	v.SetDefault("websocket.origin_patterns", []string{})
}

// BindEnv makes PURSUE_REMINDERS_WORKERS override reminders.workers and so on.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load reads the optional config file, decodes everything into a Config and
// validates it.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges. Credentials are checked by RequireServe, since
// one-shot commands run without them.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	hour := func(h int) bool { return h >= 0 && h <= 23 }

	check(c.DBPath != "", "db_path is required")

	r := c.Reminders
	check(r.Workers >= 1, "reminders.workers must be at least 1")
	check(r.ClaimTTL > 0, "reminders.claim_ttl must be positive")
	check(r.StaleAfter > 0, "reminders.stale_after must be positive")
	check(hour(r.FallbackAnchorHour), "reminders.fallback_anchor_hour must be 0-23")
	check(hour(r.LastChanceHour), "reminders.last_chance_hour must be 0-23")
	check(r.BalancedOffsetHours > 0, "reminders.balanced_offset_hours must be positive")
	check(r.PersistentOffsetHours > 0, "reminders.persistent_offset_hours must be positive")
	check(r.DispatchRate >= 0, "reminders.dispatch_rate must not be negative")

	p := c.Patterns
	check(p.LookbackDays > 0, "patterns.lookback_days must be positive")
	check(p.MinSamples >= 1, "patterns.min_samples must be at least 1")
	check(p.Coverage > 0 && p.Coverage <= 1, "patterns.coverage must be in (0, 1]")
	check(p.MinWidth >= 1 && p.MinWidth <= p.MaxWidth && p.MaxWidth <= 23,
		"patterns.min_width and max_width must satisfy 1 <= min <= max <= 23")
	check(p.SaturationSamples >= 1, "patterns.saturation_samples must be at least 1")
	check(p.MinBucketConfidence >= 0 && p.MinBucketConfidence <= 1, "patterns.min_bucket_confidence must be in [0, 1]")
	check(p.Workers >= 1, "patterns.workers must be at least 1")
	check(p.RecalcTimeout > 0, "patterns.recalc_timeout must be positive")

	e := c.Effectiveness
	check(e.Lookback > 0, "effectiveness.lookback must be positive")
	check(e.SuppressBelow >= 0 && e.SuppressBelow <= 1, "effectiveness.suppress_below must be in [0, 1]")

	s := c.Scheduler
	if s.Enabled {
		check(s.ProcessInterval > 0 && s.PatternInterval > 0 && s.EffectivenessInterval > 0,
			"scheduler intervals must be positive when the scheduler is enabled")
	}

	check((c.Push.VAPIDPublicKey == "") == (c.Push.VAPIDPrivateKey == ""),
		"push.vapid_public_key and push.vapid_private_key must be set together")

	return errors.Join(errs...)
}

// RequireServe checks what the HTTP server needs on top of Validate.
func (c *Config) RequireServe() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Auth.InternalKeyHash == "" {
		errs = append(errs, errors.New("auth.internal_key_hash is required (see `pursue hash-key`)"))
	}
	return errors.Join(errs...)
}

func (r RemindersConfig) Schedule() reminder.Config {
	return reminder.Config{
		FallbackAnchorHour:    r.FallbackAnchorHour,
		BalancedOffsetHours:   r.BalancedOffsetHours,
		PersistentOffsetHours: r.PersistentOffsetHours,
		LastChanceHour:        r.LastChanceHour,
		StaleAfter:            r.StaleAfter,
	}
}

func (p PatternsConfig) Analyzer() pattern.Config {
	return pattern.Config{
		LookbackDays:        p.LookbackDays,
		MinSamples:          p.MinSamples,
		Coverage:            p.Coverage,
		MinWidth:            p.MinWidth,
		MaxWidth:            p.MaxWidth,
		SaturationSamples:   p.SaturationSamples,
		MinBucketConfidence: p.MinBucketConfidence,
	}
}

func (e EffectivenessConfig) Tracker() effectiveness.Config {
	return effectiveness.Config{Lookback: e.Lookback, Retention: e.Retention}
}

func (e EffectivenessConfig) Threshold() effectiveness.ThresholdConfig {
	return effectiveness.ThresholdConfig{
		Window:     e.SuppressWindow,
		MinLabeled: e.SuppressMinLabeled,
		Below:      e.SuppressBelow,
	}
}
