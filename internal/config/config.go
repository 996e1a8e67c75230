package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Postgres   DatabaseConfig   `mapstructure:"postgres"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Log        LogConfig        `mapstructure:"log"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Reputation ReputationConfig `mapstructure:"reputation"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	EventsTopic    string   `mapstructure:"events_topic"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

// RateLimitConfig holds the dual-threshold admission defaults. Per-company
// overrides from the companies table win over these values.
type RateLimitConfig struct {
	RPS          int           `mapstructure:"rps"`
	Burst        int           `mapstructure:"burst"`
	Window       time.Duration `mapstructure:"window"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
}

type DispatchConfig struct {
	MaxEnqueueAttempts int           `mapstructure:"max_enqueue_attempts"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	BaseDelay          time.Duration `mapstructure:"base_delay"`
}

type QueueConfig struct {
	EmailQueue       string `mapstructure:"email_queue"`
	WebhookQueue     string `mapstructure:"webhook_queue"`
	UnhealthyWaiting int64  `mapstructure:"unhealthy_waiting"`
	UnhealthyFailed  int64  `mapstructure:"unhealthy_failed"`
}

type WebhookConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	SendsPerSecond int           `mapstructure:"sends_per_second"`
	BreakerFails   int           `mapstructure:"breaker_fails"`
	BreakerOpenFor time.Duration `mapstructure:"breaker_open_for"`
	Workers        int           `mapstructure:"workers"`
}

type ReconcileConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	StaleAge  time.Duration `mapstructure:"stale_age"`
	BatchSize int           `mapstructure:"batch_size"`
}

type ReputationConfig struct {
	WindowDays int `mapstructure:"window_days"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies
// env overrides (EMAILGW_*). Thresholds are validated once here, never
// re-parsed per request.
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (EMAILGW_*)
	v.SetEnvPrefix("EMAILGW")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("config: rate_limit rps/burst must be positive (got rps=%d burst=%d)", c.RateLimit.RPS, c.RateLimit.Burst)
	}
	if c.RateLimit.Burst < c.RateLimit.RPS {
		return fmt.Errorf("config: rate_limit burst (%d) must be >= rps (%d)", c.RateLimit.Burst, c.RateLimit.RPS)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("config: rate_limit window must be positive")
	}
	if c.Dispatch.MaxAttempts <= 0 || c.Dispatch.BaseDelay <= 0 {
		return fmt.Errorf("config: dispatch max_attempts/base_delay must be positive")
	}
	if c.Webhook.MaxAttempts <= 0 || c.Webhook.BaseDelay <= 0 {
		return fmt.Errorf("config: webhook max_attempts/base_delay must be positive")
	}
	return nil
}
