package config

import (
	"time"

	adaptq "github.com/UniQw/adaptq-go"
)

// AppConfig represents the top-level configuration of the adaptq CLI.
type AppConfig struct {
	Queue    QueueConfig     `yaml:"queue"`
	Breaker  BreakerConfig   `yaml:"breaker"`
	Handlers []HandlerConfig `yaml:"handlers"`
	Journal  JournalConfig   `yaml:"journal"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// QueueConfig holds the adaptive queue settings.
type QueueConfig struct {
	Name           string        `yaml:"name"`
	Concurrency    int           `yaml:"concurrency"`
	MaxRetries     *int          `yaml:"max_retries"` // nil = library default
	RetryDelayBase time.Duration `yaml:"retry_delay_base"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	PenaltyDelay   time.Duration `yaml:"penalty_delay"`
	ErrorThreshold int           `yaml:"error_threshold"`
	IncreaseAfter  int           `yaml:"increase_after"`
}

// BreakerConfig holds the thresholds shared by every per-host breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	VolumeThreshold  int           `yaml:"volume_threshold"`
}

// HandlerConfig maps a job type to an HTTP endpoint.
type HandlerConfig struct {
	Type    string            `yaml:"type"`
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
	Retry   RetryConfig       `yaml:"retry"`
}

// RetryConfig enables in-attempt retries of a handler's request.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"` // 0 = disabled
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// Journal drivers.
const (
	DriverNone   = ""
	DriverRedis  = "redis"
	DriverBadger = "badger"
)

// JournalConfig selects where terminal outcomes are recorded.
type JournalConfig struct {
	Driver         string        `yaml:"driver"` // redis, badger or empty
	Redis          RedisConfig   `yaml:"redis"`
	Badger         BadgerConfig  `yaml:"badger"`
	Retention      time.Duration `yaml:"retention"`
	ErrorRetention time.Duration `yaml:"error_retention"` // 0 = forever
	PurgeInterval  time.Duration `yaml:"purge_interval"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// BadgerConfig holds the BadgerDB location. An empty Dir keeps it in memory.
type BadgerConfig struct {
	Dir string `yaml:"dir"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr      string `yaml:"addr"` // empty disables the endpoint
	Namespace string `yaml:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Options converts the queue settings into queue options.
func (c QueueConfig) Options() []adaptq.Option {
	opts := []adaptq.Option{
		adaptq.WithConcurrency(c.Concurrency),
		adaptq.WithRetryBackoff(adaptq.Backoff{
			Base:       c.RetryDelayBase,
			Multiplier: 2,
			Max:        c.RetryMaxDelay,
			Jitter:     adaptq.DefaultJitter,
		}),
		adaptq.WithPenaltyDelay(c.PenaltyDelay),
		adaptq.WithErrorThreshold(c.ErrorThreshold),
		adaptq.WithIncreaseAfter(c.IncreaseAfter),
	}
	if c.MaxRetries != nil {
		opts = append(opts, adaptq.WithMaxRetries(*c.MaxRetries))
	}
	return opts
}

// Adaptq converts the breaker settings. Cancelled calls are not counted as
// failures.
func (c BreakerConfig) Adaptq() adaptq.BreakerConfig {
	return adaptq.BreakerConfig{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		Timeout:          c.Timeout,
		VolumeThreshold:  c.VolumeThreshold,
		ErrorFilter:      adaptq.IgnoreCancelled,
	}
}

// Adaptq converts the handler retry settings.
func (c RetryConfig) Adaptq() adaptq.RetryConfig {
	rc := adaptq.DefaultRetryConfig()
	rc.MaxRetries = c.MaxRetries
	if c.BaseDelay > 0 {
		rc.BaseDelay = c.BaseDelay
	}
	if c.MaxDelay > 0 {
		rc.MaxDelay = c.MaxDelay
	}
	return rc
}
