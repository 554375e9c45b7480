package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Defaults applied by Load.
const (
	DefaultQueueName     = "default"
	DefaultHandlerMethod = http.MethodPost
	DefaultHandlerTimeout = 30 * time.Second
	DefaultRetention     = 24 * time.Hour
	DefaultPurgeInterval = time.Second
	DefaultNamespace     = "adaptq"
)

// Load reads configuration from a YAML file. Environment variables in the
// file are expanded before parsing.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) setDefaults() {
	q := &c.Queue
	if q.Name == "" {
		q.Name = DefaultQueueName
	}
	if q.Concurrency == 0 {
		q.Concurrency = 3
	}
	if q.RetryDelayBase == 0 {
		q.RetryDelayBase = 2 * time.Second
	}
	if q.RetryMaxDelay == 0 {
		q.RetryMaxDelay = 30 * time.Second
	}
	if q.PenaltyDelay == 0 {
		q.PenaltyDelay = 5 * time.Second
	}
	if q.ErrorThreshold == 0 {
		q.ErrorThreshold = 2
	}
	if q.IncreaseAfter == 0 {
		q.IncreaseAfter = 5
	}

	for i := range c.Handlers {
		h := &c.Handlers[i]
		if h.Method == "" {
			h.Method = DefaultHandlerMethod
		}
		h.Method = strings.ToUpper(h.Method)
		if h.Timeout == 0 {
			h.Timeout = DefaultHandlerTimeout
		}
	}

	j := &c.Journal
	j.Driver = strings.ToLower(j.Driver)
	if j.Retention == 0 {
		j.Retention = DefaultRetention
	}
	if j.PurgeInterval == 0 {
		j.PurgeInterval = DefaultPurgeInterval
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultNamespace
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports every configuration problem at once.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Queue.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("queue.concurrency must be >= 1, got %d", c.Queue.Concurrency))
	}
	if c.Queue.MaxRetries != nil && *c.Queue.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("queue.max_retries must be >= 0, got %d", *c.Queue.MaxRetries))
	}

	seen := make(map[string]bool, len(c.Handlers))
	for i, h := range c.Handlers {
		switch {
		case h.Type == "":
			errs = append(errs, fmt.Errorf("handlers[%d]: type is required", i))
		case seen[h.Type]:
			errs = append(errs, fmt.Errorf("handlers[%d]: duplicate type %q", i, h.Type))
		}
		seen[h.Type] = true
		if h.URL == "" {
			errs = append(errs, fmt.Errorf("handlers[%d]: url is required", i))
		}
		if h.Retry.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("handlers[%d]: retry.max_retries must be >= 0", i))
		}
	}

	switch c.Journal.Driver {
	case DriverNone, DriverBadger:
	case DriverRedis:
		if c.Journal.Redis.URL == "" {
			errs = append(errs, errors.New("journal.redis.url is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("journal.driver: unknown driver %q", c.Journal.Driver))
	}
	return errors.Join(errs...)
}

// HandlerFor returns the handler configured for a job type.
func (c *AppConfig) HandlerFor(jobType string) (HandlerConfig, bool) {
	for _, h := range c.Handlers {
		if h.Type == jobType {
			return h, true
		}
	}
	return HandlerConfig{}, false
}
