package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	adaptq "github.com/UniQw/adaptq-go"
	"github.com/stretchr/testify/require"
)

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("TEST_REDIS_URL", "redis://localhost:6380/2")
	t.Setenv("TEST_API_TOKEN", "secret")

	content := `
queue:
  name: images
  concurrency: 5
  max_retries: 0
  penalty_delay: 2s
handlers:
  - type: generate
    url: https://api.example.com/v1/images
    headers:
      Authorization: Bearer ${TEST_API_TOKEN}
    timeout: 45s
    retry:
      max_retries: 2
      base_delay: 100ms
journal:
  driver: Redis
  redis:
    url: ${TEST_REDIS_URL}
  error_retention: 72h
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "images", cfg.Queue.Name)
	require.Equal(t, 5, cfg.Queue.Concurrency)
	require.NotNil(t, cfg.Queue.MaxRetries)
	require.Equal(t, 0, *cfg.Queue.MaxRetries)
	require.Equal(t, 2*time.Second, cfg.Queue.PenaltyDelay)

	h, ok := cfg.HandlerFor("generate")
	require.True(t, ok)
	require.Equal(t, "POST", h.Method)
	require.Equal(t, "Bearer secret", h.Headers["Authorization"])
	require.Equal(t, 45*time.Second, h.Timeout)
	require.Equal(t, 2, h.Retry.Adaptq().MaxRetries)
	require.Equal(t, 100*time.Millisecond, h.Retry.Adaptq().BaseDelay)

	require.Equal(t, DriverRedis, cfg.Journal.Driver)
	require.Equal(t, "redis://localhost:6380/2", cfg.Journal.Redis.URL)
	require.Equal(t, 72*time.Hour, cfg.Journal.ErrorRetention)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("handlers:\n  - type: ping\n    url: http://localhost/ping\n    method: get\n"))
	require.NoError(t, err)

	require.Equal(t, DefaultQueueName, cfg.Queue.Name)
	require.Equal(t, 3, cfg.Queue.Concurrency)
	require.Nil(t, cfg.Queue.MaxRetries)
	require.Equal(t, 2*time.Second, cfg.Queue.RetryDelayBase)
	require.Equal(t, 5*time.Second, cfg.Queue.PenaltyDelay)
	require.Equal(t, 2, cfg.Queue.ErrorThreshold)
	require.Equal(t, 5, cfg.Queue.IncreaseAfter)
	require.Equal(t, "GET", cfg.Handlers[0].Method)
	require.Equal(t, DefaultHandlerTimeout, cfg.Handlers[0].Timeout)
	require.Equal(t, DriverNone, cfg.Journal.Driver)
	require.Equal(t, DefaultRetention, cfg.Journal.Retention)
	require.Equal(t, DefaultNamespace, cfg.Metrics.Namespace)
	require.Equal(t, "info", cfg.Logging.Level)

	_, ok := cfg.HandlerFor("missing")
	require.False(t, ok)
}

func TestParse_Invalid(t *testing.T) {
	content := `
queue:
  concurrency: -1
handlers:
  - type: a
    url: http://a
  - type: a
  - url: http://b
journal:
  driver: postgres
`
	_, err := Parse([]byte(content))
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "queue.concurrency")
	require.Contains(t, msg, `duplicate type "a"`)
	require.Contains(t, msg, "handlers[1]: url is required")
	require.Contains(t, msg, "handlers[2]: type is required")
	require.Contains(t, msg, `unknown driver "postgres"`)

	_, err = Parse([]byte("journal:\n  driver: redis\n"))
	require.ErrorContains(t, err, "journal.redis.url")

	_, err = Parse([]byte("queue: [not, a, map]"))
	require.ErrorContains(t, err, "failed to parse config file")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to read config file")
}

func TestQueueConfig_Options(t *testing.T) {
	zero := 0
	qc := QueueConfig{Concurrency: 2, MaxRetries: &zero, RetryDelayBase: time.Millisecond, RetryMaxDelay: time.Millisecond}
	q := adaptq.NewQueue(func(_ context.Context, _ *adaptq.Job) (any, error) {
		return nil, adaptq.NewError(adaptq.KindServerError, "503")
	}, qc.Options()...)
	defer q.Close()

	st := q.State()
	require.Equal(t, 2, st.MaxConcurrency)
	require.Equal(t, 2, st.Limit)
}

func TestBreakerConfig_Adaptq(t *testing.T) {
	bc := BreakerConfig{FailureThreshold: 1, VolumeThreshold: 1, Timeout: time.Minute}.Adaptq()
	require.Equal(t, 1, bc.FailureThreshold)
	require.Equal(t, time.Minute, bc.Timeout)
	require.Zero(t, bc.SuccessThreshold)
	require.False(t, bc.ErrorFilter(context.Canceled), "interrupted batches do not trip breakers")
	require.True(t, bc.ErrorFilter(adaptq.NewError(adaptq.KindServerError, "boom")))
}
