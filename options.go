package adaptq

import "time"

const (
	defaultConcurrency    = 3
	defaultMaxRetries     = 3
	defaultRetryDelayBase = 2 * time.Second
	defaultRetryMaxDelay  = 30 * time.Second
	defaultPenaltyDelay   = 5 * time.Second
	defaultErrorThreshold = 2
	defaultIncreaseAfter  = 5
)

type options struct {
	concurrency    int
	maxRetries     int
	backoff        Backoff
	shouldRetry    func(err error, job *Job) bool
	hooks          []Hooks
	log            Logger
	penaltyDelay   time.Duration
	errorThreshold int
	increaseAfter  int
	startPaused    bool
	jitter         JitterSource
}

func defaultOptions() options {
	return options{
		concurrency: defaultConcurrency,
		maxRetries:  defaultMaxRetries,
		backoff: Backoff{
			Base:       defaultRetryDelayBase,
			Multiplier: 2,
			Max:        defaultRetryMaxDelay,
			Jitter:     DefaultJitter,
		},
		shouldRetry:    func(err error, _ *Job) bool { return IsRetryable(err) },
		log:            noopLogger{},
		penaltyDelay:   defaultPenaltyDelay,
		errorThreshold: defaultErrorThreshold,
		increaseAfter:  defaultIncreaseAfter,
	}
}

// Option configures a Queue.
type Option func(*options)

// WithConcurrency sets the maximum number of jobs running at once. The
// adaptive limit never exceeds it. Values < 1 are ignored.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.concurrency = n
		}
	}
}

// WithMaxRetries sets how many times a failed job is retried before it is
// reported as failed. Jobs may override it through Job.MaxAttempts.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithRetryDelayBase sets the delay before the first retry. Later retries
// grow exponentially from it.
func WithRetryDelayBase(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.backoff.Base = d
		}
	}
}

// WithRetryBackoff replaces the whole retry backoff policy.
func WithRetryBackoff(b Backoff) Option {
	return func(o *options) {
		o.backoff = b
	}
}

// WithShouldRetry replaces the predicate deciding whether a failed job is
// retried. The default is IsRetryable. The attempt cap applies regardless.
// fn runs on the job's goroutine without the queue lock, so it may call
// Queue methods; a panic fails the job permanently.
func WithShouldRetry(fn func(err error, job *Job) bool) Option {
	return func(o *options) {
		if fn != nil {
			o.shouldRetry = fn
		}
	}
}

// WithHooks registers observers. It may be given several times; hooks are
// called in registration order.
func WithHooks(h Hooks) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, h)
	}
}

// WithLogger sets the logger used for queue events.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithPenaltyDelay sets how long dispatch is held after the adaptive
// controller lowers the concurrency limit.
func WithPenaltyDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.penaltyDelay = d
		}
	}
}

// WithErrorThreshold sets how many consecutive failures are tolerated; the
// next one lowers the concurrency limit.
func WithErrorThreshold(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.errorThreshold = n
		}
	}
}

// WithIncreaseAfter sets how many consecutive successes raise the
// concurrency limit by one.
func WithIncreaseAfter(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.increaseAfter = n
		}
	}
}

// WithStartPaused creates the queue paused; call Resume to start dispatching.
func WithStartPaused() Option {
	return func(o *options) {
		o.startPaused = true
	}
}

// WithJitterSource replaces the random source of retry jitter, mostly for tests.
func WithJitterSource(src JitterSource) Option {
	return func(o *options) {
		o.jitter = src
	}
}
