package adaptq

import (
	"context"
	"fmt"
	"time"
)

// Middleware wraps a Processor to provide cross-cutting concerns.
type Middleware func(Processor) Processor

// Mux routes jobs to processors based on Job.Type.
type Mux struct {
	handlers    map[string]Processor
	encoder     Encoder
	middlewares []Middleware
}

// NewMux creates a new Mux.
func NewMux() *Mux {
	return &Mux{
		handlers:    make(map[string]Processor),
		encoder:     &JSONEncoder{},
		middlewares: []Middleware{},
	}
}

// Handle registers a processor for a job type, replacing any previous one.
func (m *Mux) Handle(jobType string, p Processor) {
	m.handlers[jobType] = p
}

// HandlePayload registers fn for a job type, decoding the job payload into T
// first. Raw payloads ([]byte, json.RawMessage, string) are decoded with the
// mux encoder; a payload that cannot be decoded fails with a Validation error.
func HandlePayload[T any](m *Mux, jobType string, fn func(ctx context.Context, job *Job, payload T) (any, error)) {
	m.Handle(jobType, func(ctx context.Context, job *Job) (any, error) {
		v, err := decodePayload[T](m.encoder, job.Payload)
		if err != nil {
			return nil, err
		}
		return fn(ctx, job, v)
	})
}

// Use adds middleware(s) to the mux. Middlewares are executed in the order they are added.
func (m *Mux) Use(mw ...Middleware) {
	m.middlewares = append(m.middlewares, mw...)
}

// Process routes job to its processor. Unknown types fail with ErrNoHandler.
func (m *Mux) Process(ctx context.Context, job *Job) (any, error) {
	p, ok := m.handlers[job.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoHandler, job.Type)
	}
	return m.wrap(p)(ctx, job)
}

// Processor returns the mux as a Processor for NewQueue.
func (m *Mux) Processor() Processor { return m.Process }

func (m *Mux) wrap(p Processor) Processor {
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		p = m.middlewares[i](p)
	}
	return p
}

// Guard runs every job through b. An open circuit fails the job with a
// retryable CircuitOpen error carrying the remaining cooldown.
func Guard(b *Breaker) Middleware {
	return func(next Processor) Processor {
		return func(ctx context.Context, job *Job) (any, error) {
			return Execute(ctx, b, func(ctx context.Context) (any, error) { return next(ctx, job) })
		}
	}
}

// GuardBy picks a breaker per job, e.g. per upstream host. Jobs for which key
// returns "" are not guarded.
func GuardBy(r *Breakers, key func(*Job) string) Middleware {
	return func(next Processor) Processor {
		return func(ctx context.Context, job *Job) (any, error) {
			name := key(job)
			if name == "" {
				return next(ctx, job)
			}
			return Execute(ctx, r.Get(name), func(ctx context.Context) (any, error) { return next(ctx, job) })
		}
	}
}

// WithRetry retries the wrapped processor in place, inside a single queue
// attempt. Use it for cheap nested calls; queue-level retries release the
// slot while they wait.
func WithRetry(cfg RetryConfig, opts ...RetryOption) Middleware {
	return func(next Processor) Processor {
		return func(ctx context.Context, job *Job) (any, error) {
			return Retry(ctx, cfg, func(ctx context.Context) (any, error) { return next(ctx, job) }, opts...)
		}
	}
}

// Timeout bounds each run of the wrapped processor. A run that exceeds d
// fails with a Timeout error, which the queue retries.
func Timeout(d time.Duration) Middleware {
	return func(next Processor) Processor {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, job *Job) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			res, err := next(ctx, job)
			if err != nil && ctx.Err() == context.DeadlineExceeded {
				return res, &Error{Kind: KindTimeout, Message: fmt.Sprintf("job %s exceeded %s", job.ID, d), errs: []error{err}}
			}
			return res, err
		}
	}
}
