package adaptq

import (
	"context"
	"sync"
	"time"
)

// CircuitState is the state of a Breaker.
type CircuitState int

const (
	// CircuitClosed lets every call through.
	CircuitClosed CircuitState = iota
	// CircuitHalfOpen lets trial calls through after the cooldown.
	CircuitHalfOpen
	// CircuitOpen rejects calls until the cooldown elapses.
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half-open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker. Zero fields take the defaults of
// DefaultBreakerConfig.
type BreakerConfig struct {
	// FailureThreshold is the number of counted failures that opens a closed circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes the circuit.
	SuccessThreshold int
	// Timeout is the cooldown an open circuit waits before allowing a trial call.
	Timeout time.Duration
	// VolumeThreshold is the minimum number of requests before the circuit may open.
	VolumeThreshold int
	// ErrorFilter reports whether an error counts as a failure. Nil counts
	// every error. It runs outside the breaker lock and may call back into
	// the breaker.
	ErrorFilter func(error) bool
}

// DefaultBreakerConfig returns the stock thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		VolumeThreshold:  5,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = def.VolumeThreshold
	}
	if c.ErrorFilter == nil {
		c.ErrorFilter = countAll
	}
	return c
}

func countAll(error) bool { return true }

// IgnoreCancelled is an ErrorFilter that counts every error except
// cancellations.
func IgnoreCancelled(err error) bool { return !IsCancelled(err) }

// CountRetryable is an ErrorFilter that only counts retryable failures, so
// that e.g. validation errors caused by the caller never trip the circuit.
func CountRetryable(err error) bool { return IsRetryable(err) }

// StateChange describes a circuit transition.
type StateChange struct {
	Name string
	From CircuitState
	To   CircuitState
	At   time.Time
}

// BreakerStats is a point-in-time snapshot of a Breaker.
type BreakerStats struct {
	Name              string
	State             CircuitState
	Failures          int
	HalfOpenSuccesses int
	TotalRequests     int64
	LastFailure       time.Time
	LastSuccess       time.Time
	OpenedAt          time.Time
	// RetryAt is when an open circuit will admit a trial call. Zero unless open.
	RetryAt time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithBreakerLogger sets the logger used for transitions.
func WithBreakerLogger(l Logger) BreakerOption {
	return func(b *Breaker) {
		if l != nil {
			b.log = l
		}
	}
}

// Breaker isolates callers from a failing dependency. Use one Breaker per
// upstream; breakers share no state.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time
	log  Logger

	mu                sync.Mutex
	state             CircuitState
	failures          int
	halfOpenSuccesses int
	totalRequests     int64
	lastFailure       time.Time
	lastSuccess       time.Time
	openedAt          time.Time
	listeners         map[uint64]func(StateChange)
	nextListener      uint64
}

// NewBreaker creates a closed breaker for the named dependency.
func NewBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:      name,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		log:       noopLogger{},
		listeners: make(map[uint64]func(StateChange)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the dependency name.
func (b *Breaker) Name() string { return b.name }

// Do runs op through the breaker. When the circuit is open and cooling down
// op is not invoked and a *CircuitOpenError is returned.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	_, err := Execute(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Execute runs op through b and returns its result.
func Execute[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	res, err := op(ctx)
	b.record(err)
	return res, err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	var changes []StateChange
	if b.state == CircuitOpen {
		remaining := b.retryAtLocked().Sub(b.now())
		if remaining > 0 {
			b.mu.Unlock()
			return &CircuitOpenError{Name: b.name, Remaining: remaining}
		}
		changes = append(changes, b.transition(CircuitHalfOpen))
	}
	b.totalRequests++
	b.mu.Unlock()
	b.notify(changes)
	return nil
}

func (b *Breaker) record(err error) {
	counted := err != nil && b.cfg.ErrorFilter(err)

	b.mu.Lock()
	var changes []StateChange
	now := b.now()
	if err == nil {
		b.lastSuccess = now
		switch b.state {
		case CircuitHalfOpen:
			b.halfOpenSuccesses++
			if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
				changes = append(changes, b.transition(CircuitClosed))
			}
		case CircuitClosed:
			b.failures = 0
		}
		b.mu.Unlock()
		b.notify(changes)
		return
	}

	if !counted {
		b.mu.Unlock()
		return
	}
	b.failures++
	b.lastFailure = now
	switch b.state {
	case CircuitHalfOpen:
		changes = append(changes, b.transition(CircuitOpen))
	case CircuitClosed:
		if b.totalRequests >= int64(b.cfg.VolumeThreshold) && b.failures >= b.cfg.FailureThreshold {
			changes = append(changes, b.transition(CircuitOpen))
		}
	}
	b.mu.Unlock()
	b.notify(changes)
}

// retryAtLocked is when an open circuit admits a trial call: Timeout after
// the later of the opening and the last counted failure.
func (b *Breaker) retryAtLocked() time.Time {
	from := b.openedAt
	if b.lastFailure.After(from) {
		from = b.lastFailure
	}
	return from.Add(b.cfg.Timeout)
}

// transition must be called with mu held.
func (b *Breaker) transition(to CircuitState) StateChange {
	ch := StateChange{Name: b.name, From: b.state, To: to, At: b.now()}
	b.state = to
	switch to {
	case CircuitOpen:
		b.openedAt = ch.At
		b.halfOpenSuccesses = 0
	case CircuitHalfOpen:
		b.halfOpenSuccesses = 0
	case CircuitClosed:
		b.failures = 0
		b.halfOpenSuccesses = 0
		b.openedAt = time.Time{}
	}
	return ch
}

func (b *Breaker) notify(changes []StateChange) {
	if len(changes) == 0 {
		return
	}
	b.mu.Lock()
	listeners := make([]func(StateChange), 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, ch := range changes {
		if ch.From == ch.To {
			continue
		}
		b.log.Infof("circuit %s: %s -> %s", b.name, ch.From, ch.To)
		for _, fn := range listeners {
			b.safeCall(fn, ch)
		}
	}
}

func (b *Breaker) safeCall(fn func(StateChange), ch StateChange) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("circuit %s: state listener panic: %v", b.name, r)
		}
	}()
	fn(ch)
}

// Subscribe registers fn for state changes and returns a function that
// removes it.
func (b *Breaker) Subscribe(fn func(StateChange)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextListener
	b.nextListener++
	b.listeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// State returns the current state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := BreakerStats{
		Name:              b.name,
		State:             b.state,
		Failures:          b.failures,
		HalfOpenSuccesses: b.halfOpenSuccesses,
		TotalRequests:     b.totalRequests,
		LastFailure:       b.lastFailure,
		LastSuccess:       b.lastSuccess,
		OpenedAt:          b.openedAt,
	}
	if b.state == CircuitOpen {
		st.RetryAt = b.retryAtLocked()
	}
	return st
}

// ForceOpen opens the circuit now; the cooldown starts from this moment.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	ch := b.transition(CircuitOpen)
	b.mu.Unlock()
	b.notify([]StateChange{ch})
}

// ForceClose closes the circuit and clears failure counters.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	ch := b.transition(CircuitClosed)
	b.mu.Unlock()
	b.notify([]StateChange{ch})
}

// Reset returns the breaker to its initial state, including request totals.
func (b *Breaker) Reset() {
	b.mu.Lock()
	ch := b.transition(CircuitClosed)
	b.totalRequests = 0
	b.lastFailure = time.Time{}
	b.lastSuccess = time.Time{}
	b.mu.Unlock()
	b.notify([]StateChange{ch})
}
