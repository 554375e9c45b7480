package hctx

import (
	"context"
	"sync"
)

// State holds per-run metadata shared between the queue and the processor.
// The job fields are fixed at creation; Progress is written by the processor.
type State struct {
	JobID       string
	JobType     string
	Priority    int
	Attempt     int
	MaxAttempts int

	mu       sync.Mutex
	progress int
}

// New creates a fresh run state container.
func New() *State { return &State{} }

// SetProgress stores p clamped to 0..100.
func (s *State) SetProgress(p int) {
	if p < 0 {
		p = 0
	} else if p > 100 {
		p = 100
	}
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
}

// Progress returns the last reported progress.
func (s *State) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

type ctxKey struct{}

// WithState returns a child context carrying the given run state.
func WithState(parent context.Context, s *State) context.Context {
	return context.WithValue(parent, ctxKey{}, s)
}

// From extracts the run state from context if present.
func From(ctx context.Context) (*State, bool) {
	v := ctx.Value(ctxKey{})
	if v == nil {
		return nil, false
	}
	st, ok := v.(*State)
	return st, ok
}
