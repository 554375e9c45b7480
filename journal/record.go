// Package journal records terminal job outcomes (succeeded, failed,
// cancelled) so they can be inspected after the queue has forgotten them.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	adaptq "github.com/UniQw/adaptq-go"
)

var (
	// ErrRecordNotFound is returned when no record matches the given ID.
	ErrRecordNotFound = errors.New("journal: record not found")
	// ErrNotTerminal is returned when recording a job that has not finished.
	ErrNotTerminal = errors.New("journal: state is not terminal")
)

// Record is the stored outcome of one job.
type Record struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	State       adaptq.JobState `json:"state"`
	Priority    int             `json:"priority,omitempty"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Kind        adaptq.Kind     `json:"kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	Progress    int             `json:"progress,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	// Timestamps in unix milliseconds.
	EnqueuedAt  int64 `json:"enqueued_at,omitempty"`
	StartedAt   int64 `json:"started_at,omitempty"`
	CompletedAt int64 `json:"completed_at,omitempty"`
}

// Filter is a function used to filter records during List.
type Filter func(*Record) bool

// Journal stores terminal outcomes per queue.
type Journal interface {
	// Record stores rec according to its state and the retention options.
	Record(ctx context.Context, rec *Record, opts ...Option) error
	// List returns the records of one terminal state for the queue.
	List(ctx context.Context, queue string, state adaptq.JobState, filter Filter) ([]*Record, error)
	// Get returns the record with the given ID in any terminal state.
	Get(ctx context.Context, queue, id string) (*Record, error)
	// Delete removes the record with the given ID.
	Delete(ctx context.Context, queue, id string) error
	// Queues returns the sorted names of queues with recorded outcomes.
	Queues(ctx context.Context) ([]string, error)
	// Purge drops expired records and returns how many were removed.
	Purge(ctx context.Context) (int, error)
	Close() error
}

// terminalStates are the states a Journal stores.
var terminalStates = []adaptq.JobState{adaptq.StateSucceeded, adaptq.StateFailed, adaptq.StateCancelled}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// prepare validates rec and fills defaults shared by every journal.
func prepare(rec *Record) error {
	if !rec.State.Terminal() {
		return ErrNotTerminal
	}
	if rec.CompletedAt == 0 {
		rec.CompletedAt = time.Now().UnixMilli()
	}
	rec.Progress = clampProgress(rec.Progress)
	return nil
}
