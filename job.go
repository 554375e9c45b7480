package adaptq

import "time"

// Job represents a unit of work dispatched by a Queue.
type Job struct {
	// ID identifies the job among those currently tracked by the queue.
	// An empty ID is replaced with a random UUID on enqueue.
	ID string
	// Type names the action to perform, used by Mux to route to a processor.
	Type string
	// Payload is opaque caller data, e.g. the post to process.
	Payload any
	// Priority orders dispatch; higher values start first.
	Priority int
	// Attempt is the number of retries made so far. The queue resets it on enqueue.
	Attempt int
	// MaxAttempts caps retries. Values <= 0 inherit the queue's MaxRetries.
	MaxAttempts int
	// EnqueuedAt is set when the job enters the queue.
	EnqueuedAt time.Time
	// StartedAt is set when the current attempt starts.
	StartedAt time.Time
	// FinishedAt is set when the current attempt settles or the job is
	// cancelled. It is zero while the attempt runs.
	FinishedAt time.Time
	// Progress is the last value reported through SetProgress during the
	// current attempt. It is only populated on copies handed to hooks.
	Progress int

	seq   int64
	index int
}

// JobInfo is the read-only view of the running job exposed through the
// processor context.
type JobInfo struct {
	ID          string
	Type        string
	Priority    int
	Attempt     int
	MaxAttempts int
}

func (j *Job) info() JobInfo {
	return JobInfo{ID: j.ID, Type: j.Type, Priority: j.Priority, Attempt: j.Attempt, MaxAttempts: j.MaxAttempts}
}

// clone returns a copy that observers can keep without racing the queue.
func (j *Job) clone() *Job {
	c := *j
	return &c
}
