package adaptq

// JobState is the lifecycle position of a job.
// Use the exported constants instead of raw strings to avoid typos.
type JobState string

const (
	// StatePending jobs wait in the backlog.
	StatePending JobState = "pending"
	// StateActive jobs are being processed.
	StateActive JobState = "active"
	// StateRetrying jobs wait out a backoff before re-entering the backlog.
	StateRetrying JobState = "retrying"
	// StateSucceeded jobs completed successfully.
	StateSucceeded JobState = "succeeded"
	// StateFailed jobs exhausted their retries or failed permanently.
	StateFailed JobState = "failed"
	// StateCancelled jobs were cancelled before finishing.
	StateCancelled JobState = "cancelled"
)

// AllStates lists every valid job state in a stable order.
var AllStates = []JobState{StatePending, StateActive, StateRetrying, StateSucceeded, StateFailed, StateCancelled}

// String returns the raw string value of the state.
func (s JobState) String() string { return string(s) }

// Terminal reports whether jobs in this state have left the queue.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// ParseJobState converts a string into a JobState, returning an error for unknown values.
func ParseJobState(s string) (JobState, error) {
	for _, st := range AllStates {
		if string(st) == s {
			return st, nil
		}
	}
	return "", ErrUnknownState
}
