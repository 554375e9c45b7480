// Package keys centralizes key construction for the outcome journal.
// It is kept in internal to avoid leaking key formats to public API.
package keys

import "strings"

const prefix = "adaptq:"

func Succeeded(q string) string { return prefix + "{" + q + "}:succeeded" }
func Failed(q string) string    { return prefix + "{" + q + "}:failed" }
func Cancelled(q string) string { return prefix + "{" + q + "}:cancelled" }

// FailedExpiry is a ZSET index that tracks when failed-list members should be purged.
// Members are the raw record JSON; scores are absolute expiration timestamps in ms.
func FailedExpiry(q string) string { return prefix + "{" + q + "}:failed_expiry" }

// CancelledExpiry is the FailedExpiry counterpart for the cancelled list.
func CancelledExpiry(q string) string { return prefix + "{" + q + "}:cancelled_expiry" }

// Queues is the SET of queue names that have journal entries.
func Queues() string { return prefix + "queues" }

// Queue holds all precomputed keys for a queue name to avoid repeated concatenations.
type Queue struct {
	Succeeded       string
	Failed          string
	FailedExpiry    string
	Cancelled       string
	CancelledExpiry string
}

// For returns a set of precomputed keys for the provided queue.
func For(q string) Queue {
	p := prefix + "{" + q + "}:"
	return Queue{
		Succeeded:       p + "succeeded",
		Failed:          p + "failed",
		FailedExpiry:    p + "failed_expiry",
		Cancelled:       p + "cancelled",
		CancelledExpiry: p + "cancelled_expiry",
	}
}

// QueueName parses a queue name from a raw key (e.g. "adaptq:{default}:failed"
// or a badger record key "rec:{default}:failed:<id>").
// It returns an empty string if the format is invalid.
func QueueName(key string) string {
	start := strings.Index(key, "{")
	if start == -1 {
		return ""
	}
	end := strings.Index(key, "}")
	if end == -1 || end <= start+1 {
		return ""
	}
	return key[start+1 : end]
}
