package journal

import (
	"context"
	"encoding/json"
	"time"

	adaptq "github.com/UniQw/adaptq-go"
)

// writeTimeout bounds each journal write made from queue hooks.
const writeTimeout = 5 * time.Second

// Hooks returns queue hooks that record every terminal outcome in j under
// queue. Write failures are logged; they never affect the queue.
func Hooks(j Journal, queue string, log adaptq.Logger, opts ...Option) adaptq.Hooks {
	if log == nil {
		log = adaptq.NewSlogLogger(nil)
	}
	r := &recorder{j: j, queue: queue, log: log, opts: opts, enc: &adaptq.JSONEncoder{}}
	return adaptq.Hooks{
		OnJobComplete: func(job *adaptq.Job, result any) {
			rec := r.record(job, adaptq.StateSucceeded)
			rec.Result = r.encode(job.ID, result)
			r.write(rec)
		},
		OnJobError: func(job *adaptq.Job, err error) {
			rec := r.record(job, adaptq.StateFailed)
			rec.Kind = adaptq.Classify(err)
			rec.Error = err.Error()
			r.write(rec)
		},
		OnJobCancel: func(job *adaptq.Job) {
			rec := r.record(job, adaptq.StateCancelled)
			rec.Kind = adaptq.KindCancelled
			r.write(rec)
		},
	}
}

type recorder struct {
	j     Journal
	queue string
	log   adaptq.Logger
	opts  []Option
	enc   adaptq.Encoder
}

func (r *recorder) record(job *adaptq.Job, state adaptq.JobState) *Record {
	rec := &Record{
		ID:          job.ID,
		Type:        job.Type,
		Queue:       r.queue,
		Payload:     r.encode(job.ID, job.Payload),
		State:       state,
		Priority:    job.Priority,
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
		Progress:    job.Progress,
		CompletedAt: time.Now().UnixMilli(),
	}
	if !job.EnqueuedAt.IsZero() {
		rec.EnqueuedAt = job.EnqueuedAt.UnixMilli()
	}
	if !job.StartedAt.IsZero() {
		rec.StartedAt = job.StartedAt.UnixMilli()
	}
	if !job.FinishedAt.IsZero() {
		rec.CompletedAt = job.FinishedAt.UnixMilli()
	}
	return rec
}

// encode keeps raw JSON as it is, stores other raw bytes as a JSON string
// and encodes everything else.
func (r *recorder) encode(id string, v any) json.RawMessage {
	var raw []byte
	switch p := v.(type) {
	case nil:
		return nil
	case []byte:
		raw = p
	case json.RawMessage:
		raw = p
	}
	if raw != nil {
		if json.Valid(raw) {
			return raw
		}
		v = string(raw)
	}
	b, err := r.enc.Encode(v)
	if err != nil {
		r.log.Warnf("journal: encode %s: %v", id, err)
		return nil
	}
	return b
}

func (r *recorder) write(rec *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.j.Record(ctx, rec, r.opts...); err != nil {
		r.log.Errorf("journal: record %s (%s): %v", rec.ID, rec.State, err)
	}
}
