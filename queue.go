package adaptq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/UniQw/adaptq-go/internal/hctx"
	"github.com/google/uuid"
)

// Processor performs one attempt of a job. ctx is cancelled when the job is
// cancelled or the queue is closed; processors should pass it to every
// blocking call.
type Processor func(ctx context.Context, job *Job) (any, error)

// QueueState is a point-in-time snapshot of a Queue.
type QueueState struct {
	// Running is true while the queue holds work: queued, active or
	// waiting for a retry.
	Running   bool
	Paused    bool
	Total     int
	Completed int
	Failed    int
	Retried   int
	Cancelled int
	Active    int
	Pending   int
	// Retrying counts jobs waiting out a retry backoff.
	Retrying int
	// Limit is the current adaptive concurrency limit.
	Limit          int
	MaxConcurrency int
}

// run is one attempt of a job.
type run struct {
	job *Job
	// snap is the job as it was when the attempt started. It is never
	// written, so it can be read without the queue lock.
	snap      *Job
	st        *hctx.State
	cancel    context.CancelFunc
	cancelled bool
}

// verdict is the retry decision for a failed attempt, taken before the
// queue lock is acquired.
type verdict struct {
	retry bool
	delay time.Duration
}

// Queue runs jobs through a Processor with bounded, adaptive concurrency,
// priority ordering and retries with backoff.
//
// All methods are safe for concurrent use and none of them block on
// running jobs, except Close and Wait.
type Queue struct {
	proc   Processor
	opts   options
	log    Logger
	ctrl   *adaptiveController
	notify *notifier

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu        sync.Mutex
	backlog   backlog
	active    map[*Job]*run
	retrying  map[*Job]*time.Timer
	byID      map[string]*Job
	paused    bool
	closed    bool
	holdUntil time.Time
	holdTimer *time.Timer
	drained   bool
	idle      chan struct{}

	total, completed, failed, retried, cancelled int
}

// NewQueue creates a queue that runs jobs with processor. The queue starts
// dispatching immediately unless WithStartPaused is given. Hooks are
// delivered by a goroutine that only Close stops, so every queue must be
// closed.
func NewQueue(processor Processor, opts ...Option) *Queue {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.jitter != nil {
		o.backoff.Rand = o.jitter
	}

	ctx, stop := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		proc:     processor,
		opts:     o,
		log:      o.log,
		ctrl:     newAdaptiveController(o.concurrency, o.errorThreshold, o.increaseAfter, o.penaltyDelay),
		notify:   newNotifier(o.hooks, o.log),
		ctx:      ctx,
		stop:     stop,
		active:   make(map[*Job]*run),
		retrying: make(map[*Job]*time.Timer),
		byID:     make(map[string]*Job),
		paused:   o.startPaused,
		drained:  true,
		idle:     idle,
	}
}

// AddJob queues a job and returns its ID, generating one if job.ID is empty.
// It never blocks on running jobs. Jobs added after Close are dropped and an
// empty ID is returned.
func (q *Queue) AddJob(job Job) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.enqueueLocked(job)
	q.dispatchLocked()
	return id
}

// AddJobs queues several jobs before dispatching any of them, so that
// priorities are honoured across the whole batch.
func (q *Queue) AddJobs(jobs []Job) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, q.enqueueLocked(j))
	}
	q.dispatchLocked()
	return out
}

func (q *Queue) enqueueLocked(job Job) string {
	if q.closed {
		q.log.Warnf("%v: dropping job %q", ErrQueueClosed, job.ID)
		return ""
	}
	j := job.clone()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = q.opts.maxRetries
	}
	j.Attempt = 0
	j.Progress = 0
	j.EnqueuedAt = time.Now()
	j.StartedAt = time.Time{}
	j.FinishedAt = time.Time{}

	q.byID[j.ID] = j
	q.backlog.PushBack(j)
	q.total++
	q.busyLocked()
	return j.ID
}

// Pause stops starting new jobs. Running jobs finish normally.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused {
		return
	}
	q.paused = true
	q.log.Infof("queue paused")
}

// Resume re-enables dispatch and fills the free slots right away.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused {
		q.paused = false
		q.log.Infof("queue resumed")
	}
	q.dispatchLocked()
}

// CancelAll cancels every active job, drops every queued or retrying job and
// clears the paused flag. Cancelled jobs are not counted as failures. The
// queue is immediately reusable.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.cancelAllLocked()
	if q.paused {
		q.paused = false
	}
	if n > 0 {
		q.log.Infof("cancelled %d jobs", n)
	}
	q.dispatchLocked()
}

func (q *Queue) cancelAllLocked() int {
	n := 0
	for j, r := range q.active {
		q.cancelActiveLocked(j, r)
		n++
	}
	for j, t := range q.retrying {
		t.Stop()
		delete(q.retrying, j)
		q.cancelledLocked(j)
		n++
	}
	for _, j := range q.backlog.Clear() {
		q.cancelledLocked(j)
		n++
	}
	return n
}

// Cancel cancels a single job by ID, whether it is queued, waiting for a
// retry or running. It reports whether the job was found.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.byID[id]
	if !ok {
		return false
	}
	switch {
	case q.active[j] != nil:
		q.cancelActiveLocked(j, q.active[j])
	case q.retrying[j] != nil:
		q.retrying[j].Stop()
		delete(q.retrying, j)
		q.cancelledLocked(j)
	case q.backlog.Remove(j):
		q.cancelledLocked(j)
	default:
		return false
	}
	q.log.Debugf("job %s cancelled", id)
	q.dispatchLocked()
	return true
}

func (q *Queue) cancelActiveLocked(j *Job, r *run) {
	r.cancelled = true
	r.cancel()
	delete(q.active, j)
	j.Progress = r.st.Progress()
	q.cancelledLocked(j)
}

func (q *Queue) cancelledLocked(j *Job) {
	j.FinishedAt = time.Now()
	q.cancelled++
	q.forgetLocked(j)
	jc := j.clone()
	q.notify.push(func(h Hooks) {
		if h.OnJobCancel != nil {
			h.OnJobCancel(jc)
		}
	})
	q.progressLocked()
}

// State returns a snapshot of the queue counters.
func (q *Queue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueState{
		Running:        !q.isIdleLocked(),
		Paused:         q.paused,
		Total:          q.total,
		Completed:      q.completed,
		Failed:         q.failed,
		Retried:        q.retried,
		Cancelled:      q.cancelled,
		Active:         len(q.active),
		Pending:        q.backlog.Len(),
		Retrying:       len(q.retrying),
		Limit:          q.ctrl.Limit(),
		MaxConcurrency: q.opts.concurrency,
	}
}

// Wait blocks until the queue holds no queued, active or retrying jobs, or
// ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.isIdleLocked() {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}
	}
}

// Close cancels all work, waits for running processors to return and
// delivers the remaining hook events. Later calls are no-ops.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cancelAllLocked()
	if q.holdTimer != nil {
		q.holdTimer.Stop()
		q.holdTimer = nil
	}
	q.idleLocked()
	q.mu.Unlock()

	q.log.Infof("closing queue")
	q.stop()
	q.wg.Wait()
	q.notify.close()
}

// dispatchLocked starts backlog jobs while slots are free.
func (q *Queue) dispatchLocked() {
	if q.closed {
		return
	}
	if !q.paused {
		for len(q.active) < q.ctrl.Limit() && q.backlog.Len() > 0 {
			if q.holdingLocked() {
				break
			}
			q.startLocked(q.backlog.Pop())
		}
		if q.backlog.Len() == 0 && len(q.active) == 0 && len(q.retrying) == 0 && !q.drained {
			q.drained = true
			q.log.Debugf("queue drained")
			q.notify.push(func(h Hooks) {
				if h.OnQueueEmpty != nil {
					h.OnQueueEmpty()
				}
			})
		}
	}
	if q.isIdleLocked() {
		q.idleLocked()
	}
}

func (q *Queue) holdingLocked() bool {
	return !q.holdUntil.IsZero() && time.Now().Before(q.holdUntil)
}

// holdLocked pauses dispatch for d after the concurrency limit dropped.
func (q *Queue) holdLocked(d time.Duration) {
	if d <= 0 {
		return
	}
	q.holdUntil = time.Now().Add(d)
	if q.holdTimer != nil {
		q.holdTimer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.holdTimer != t {
			return
		}
		q.holdTimer = nil
		q.holdUntil = time.Time{}
		q.dispatchLocked()
	})
	q.holdTimer = t
}

func (q *Queue) startLocked(j *Job) {
	j.StartedAt = time.Now()
	j.FinishedAt = time.Time{}
	j.Progress = 0

	ctx, cancel := context.WithCancel(q.ctx)
	st := newRunState(j)
	r := &run{job: j, snap: j.clone(), st: st, cancel: cancel}
	q.active[j] = r

	jc := j.clone()
	q.notify.push(func(h Hooks) {
		if h.OnJobStart != nil {
			h.OnJobStart(jc)
		}
	})
	q.progressLocked()
	q.log.Debugf("job %s started: type=%s priority=%d attempt=%d", j.ID, j.Type, j.Priority, j.Attempt)

	q.wg.Add(1)
	go q.execute(hctx.WithState(ctx, st), r, j.clone())
}

func (q *Queue) execute(ctx context.Context, r *run, job *Job) {
	defer q.wg.Done()
	res, err := q.invoke(ctx, job)
	q.finish(r, res, err, q.decide(r, err))
}

func (q *Queue) invoke(ctx context.Context, job *Job) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			q.log.Errorf("job %s: processor panic: %v", job.ID, p)
			res, err = nil, NewError(KindUnknown, fmt.Sprintf("processor panic: %v", p))
		}
	}()
	return q.proc(ctx, job)
}

// decide runs the user retry predicate and the backoff jitter outside the
// queue lock, so both may call Queue methods. A panic in either counts as
// a permanent failure.
func (q *Queue) decide(r *run, err error) (v verdict) {
	if err == nil || IsCancelled(err) || r.snap.Attempt+1 > r.snap.MaxAttempts {
		return verdict{}
	}
	defer func() {
		if p := recover(); p != nil {
			q.log.Errorf("job %s: retry decision panic: %v", r.snap.ID, p)
			v = verdict{}
		}
	}()
	if !q.opts.shouldRetry(err, r.snap.clone()) {
		return verdict{}
	}
	delay := max(q.opts.backoff.Delay(r.snap.Attempt), RetryAfter(err))
	return verdict{retry: true, delay: delay}
}

// finish settles one attempt. It is a no-op for attempts already settled by
// a cancellation.
func (q *Queue) finish(r *run, res any, err error, v verdict) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := r.job
	if q.active[j] != r {
		return
	}
	delete(q.active, j)
	r.cancel()
	j.Progress = r.st.Progress()
	j.FinishedAt = time.Now()

	switch {
	case err == nil:
		q.completed++
		q.forgetLocked(j)
		jc := j.clone()
		q.notify.push(func(h Hooks) {
			if h.OnJobComplete != nil {
				h.OnJobComplete(jc, res)
			}
		})
		if q.ctrl.Success() {
			q.log.Debugf("concurrency limit raised to %d", q.ctrl.Limit())
		}

	case r.cancelled || IsCancelled(err):
		q.cancelledLocked(j)
		q.dispatchLocked()
		return

	case v.retry:
		j.Attempt++
		q.retried++
		attempt := j.Attempt
		jc := j.clone()
		q.notify.push(func(h Hooks) {
			if h.OnJobRetry != nil {
				h.OnJobRetry(jc, attempt, err)
			}
		})

		delay := v.delay
		q.log.Warnf("job %s failed (attempt %d/%d), retrying in %s: %v", j.ID, attempt, j.MaxAttempts, delay, err)
		q.retrying[j] = q.retryTimer(j, delay)

		if hold := q.ctrl.Failure(); hold > 0 {
			q.log.Warnf("concurrency limit lowered to %d, holding dispatch for %s", q.ctrl.Limit(), hold)
			q.holdLocked(hold)
		}

	default:
		q.failed++
		q.forgetLocked(j)
		e := AsError(err)
		jc := j.clone()
		q.notify.push(func(h Hooks) {
			if h.OnJobError != nil {
				h.OnJobError(jc, e)
			}
		})
		q.log.Errorf("job %s failed permanently after %d attempts: %v", j.ID, j.Attempt+1, e)
	}
	q.progressLocked()
	q.dispatchLocked()
}

func (q *Queue) retryTimer(j *Job, d time.Duration) *time.Timer {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.retrying[j] != t {
			return
		}
		delete(q.retrying, j)
		if q.closed {
			return
		}
		q.backlog.PushFront(j)
		q.dispatchLocked()
	})
	return t
}

func (q *Queue) progressLocked() {
	completed, total, active := q.completed, q.total, len(q.active)
	q.notify.push(func(h Hooks) {
		if h.OnProgress != nil {
			h.OnProgress(completed, total, active)
		}
	})
}

func (q *Queue) forgetLocked(j *Job) {
	if q.byID[j.ID] == j {
		delete(q.byID, j.ID)
	}
}

func (q *Queue) isIdleLocked() bool {
	return q.backlog.Len() == 0 && len(q.active) == 0 && len(q.retrying) == 0
}

// busyLocked marks the queue as holding work again.
func (q *Queue) busyLocked() {
	q.drained = false
	select {
	case <-q.idle:
		q.idle = make(chan struct{})
	default:
	}
}

func (q *Queue) idleLocked() {
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}
