package adaptq

import "sync"

// Hooks are optional observers of queue events. They are called from a
// single goroutine, in the order the events happened, and never block the
// queue. Jobs passed to hooks are copies.
type Hooks struct {
	OnJobStart    func(job *Job)
	OnJobComplete func(job *Job, result any)
	OnJobError    func(job *Job, err error)
	OnJobRetry    func(job *Job, attempt int, err error)
	// OnJobCancel reports a job dropped by Cancel, CancelAll or Close. It is
	// not a failure.
	OnJobCancel  func(job *Job)
	OnQueueEmpty func()
	OnProgress   func(completed, total, active int)
}

// notifier delivers hook events in order on its own goroutine.
type notifier struct {
	hooks []Hooks
	log   Logger

	mu     sync.Mutex
	events []func(Hooks)
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newNotifier(hooks []Hooks, log Logger) *notifier {
	n := &notifier{
		hooks: hooks,
		log:   log,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go n.run()
	return n
}

// push queues an event. It never blocks on observers.
func (n *notifier) push(ev func(Hooks)) {
	if len(n.hooks) == 0 {
		return
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.events = append(n.events, ev)
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for range n.wake {
		for {
			n.mu.Lock()
			batch := n.events
			n.events = nil
			closed := n.closed
			n.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			for _, ev := range batch {
				for _, h := range n.hooks {
					n.deliver(ev, h)
				}
			}
		}
	}
}

func (n *notifier) deliver(ev func(Hooks), h Hooks) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Errorf("hook panic: %v", r)
		}
	}()
	ev(h)
}

// close delivers the events already queued and stops the goroutine.
func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	n.mu.Unlock()
	n.signal()
	<-n.done
}
