package journal

import (
	"context"
	"sync"
	"time"

	adaptq "github.com/UniQw/adaptq-go"
)

// Janitor periodically purges expired records from a Journal.
type Janitor struct {
	j        Journal
	interval time.Duration
	log      adaptq.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewJanitor creates a janitor that purges j every interval (default 1s).
func NewJanitor(j Journal, interval time.Duration, log adaptq.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = adaptq.NewSlogLogger(nil)
	}
	return &Janitor{j: j, interval: interval, log: log}
}

// Start launches the purge loop. It is idempotent and non-blocking.
func (jn *Janitor) Start() {
	jn.mu.Lock()
	defer jn.mu.Unlock()
	if jn.started {
		jn.log.Warnf("janitor already started; ignoring Start()")
		return
	}
	jn.started = true
	ctx, cancel := context.WithCancel(context.Background())
	jn.cancel = cancel

	jn.wg.Add(1)
	go func() {
		defer jn.wg.Done()
		ticker := time.NewTicker(jn.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := jn.j.Purge(ctx)
				if err != nil && ctx.Err() == nil {
					jn.log.Warnf("janitor: purge failed: %v", err)
					continue
				}
				if n > 0 {
					jn.log.Debugf("janitor: purged %d records", n)
				}
			}
		}
	}()
}

// Stop cancels the purge loop and waits for it to exit.
func (jn *Janitor) Stop() {
	jn.mu.Lock()
	if !jn.started {
		jn.log.Warnf("janitor not started; ignoring Stop()")
		jn.mu.Unlock()
		return
	}
	jn.started = false
	cancel := jn.cancel
	jn.mu.Unlock()

	cancel()
	jn.wg.Wait()
}
