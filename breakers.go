package adaptq

import (
	"sort"
	"sync"
)

// Breakers holds one independent Breaker per dependency name. It is owned by
// the caller; create one per application or session.
type Breakers struct {
	cfg  BreakerConfig
	opts []BreakerOption

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewBreakers creates an empty registry. Breakers created through Get share
// cfg and opts but nothing else.
func NewBreakers(cfg BreakerConfig, opts ...BreakerOption) *Breakers {
	return &Breakers{cfg: cfg, opts: opts, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (r *Breakers) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = NewBreaker(name, r.cfg, r.opts...)
	r.breakers[name] = b
	return b
}

// Stats returns snapshots of every breaker, sorted by name.
func (r *Breakers) Stats() []BreakerStats {
	r.mu.RLock()
	out := make([]BreakerStats, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Stats())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset resets every breaker.
func (r *Breakers) Reset() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
