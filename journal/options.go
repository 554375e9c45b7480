package journal

import "time"

// DefaultRetention is how long succeeded records are kept unless Retention
// is given.
const DefaultRetention = 24 * time.Hour

type options struct {
	retention    time.Duration
	errRetention time.Duration
}

func defaultOptions() options {
	return options{retention: DefaultRetention, errRetention: -1}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ttl returns how long a record in the given state is kept: 0 means it is
// not stored, negative means it is kept forever.
func (o options) ttl(succeeded bool) time.Duration {
	if succeeded {
		if o.retention <= 0 {
			return 0
		}
		return o.retention
	}
	return o.errRetention
}

// Option configures how a record is retained.
type Option func(*options)

// Retention sets how long succeeded records are kept.
// If d is 0 or negative, succeeded records are not stored.
func Retention(d time.Duration) Option {
	return func(o *options) {
		o.retention = d
	}
}

// RetentionError sets how long failed and cancelled records are kept.
// If d is 0, they are dropped immediately.
// If d is negative, they are kept forever (default).
func RetentionError(d time.Duration) Option {
	return func(o *options) {
		o.errRetention = d
	}
}
