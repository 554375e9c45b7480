package adaptq

import (
	"math"
	"math/rand/v2"
	"time"
)

// DefaultJitter is the upper bound (exclusive) of the random offset added to
// every backoff delay.
const DefaultJitter = time.Second

// JitterSource returns a value in [0, n). It must be safe for concurrent use.
type JitterSource func(n int64) int64

func defaultJitterSource(n int64) int64 { return rand.Int64N(n) }

// ComputeDelay returns the jitter-free backoff for a 0-based attempt:
// min(base * multiplier^attempt, maxDelay). A non-positive maxDelay means no cap.
func ComputeDelay(attempt int, base time.Duration, multiplier float64, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		return 0
	}
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(base) * math.Pow(multiplier, float64(attempt))
	if maxDelay > 0 && delay > float64(maxDelay) {
		return maxDelay
	}
	// float64(MaxInt64) rounds up to 2^63, which no Duration can hold.
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Backoff computes exponential delays with additive jitter.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	// Jitter is the exclusive upper bound of the random offset. Zero disables it.
	Jitter time.Duration
	// Rand draws the jitter. Nil uses math/rand/v2.
	Rand JitterSource
}

// Delay returns min(ComputeDelay(attempt) + jitter, Max). The sum saturates
// at the largest Duration.
func (b Backoff) Delay(attempt int) time.Duration {
	d := ComputeDelay(attempt, b.Base, b.Multiplier, b.Max)
	if b.Jitter > 0 {
		draw := b.Rand
		if draw == nil {
			draw = defaultJitterSource
		}
		if j := time.Duration(draw(int64(b.Jitter))); j > 0 {
			if d > math.MaxInt64-j {
				d = math.MaxInt64
			} else {
				d += j
			}
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}
