package adaptq

import "time"

// adaptiveController tracks the queue's concurrency limit from the outcome
// of recent jobs. It is not safe for concurrent use; the queue serializes
// access under its own mutex.
//
// Algorithm:
//   - success: clear the error streak; after increaseAfter consecutive
//     successes raise the limit by one, up to max
//   - error: extend the error streak; once it exceeds errorThreshold lower
//     the limit by one (floor 1) and hold dispatch for penalty
type adaptiveController struct {
	max            int
	errorThreshold int
	increaseAfter  int
	penalty        time.Duration

	limit     int
	errors    int
	successes int
}

func newAdaptiveController(max, errorThreshold, increaseAfter int, penalty time.Duration) *adaptiveController {
	if max < 1 {
		max = 1
	}
	if increaseAfter < 1 {
		increaseAfter = 1
	}
	return &adaptiveController{
		max:            max,
		errorThreshold: errorThreshold,
		increaseAfter:  increaseAfter,
		penalty:        penalty,
		limit:          max,
	}
}

// Limit returns the current concurrency limit.
func (c *adaptiveController) Limit() int { return c.limit }

// Success records a successful job and reports whether the limit grew.
func (c *adaptiveController) Success() bool {
	c.errors = 0
	c.successes++
	if c.successes < c.increaseAfter {
		return false
	}
	c.successes = 0
	if c.limit >= c.max {
		return false
	}
	c.limit++
	return true
}

// Failure records a failed attempt. It returns the dispatch hold to apply,
// zero when the limit was left unchanged.
func (c *adaptiveController) Failure() time.Duration {
	c.successes = 0
	c.errors++
	if c.errors <= c.errorThreshold {
		return 0
	}
	if c.limit > 1 {
		c.limit--
	}
	return c.penalty
}
