package capacity

import (
	"context"

	"traffic-control-backend/internal/schedule"
)

// DefaultDailyCap is the number of concurrent jobs permitted per calendar day.
const DefaultDailyCap = 10

// Counter reports how many non-cancelled date entries of non-cancelled jobs
// fall on a day. Implemented by the store; every check re-queries current
// state so the race window stays as small as the persistence layer allows.
type Counter interface {
	CountActiveDates(ctx context.Context, day schedule.Day) (int, error)
}

// Checker decides whether a new booking is admissible for a day.
type Checker struct {
	counter Counter
	cap     int
}

func NewChecker(counter Counter, cap int) *Checker {
	if cap <= 0 {
		cap = DefaultDailyCap
	}
	return &Checker{counter: counter, cap: cap}
}

// Cap returns the configured daily cap.
func (c *Checker) Cap() int { return c.cap }

// Count returns the current booking count for the day.
func (c *Checker) Count(ctx context.Context, day schedule.Day) (int, error) {
	return c.counter.CountActiveDates(ctx, day)
}

// IsFull reports whether the day is at or over capacity. A day holding
// exactly the cap is full; the next request for it is rejected.
func (c *Checker) IsFull(ctx context.Context, day schedule.Day) (bool, error) {
	n, err := c.counter.CountActiveDates(ctx, day)
	if err != nil {
		return false, err
	}
	return n >= c.cap, nil
}
