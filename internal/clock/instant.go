package clock

import (
	"sync"
	"time"
)

// InstantClock is a Clock whose waits complete immediately. Each After call
// advances Now by the requested duration and is recorded, so tests can
// assert on the spacing a caller asked for without sleeping. Tickers never
// fire on their own.
type InstantClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

// Instant returns an InstantClock starting at start.
func Instant(start time.Time) *InstantClock {
	return &InstantClock{now: start}
}

func (c *InstantClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *InstantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *InstantClock) NewTicker(d time.Duration) *Ticker {
	return &Ticker{
		C:         make(chan time.Time),
		stopFunc:  func() {},
		resetFunc: func(time.Duration) {},
	}
}

// Advance moves Now forward without recording a wait.
func (c *InstantClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Waits returns the durations passed to After, in order.
func (c *InstantClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}
