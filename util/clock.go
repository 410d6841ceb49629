package util

import (
	"sync"
	"time"
)

// Clock abstracts the time source so temporal policies can be tested
// deterministically.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// FakeClock only moves when Advance or Sleep is called. Sleep advances
// the clock instead of blocking. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewFakeClock(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

func (c *FakeClock) Sleep(d time.Duration) {
	c.Advance(d)
}
