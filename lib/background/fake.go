package background

import (
	"sync"
	"time"
)

// FakeClock hands out tickers that only fire when told to.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*FakeTicker
}

func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Unix(0, 0)}
}

func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	ft := &FakeTicker{
		clock:    c,
		interval: d,
		c:        make(chan time.Time),
		done:     make(chan struct{}),
	}
	c.tickers = append(c.tickers, ft)
	return ft
}

// Tickers returns every ticker created so far, stopped or not.
func (c *FakeClock) Tickers() []*FakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*FakeTicker(nil), c.tickers...)
}

// Last returns the most recently created ticker or nil.
func (c *FakeClock) Last() *FakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		return nil
	}
	return c.tickers[len(c.tickers)-1]
}

// Advance moves time forward by d, firing every live ticker once per
// elapsed interval. Ticks to stopped tickers are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	for _, ft := range c.Tickers() {
		if ft.interval <= 0 {
			continue
		}
		for n := d / ft.interval; n > 0; n-- {
			if !ft.Tick() {
				break
			}
		}
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type FakeTicker struct {
	clock    *FakeClock
	interval time.Duration
	c        chan time.Time
	done     chan struct{}

	mu    sync.Mutex
	stops int
	ticks int
}

func (ft *FakeTicker) C() <-chan time.Time {
	return ft.c
}

func (ft *FakeTicker) Stop() {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.stops++
	if ft.stops == 1 {
		close(ft.done)
	}
}

// Tick blocks until the tick is received or the ticker is stopped.
// It reports whether the tick was delivered.
func (ft *FakeTicker) Tick() bool {
	select {
	case <-ft.done:
		return false
	default:
	}
	select {
	case ft.c <- ft.clock.Now():
		ft.mu.Lock()
		ft.ticks++
		ft.mu.Unlock()
		return true
	case <-ft.done:
		return false
	}
}

// Stops is the number of times Stop was called.
func (ft *FakeTicker) Stops() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.stops
}

// Ticks is the number of ticks delivered.
func (ft *FakeTicker) Ticks() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.ticks
}

func (ft *FakeTicker) Stopped() bool {
	return ft.Stops() > 0
}

func (ft *FakeTicker) Interval() time.Duration {
	return ft.interval
}
