// Package background holds the timers that drive polling loops.
//
// Everything takes a Clock so tests can step ticks by hand with FakeClock
// instead of sleeping.
package background

import (
	"sync"
	"time"
)

type Clock interface {
	NewTicker(d time.Duration) Ticker
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock is backed by time.Ticker.
type RealClock struct{}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (rt realTicker) C() <-chan time.Time {
	return rt.t.C
}

func (rt realTicker) Stop() {
	rt.t.Stop()
}

// Repeat calls do every interval until the returned cancel is called.
// cancel may be called any number of times, including from within do.
func Repeat(clock Clock, do func(), interval time.Duration) (cancel func()) {
	t := clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer t.Stop()
		for {
			select {
			case <-t.C():
				do()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
		})
	}
}
