package app

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RoundClock is a re-armable one-shot countdown. For every Arm, exactly one of
// {the expiry callback running, Cancel/re-Arm returning true} happens.
type RoundClock struct {
	clock clockwork.Clock

	mu    sync.Mutex
	timer clockwork.Timer
	stop  chan struct{}
}

func NewRoundClock(clock clockwork.Clock) *RoundClock {
	return &RoundClock{clock: clock}
}

// Arm starts a countdown of d, replacing any armed one. onExpire runs on its own goroutine.
func (c *RoundClock) Arm(d time.Duration, onExpire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmLocked()

	timer := c.clock.NewTimer(d)
	stop := make(chan struct{})
	c.timer = timer
	c.stop = stop

	go func() {
		select {
		case <-timer.Chan():
			c.mu.Lock()
			if c.stop != stop {
				// cancelled or replaced after the timer fired
				c.mu.Unlock()
				return
			}
			c.timer, c.stop = nil, nil
			c.mu.Unlock()
			onExpire()
		case <-stop:
		}
	}()
}

// Cancel stops the armed countdown. It reports whether a countdown was disarmed before firing.
func (c *RoundClock) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disarmLocked()
}

// Armed reports whether a countdown is pending.
func (c *RoundClock) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

func (c *RoundClock) disarmLocked() bool {
	if c.stop == nil {
		return false
	}
	c.timer.Stop()
	close(c.stop)
	c.timer, c.stop = nil, nil
	return true
}
