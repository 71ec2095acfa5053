package app_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-arena-service/internal/app"
)

func TestRoundClockFiresOnce(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rc := app.NewRoundClock(fc)
	var fired atomic.Int32

	rc.Arm(10*time.Second, func() { fired.Add(1) })
	require.True(t, rc.Armed())

	fc.Advance(9 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fired.Load())

	fc.Advance(time.Second)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, rc.Armed())
	assert.False(t, rc.Cancel(), "nothing left to cancel after expiry")

	fc.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestRoundClockCancelWinsOverExpiry(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rc := app.NewRoundClock(fc)
	var fired atomic.Int32

	rc.Arm(5*time.Second, func() { fired.Add(1) })
	assert.True(t, rc.Cancel())
	assert.False(t, rc.Cancel())

	fc.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestRoundClockRearmReplacesCountdown(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rc := app.NewRoundClock(fc)
	var first, second atomic.Int32

	rc.Arm(5*time.Second, func() { first.Add(1) })
	rc.Arm(5*time.Second, func() { second.Add(1) })

	fc.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, first.Load())
}

func TestRoundClockExactlyOneOutcome(t *testing.T) {
	for i := 0; i < 200; i++ {
		fc := clockwork.NewFakeClock()
		rc := app.NewRoundClock(fc)
		var fired atomic.Int32

		rc.Arm(time.Second, func() { fired.Add(1) })
		go fc.Advance(time.Second)
		cancelled := rc.Cancel()

		time.Sleep(time.Millisecond)
		if cancelled {
			assert.Zero(t, fired.Load(), "iteration %d", i)
		} else {
			require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond, "iteration %d", i)
		}
	}
}
