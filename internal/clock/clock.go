// Package clock abstracts time so the scheduler and session code can be
// driven deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package used by the monitor
type Clock interface {
	Now() time.Time
	// AfterFunc calls f after d elapses. If d <= 0, f runs immediately
	// (in a new goroutine for the real clock, synchronously for the fake).
	AfterFunc(d time.Duration, f func()) *Timer
	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending AfterFunc call
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. Returns false if it already fired
// or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker delivers ticks on C at a fixed interval
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }

// Real returns a Clock backed by the time package
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stopFunc: timer.Stop}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stopFunc: ticker.Stop}
}
