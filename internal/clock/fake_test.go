package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFunc(t *testing.T) {
	t.Run("fires once deadline is reached", func(t *testing.T) {
		c := NewFake(epoch)
		var calls atomic.Int32
		c.AfterFunc(10*time.Second, func() { calls.Add(1) })

		c.Advance(9 * time.Second)
		if got := calls.Load(); got != 0 {
			t.Fatalf("fired early: %d calls", got)
		}

		c.Advance(time.Second)
		if got := calls.Load(); got != 1 {
			t.Fatalf("expected 1 call, got %d", got)
		}

		c.Advance(time.Hour)
		if got := calls.Load(); got != 1 {
			t.Errorf("one-shot timer fired again: %d calls", got)
		}
	})

	t.Run("non-positive delay runs synchronously", func(t *testing.T) {
		c := NewFake(epoch)
		called := false
		c.AfterFunc(0, func() { called = true })
		if !called {
			t.Error("expected immediate call")
		}
		if c.Pending() != 0 {
			t.Errorf("expected no pending waiters, got %d", c.Pending())
		}
	})

	t.Run("stopped timer never fires", func(t *testing.T) {
		c := NewFake(epoch)
		var calls atomic.Int32
		timer := c.AfterFunc(time.Second, func() { calls.Add(1) })
		if !timer.Stop() {
			t.Fatal("Stop should report an active timer")
		}
		if timer.Stop() {
			t.Error("second Stop should report false")
		}
		c.Advance(time.Minute)
		if calls.Load() != 0 {
			t.Error("stopped timer fired")
		}
	})

	t.Run("fires in deadline order", func(t *testing.T) {
		c := NewFake(epoch)
		var order []int
		c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
		c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
		c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
		c.Advance(5 * time.Second)

		if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
			t.Errorf("unexpected firing order %v", order)
		}
	})
}

func TestFakeTicker(t *testing.T) {
	c := NewFake(epoch)
	ticker := c.NewTicker(time.Minute)
	defer ticker.Stop()

	c.Advance(time.Minute)
	select {
	case got := <-ticker.C:
		if !got.Equal(epoch.Add(time.Minute)) {
			t.Errorf("tick time = %v", got)
		}
	default:
		t.Fatal("expected a tick")
	}

	c.Advance(30 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("unexpected tick before interval")
	default:
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := NewFake(epoch)
	done := make(chan struct{})

	go func() {
		c.AfterFunc(time.Second, func() { close(done) })
	}()

	c.WaitForTimers(1)
	c.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not run")
	}
}
