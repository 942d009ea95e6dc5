// Package scheduler multiplexes per-target polling over a single timer.
// Each target is IDLE in the wake queue, POLLING while its job runs, and
// back in the queue afterwards at either its interval or a backoff delay.
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mucstudio/let-monitor/internal/clock"
)

// Job runs one poll cycle for a target
type Job func(ctx context.Context, targetID int64) error

// ThresholdHandler is called once when a target's consecutive failures
// first exceed MaxRetries. It is not called again until a success.
type ThresholdHandler func(targetID int64, state RetryState)

type task struct {
	id       int64
	interval time.Duration
	next     time.Time
	retry    RetryState
	index    int // position in the wake queue, -1 when not queued

	running bool
	pending bool // woken while running, run again right after
	removed bool // removed while running, drop when done
}

// Scheduler drives target polling. Jobs for one target never overlap;
// jobs for different targets run concurrently up to MaxConcurrent.
type Scheduler struct {
	clock  clock.Clock
	cfg    Config
	job    Job
	logger *slog.Logger

	mu          sync.Mutex
	tasks       map[int64]*task
	queue       wakeQueue
	timer       *clock.Timer
	armedAt     time.Time // deadline of timer
	onThreshold ThresholdHandler

	kick chan struct{}
	sem  chan struct{}
	wg   sync.WaitGroup
}

// New creates a new scheduler
func New(clk clock.Clock, cfg Config, job Job, logger *slog.Logger) *Scheduler {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Scheduler{
		clock:  clk,
		cfg:    cfg,
		job:    job,
		logger: logger.With("component", "scheduler"),
		tasks:  make(map[int64]*task),
		kick:   make(chan struct{}, 1),
		sem:    make(chan struct{}, cfg.MaxConcurrent),
	}
}

// SetThresholdHandler sets the handler for threshold crossings
func (s *Scheduler) SetThresholdHandler(h ThresholdHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onThreshold = h
}

// Run dispatches due targets until ctx is cancelled, then waits for
// running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started", "max_concurrent", s.cfg.MaxConcurrent)
	for {
		s.dispatch(ctx)

		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.timer != nil {
				s.timer.Stop()
				s.timer = nil
			}
			s.mu.Unlock()
			s.wg.Wait()
			s.logger.Info("Scheduler stopped")
			return ctx.Err()
		case <-s.kick:
		}
	}
}

// Add schedules a target to first run after firstDelay. Adding a target
// that is already scheduled only updates its interval.
func (s *Scheduler) Add(id int64, interval, firstDelay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	interval = ClampInterval(s.cfg, interval)

	if t, ok := s.tasks[id]; ok {
		t.interval = interval
		if t.removed {
			// Re-added while its last cycle is still running
			t.removed = false
			t.pending = true
		}
		return
	}

	t := &task{
		id:       id,
		interval: interval,
		next:     s.clock.Now().Add(firstDelay),
		index:    -1,
	}
	s.tasks[id] = t
	heap.Push(&s.queue, t)
	s.wake()
}

// Remove stops scheduling a target. A running cycle finishes but is not
// rescheduled.
func (s *Scheduler) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return
	}
	if t.index >= 0 {
		heap.Remove(&s.queue, t.index)
	}
	if t.running {
		t.removed = true
		t.pending = false
		return
	}
	delete(s.tasks, id)
}

// SetInterval changes a target's interval. The wake already queued is
// kept; the new interval applies from the next reschedule.
func (s *Scheduler) SetInterval(id int64, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.removed {
		return false
	}
	t.interval = ClampInterval(s.cfg, interval)
	return true
}

// Trigger runs a target as soon as possible. If it is running, another
// cycle follows right after the current one.
func (s *Scheduler) Trigger(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.removed {
		return false
	}
	if t.running {
		t.pending = true
		return true
	}
	t.next = s.clock.Now()
	if t.index >= 0 {
		heap.Fix(&s.queue, t.index)
	} else {
		heap.Push(&s.queue, t)
	}
	s.wake()
	return true
}

// State returns the retry state of a target
func (s *Scheduler) State(id int64) (RetryState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return RetryState{}, false
	}
	return t.retry, true
}

// NextWake returns when a target is due next
func (s *Scheduler) NextWake(id int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.index < 0 {
		return time.Time{}, false
	}
	return t.next, true
}

// Failing returns the retry state of every target with failures, by id
func (s *Scheduler) Failing() map[int64]RetryState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]RetryState)
	for id, t := range s.tasks {
		if t.retry.ConsecutiveFailures > 0 {
			out[id] = t.retry
		}
	}
	return out
}

// Scheduled returns the ids of all scheduled targets in ascending order
func (s *Scheduler) Scheduled() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.tasks))
	for id, t := range s.tasks {
		if !t.removed {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// wake nudges the run loop. Never blocks.
func (s *Scheduler) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	now := s.clock.Now()
	for {
		t := s.queue.peek()
		if t == nil || t.next.After(now) {
			break
		}
		heap.Pop(&s.queue)

		if t.running {
			t.pending = true
			continue
		}
		t.running = true
		s.wg.Add(1)
		go s.run(ctx, t.id)
	}

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.armedAt = time.Time{}
	}
	if next := s.queue.peek(); next != nil {
		s.armedAt = next.next
		s.timer = s.clock.AfterFunc(next.next.Sub(now), s.wake)
	}
}

func (s *Scheduler) run(ctx context.Context, id int64) {
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.abandon(id)
		return
	}
	defer func() { <-s.sem }()

	err := s.job(ctx, id)
	if ctx.Err() != nil {
		s.abandon(id)
		return
	}
	s.finish(id, err)
}

// abandon clears the running flag without rescheduling, used on shutdown
func (s *Scheduler) abandon(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.running = false
		if t.removed {
			delete(s.tasks, id)
		}
	}
}

func (s *Scheduler) finish(id int64, err error) {
	s.mu.Lock()

	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	t.running = false
	if t.removed {
		delete(s.tasks, id)
		s.mu.Unlock()
		return
	}

	now := s.clock.Now()
	var (
		delay   time.Duration
		crossed bool
	)
	if err == nil {
		if t.retry.ConsecutiveFailures > 0 {
			s.logger.Info("Target recovered", "target_id", id, "failures", t.retry.ConsecutiveFailures)
		}
		t.retry = RetryState{}
		delay = t.interval
	} else {
		t.retry.ConsecutiveFailures++
		t.retry.LastError = err
		delay = BackoffDelay(s.cfg, t.retry.ConsecutiveFailures)
		if t.retry.ConsecutiveFailures > s.cfg.MaxRetries && !t.retry.Alerted {
			t.retry.Alerted = true
			crossed = true
		}
		s.logger.Warn("Poll failed, backing off",
			"target_id", id,
			"failures", t.retry.ConsecutiveFailures,
			"delay", delay,
			"error", err)
	}

	if t.pending {
		t.pending = false
		delay = 0
	}

	t.next = now.Add(delay)
	if err != nil {
		t.retry.NextAttemptAt = t.next
	}
	heap.Push(&s.queue, t)

	state := t.retry
	handler := s.onThreshold
	s.mu.Unlock()

	s.wake()
	if crossed && handler != nil {
		handler(id, state)
	}
}
