// File: internal/concurrency/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Periodic task scheduler with deterministic cancellation.

package concurrency

import (
	"errors"
	"sync"
	"time"
)

// ErrSchedulerClosed is returned when scheduling on a closed Scheduler.
var ErrSchedulerClosed = errors.New("scheduler is closed")

// Task is a handle to a periodic function started by Every.
type Task struct {
	interval time.Duration
	fn       func()
	stopCh   chan struct{}
	doneCh   chan struct{}
	once     sync.Once
	runs     int64
	mu       sync.Mutex
}

// Every runs fn every interval on a dedicated goroutine until Stop.
// The first run happens one interval after the call.
func Every(interval time.Duration, fn func()) *Task {
	if interval <= 0 {
		interval = time.Second
	}
	t := &Task{
		interval: interval,
		fn:       fn,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *Task) loop() {
	defer close(t.doneCh)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			// stop wins over a tick that raced with it
			select {
			case <-t.stopCh:
				return
			default:
			}
			t.fn()
			t.mu.Lock()
			t.runs++
			t.mu.Unlock()
		}
	}
}

// Stop cancels the task and waits for an in-flight run to return.
// After Stop returns fn is never invoked again. Stop must not be called
// from inside fn.
func (t *Task) Stop() {
	t.once.Do(func() { close(t.stopCh) })
	<-t.doneCh
}

// Runs reports how many times fn has completed.
func (t *Task) Runs() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

// Scheduler groups periodic tasks so they can be stopped together.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[*Task]struct{}
	closed bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[*Task]struct{})}
}

// Every starts fn on the scheduler.
func (s *Scheduler) Every(interval time.Duration, fn func()) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSchedulerClosed
	}
	t := Every(interval, fn)
	s.tasks[t] = struct{}{}
	return t, nil
}

// Cancel stops a single task and forgets it.
func (s *Scheduler) Cancel(t *Task) {
	s.mu.Lock()
	delete(s.tasks, t)
	s.mu.Unlock()
	t.Stop()
}

// Close stops every task. Safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	tasks := make([]*Task, 0, len(s.tasks))
	for t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.tasks = make(map[*Task]struct{})
	s.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
}
