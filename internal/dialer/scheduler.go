package dialer

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending scheduled task.
type Timer interface {
	// Stop cancels the task. It reports whether the task was still pending.
	Stop() bool
}

// Scheduler runs functions after a delay. Delayed call progress (the
// simulated call script) goes through it so tests can drive time by hand.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// RealScheduler schedules on the wall clock.
type RealScheduler struct{}

// AfterFunc implements Scheduler.
func (RealScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// ManualScheduler runs tasks only when Advance moves its clock past their
// due time. Tasks run synchronously on the goroutine calling Advance, in due
// order; ties run in scheduling order.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	s    *ManualScheduler
	at   time.Time
	seq  int
	fn   func()
	done bool
}

// Stop implements Timer.
func (t *manualTask) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	pending := !t.done
	t.done = true
	return pending
}

// NewManualScheduler returns a scheduler whose clock starts at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// AfterFunc implements Scheduler.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTask{s: s, at: s.now.Add(d), seq: s.seq, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// Now returns the scheduler's clock.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the clock forward by d, running every task that falls due.
// Tasks scheduled by running tasks are honoured if they also fall due.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		next := s.nextDue(target)
		if next == nil {
			s.now = target
			s.compact()
			s.mu.Unlock()
			return
		}
		s.now = next.at
		next.done = true
		s.mu.Unlock()

		next.fn()
	}
}

// Pending returns the number of tasks that have not run or been stopped.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.done {
			n++
		}
	}
	return n
}

func (s *ManualScheduler) nextDue(target time.Time) *manualTask {
	var due []*manualTask
	for _, t := range s.tasks {
		if !t.done && !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].at.Equal(due[j].at) {
			return due[i].at.Before(due[j].at)
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}

func (s *ManualScheduler) compact() {
	live := s.tasks[:0]
	for _, t := range s.tasks {
		if !t.done {
			live = append(live, t)
		}
	}
	s.tasks = live
}
