package app

import (
	"sync"
	"time"
)

// Clock abstracts time so phase timers can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of *time.Timer used by scheduled tasks.
type Timer interface {
	Stop() bool
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// scheduledTask runs fn at most once. Whichever of fire or Cancel happens
// first consumes the task; the other becomes a no-op.
type scheduledTask struct {
	mu    sync.Mutex
	done  bool
	timer Timer
}

func schedule(clock Clock, d time.Duration, fn func()) *scheduledTask {
	task := &scheduledTask{}
	task.timer = clock.AfterFunc(d, func() {
		if task.consume() {
			fn()
		}
	})
	return task
}

func (t *scheduledTask) consume() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Cancel reports whether the task was still pending.
func (t *scheduledTask) Cancel() bool {
	if t == nil || !t.consume() {
		return false
	}
	t.timer.Stop()
	return true
}
