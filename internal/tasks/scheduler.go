/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package tasks owns the timers of one orchestrator. Every callback is
// delivered through the owner's post function so it runs on the owner's loop,
// and Stop cancels all outstanding timers at once.
package tasks

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// PostFunc hands fn to the owning loop. It returns false when the loop no
// longer accepts work.
type PostFunc func(fn func()) bool

// Task is a handle to a scheduled callback.
type Task struct {
	name      string
	cancelled atomic.Bool
	stop      func()
	owner     *Scheduler
}

// Cancel stops the task. A callback already posted to the loop is skipped.
func (t *Task) Cancel() {
	if t == nil || t.cancelled.Swap(true) {
		return
	}
	t.stop()
	t.owner.forget(t)
}

// Name returns the task's name.
func (t *Task) Name() string { return t.name }

// Scheduler tracks every live task for one owner.
type Scheduler struct {
	post   PostFunc
	logger zerolog.Logger

	mu      sync.Mutex
	tasks   map[*Task]struct{}
	stopped bool
}

// New returns a scheduler that delivers callbacks through post.
func New(post PostFunc, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		post:   post,
		logger: logger.With().Str("component", "tasks").Logger(),
		tasks:  make(map[*Task]struct{}),
	}
}

// track registers t and arms it while holding the lock, so neither Stop nor
// the task's own expiry can observe it half-built.
func (s *Scheduler) track(t *Task, arm func() func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		t.cancelled.Store(true)
		t.stop = func() {}
		return
	}
	t.stop = arm()
	s.tasks[t] = struct{}{}
}

func (s *Scheduler) forget(t *Task) {
	s.mu.Lock()
	delete(s.tasks, t)
	s.mu.Unlock()
}

func (s *Scheduler) deliver(t *Task, fn func()) {
	if t.cancelled.Load() {
		return
	}
	ok := s.post(func() {
		if t.cancelled.Load() {
			return
		}
		fn()
	})
	if !ok {
		s.logger.Debug().Str("task", t.name).Msg("owner loop closed, dropping task")
	}
}

// After runs fn once on the owner's loop after d.
func (s *Scheduler) After(name string, d time.Duration, fn func()) *Task {
	t := &Task{name: name, owner: s}
	s.track(t, func() func() {
		timer := time.AfterFunc(d, func() {
			s.forget(t)
			s.deliver(t, fn)
		})
		return func() { timer.Stop() }
	})
	return t
}

// Every runs fn on the owner's loop every d until cancelled.
func (s *Scheduler) Every(name string, d time.Duration, fn func()) *Task {
	t := &Task{name: name, owner: s}
	s.track(t, func() func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(d)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					s.deliver(t, fn)
				}
			}
		}()
		var once sync.Once
		return func() { once.Do(func() { close(done) }) }
	})
	return t
}

// Debouncer collapses bursts of Trigger calls into one callback fired once
// the burst has been quiet for the configured window.
type Debouncer struct {
	s      *Scheduler
	name   string
	window time.Duration
	fn     func()

	mu      sync.Mutex
	pending *Task
}

// Debounce returns a Debouncer whose callback runs on the owner's loop.
func (s *Scheduler) Debounce(name string, window time.Duration, fn func()) *Debouncer {
	return &Debouncer{s: s, name: name, window: window, fn: fn}
}

// Trigger restarts the quiet window.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		d.pending.Cancel()
	}
	d.pending = d.s.After(d.name, d.window, d.fn)
}

// Active returns the number of live tasks.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every task and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	live := make([]*Task, 0, len(s.tasks))
	for t := range s.tasks {
		live = append(live, t)
	}
	s.tasks = make(map[*Task]struct{})
	s.mu.Unlock()

	for _, t := range live {
		if !t.cancelled.Swap(true) {
			t.stop()
		}
	}
}
