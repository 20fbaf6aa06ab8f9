// Copyright 2024 The Ananas Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sched implements the kernel's thread scheduler: a global
// circular ring of threads, a round-robin selection walk under a
// single spinlock, and the machine context switch that is the only
// control-transfer primitive threads use.
package sched

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"ananas.dev/kernel/pkg/klog"
	"ananas.dev/kernel/pkg/mdlayer"
)

// Scheduler owns the global thread ring. There is exactly one per
// kernel instance; tests may construct several to model independent
// CPUs.
type Scheduler struct {
	mu      sync.Mutex
	md      *mdlayer.MD
	active  bool
	head    *Thread // insertion-order ring anchor
	current *Thread
	idle    *Thread

	waits sync.Map // *Thread -> *semaphore.Weighted, lazily created suspend primitives
}

func New(md *mdlayer.MD) *Scheduler {
	return &Scheduler{md: md}
}

// Activate enables scheduling. Schedule is a no-op before Activate is
// called and after Deactivate, matching the original kernel's boot
// sequence where the idle thread does not exist yet.
func (s *Scheduler) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
}

// Deactivate disables scheduling.
func (s *Scheduler) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// AddThread links t into the global ring in insertion order. If idle
// is true, t becomes the scheduler's fallback idle thread: it starts
// Suspended and is only ever selected when no other thread qualifies.
func (s *Scheduler) AddThread(t *Thread, idle bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idle {
		t.setFlag(FlagSuspended)
		s.idle = t
	}

	if s.head == nil {
		t.next = t
		s.head = t
		return
	}
	// Insert just before head, i.e. at the tail of the ring.
	tail := s.head
	for tail.next != s.head {
		tail = tail.next
	}
	tail.next = t
	t.next = s.head
}

// Current returns the thread currently marked Active, or nil before
// the first Schedule call.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Schedule selects the next runnable thread and performs a context
// switch into it. The switch goes through the MD layer's
// ContextSwitch, which does not block, so Schedule returns to its
// caller as soon as the selection is made; it does not wait for the
// calling goroutine's thread to be selected again.
//
// Panics (via klog.Fatalf) if the ring is empty: an idle thread must
// always be registered before the scheduler is activated.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	if s.head == nil {
		s.mu.Unlock()
		klog.Fatalf("sched: schedule() with no threads registered")
	}

	start := s.current
	if start == nil {
		start = s.head
	}

	next := s.pickLocked(start)

	prev := s.current
	if prev != nil {
		prev.clearFlag(FlagActive)
	}
	next.setFlag(FlagActive)
	s.current = next
	s.mu.Unlock()

	s.md.ContextSwitch(next.ctx, threadCtx(prev))
}

func threadCtx(t *Thread) *mdlayer.Context {
	if t == nil {
		return nil
	}
	return t.ctx
}

// pickLocked implements the walk: starting at start.next, find the
// first thread with neither Active nor Suspended set; start itself is
// checked last. If neither the walk nor start yields a candidate,
// fall back to the idle thread unconditionally.
func (s *Scheduler) pickLocked(start *Thread) *Thread {
	candidate := start.next
	for candidate != start {
		if !candidate.flags.has(FlagActive) && !candidate.flags.has(FlagSuspended) {
			return candidate
		}
		candidate = candidate.next
	}
	if !start.flags.has(FlagActive) && !start.flags.has(FlagSuspended) {
		return start
	}
	if s.idle == nil {
		klog.Fatalf("sched: no runnable thread and no idle thread registered")
	}
	return s.idle
}

// suspendSem returns (creating if needed) the semaphore backing t's
// suspend/resume, following spec's "threads may block on semaphores"
// suspension model instead of a bare condition variable. It is
// created already held, so the first Wait call blocks until a
// matching Wake releases it.
func (s *Scheduler) suspendSem(t *Thread) *semaphore.Weighted {
	sem := semaphore.NewWeighted(1)
	sem.Acquire(context.Background(), 1) //nolint:errcheck // background ctx, capacity 1: cannot fail
	v, _ := s.waits.LoadOrStore(t, sem)
	return v.(*semaphore.Weighted)
}

// Wait suspends the calling goroutine's thread until Wake is called
// for it, cooperatively yielding to the scheduler while blocked.
func (s *Scheduler) Wait(t *Thread) {
	t.Suspend()
	s.Schedule()
	sem := s.suspendSem(t)
	sem.Acquire(context.Background(), 1) //nolint:errcheck // background ctx is never cancelled: cannot fail
}

// Wake resumes a thread previously blocked in Wait.
func (s *Scheduler) Wake(t *Thread) {
	t.Resume()
	sem := s.suspendSem(t)
	sem.Release(1)
}
