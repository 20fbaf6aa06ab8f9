package sched

import (
	"testing"

	"ananas.dev/kernel/pkg/mdlayer"
)

func newTestScheduler(names ...string) (*Scheduler, []*Thread) {
	md := mdlayer.New()
	s := New(md)
	idle := NewThread("idle", &mdlayer.Context{Name: "idle"})
	s.AddThread(idle, true)

	var threads []*Thread
	for _, n := range names {
		th := NewThread(n, &mdlayer.Context{Name: n})
		s.AddThread(th, false)
		threads = append(threads, th)
	}
	s.Activate()
	return s, threads
}

func TestSchedulerRoundRobin(t *testing.T) {
	s, threads := newTestScheduler("A", "B", "C")

	s.Schedule()
	if got := s.Current().Name; got != "A" {
		t.Fatalf("first schedule = %s, want A", got)
	}
	s.Schedule()
	if got := s.Current().Name; got != "B" {
		t.Fatalf("second schedule = %s, want B", got)
	}
	s.Schedule()
	if got := s.Current().Name; got != "C" {
		t.Fatalf("third schedule = %s, want C", got)
	}
	s.Schedule()
	if got := s.Current().Name; got != "A" {
		t.Fatalf("fourth schedule = %s, want A (wrapped)", got)
	}
	_ = threads
}

func TestSchedulerFallsBackToIdle(t *testing.T) {
	s, threads := newTestScheduler("A", "B")
	for _, th := range threads {
		th.Suspend()
	}
	s.Schedule()
	if got := s.Current().Name; got != "idle" {
		t.Fatalf("current = %s, want idle when all others suspended", got)
	}
}

func TestScheduleBeforeActivateIsNoOp(t *testing.T) {
	md := mdlayer.New()
	s := New(md)
	idle := NewThread("idle", &mdlayer.Context{Name: "idle"})
	s.AddThread(idle, true)

	s.Schedule()
	if s.Current() != nil {
		t.Fatal("schedule before Activate must not select a thread")
	}
}

func TestWaitWake(t *testing.T) {
	s, threads := newTestScheduler("A")
	th := threads[0]

	done := make(chan struct{})
	go func() {
		s.Wait(th)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Wake was called")
	default:
	}

	s.Wake(th)
	<-done
	if th.IsSuspended() {
		t.Fatal("thread still suspended after Wake")
	}
}
