package sched

import "testing"

type fakeMsg struct {
	name      string
	runnable  bool
	starts    int
	ends      int
	runs      int
}

func (m *fakeMsg) Runnable() bool { return m.runnable }
func (m *fakeMsg) Start()         { m.starts++ }
func (m *fakeMsg) End()           { m.ends++ }
func (m *fakeMsg) Run()           { m.runs++ }

func TestSchedulerRoundRobinsAmongRunnable(t *testing.T) {
	s := New()
	a := &fakeMsg{name: "a", runnable: true}
	b := &fakeMsg{name: "b", runnable: true}
	c := &fakeMsg{name: "c", runnable: false}
	s.Queue(a)
	s.Queue(b)
	s.Queue(c)

	first := s.Thread()
	second := s.Thread()
	if first == second {
		t.Fatalf("expected round-robin to alternate, got %v twice", first)
	}
	if first != Streamable(a) && first != Streamable(b) {
		t.Fatalf("unexpected first pick: %v", first)
	}

	// c is never runnable and must never be picked.
	for i := 0; i < 10; i++ {
		if s.Thread() == Streamable(c) {
			t.Fatal("scheduler picked a non-runnable message")
		}
	}
}

func TestSchedulerNoneRunnableReturnsNil(t *testing.T) {
	s := New()
	s.Queue(&fakeMsg{runnable: false})
	if s.Thread() != nil {
		t.Fatal("expected nil when nothing is runnable")
	}
}

func TestEraseRemovesFromRotation(t *testing.T) {
	s := New()
	a := &fakeMsg{runnable: true}
	s.Queue(a)
	s.Erase(a)
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
	if s.Thread() != nil {
		t.Fatal("expected nil after erasing the only message")
	}
}

func TestStreamContextSwitchesOnNewCurrent(t *testing.T) {
	s := New()
	a := &fakeMsg{runnable: true}
	s.Queue(a)

	var ctx StreamContext
	ctx.Select(s)

	if a.starts != 1 || a.runs != 1 {
		t.Fatalf("a.starts=%d a.runs=%d, want 1,1", a.starts, a.runs)
	}
	if ctx.Current() != Streamable(a) {
		t.Fatal("expected a to become current")
	}

	b := &fakeMsg{runnable: true}
	s.Queue(b)
	s.Erase(a) // force b to be the only runnable pick
	ctx.Select(s)

	if a.ends != 1 {
		t.Fatalf("a.ends = %d, want 1 (preempted by b)", a.ends)
	}
	if b.starts != 1 || b.runs != 1 {
		t.Fatalf("b.starts=%d b.runs=%d, want 1,1", b.starts, b.runs)
	}
}

func TestStreamContextLeavesCurrentWhenNothingRunnable(t *testing.T) {
	s := New()
	a := &fakeMsg{runnable: true}
	s.Queue(a)

	var ctx StreamContext
	ctx.Select(s)
	a.runnable = false

	ctx.Select(s) // nothing runnable now; must not call End or clear current
	if a.ends != 0 {
		t.Fatalf("a.ends = %d, want 0 (no context switch without a runnable message)", a.ends)
	}
	if ctx.Current() != Streamable(a) {
		t.Fatal("expected current to remain a")
	}
}

func TestSchedulerTickTracksIdleness(t *testing.T) {
	s := New()
	a := &fakeMsg{runnable: false}
	s.Queue(a)

	if idle := s.Tick(); !idle {
		t.Fatal("expected idle with nothing runnable")
	}
	if s.IdleTicks() != 1 {
		t.Fatalf("IdleTicks() = %d, want 1", s.IdleTicks())
	}

	a.runnable = true
	if idle := s.Tick(); idle {
		t.Fatal("expected not idle once a message becomes runnable")
	}
	if s.IdleTicks() != 0 {
		t.Fatalf("IdleTicks() = %d, want 0", s.IdleTicks())
	}
}
