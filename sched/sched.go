// Package sched implements the Scheduler and StreamContext that
// interleave a Connection's outgoing messages fairly onto one socket,
// ported from original_source/StreamContext.cxx (Scheduler.cxx/.hxx
// were not retrieved into this pack; its round-robin `thread()`
// contract is reconstructed from spec §4.5, which documents it
// verbatim, and from StreamContext's one caller-visible use of it).
package sched

import "sync"

// Streamable is one outgoing message as the scheduler sees it — the
// session package's OutgoingMessage satisfies this.
type Streamable interface {
	// Runnable reports non-empty queued bytes, a data-required signal
	// the application has since satisfied, or a pending interruption
	// that must still be delivered.
	Runnable() bool

	// Start/End bracket a span during which this message is the
	// StreamContext's current one; End is called when another message
	// preempts it and from StreamContext.Clear. A message that finishes
	// while current emits its own terminator and leaves via Drop.
	Start()
	End()

	// Run emits one chunk's worth of bytes onto the connection this
	// message's Session belongs to.
	Run()
}

// Scheduler owns an ordered set of outgoing messages and a round-robin
// cursor (spec §4.5).
type Scheduler struct {
	mu        sync.Mutex
	queue     []Streamable
	index     map[Streamable]int
	cursor    int
	idleTicks int
}

func New() *Scheduler {
	return &Scheduler{index: make(map[Streamable]int)}
}

// Queue appends m to the runnable set; a no-op if m is already queued.
func (s *Scheduler) Queue(m Streamable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[m]; ok {
		return
	}
	s.index[m] = len(s.queue)
	s.queue = append(s.queue, m)
}

// Erase removes m from the runnable set.
func (s *Scheduler) Erase(m Streamable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[m]
	if !ok {
		return
	}
	last := len(s.queue) - 1
	s.queue[i] = s.queue[last]
	s.index[s.queue[i]] = i
	s.queue = s.queue[:last]
	delete(s.index, m)
	if s.cursor > last {
		s.cursor = 0
	}
}

// Thread returns the next message with Runnable() == true, advancing
// the round-robin cursor past it, or nil if none qualifies.
func (s *Scheduler) Thread() Streamable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadLocked()
}

func (s *Scheduler) threadLocked() Streamable {
	n := len(s.queue)
	if n == 0 {
		return nil
	}
	if s.cursor >= n {
		s.cursor = 0
	}
	for i := 0; i < n; i++ {
		idx := (s.cursor + i) % n
		if s.queue[idx].Runnable() {
			s.cursor = (idx + 1) % n
			return s.queue[idx]
		}
	}
	return nil
}

// Len reports the number of queued messages.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Runnable reports how many queued messages currently have
// Runnable() == true.
func (s *Scheduler) Runnable() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.queue {
		if m.Runnable() {
			n++
		}
	}
	return n
}

// Tick is the per-Connection idle-timer bookkeeping hook (spec §4.5
// "(new) Idle ticks", adapted from transport/collect.go's
// gc.do()/idleTick() loop onto a single Scheduler rather than a global
// heap of streams). It reports whether the scheduler has gone a full
// tick with nothing runnable, counting consecutive idle ticks and
// resetting the count otherwise; a caller (xport.IdleCollector) reads
// that count via IdleTicks to decide when to tear a Connection down.
func (s *Scheduler) Tick() (idle bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.queue {
		if m.Runnable() {
			s.idleTicks = 0
			return false
		}
	}
	s.idleTicks++
	return true
}

func (s *Scheduler) IdleTicks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleTicks
}

// StreamContext holds at most one current OutgoingMessage, ported from
// StreamContext::select/clear.
type StreamContext struct {
	mu      sync.Mutex
	current Streamable
}

// Select asks scheduler for the next runnable message and, if it
// differs from the current one, ends the old one and starts the new
// one before running it. If nothing is runnable, the current message
// (if any) is left in place so the next Select doesn't force a needless
// context switch (spec §4.5 point 4).
func (c *StreamContext) Select(scheduler *Scheduler) {
	m := scheduler.Thread()
	if m == nil {
		return
	}

	c.mu.Lock()
	if m != c.current {
		if c.current != nil {
			c.current.End()
		}
		c.current = m
		c.current.Start()
	}
	cur := c.current
	c.mu.Unlock()

	cur.Run()
}

// Clear flushes the current message (calling End) and drops the
// reference; invoked when a session closes or an out-of-band response
// bypasses the scheduler entirely.
func (c *StreamContext) Clear() {
	c.mu.Lock()
	cur := c.current
	c.current = nil
	c.mu.Unlock()
	if cur != nil {
		cur.End()
	}
}

// Drop clears current without calling End, for a message that has
// already emitted its own terminal end-delimiter (OutgoingMessage.Run,
// reaching its announced size, finalizes itself inline rather than
// waiting for a later Select to preempt it — see session.OutgoingMessage).
// A no-op if m is not the current message.
func (c *StreamContext) Drop(m Streamable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == m {
		c.current = nil
	}
}

func (c *StreamContext) Current() Streamable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
