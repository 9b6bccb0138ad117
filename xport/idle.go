package xport

import (
	"container/heap"
	"context"
	"time"

	"github.com/cbond/msrp/nlog"
)

// IdleCollector runs one idle-teardown sweep across every registered
// Connection, ported from transport/collect.go's collector/StreamCollector
// pair: a ctrlCh-driven add/remove set backing a ticks min-heap, woken by
// a ticker rather than per-stream timers. It is adapted onto a single
// per-Connection tick source — sched.Scheduler.Tick()/IdleTicks(), spec
// §4.5's "(new) Idle ticks" — in place of the source's own inSend/ticks
// bookkeeping on streamBase, since this module already tracks that at
// the Scheduler.
type IdleCollector struct {
	interval time.Duration
	ctrlCh   chan idleCtrl
	doneCh   chan struct{}
	entries  []*idleEntry // heap, ordered by ticks ascending
}

type idleCtrl struct {
	c   *Connection
	add bool
}

type idleEntry struct {
	c     *Connection
	ticks int
	index int
}

// NewIdleCollector builds a collector that sweeps every interval.
func NewIdleCollector(interval time.Duration) *IdleCollector {
	return &IdleCollector{
		interval: interval,
		ctrlCh:   make(chan idleCtrl),
		doneCh:   make(chan struct{}),
	}
}

// Register begins tracking c for idle teardown (a no-op if
// c.opts.IdleTeardown <= 0).
func (ic *IdleCollector) Register(c *Connection) {
	if c.opts.IdleTeardown <= 0 {
		return
	}
	select {
	case ic.ctrlCh <- idleCtrl{c: c, add: true}:
	case <-ic.doneCh:
	}
}

// Unregister stops tracking c (called once a Connection closes so its
// entry doesn't outlive it).
func (ic *IdleCollector) Unregister(c *Connection) {
	select {
	case ic.ctrlCh <- idleCtrl{c: c, add: false}:
	case <-ic.doneCh:
	}
}

// Run drives the sweep loop until ctx is cancelled.
func (ic *IdleCollector) Run(ctx context.Context) {
	ticker := time.NewTicker(ic.interval)
	defer ticker.Stop()
	defer close(ic.doneCh)

	byConn := make(map[*Connection]*idleEntry)
	for {
		select {
		case <-ctx.Done():
			return
		case ctrl := <-ic.ctrlCh:
			if ctrl.add {
				if _, ok := byConn[ctrl.c]; ok {
					continue
				}
				e := &idleEntry{c: ctrl.c}
				byConn[ctrl.c] = e
				heap.Push(ic, e)
			} else if e, ok := byConn[ctrl.c]; ok {
				heap.Remove(ic, e.index)
				delete(byConn, ctrl.c)
			}
		case <-ticker.C:
			ic.sweep(byConn)
		}
	}
}

// sweep ticks every tracked Connection's Scheduler once; a Connection
// that has accumulated enough consecutive idle ticks to cross its own
// IdleTeardown threshold is closed and dropped, ported from
// collector.do()'s second pass ("ticks <= 0 -> idleTick/teardown").
func (ic *IdleCollector) sweep(byConn map[*Connection]*idleEntry) {
	for c, e := range byConn {
		if State(c.state.Load()) != Connected {
			continue
		}
		idle := c.sc.Tick()
		if !idle {
			ic.update(e, 0)
			continue
		}
		ticks := c.sc.IdleTicks()
		ic.update(e, ticks)
		if time.Duration(ticks)*ic.interval < c.opts.IdleTeardown {
			continue
		}
		nlog.Infof("xport: tearing down idle connection %s", c.Peer())
		c.opts.Metrics.IncIdleTeardown(c.peerLabel())
		heap.Remove(ic, e.index)
		delete(byConn, c)
		c.Close()
	}
}

func (ic *IdleCollector) update(e *idleEntry, ticks int) {
	e.ticks = ticks
	heap.Fix(ic, e.index)
}

// heap.Interface, ordered by ascending ticks (min-heap, per collect.go).
func (ic *IdleCollector) Len() int { return len(ic.entries) }
func (ic *IdleCollector) Less(i, j int) bool {
	return ic.entries[i].ticks < ic.entries[j].ticks
}
func (ic *IdleCollector) Swap(i, j int) {
	ic.entries[i], ic.entries[j] = ic.entries[j], ic.entries[i]
	ic.entries[i].index = i
	ic.entries[j].index = j
}
func (ic *IdleCollector) Push(x any) {
	e := x.(*idleEntry)
	e.index = len(ic.entries)
	ic.entries = append(ic.entries, e)
}
func (ic *IdleCollector) Pop() any {
	old := ic.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	ic.entries = old[:n-1]
	return e
}
