// Package demux implements the per-Connection Demultiplexer: routing of
// inbound frames to sessions and in-flight messages, ported from
// original_source/Demultiplex.cxx.
//
// The C++ source keys its three maps off shared/weak_ptr and treats a
// bad_weak_ptr exception as "entry defunct, evict it" — Go has no weak
// pointer, so Target/IncomingMessage/OutgoingMessage are plain
// interfaces and eviction is explicit (callers call Remove* from
// Session.Close rather than relying on GC to surface a dangling
// reference). This is the one place this module's contract is
// intentionally weaker than the source's (see spec §9).
package demux

import (
	"runtime"
	"sync"

	"github.com/OneOfOne/xxhash"

	"github.com/cbond/msrp/cos"
	"github.com/cbond/msrp/msg"
	"github.com/cbond/msrp/uri"
)

// Target receives a frame whose To-Path names it and returns a new
// IncomingMessage tracker when the frame opens one (a SEND's first
// chunk); for methods that don't open a message (AUTH, a REPORT-less
// SEND continuation is handled by the cursor, not here) it returns nil.
type Target interface {
	Process(m *msg.Message) (IncomingMessage, error)
}

// IncomingMessage tracks one inbound SEND across chunk boundaries.
type IncomingMessage interface {
	MessageID() string
	Process(m *msg.Message) bool
	ProcessBody(b []byte) bool
	Continued()
	Completed()
	Interrupt()
}

// OutgoingMessage receives REPORTs correlated to a message this
// Connection sent.
type OutgoingMessage interface {
	MessageID() string
	Process(m *msg.Message) bool
}

// Demultiplexer routes inbound frames across three indices, sharded for
// lock contention (spec §4.4's "(new) Sharding"). The streaming cursor
// that routes mid-body chunks to the message currently being received
// is a single field: exactly one MessageBuffer — hence one sequential
// parse stream — feeds one Demultiplexer (spec §3).
type Demultiplexer struct {
	targets  []*targetShard
	messages []*messageShard
	reports  []*reportShard
	mask     uint64

	cursorMu sync.Mutex
	cursor   IncomingMessage
	cursorID string
}

type targetShard struct {
	mu sync.RWMutex
	m  map[string]Target
}

type messageShard struct {
	mu sync.RWMutex
	m  map[string]IncomingMessage
}

type reportShard struct {
	mu sync.RWMutex
	m  map[string]OutgoingMessage
}

// New builds a Demultiplexer with nshards buckets per index, rounded up
// to the next power of two; nshards <= 0 selects runtime.GOMAXPROCS(0).
func New(nshards int) *Demultiplexer {
	if nshards <= 0 {
		nshards = runtime.GOMAXPROCS(0)
	}
	n := 1
	for n < nshards {
		n <<= 1
	}
	d := &Demultiplexer{
		targets:  make([]*targetShard, n),
		messages: make([]*messageShard, n),
		reports:  make([]*reportShard, n),
		mask:     uint64(n - 1),
	}
	for i := range d.targets {
		d.targets[i] = &targetShard{m: make(map[string]Target)}
		d.messages[i] = &messageShard{m: make(map[string]IncomingMessage)}
		d.reports[i] = &reportShard{m: make(map[string]OutgoingMessage)}
	}
	return d
}

func shardIndex(key string, mask uint64) uint64 {
	return xxhash.ChecksumString64(key) & mask
}

func (d *Demultiplexer) InsertTarget(key uri.Uri, t Target) {
	s := d.targets[shardIndex(key.Key(), d.mask)]
	s.mu.Lock()
	s.m[key.Key()] = t
	s.mu.Unlock()
}

func (d *Demultiplexer) RemoveTarget(key uri.Uri) {
	s := d.targets[shardIndex(key.Key(), d.mask)]
	s.mu.Lock()
	delete(s.m, key.Key())
	s.mu.Unlock()
}

func (d *Demultiplexer) getTarget(key uri.Uri) (Target, bool) {
	s := d.targets[shardIndex(key.Key(), d.mask)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.m[key.Key()]
	return t, ok
}

func (d *Demultiplexer) InsertMessage(m IncomingMessage) {
	s := d.messages[shardIndex(m.MessageID(), d.mask)]
	s.mu.Lock()
	s.m[m.MessageID()] = m
	s.mu.Unlock()
}

func (d *Demultiplexer) RemoveMessage(id string) {
	s := d.messages[shardIndex(id, d.mask)]
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

func (d *Demultiplexer) getMessage(id string) (IncomingMessage, bool) {
	s := d.messages[shardIndex(id, d.mask)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.m[id]
	return m, ok
}

func (d *Demultiplexer) InsertReport(m OutgoingMessage) {
	s := d.reports[shardIndex(m.MessageID(), d.mask)]
	s.mu.Lock()
	s.m[m.MessageID()] = m
	s.mu.Unlock()
}

func (d *Demultiplexer) RemoveReport(id string) {
	s := d.reports[shardIndex(id, d.mask)]
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

func (d *Demultiplexer) getReport(id string) (OutgoingMessage, bool) {
	s := d.reports[shardIndex(id, d.mask)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.m[id]
	return m, ok
}

// Process routes a just-parsed status-line+header frame (ported from
// Demultiplex::process(shared_ptr<const Message>)). On a SEND that
// opens a new message, it registers the IncomingMessage and arms the
// streaming cursor so subsequent ProcessBody calls route to it
// directly without re-resolving To-Path. Every accepted frame re-points
// the cursor: at the IncomingMessage it opened or matched, or at nothing
// for a frame that belongs to no inbound message.
func (d *Demultiplexer) Process(m *msg.Message) (bool, error) {
	to, err := m.ToPath()
	if err != nil {
		return false, err
	}
	target, ok := to.Front()
	if !ok {
		return false, &cos.ProtocolError{Reason: "message contains no To-Path"}
	}
	t, ok := d.getTarget(target)
	if !ok {
		return false, &cos.RoutingError{Reason: "unknown target: " + target.String()}
	}

	if id, ok := m.MessageID(); ok {
		// Single-dispatch (spec §9 Open Question): an id present in
		// both the messages and reports index is matched against
		// messages only, exactly mirroring the source's if/else-if.
		if im, ok := d.getMessage(id); ok {
			if im.Process(m) {
				d.cursorMu.Lock()
				d.cursor, d.cursorID = im, id
				d.cursorMu.Unlock()
				return true, nil
			}
		} else if m.Method == msg.REPORT {
			if om, ok := d.getReport(id); ok {
				if om.Process(m) {
					d.cursorMu.Lock()
					d.cursor, d.cursorID = nil, ""
					d.cursorMu.Unlock()
					return true, nil
				}
			}
		}
	} else if m.Method == msg.SEND {
		return false, &cos.ProtocolError{Reason: "SEND request lacks Message-ID"}
	}

	incoming, err := t.Process(m)
	if err != nil {
		return false, err
	}
	cursorID := ""
	if incoming != nil {
		d.InsertMessage(incoming)
		cursorID = incoming.MessageID()
	}
	d.cursorMu.Lock()
	d.cursor, d.cursorID = incoming, cursorID
	d.cursorMu.Unlock()
	return true, nil
}

// ProcessBody routes a raw body chunk (and, on frame completion, the
// terminal status) to the IncomingMessage armed by the last Process
// call, ported from Demultiplex::process(const_buffer, MsgStatus).
func (d *Demultiplexer) ProcessBody(b []byte, status msg.Status) bool {
	d.cursorMu.Lock()
	cur, id := d.cursor, d.cursorID
	d.cursorMu.Unlock()
	if cur == nil {
		return false
	}

	if len(b) != 0 && !cur.ProcessBody(b) {
		return false
	}

	erase := false
	switch status {
	case msg.Continued:
		cur.Continued()
	case msg.Complete:
		cur.Completed()
		erase = true
	case msg.Interrupted:
		cur.Interrupt()
		erase = true
	}
	if erase {
		d.RemoveMessage(id)
		d.cursorMu.Lock()
		d.cursor, d.cursorID = nil, ""
		d.cursorMu.Unlock()
	}
	return true
}
