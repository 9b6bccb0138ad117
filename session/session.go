// Package session implements Session, IncomingMessage and OutgoingMessage:
// the per-logical-endpoint state and per-message state machines ported
// from original_source/Session.cxx, IncomingMessage.cxx, OutgoingMessage.cxx,
// and SessionFactory.cxx.
//
// Session depends on demux and sched only through the narrow interfaces
// those packages already export (demux.Target/IncomingMessage/
// OutgoingMessage, sched.Streamable); it never imports xport, and in turn
// defines Conn below so xport.Connection can satisfy it without either
// package importing the other.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/rs/xid"

	"github.com/cbond/msrp/cos"
	"github.com/cbond/msrp/demux"
	"github.com/cbond/msrp/msg"
	"github.com/cbond/msrp/sched"
	"github.com/cbond/msrp/uri"
)

// Conn is the slice of xport.Connection a Session needs: enough to send
// bytes and reach the Connection's Demultiplexer/Scheduler/StreamContext,
// without session importing xport.
type Conn interface {
	Send(b []byte)
	Scheduler() *sched.Scheduler
	Context() *sched.StreamContext
	Demultiplexer() *demux.Demultiplexer
	Local() uri.Uri
	Peer() uri.Uri
	TLS() bool
	Close()

	// Poke runs one StreamContext.Select(Scheduler()) cycle, ported from
	// Connection::selectOutgoing(). Session/OutgoingMessage call it
	// whenever queuing a message or a chunk may have made it newly
	// runnable, since a Connection idle on writes otherwise has nothing
	// left to notice the new work until its next drain or idle tick.
	Poke()
}

// Session is a logical endpoint identified by a Path (spec §3), a factory
// for IncomingMessage/OutgoingMessage, sharing one underlying Conn with
// any sibling Sessions multiplexed over it.
type Session struct {
	mu   sync.Mutex
	path uri.Path
	conn Conn

	successMode ReportMode
	failureMode FailureMode

	incoming map[string]*IncomingMessage
	outgoing map[string]*OutgoingMessage

	closed atomic.Bool

	// OnMessage fires when a new inbound SEND opens an IncomingMessage;
	// the application attaches its own OnContents/OnComplete to the
	// value before returning from this callback.
	OnMessage func(*IncomingMessage)

	// OnClose fires once, from Close().
	OnClose func()
}

// Option configures a Session at construction.
type Option func(*Session)

func WithSuccessReportMode(m ReportMode) Option { return func(s *Session) { s.successMode = m } }
func WithFailureReportMode(m FailureMode) Option { return func(s *Session) { s.failureMode = m } }

// New creates a Session for path over conn and registers it as a
// demux.Target under every Uri in path (spec §4.4's targets index).
func New(path uri.Path, conn Conn, opts ...Option) *Session {
	s := &Session{
		path:     path,
		conn:     conn,
		incoming: make(map[string]*IncomingMessage),
		outgoing: make(map[string]*OutgoingMessage),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, u := range path {
		conn.Demultiplexer().InsertTarget(u, s)
	}
	return s
}

func (s *Session) Path() uri.Path { return s.path }

func (s *Session) Closed() bool { return s.closed.Load() }

// Prepare fills From-Path (defaulting to this Session's own path) on an
// application-built template before it is handed to Stream; To-Path is
// always caller-supplied since only the caller knows the peer.
func (s *Session) Prepare(m *msg.Message) {
	if _, ok := m.Headers.Get(msg.HdrFromPath); !ok {
		m.SetFromPath(s.path)
	}
}

// Process implements demux.Target: a frame whose To-Path names this
// Session and whose Message-ID (if any) matched nothing already tracked.
// Only SEND opens a new IncomingMessage; every other method that reaches
// here (AUTH, an orphaned REPORT) is accepted without creating one.
func (s *Session) Process(m *msg.Message) (demux.IncomingMessage, error) {
	if s.closed.Load() {
		return nil, &cos.RoutingError{Reason: "session closed"}
	}
	if m.Method != msg.SEND {
		return nil, nil
	}
	id, ok := m.MessageID()
	if !ok {
		return nil, &cos.ProtocolError{Reason: "SEND request lacks Message-ID"}
	}

	im := newIncomingMessage(id, m, s)

	s.mu.Lock()
	s.incoming[id] = im
	s.mu.Unlock()

	if s.OnMessage != nil {
		s.OnMessage(im)
	}
	return im, nil
}

// dropIncoming removes an IncomingMessage from this Session's bookkeeping
// once the Demultiplexer has evicted it (Completed/Interrupt).
func (s *Session) dropIncoming(id string) {
	s.mu.Lock()
	delete(s.incoming, id)
	s.mu.Unlock()
}

// Stream materializes an OutgoingMessage from template (spec §2's
// "Session.stream(template)"), queues it on the Connection's Scheduler
// and reports index, and returns a handle the caller subscribes to via
// OnContextRequired/OnDataRequired/OnReport/OnComplete before any bytes
// are sent.
func (s *Session) Stream(template *msg.Message) (*OutgoingMessage, error) {
	if s.closed.Load() {
		return nil, &cos.RoutingError{Reason: "session closed"}
	}
	s.Prepare(template)
	if template.Transaction == "" {
		template.Transaction = xid.New().String()
	}
	if _, ok := template.MessageID(); !ok {
		template.Headers.Set(msg.HdrMessageID, xid.New().String())
	}
	if _, ok := template.SuccessReport(); !ok {
		template.Headers.Set(msg.HdrSuccessReport, s.successMode.reportHeaderValue())
	}
	if _, ok := template.FailureReport(); !ok {
		template.Headers.Set(msg.HdrFailureReport, s.failureMode.String())
	}

	om := newOutgoingMessage(template, s)

	s.mu.Lock()
	s.outgoing[om.id] = om
	s.mu.Unlock()

	s.conn.Demultiplexer().InsertReport(om)
	s.conn.Scheduler().Queue(om)
	s.conn.Poke()
	return om, nil
}

// dropOutgoing removes an OutgoingMessage from this Session's bookkeeping
// and the Connection's reports index (the REPORT-index lifetime
// resolution: called only once both onComplete and report-settled are
// true, never on onComplete alone).
func (s *Session) dropOutgoing(id string) {
	s.mu.Lock()
	delete(s.outgoing, id)
	s.mu.Unlock()
	s.conn.Demultiplexer().RemoveReport(id)
}

// send writes an encoded frame directly to the Connection, bypassing the
// Scheduler (used for REPORTs and the 413 Cancelled response, neither of
// which is subject to fair interleaving against queued OutgoingMessages).
// It first clears the StreamContext so the frame does not land inside the
// current OutgoingMessage's open chunk.
func (s *Session) send(m *msg.Message) {
	s.conn.Context().Clear()
	s.conn.Send(m.Encode())
}

// Close unregisters this Session from the Connection's Demultiplexer and
// marks it closed; per the Weak-references Open Question resolution, this
// is the caller's obligation — the Demultiplexer cannot discover a
// dropped Session on its own, so skipping Close leaks the targets-index
// entry until the Connection itself closes.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	for _, u := range s.path {
		s.conn.Demultiplexer().RemoveTarget(u)
	}
	if s.OnClose != nil {
		s.OnClose()
	}
}

func (m ReportMode) reportHeaderValue() string {
	if m == ReportNone {
		return "no"
	}
	return "yes"
}
