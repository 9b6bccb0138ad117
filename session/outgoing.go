package session

import (
	"sync"
	"time"

	"github.com/cbond/msrp/msg"
)

const defaultReportTimeout = 30 * time.Second

// OutgoingMessage represents one application-initiated SEND transfer,
// ported from original_source/OutgoingMessage.cxx. It implements both
// sched.Streamable (so the Scheduler can interleave its chunks with
// sibling transfers) and demux.OutgoingMessage (so a correlated REPORT
// reaches Process).
type OutgoingMessage struct {
	mu sync.Mutex

	id       string
	template *msg.Message
	session  *Session

	size        int64 // -1 until the application calls SetSize, or never for an unbounded stream
	transferred int64
	queued      []byte

	started     bool
	complete    bool
	interrupted bool

	// terminated guards the one-time teardown (scheduler eviction, report
	// arming, OnComplete) performed once complete/interrupted; unlike
	// complete/interrupted it is never true for an ordinary '+' chunk
	// boundary, only for the final one.
	terminated bool

	// reportSettled and complete are the two independent booleans behind
	// the REPORT-index lifetime resolution (spec §9): removal from the
	// Connection's reports index waits for both, not for complete alone.
	reportSettled bool
	reportTimer   *time.Timer
	reportTimeout time.Duration

	OnContextRequired func(*msg.Message)
	OnDataRequired    func(required int64, stream func([]byte))
	OnReport          func(*msg.Message)
	OnComplete        func(interrupted bool)
}

func newOutgoingMessage(template *msg.Message, s *Session) *OutgoingMessage {
	id, _ := template.MessageID()
	om := &OutgoingMessage{
		id:            id,
		template:      template,
		session:       s,
		size:          -1,
		reportTimeout: reportTimeoutFor(template),
	}
	return om
}

func reportTimeoutFor(m *msg.Message) time.Duration {
	if secs, ok, err := m.Expires(); ok && err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if secs, ok, err := m.MinExpires(); ok && err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultReportTimeout
}

func (om *OutgoingMessage) MessageID() string { return om.id }

// SetSize announces the total transfer size once known; unannounced
// (size == -1) streams run until the application stops supplying bytes
// and calls Finish.
func (om *OutgoingMessage) SetSize(n int64) {
	om.mu.Lock()
	om.size = n
	om.mu.Unlock()
}

// Send queues caller-owned bytes for the next Run() to drain and arms
// this message on the Connection's Scheduler if it wasn't already
// runnable.
func (om *OutgoingMessage) Send(b []byte) {
	om.mu.Lock()
	om.queued = append(om.queued, b...)
	om.mu.Unlock()
	om.session.conn.Scheduler().Queue(om)
	om.session.conn.Poke()
}

// Finish marks a size-unannounced transfer done once the application has
// no more bytes to send.
func (om *OutgoingMessage) Finish() {
	om.mu.Lock()
	om.size = om.transferred
	om.mu.Unlock()
}

// Cancel marks the transfer interrupted; the next Run/End cycle emits
// the '#' terminator and tears it down.
func (om *OutgoingMessage) Cancel() {
	om.mu.Lock()
	om.interrupted = true
	om.mu.Unlock()
	om.session.conn.Scheduler().Queue(om)
	om.session.conn.Poke()
}

// Runnable reports non-empty queued bytes, a pending interruption, or an
// application willing to supply more via OnDataRequired. Once a message
// reaches its terminal state, Run() tears it down (and evicts it from
// the Scheduler) in the same call, so there is no separate "still owed a
// terminator" state to report here.
func (om *OutgoingMessage) Runnable() bool {
	om.mu.Lock()
	defer om.mu.Unlock()
	if len(om.queued) > 0 {
		return true
	}
	if om.interrupted {
		return true
	}
	return om.OnDataRequired != nil
}

// Start emits the header block announcing this chunk's Byte-Range,
// giving the application a chance to mutate headers first.
func (om *OutgoingMessage) Start() {
	om.mu.Lock()
	t := om.template
	total := om.size
	from := om.transferred + 1
	cb := om.OnContextRequired
	om.mu.Unlock()

	if cb != nil {
		cb(t)
	}
	t.Headers.Set(msg.HdrByteRange, msg.ByteRange{Start: from, End: -1, Total: total}.String())
	om.session.conn.Send(t.EncodeHeader(true))

	om.mu.Lock()
	om.started = true
	om.mu.Unlock()
}

// Run emits exactly one chunk: the queued-bytes buffer if non-empty,
// otherwise one application-supplied chunk via OnDataRequired. Reaching
// the announced size (or an interruption) within this call emits the
// end-delimiter and tears the message down in the same tick — spec
// §4.6's "on reaching announced size, set complete and clear the
// StreamContext" — rather than waiting for a later Select to notice,
// since StreamContext.Select only calls End on a message it is
// preempting, never on one that stays current.
func (om *OutgoingMessage) Run() {
	om.mu.Lock()
	queued := om.queued
	om.queued = nil
	interrupted := om.interrupted
	om.mu.Unlock()

	switch {
	case len(queued) > 0:
		om.stream(queued)
	case interrupted:
		// nothing to drain, just fall through to emitTerminator below
	default:
		om.mu.Lock()
		size, transferred := om.size, om.transferred
		cb := om.OnDataRequired
		om.mu.Unlock()
		if cb == nil {
			return
		}
		required := int64(-1)
		if size >= 0 {
			required = size - transferred
		}
		cb(required, om.stream)
	}

	om.mu.Lock()
	done := om.complete || om.interrupted
	om.mu.Unlock()
	if done {
		om.emitTerminator()
	}
}

// stream writes b to the Connection and advances transferred; passed to
// the application as OnDataRequired's second argument.
func (om *OutgoingMessage) stream(b []byte) {
	if len(b) == 0 {
		return
	}
	om.session.conn.Send(b)
	om.mu.Lock()
	om.transferred += int64(len(b))
	if om.size >= 0 && om.transferred >= om.size {
		om.complete = true
	}
	om.mu.Unlock()
}

// End emits the end-delimiter for the chunk just run; StreamContext calls
// it when preempting this message for another one (terminator '+',
// mid-transfer) and from Clear. Run calls emitTerminator directly when
// this message itself reaches its terminal state.
func (om *OutgoingMessage) End() {
	om.emitTerminator()
}

// emitTerminator encodes and sends "-------<tid><terminator>\r\n". For a
// non-terminal call (still mid-transfer, being preempted) this always
// runs and sends '+'. For a terminal call (complete or interrupted) it
// is idempotent — only the first call tears the message down: evicts it
// from the Scheduler and, if a final REPORT has already settled it,
// removes it from the reports index (dropOutgoing); otherwise it arms the
// report timeout, and removal waits for a correlated REPORT or that
// timeout (spec §9).
func (om *OutgoingMessage) emitTerminator() {
	om.mu.Lock()
	t := om.template
	complete, interrupted := om.complete, om.interrupted
	terminal := complete || interrupted
	if terminal && om.terminated {
		om.mu.Unlock()
		return
	}
	switch {
	case interrupted:
		t.Status = msg.Interrupted
	case complete:
		t.Status = msg.Complete
	default:
		t.Status = msg.Continued
	}
	if terminal {
		om.terminated = true
	}
	om.mu.Unlock()

	om.session.conn.Send(t.EncodeEndDelimiter())

	if !terminal {
		return
	}
	om.session.conn.Scheduler().Erase(om)
	om.session.conn.Context().Drop(om)

	om.mu.Lock()
	settled := om.reportSettled
	cb := om.OnComplete
	om.mu.Unlock()

	if settled {
		om.session.dropOutgoing(om.id)
	} else {
		om.armReportTimeout()
	}
	if cb != nil {
		cb(interrupted)
	}
}

// armReportTimeout starts the fallback timer that evicts this message
// from the reports index if no REPORT ever arrives.
func (om *OutgoingMessage) armReportTimeout() {
	om.mu.Lock()
	if om.reportSettled || om.reportTimer != nil {
		om.mu.Unlock()
		return
	}
	timeout := om.reportTimeout
	om.mu.Unlock()

	om.reportTimer = time.AfterFunc(timeout, func() {
		om.settleReport()
	})
}

// Process handles a correlated REPORT: fires OnReport, and — once the
// report's Byte-Range shows full coverage — settles the report lifetime.
func (om *OutgoingMessage) Process(m *msg.Message) bool {
	om.mu.Lock()
	cb := om.OnReport
	om.mu.Unlock()
	if cb != nil {
		cb(m)
	}

	if br, ok, err := m.ByteRange(); ok && err == nil && br.Total >= 0 && br.End == br.Total {
		om.settleReport()
	}
	return true
}

// settleReport marks the report side of the lifetime done and, once
// transfer completion has also happened, evicts this message from the
// Connection's reports index.
func (om *OutgoingMessage) settleReport() {
	om.mu.Lock()
	if om.reportSettled {
		om.mu.Unlock()
		return
	}
	om.reportSettled = true
	if om.reportTimer != nil {
		om.reportTimer.Stop()
	}
	complete := om.complete
	om.mu.Unlock()

	if complete {
		om.session.dropOutgoing(om.id)
	}
}
