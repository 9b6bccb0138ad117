package session

import (
	"strconv"
	"sync"

	"github.com/cbond/msrp/msg"
)

// IncomingMessage tracks one inbound SEND across chunk boundaries,
// ported from original_source/IncomingMessage.cxx. It implements
// demux.IncomingMessage.
type IncomingMessage struct {
	mu sync.Mutex

	id       string
	template *msg.Message
	session  *Session

	transferred   int64
	size          int64 // -1 until a Byte-Range total is known
	fragmentStart int64
	fragmentSize  int64
	complete      bool
	interrupted   bool

	successMode ReportMode
	failureMode FailureMode

	// OnContext fires on every process(frame), including the first:
	// the application may inspect/replace headers before bytes arrive.
	OnContext func(*msg.Message)
	// OnContents fires once per body chunk.
	OnContents func(b []byte, status msg.Status)
	// OnComplete fires exactly once, with interrupted reporting whether
	// the transfer ended early.
	OnComplete func(interrupted bool)
}

func newIncomingMessage(id string, m *msg.Message, s *Session) *IncomingMessage {
	im := &IncomingMessage{
		id:          id,
		template:    m,
		session:     s,
		size:        -1,
		successMode: s.successMode,
		failureMode: s.failureMode,
	}
	im.applyReportHeaders(m)
	if br, ok, err := m.ByteRange(); ok && err == nil {
		im.fragmentStart = br.Start
		im.size = br.Total
	}
	return im
}

func (im *IncomingMessage) applyReportHeaders(m *msg.Message) {
	if v, ok := m.SuccessReport(); ok {
		im.successMode = parseSuccessReport(v)
	}
	if v, ok := m.FailureReport(); ok {
		im.failureMode = parseFailureReport(v)
	}
}

func (im *IncomingMessage) MessageID() string { return im.id }

// Process handles a new header block for this message: per RFC 4975 a
// later chunk of a streamed SEND may change Success-Report mode between
// chunks, so headers are re-applied on every call, not just the first.
func (im *IncomingMessage) Process(m *msg.Message) bool {
	im.mu.Lock()
	im.template = m
	im.applyReportHeaders(m)
	if br, ok, err := m.ByteRange(); ok && err == nil {
		im.fragmentStart = br.Start
		im.size = br.Total
	}
	cb := im.OnContext
	im.mu.Unlock()

	if cb != nil {
		cb(m)
	}
	return true
}

// ProcessBody advances transferred and the current fragment range, then
// fires OnContents.
func (im *IncomingMessage) ProcessBody(b []byte) bool {
	im.mu.Lock()
	im.fragmentSize += int64(len(b))
	im.transferred += int64(len(b))
	cb := im.OnContents
	im.mu.Unlock()

	if cb != nil {
		cb(b, msg.Streaming)
	}
	return true
}

// Continued emits a success REPORT covering the fragment just delivered,
// when successMode requests per-fragment reporting.
func (im *IncomingMessage) Continued() {
	im.mu.Lock()
	mode := im.successMode
	start, size := im.fragmentStart, im.fragmentSize
	im.fragmentStart += size
	im.fragmentSize = 0
	im.mu.Unlock()

	if mode == ReportFragmented || mode == ReportAutomatic {
		im.sendReport(200, "OK", start, start+size-1)
	}
}

// Completed marks the transfer done, fires OnComplete, and — unless
// policy is ReportNone — emits the final success REPORT.
func (im *IncomingMessage) Completed() {
	im.mu.Lock()
	im.complete = true
	mode := im.successMode
	start, size := im.fragmentStart, im.fragmentSize
	cb := im.OnComplete
	im.mu.Unlock()

	if cb != nil {
		cb(false)
	}
	if mode != ReportNone {
		im.sendReport(200, "OK", start, start+size-1)
	}
	im.session.dropIncoming(im.id)
}

// Interrupt marks the transfer as having ended early (the sender's '#'
// terminator) and fires OnComplete(true).
func (im *IncomingMessage) Interrupt() {
	im.mu.Lock()
	im.interrupted = true
	cb := im.OnComplete
	im.mu.Unlock()

	if cb != nil {
		cb(true)
	}
	im.session.dropIncoming(im.id)
}

// Cancel synthesizes a 413 "Cancelled" response and sends
// it immediately, bypassing the Scheduler — the application's refusal of
// an in-flight SEND (spec §4.6's cancel()).
func (im *IncomingMessage) Cancel() {
	im.mu.Lock()
	t := im.template
	im.mu.Unlock()

	resp, err := t.Response(413, "Cancelled")
	if err != nil {
		return
	}
	im.session.send(resp)
}

func (im *IncomingMessage) sendReport(code uint16, phrase string, start, end int64) {
	im.mu.Lock()
	t := im.template
	total := im.size
	im.mu.Unlock()

	from, err := t.FromPath()
	if err != nil {
		return
	}
	report := msg.New()
	report.Transaction = t.Transaction
	report.Method = msg.REPORT
	report.Status = msg.Complete
	report.SetFromPath(im.session.path)
	report.SetToPath(from)
	report.Headers.Set(msg.HdrMessageID, im.id)
	report.Headers.Set(msg.HdrStatus, "000 "+strconv.Itoa(int(code))+" "+phrase)
	report.Headers.Set(msg.HdrByteRange, msg.ByteRange{Start: start, End: end, Total: total}.String())
	im.session.send(report)
}
