// Package msgbuf implements MessageBuffer, the incremental byte-to-frame
// decoder (spec §4.1), ported from original_source/MessageBuffer.cxx's
// Status→Headers→Content→Complete state machine.
package msgbuf

import (
	"github.com/cbond/msrp/cos"
	"github.com/cbond/msrp/msg"
)

// State mirrors MessageBuffer.cxx's mState.
type State int

const (
	Status State = iota
	Headers
	Content
	Complete
)

// ParseMode controls how Parse attaches the body to the returned
// *msg.Message (spec §4.1).
type ParseMode int

const (
	OverlayContents ParseMode = iota // body borrows into the buffer; valid until the next Read
	CopyContents                     // body is a fresh copy
	NoContents                       // body is left empty
)

const defaultMaxTokenLen = 31 // grammar ceiling, spec §6: transaction id is 6-31 chars

// ranges holds the four disjoint, monotonically-ordered subranges into
// buf (spec §3's MessageBuffer invariant); -1 marks an unset/empty
// range, the Go analogue of a null iterator_range in the C++ source.
type ranges struct {
	statusStart, statusEnd   int
	headerStart, headerEnd   int
	contentStart, contentEnd int
	tokenStart, tokenEnd     int
}

func (r *ranges) reset() {
	*r = ranges{-1, -1, -1, -1, -1, -1, -1, -1}
}

// MessageBuffer is a fixed-capacity parse buffer for one Connection's
// inbound byte stream.
type MessageBuffer struct {
	buf    []byte
	stored int
	state  State

	maxTokenLen int
	safety      int // 7 + len(tid) + 1, recomputed per frame (spec §9 resolution)

	tid          string
	method       msg.Method
	statusCode   uint16
	statusPhrase string
	msgStatus    msg.Status

	r ranges
}

type Option func(*MessageBuffer)

// WithMaxTokenLen overrides the transaction-id length ceiling used to
// validate the buffer's capacity against the Safety margin (default 31,
// the grammar's max per spec §6).
func WithMaxTokenLen(n int) Option {
	return func(b *MessageBuffer) { b.maxTokenLen = n }
}

// New allocates a MessageBuffer of the given capacity. It rejects a
// maxTokenLen so large relative to capacity that the Safety margin
// could swallow a meaningful fraction of every read (spec §9: "enforce
// tid.length <= Safety - 8 at parse time or make Safety a function of
// tid.length" — this module takes the latter route and additionally
// guards the construction-time ceiling).
func New(capacity int, opts ...Option) (*MessageBuffer, error) {
	b := &MessageBuffer{
		buf:         make([]byte, capacity),
		maxTokenLen: defaultMaxTokenLen,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.maxTokenLen > capacity/4 {
		return nil, cos.NewParseError("msgbuf", errMaxTokenLenTooLarge(b.maxTokenLen, capacity))
	}
	b.r.reset()
	return b, nil
}

func errMaxTokenLenTooLarge(maxTokenLen, capacity int) error {
	return &tooLargeErr{maxTokenLen, capacity}
}

type tooLargeErr struct{ maxTokenLen, capacity int }

func (e *tooLargeErr) Error() string {
	return "maxTokenLen too large relative to buffer capacity"
}

func (b *MessageBuffer) State() State          { return b.state }
func (b *MessageBuffer) Method() msg.Method     { return b.method }
func (b *MessageBuffer) Transaction() string    { return b.tid }
func (b *MessageBuffer) MsgStatus() msg.Status  { return b.msgStatus }
func (b *MessageBuffer) Capacity() int          { return len(b.buf) }

// MutableBuffer returns the writable tail of the buffer: the caller
// appends up to len(result) bytes of freshly-read socket data there,
// then calls Read(n) to declare how many were written.
func (b *MessageBuffer) MutableBuffer() []byte {
	return b.buf[b.stored:]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
