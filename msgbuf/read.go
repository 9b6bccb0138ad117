package msgbuf

import (
	"errors"

	"github.com/cbond/msrp/cos"
	"github.com/cbond/msrp/msg"
)

const crlf = "\r\n"

var errBadStatusLine = errors.New("msgbuf: malformed status line")
var errBadEndToken = errors.New("msgbuf: malformed end delimiter")

// Read declares that n bytes were written into the slice most recently
// returned by MutableBuffer, and advances the frame parser across as
// much of Status→Headers→Content→Complete as the newly-available bytes
// allow (ported from MessageBuffer::read's case-fallthrough machine).
func (b *MessageBuffer) Read(n int) error {
	if n == 0 {
		return nil
	}
	if b.state == Complete {
		// The n new bytes sit right after the finished frame; count them
		// before reset() carries the residue over to the buffer head.
		b.stored += n
		b.reset()
		n = 0
	} else if b.stored == len(b.buf) {
		return &cos.BufferExhaustedError{Capacity: len(b.buf)}
	}

	// Outside the Status state searchStart is rewound by up to
	// 16+len(tid) bytes, mirroring the C++ source's re-entry trick, but
	// only the Status case reads it (and there it is always 0).
	// scanHeaders and scanEndToken rescan from the end of the status
	// line or header block, so a delimiter or end token split across
	// reads is still found whole.
	searchStart := 0
	if b.state != Status {
		searchStart = b.stored
		back := 16 + len(b.tid)
		searchStart -= min(searchStart, back)
	}
	b.stored += n

	switch b.state {
	case Status:
		tid, method, code, phrase, consumed, ok, err := scanStatusLine(b.buf[searchStart:b.stored])
		if err != nil {
			return cos.NewParseError("msgbuf", err)
		}
		if !ok {
			break
		}
		b.tid = tid
		b.method = method
		b.statusCode = code
		b.statusPhrase = phrase
		b.r.statusStart = searchStart
		b.r.statusEnd = searchStart + consumed
		b.safety = 7 + len(tid) + 1
		b.state = Headers
		fallthrough
	case Headers:
		if b.scanHeaders() {
			b.state = Content
		}
		fallthrough
	case Content:
		ok, err := b.scanEndToken()
		if err != nil {
			return cos.NewParseError("msgbuf", err)
		}
		if ok {
			b.state = Complete
		} else {
			b.computeContentRange()
		}
	case Complete:
		// unreachable: handled by the reset() call above
	}
	return nil
}

// scanHeaders looks for the blank-line header terminator within the
// full status-line-to-stored span. Re-scanning the whole span on every
// call (rather than the C++ source's windowed rescan) trades a little
// redundant work, bounded by buffer capacity, for simpler code.
func (b *MessageBuffer) scanHeaders() bool {
	if b.r.statusEnd < 0 {
		return false
	}
	region := b.buf[b.r.statusEnd:b.stored]
	idx := indexCRLFCRLF(region)
	if idx < 0 {
		return false
	}
	b.r.headerStart = b.r.statusEnd
	b.r.headerEnd = b.r.statusEnd + idx + 4
	return true
}

// scanEndToken searches backward for "-------<tid>" followed by one of
// the terminator characters (+, $, #), ported from getEndToken/reverseKey.
func (b *MessageBuffer) scanEndToken() (bool, error) {
	searchFrom := 0
	switch {
	case b.r.headerEnd >= 0:
		searchFrom = b.r.headerEnd
	case b.r.statusEnd >= 0:
		searchFrom = b.r.statusEnd
	}
	if searchFrom > b.stored {
		return false, nil
	}
	region := b.buf[searchFrom:b.stored]
	marker := "-------" + b.tid

	idx := lastIndexWithTerminator(region, marker)
	if idx < 0 {
		return false, nil
	}
	tokenStart := searchFrom + idx
	tokenEnd := tokenStart + len(marker) + 1
	term := b.buf[tokenEnd-1]

	switch term {
	case '+':
		b.msgStatus = msg.Continued
	case '$':
		b.msgStatus = msg.Complete
	case '#':
		b.msgStatus = msg.Interrupted
	default:
		return false, errBadEndToken
	}
	b.r.tokenStart, b.r.tokenEnd = tokenStart, tokenEnd

	switch {
	case b.r.headerEnd >= 0:
		b.r.contentStart, b.r.contentEnd = b.r.headerEnd, tokenStart
	case b.r.statusStart >= 0:
		// zero-body frame (spec §4.1 edge case ii): headers ran
		// straight into the end delimiter with no blank line.
		b.r.headerStart, b.r.headerEnd = b.r.statusEnd, tokenStart
		b.r.contentStart, b.r.contentEnd = -1, -1
	default:
		// post-Erase, mid-stream: content occupies the buffer head.
		b.r.contentStart, b.r.contentEnd = 0, tokenStart
	}
	return true, nil
}

// lastIndexWithTerminator finds the rightmost occurrence of marker in b
// that is immediately followed by a terminator byte.
func lastIndexWithTerminator(b []byte, marker string) int {
	for start := len(b) - len(marker) - 1; start >= 0; start-- {
		if string(b[start:start+len(marker)]) != marker {
			continue
		}
		switch b[start+len(marker)] {
		case '+', '$', '#':
			return start
		}
	}
	return -1
}

// computeContentRange publishes as much body as is safe to hand to the
// caller while withholding the trailing Safety margin, so a partial
// end-token straddling the buffer tail is never misread as content
// (ported from MessageBuffer::setContentRange).
func (b *MessageBuffer) computeContentRange() {
	b.r.contentStart, b.r.contentEnd = -1, -1
	if b.state != Content {
		return
	}
	switch {
	case b.r.statusStart < 0 && b.r.headerStart < 0:
		s := b.stored - min(b.stored, b.safety)
		if s > 0 {
			b.r.contentStart, b.r.contentEnd = 0, s
		}
	case b.r.headerEnd >= 0:
		avail := b.stored - b.r.headerEnd
		if avail > b.safety {
			b.r.contentStart = b.r.headerEnd
			b.r.contentEnd = b.stored - b.safety
		}
	}
	b.msgStatus = msg.Streaming
}

// Contents returns the body bytes that are safe to publish: while the
// frame is still in Content, those received past the header block (or
// past the last Erase) minus the trailing Safety margin; once Complete,
// everything up to the end delimiter. The returned slice aliases the
// buffer and is only valid until the next Read or Erase.
func (b *MessageBuffer) Contents() []byte {
	if b.r.contentStart < 0 {
		return nil
	}
	return b.buf[b.r.contentStart:b.r.contentEnd]
}

// Parse builds a *msg.Message from the captured status-line+header
// span. It returns (nil, nil) if the header block has not yet fully
// arrived.
func (b *MessageBuffer) Parse(mode ParseMode) (*msg.Message, error) {
	if b.r.statusStart < 0 || b.r.headerEnd < 0 {
		return nil, nil
	}
	m, err := msg.ParseStatusAndHeaders(b.buf[b.r.statusStart:b.r.headerEnd])
	if err != nil {
		return nil, err
	}
	m.Status = b.msgStatus

	switch mode {
	case OverlayContents:
		m.Body = b.Contents()
	case CopyContents:
		if c := b.Contents(); c != nil {
			m.Body = append([]byte(nil), c...)
		}
	case NoContents:
	}
	return m, nil
}

// Erase discards content bytes already delivered to the caller,
// compacting the buffer while preserving the trailing Safety margin so
// a future Read can still assemble a split end-token (ported from
// MessageBuffer::erase).
func (b *MessageBuffer) Erase() {
	if b.state == Content && b.r.tokenStart < 0 {
		// Undelivered bytes start after the published content, or after
		// the header block when nothing has been published yet.
		off := 0
		switch {
		case b.r.contentStart >= 0:
			off = b.r.contentEnd
		case b.r.headerEnd >= 0:
			off = b.r.headerEnd
		}
		copy(b.buf, b.buf[off:b.stored])
		b.stored -= off
		b.r.reset()
		return
	}
	b.stored = 0
	b.r.reset()
}

// reset prepares the buffer for the next frame once the current one has
// reached Complete, carrying over any bytes already read past the end
// delimiter (pipelined frames), skipping intervening whitespace.
func (b *MessageBuffer) reset() {
	if b.state == Complete && b.r.tokenEnd >= 0 {
		i := b.r.tokenEnd
		for i < b.stored && isSpace(b.buf[i]) {
			i++
		}
		remaining := b.stored - i
		copy(b.buf, b.buf[i:b.stored])
		b.stored = remaining
	} else {
		b.stored = 0
	}
	b.tid = ""
	b.method = 0
	b.statusCode = 0
	b.statusPhrase = ""
	b.state = Status
	b.r.reset()
}
