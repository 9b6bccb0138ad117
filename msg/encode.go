package msg

import (
	"strconv"
	"strings"
)

const crlf = "\r\n"

// EncodeHeader writes the status line and header block (spec §4.1's wire
// shape), terminated by a blank line only when the caller intends to
// follow with a non-empty body — callers streaming a zero-body frame
// should omit the trailing blank line per spec §4.1 edge case (ii).
func (m *Message) EncodeHeader(withBlankLine bool) []byte {
	var b strings.Builder
	b.WriteString("MSRP ")
	b.WriteString(m.Transaction)
	b.WriteByte(' ')
	if m.Method == Response {
		b.WriteString(strconv.Itoa(int(m.StatusCode)))
		b.WriteByte(' ')
		b.WriteString(m.StatusPhrase)
	} else {
		b.WriteString(m.Method.String())
	}
	b.WriteString(crlf)
	for _, k := range m.Headers.Keys() {
		v, _ := m.Headers.Get(k)
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString(crlf)
	}
	if withBlankLine {
		b.WriteString(crlf)
	}
	return []byte(b.String())
}

// EncodeEndDelimiter writes "-------<tid><terminator>\r\n".
func (m *Message) EncodeEndDelimiter() []byte {
	var b strings.Builder
	b.WriteString("-------")
	b.WriteString(m.Transaction)
	b.WriteByte(m.Status.Terminator())
	b.WriteString(crlf)
	return []byte(b.String())
}

// Encode renders the complete wire frame: header block, body (if any),
// end delimiter.
func (m *Message) Encode() []byte {
	out := m.EncodeHeader(len(m.Body) > 0)
	out = append(out, m.Body...)
	out = append(out, m.EncodeEndDelimiter()...)
	return out
}
