package msg

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/cbond/msrp/cos"
)

// ParseStatusAndHeaders parses the status line plus header block (the
// portion of a frame preceding the body), per the header grammar of
// original_source/ParseMessage.hxx. Parsing stops at the blank-line
// separator if `b` includes one (msgbuf passes it); any bytes after it,
// such as a body, are ignored. Unknown header order is preserved (spec §8
// round-trip invariant).
func ParseStatusAndHeaders(b []byte) (*Message, error) {
	p := &hparser{b: b}
	m, err := p.parse()
	if err != nil {
		return nil, cos.NewParseError("message", err)
	}
	return m, nil
}

type hparser struct {
	b   []byte
	pos int
}

func (p *hparser) eof() bool { return p.pos >= len(p.b) }
func (p *hparser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.b[p.pos]
}

func (p *hparser) consumeStr(lit string) bool {
	if len(p.b)-p.pos < len(lit) || !bytes.Equal(p.b[p.pos:p.pos+len(lit)], []byte(lit)) {
		return false
	}
	p.pos += len(lit)
	return true
}

func isBlank(b byte) bool { return b == ' ' || b == '\t' }

func (p *hparser) skipBlanks() {
	for !p.eof() && isBlank(p.peek()) {
		p.pos++
	}
}

func isTokenChar(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '.' || b == '-' || b == '+' || b == '%' || b == '=':
		return true
	}
	return false
}

func (p *hparser) parse() (*Message, error) {
	m := New()

	if !p.consumeStr("MSRP") {
		return nil, fmt.Errorf("missing MSRP preamble")
	}
	p.skipBlanks()
	start := p.pos
	for !p.eof() && isTokenChar(p.peek()) {
		p.pos++
	}
	if p.pos == start {
		return nil, fmt.Errorf("missing transaction id")
	}
	m.Transaction = string(p.b[start:p.pos])
	p.skipBlanks()

	if err := p.parseMethodOrResponse(m); err != nil {
		return nil, err
	}
	if !p.consumeStr(crlf) {
		return nil, fmt.Errorf("missing CRLF after status line")
	}
	for !p.eof() {
		if p.consumeStr(crlf) {
			break // blank line: end of header block
		}
		if err := p.parseHeader(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (p *hparser) parseMethodOrResponse(m *Message) error {
	if p.eof() {
		return fmt.Errorf("missing method/status")
	}
	if p.peek() >= '0' && p.peek() <= '9' {
		start := p.pos
		for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
			p.pos++
		}
		code, err := strconv.Atoi(string(p.b[start:p.pos]))
		if err != nil {
			return err
		}
		m.Method = Response
		m.StatusCode = uint16(code)
		p.skipBlanks()
		phraseStart := p.pos
		for !p.eof() && p.peek() != '\r' && p.peek() != '\n' {
			p.pos++
		}
		m.StatusPhrase = string(p.b[phraseStart:p.pos])
		return nil
	}
	switch {
	case p.consumeStr("AUTH"):
		m.Method = AUTH
	case p.consumeStr("SEND"):
		m.Method = SEND
	case p.consumeStr("REPORT"):
		m.Method = REPORT
	default:
		return fmt.Errorf("unrecognized method")
	}
	return nil
}

func (p *hparser) parseHeader(m *Message) error {
	start := p.pos
	if p.eof() || !isAlpha(p.peek()) {
		return fmt.Errorf("bad header name at offset %d", p.pos)
	}
	p.pos++
	for !p.eof() && (isAlphaNum(p.peek()) || p.peek() == '-') {
		p.pos++
	}
	name := string(p.b[start:p.pos])
	if !p.consumeStr(": ") {
		return fmt.Errorf("header %q: missing ': ' separator", name)
	}
	valStart := p.pos
	for !p.eof() && p.peek() != '\r' && p.peek() != '\n' {
		p.pos++
	}
	value := string(p.b[valStart:p.pos])
	if !p.consumeStr(crlf) {
		return fmt.Errorf("header %q: missing CRLF", name)
	}
	m.Headers.Set(name, value)
	return nil
}

func isAlpha(b byte) bool    { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') }
func isAlphaNum(b byte) bool { return isAlpha(b) || (b >= '0' && b <= '9') }
