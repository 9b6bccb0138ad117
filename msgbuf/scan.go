package msgbuf

import (
	"bytes"

	"github.com/cbond/msrp/msg"
)

// scanStatusLine looks for a complete "MSRP <tid> <method|code phrase>\r\n"
// line within b (ported from MessageBuffer::getTransaction, which runs
// just the status-line rule of ParseMessage.hxx's grammar — the header
// block itself is only boundary-detected here, not grammar-parsed; full
// grammar parsing happens once, in Parse, over the captured span).
//
// ok=false,err=nil means "not enough data yet"; ok=false,err!=nil means
// the bytes present are not a valid status line.
func scanStatusLine(b []byte) (tid string, method msg.Method, code uint16, phrase string, consumed int, ok bool, err error) {
	idx := bytes.Index(b, []byte(crlf))
	if idx < 0 {
		return "", 0, 0, "", 0, false, nil
	}
	line := b[:idx]
	pos := 0

	const pre = "MSRP"
	if len(line) < len(pre) || string(line[:len(pre)]) != pre {
		return "", 0, 0, "", 0, false, errBadStatusLine
	}
	pos += len(pre)
	pos = skipBlanks(line, pos)

	start := pos
	for pos < len(line) && isTokenChar(line[pos]) {
		pos++
	}
	if pos == start {
		return "", 0, 0, "", 0, false, errBadStatusLine
	}
	tid = string(line[start:pos])
	pos = skipBlanks(line, pos)

	if pos < len(line) && line[pos] >= '0' && line[pos] <= '9' {
		cstart := pos
		for pos < len(line) && line[pos] >= '0' && line[pos] <= '9' {
			pos++
		}
		n := 0
		for _, c := range line[cstart:pos] {
			n = n*10 + int(c-'0')
		}
		code = uint16(n)
		method = msg.Response
		pos = skipBlanks(line, pos)
		phrase = string(line[pos:])
		return tid, method, code, phrase, idx + 2, true, nil
	}

	switch {
	case hasPrefixAt(line, pos, "AUTH"):
		method, pos = msg.AUTH, pos+4
	case hasPrefixAt(line, pos, "SEND"):
		method, pos = msg.SEND, pos+4
	case hasPrefixAt(line, pos, "REPORT"):
		method, pos = msg.REPORT, pos+6
	default:
		return "", 0, 0, "", 0, false, errBadStatusLine
	}
	return tid, method, 0, "", idx + 2, true, nil
}

func hasPrefixAt(b []byte, pos int, lit string) bool {
	return len(b)-pos >= len(lit) && string(b[pos:pos+len(lit)]) == lit
}

func skipBlanks(b []byte, pos int) int {
	for pos < len(b) && (b[pos] == ' ' || b[pos] == '\t') {
		pos++
	}
	return pos
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

// indexCRLFCRLF finds the blank-line header terminator.
func indexCRLFCRLF(b []byte) int {
	return bytes.Index(b, []byte(crlf+crlf))
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
