// Package uri implements the MSRP URI grammar (RFC 4975 §6) and Path, the
// ordered URI list used by From-Path/To-Path headers.
package uri

import (
	"strconv"
	"strings"

	"github.com/cbond/msrp/cos"
)

// Uri is one `msrp[s]:` endpoint reference.
type Uri struct {
	Scheme    string // "msrp" or "msrps", lower-cased
	User      string
	Host      string
	Port      uint16 // 0 means "not specified"
	Session   string
	Transport string // always "tcp" when present
	Delimiter bool   // whether "//" appeared after the scheme colon
}

// HasPort reports whether an explicit port was present in the URI text.
func (u Uri) HasPort() bool { return u.Port != 0 }

// Equal compares two URIs per spec: case-insensitive scheme and host,
// case-sensitive user, port and session. Transport and the "//"
// delimiter are not compared.
func (u Uri) Equal(o Uri) bool {
	return strings.EqualFold(u.Scheme, o.Scheme) &&
		strings.EqualFold(u.Host, o.Host) &&
		u.Port == o.Port &&
		u.User == o.User &&
		u.Session == o.Session
}

// Key returns a case-normalized string suitable for use as a map key
// (Demultiplexer's targets index routes by Uri).
func (u Uri) Key() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteByte(':')
	if u.User != "" {
		b.WriteString(u.User)
		b.WriteByte('@')
	}
	b.WriteString(strings.ToLower(u.Host))
	if u.Port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(int(u.Port)))
	}
	if u.Session != "" {
		b.WriteByte('/')
		b.WriteString(u.Session)
	}
	return b.String()
}

func (u Uri) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteByte(':')
	if u.Delimiter {
		b.WriteString("//")
	}
	if u.User != "" {
		b.WriteString(u.User)
		b.WriteByte('@')
	}
	if strings.ContainsRune(u.Host, ':') && !strings.HasPrefix(u.Host, "[") {
		b.WriteByte('[')
		b.WriteString(u.Host)
		b.WriteByte(']')
	} else {
		b.WriteString(u.Host)
	}
	if u.Port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(int(u.Port)))
	}
	if u.Session != "" {
		b.WriteByte('/')
		b.WriteString(u.Session)
	}
	if u.Transport != "" {
		b.WriteByte(';')
		b.WriteString(u.Transport)
	}
	return b.String()
}

// Path is an ordered chain of URIs (From-Path/To-Path/Use-Path header
// value).
type Path []Uri

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, u := range p {
		parts[i] = u.String()
	}
	return strings.Join(parts, " ")
}

// Front returns the first URI of the path (the dispatch target of
// To-Path, per the Demultiplexer routing algorithm).
func (p Path) Front() (Uri, bool) {
	if len(p) == 0 {
		return Uri{}, false
	}
	return p[0], true
}

// Rightmost returns the last URI of the path (used to build a SEND
// response's To-Path from the request's From-Path, spec §3).
func (p Path) Rightmost() (Uri, bool) {
	if len(p) == 0 {
		return Uri{}, false
	}
	return p[len(p)-1], true
}

// Reversed returns a copy of p with URI order reversed (used to build a
// non-SEND response's To-Path).
func (p Path) Reversed() Path {
	out := make(Path, len(p))
	for i, u := range p {
		out[len(p)-1-i] = u
	}
	return out
}

// Parse parses a single MSRP URI per RFC 4975 §6 / spec §6:
//
//	("msrp"|"msrps") ":" ["//"] [userinfo "@"] host [":" port] ["/" session] [";tcp"]
func Parse(s string) (Uri, error) {
	p := &scanner{s: s}
	u, err := p.parseURI()
	if err != nil {
		return Uri{}, cos.NewParseError("uri", err)
	}
	if p.pos != len(p.s) {
		return Uri{}, cos.NewParseError("uri", errTrailingGarbage)
	}
	return u, nil
}

// ParsePath parses a blank-separated sequence of URIs (a From-Path,
// To-Path, or Use-Path header value).
func ParsePath(s string) (Path, error) {
	fields := strings.Fields(s)
	out := make(Path, 0, len(fields))
	for _, f := range fields {
		u, err := Parse(f)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
