// Package msg defines Message, the parsed MSRP frame (spec §3), with
// lazily-parsed typed views over its known headers (§9 design notes:
// "tagged variant per header with a Raw(string) | Parsed(T) state").
package msg

import (
	"strconv"

	"github.com/cbond/msrp/uri"
)

type Method int

const (
	AUTH Method = iota
	SEND
	REPORT
	Response
)

func (m Method) String() string {
	switch m {
	case AUTH:
		return "AUTH"
	case SEND:
		return "SEND"
	case REPORT:
		return "REPORT"
	case Response:
		return "Response"
	default:
		return "?"
	}
}

// Status is the continuation state derived from the end-delimiter
// terminator (+ continued, $ complete, # interrupted), plus Streaming
// for a frame still being delivered chunk-by-chunk.
type Status int

const (
	Continued Status = iota
	Complete
	Interrupted
	Streaming
)

func (s Status) Terminator() byte {
	switch s {
	case Continued:
		return '+'
	case Interrupted:
		return '#'
	default:
		return '$'
	}
}

// Known header names (spec §3). Stored case-exact in the ordered map;
// lookups for the typed accessors below use these canonical names.
const (
	HdrFromPath      = "From-Path"
	HdrToPath        = "To-Path"
	HdrUsePath       = "Use-Path"
	HdrMessageID     = "Message-ID"
	HdrContentLength = "Content-Length"
	HdrContentType   = "Content-Type"
	HdrByteRange     = "Byte-Range"
	HdrExpires       = "Expires"
	HdrMinExpires    = "Min-Expires"
	HdrStatus        = "Status"
	HdrSuccessReport = "Success-Report"
	HdrFailureReport = "Failure-Report"
)

// Headers is an ordered map<string,string>: insertion order is the wire
// order, preserved for unknown/extension headers per spec §8's
// round-trip invariant.
type Headers struct {
	keys   []string
	values map[string]string
}

func NewHeaders() *Headers {
	return &Headers{values: make(map[string]string)}
}

func (h *Headers) Set(key, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

func (h *Headers) Get(key string) (string, bool) {
	v, ok := h.values[key]
	return v, ok
}

func (h *Headers) Del(key string) {
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	for i, k := range h.keys {
		if k == key {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Keys returns header names in wire/insertion order.
func (h *Headers) Keys() []string { return h.keys }

func (h *Headers) Len() int { return len(h.keys) }

// Message is one parsed (or about-to-be-encoded) MSRP frame.
type Message struct {
	Transaction  string
	Method       Method
	StatusCode   uint16 // 0 for requests
	StatusPhrase string
	Status       Status
	Headers      *Headers
	Body         []byte
}

func New() *Message {
	return &Message{Headers: NewHeaders()}
}

// ByteRange is the parsed form of a Byte-Range header:
// "<start>-<end|'*'>/<total|'*'>".
type ByteRange struct {
	Start      int64
	End        int64 // -1 means '*' (unknown)
	Total      int64 // -1 means '*' (unknown)
}

func (m *Message) path(name string) (uri.Path, error) {
	v, ok := m.Headers.Get(name)
	if !ok || v == "" {
		return nil, nil
	}
	return uri.ParsePath(v)
}

func (m *Message) FromPath() (uri.Path, error) { return m.path(HdrFromPath) }
func (m *Message) ToPath() (uri.Path, error)   { return m.path(HdrToPath) }
func (m *Message) UsePath() (uri.Path, error)  { return m.path(HdrUsePath) }

func (m *Message) SetFromPath(p uri.Path) { m.Headers.Set(HdrFromPath, p.String()) }
func (m *Message) SetToPath(p uri.Path)   { m.Headers.Set(HdrToPath, p.String()) }

func (m *Message) MessageID() (string, bool) { return m.Headers.Get(HdrMessageID) }

func (m *Message) ContentLength() (int64, bool, error) {
	v, ok := m.Headers.Get(HdrContentLength)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, true, err
	}
	return n, true, nil
}

func (m *Message) ContentType() (string, bool) { return m.Headers.Get(HdrContentType) }

func (m *Message) ByteRange() (ByteRange, bool, error) {
	v, ok := m.Headers.Get(HdrByteRange)
	if !ok {
		return ByteRange{}, false, nil
	}
	br, err := parseByteRange(v)
	return br, true, err
}

func (m *Message) Expires() (int64, bool, error) {
	v, ok := m.Headers.Get(HdrExpires)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, true, err
}

func (m *Message) MinExpires() (int64, bool, error) {
	v, ok := m.Headers.Get(HdrMinExpires)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, true, err
}

func (m *Message) SuccessReport() (string, bool) { return m.Headers.Get(HdrSuccessReport) }
func (m *Message) FailureReport() (string, bool) { return m.Headers.Get(HdrFailureReport) }

// Response builds a response template from this (request) message: same
// transaction id, Response method, the given status, and a To-Path
// derived per spec §3 (rightmost of From-Path for a SEND response,
// reversed From-Path otherwise), and a From-Path holding the first URI
// of the request's To-Path (the endpoint that received it).
func (m *Message) Response(code uint16, phrase string) (*Message, error) {
	r := New()
	r.Transaction = m.Transaction
	r.Method = Response
	r.StatusCode = code
	r.StatusPhrase = phrase
	r.Status = Complete

	if to, err := m.ToPath(); err == nil {
		if self, ok := to.Front(); ok {
			r.SetFromPath(uri.Path{self})
		}
	}

	from, err := m.FromPath()
	if err != nil {
		return nil, err
	}
	if m.Method == SEND {
		if dst, ok := from.Rightmost(); ok {
			r.SetToPath(uri.Path{dst})
		}
	} else {
		r.SetToPath(from.Reversed())
	}
	return r, nil
}
