package msg

import "sync"

// Pool hands out reusable *Message values (spec §3 "Lifecycle: allocated
// from a reusable pool (optional optimization)"; grounded on
// original_source/MessagePool.hxx's factory-from-pool contract, and
// cross-grounded on aistore's own pooled-object idiom for its transport
// PDUs/buffers). Pooling never fails silently: Get always returns a
// usable *Message, falling back to a fresh allocation when the pool is
// empty.
type Pool struct {
	p sync.Pool
}

func NewPool() *Pool {
	return &Pool{p: sync.Pool{New: func() any { return New() }}}
}

func (pl *Pool) Get() *Message {
	return pl.p.Get().(*Message)
}

// Put clears a Message's headers and body before returning it to the
// pool, so a reused value never leaks another session's data.
func (pl *Pool) Put(m *Message) {
	if m == nil {
		return
	}
	m.Transaction = ""
	m.Method = AUTH
	m.StatusCode = 0
	m.StatusPhrase = ""
	m.Status = Complete
	m.Headers = NewHeaders()
	m.Body = nil
	pl.p.Put(m)
}
