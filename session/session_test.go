package session

import (
	"sync"
	"testing"

	"github.com/cbond/msrp/demux"
	"github.com/cbond/msrp/msg"
	"github.com/cbond/msrp/sched"
	"github.com/cbond/msrp/uri"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	d      *demux.Demultiplexer
	s      *sched.Scheduler
	ctx    sched.StreamContext
	local  uri.Uri
	peer   uri.Uri
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{d: demux.New(2), s: sched.New()}
}

func (c *fakeConn) Send(b []byte) {
	c.mu.Lock()
	c.sent = append(c.sent, append([]byte(nil), b...))
	c.mu.Unlock()
}
func (c *fakeConn) Scheduler() *sched.Scheduler           { return c.s }
func (c *fakeConn) Context() *sched.StreamContext         { return &c.ctx }
func (c *fakeConn) Demultiplexer() *demux.Demultiplexer   { return c.d }
func (c *fakeConn) Local() uri.Uri                        { return c.local }
func (c *fakeConn) Peer() uri.Uri                         { return c.peer }
func (c *fakeConn) TLS() bool                             { return false }
func (c *fakeConn) Close()                                { c.closed = true }
func (c *fakeConn) Poke()                                 { c.ctx.Select(c.s) }

func aliceURI() uri.Uri {
	return uri.Uri{Scheme: "msrp", Host: "alice.example.com", Port: 7654, Session: "sess1"}
}

func bobURI() uri.Uri {
	return uri.Uri{Scheme: "msrp", Host: "bob.example.com", Port: 8654, Session: "sess2"}
}

func TestSessionProcessOpensIncomingMessageAndRoutesBody(t *testing.T) {
	conn := newFakeConn()
	s := New(uri.Path{aliceURI()}, conn)

	var opened *IncomingMessage
	s.OnMessage = func(im *IncomingMessage) { opened = im }

	req := msg.New()
	req.Transaction = "t1"
	req.Method = msg.SEND
	req.SetFromPath(uri.Path{bobURI()})
	req.SetToPath(uri.Path{aliceURI()})
	req.Headers.Set(msg.HdrMessageID, "abc123")

	ok, err := conn.d.Process(req)
	if err != nil || !ok {
		t.Fatalf("Process: ok=%v err=%v", ok, err)
	}
	if opened == nil {
		t.Fatal("expected OnMessage to fire")
	}

	var gotContents [][]byte
	var completed bool
	opened.OnContents = func(b []byte, _ msg.Status) { gotContents = append(gotContents, append([]byte(nil), b...)) }
	opened.OnComplete = func(interrupted bool) { completed = !interrupted }

	if ok := conn.d.ProcessBody([]byte("hello"), msg.Complete); !ok {
		t.Fatal("expected body to route")
	}
	if len(gotContents) != 1 || string(gotContents[0]) != "hello" {
		t.Fatalf("contents = %v", gotContents)
	}
	if !completed {
		t.Fatal("expected OnComplete(false)")
	}
}

func TestSessionStreamQueuesOutgoingMessage(t *testing.T) {
	conn := newFakeConn()
	s := New(uri.Path{aliceURI()}, conn)

	template := msg.New()
	template.Method = msg.SEND
	template.SetToPath(uri.Path{bobURI()})

	om, err := s.Stream(template)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if om.MessageID() == "" {
		t.Fatal("expected a generated Message-ID")
	}
	if conn.s.Len() != 1 {
		t.Fatalf("Scheduler.Len() = %d, want 1", conn.s.Len())
	}

	om.Send([]byte("payload")) // Poke drives Start+Run synchronously

	conn.mu.Lock()
	n := len(conn.sent)
	conn.mu.Unlock()
	if n == 0 {
		t.Fatal("expected Start+Run to have written to the connection")
	}
}

func TestOutgoingMessageCompletesAndSettlesOnReport(t *testing.T) {
	conn := newFakeConn()
	s := New(uri.Path{aliceURI()}, conn)

	template := msg.New()
	template.Method = msg.SEND
	template.SetToPath(uri.Path{bobURI()})
	om, err := s.Stream(template)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	om.SetSize(5)
	om.Send([]byte("abcde")) // Poke drives Start+Run: drains queued, reaches size, self-terminates

	if !om.complete {
		t.Fatalf("expected transfer to be complete after draining to size")
	}
	if conn.s.Len() != 0 {
		t.Fatalf("Scheduler.Len() = %d, want 0 (evicted on completion)", conn.s.Len())
	}

	report := msg.New()
	report.Method = msg.REPORT
	report.SetToPath(uri.Path{aliceURI()})
	report.Headers.Set(msg.HdrMessageID, om.MessageID())
	report.Headers.Set(msg.HdrByteRange, "1-5/5")
	ok, err := conn.d.Process(report)
	if err != nil || !ok {
		t.Fatalf("report Process: ok=%v err=%v", ok, err)
	}
	if !om.reportSettled {
		t.Fatal("expected a full-coverage REPORT to settle the report lifetime")
	}
}

func TestSessionCloseRemovesTargetRegistration(t *testing.T) {
	conn := newFakeConn()
	s := New(uri.Path{aliceURI()}, conn)
	s.Close()
	if !s.Closed() {
		t.Fatal("expected Closed() == true")
	}

	req := msg.New()
	req.Method = msg.SEND
	req.SetFromPath(uri.Path{bobURI()})
	req.SetToPath(uri.Path{aliceURI()})
	req.Headers.Set(msg.HdrMessageID, "x")

	ok, err := conn.d.Process(req)
	if ok || err == nil {
		t.Fatal("expected routing error once the Session has unregistered")
	}
}
