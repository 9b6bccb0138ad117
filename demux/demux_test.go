package demux

import (
	"testing"

	"github.com/cbond/msrp/msg"
	"github.com/cbond/msrp/uri"
)

type fakeTarget struct {
	opens map[string]*fakeIncoming
}

func (t *fakeTarget) Process(m *msg.Message) (IncomingMessage, error) {
	if m.Method != msg.SEND {
		return nil, nil
	}
	id, _ := m.MessageID()
	im := &fakeIncoming{id: id}
	t.opens[id] = im
	return im, nil
}

type fakeIncoming struct {
	id                           string
	chunks                       [][]byte
	continuedN, completedN, intN int
}

func (f *fakeIncoming) MessageID() string        { return f.id }
func (f *fakeIncoming) Process(*msg.Message) bool { return true }
func (f *fakeIncoming) ProcessBody(b []byte) bool {
	f.chunks = append(f.chunks, append([]byte(nil), b...))
	return true
}
func (f *fakeIncoming) Continued() { f.continuedN++ }
func (f *fakeIncoming) Completed() { f.completedN++ }
func (f *fakeIncoming) Interrupt() { f.intN++ }

func sendFrame(tid, id string) *msg.Message {
	m := msg.New()
	m.Transaction = tid
	m.Method = msg.SEND
	m.Headers.Set(msg.HdrMessageID, id)
	m.SetToPath(uri.Path{{Scheme: "msrp", Host: "alice.example.com", Port: 7654, Session: "sess1"}})
	return m
}

func TestRouteUnknownTargetRejected(t *testing.T) {
	d := New(4)
	m := sendFrame("t1", "id1")
	ok, err := d.Process(m)
	if ok || err == nil {
		t.Fatalf("expected routing error for unregistered target, got ok=%v err=%v", ok, err)
	}
}

func TestOpensIncomingAndStreamsBody(t *testing.T) {
	d := New(4)
	target := &fakeTarget{opens: map[string]*fakeIncoming{}}
	key := uri.Uri{Scheme: "msrp", Host: "alice.example.com", Port: 7654, Session: "sess1"}
	d.InsertTarget(key, target)

	m := sendFrame("t1", "id1")
	ok, err := d.Process(m)
	if err != nil || !ok {
		t.Fatalf("Process: ok=%v err=%v", ok, err)
	}

	if ok := d.ProcessBody([]byte("hello "), msg.Streaming); !ok {
		t.Fatal("expected ProcessBody to route to the armed cursor")
	}
	if ok := d.ProcessBody([]byte("world"), msg.Complete); !ok {
		t.Fatal("expected final chunk to route and complete")
	}

	im := target.opens["id1"]
	if im.completedN != 1 {
		t.Fatalf("completedN = %d, want 1", im.completedN)
	}
	if len(im.chunks) != 2 || string(im.chunks[0]) != "hello " || string(im.chunks[1]) != "world" {
		t.Fatalf("chunks = %v", im.chunks)
	}

	// Once complete, the cursor is disarmed.
	if ok := d.ProcessBody([]byte("stray"), msg.Streaming); ok {
		t.Fatal("expected disarmed cursor to reject further body chunks")
	}
}

func TestSendWithoutMessageIDRejected(t *testing.T) {
	d := New(4)
	target := &fakeTarget{opens: map[string]*fakeIncoming{}}
	key := uri.Uri{Scheme: "msrp", Host: "alice.example.com", Port: 7654, Session: "sess1"}
	d.InsertTarget(key, target)

	m := msg.New()
	m.Transaction = "t1"
	m.Method = msg.SEND
	m.SetToPath(uri.Path{key})

	ok, err := d.Process(m)
	if ok || err == nil {
		t.Fatal("expected a protocol error for a SEND lacking Message-ID")
	}
}
