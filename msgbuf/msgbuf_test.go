package msgbuf

import (
	"bytes"
	"errors"
	"testing"

	"github.com/cbond/msrp/cos"
	"github.com/cbond/msrp/msg"
)

func write(t *testing.T, b *MessageBuffer, chunk []byte) {
	t.Helper()
	dst := b.MutableBuffer()
	if len(chunk) > len(dst) {
		t.Fatalf("chunk of %d bytes exceeds remaining capacity %d", len(chunk), len(dst))
	}
	n := copy(dst, chunk)
	if err := b.Read(n); err != nil {
		t.Fatalf("Read: %v", err)
	}
}

func simpleFrame() []byte {
	var b bytes.Buffer
	b.WriteString("MSRP a786hjs2 SEND\r\n")
	b.WriteString("To-Path: msrp://alice.example.com:7654/iau39soe2843z;tcp\r\n")
	b.WriteString("From-Path: msrp://bob.example.com:9892;tcp\r\n")
	b.WriteString("Message-ID: 12339sdqwer\r\n")
	b.WriteString("Content-Type: text/plain\r\n")
	b.WriteString("\r\n")
	b.WriteString("Hi, I'm Alice!\r\n")
	b.WriteString("-------a786hjs2$\r\n")
	return b.Bytes()
}

func TestSingleReadCompletesFrame(t *testing.T) {
	mb, err := New(4096)
	if err != nil {
		t.Fatal(err)
	}
	write(t, mb, simpleFrame())

	if mb.State() != Complete {
		t.Fatalf("state = %v, want Complete", mb.State())
	}
	if mb.Method() != msg.SEND {
		t.Fatalf("method = %v, want SEND", mb.Method())
	}
	if mb.MsgStatus() != msg.Complete {
		t.Fatalf("msg status = %v, want Complete", mb.MsgStatus())
	}
	m, err := mb.Parse(OverlayContents)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("Parse returned nil message for a fully-buffered frame")
	}
	if string(m.Body) != "Hi, I'm Alice!\r\n" {
		t.Fatalf("body = %q", m.Body)
	}
	if got, _ := m.MessageID(); got != "12339sdqwer" {
		t.Fatalf("message-id = %q", got)
	}
}

// TestByteAtATime feeds the frame one byte per Read call, checking that
// a status line, header terminator, or end-token split across many reads
// is still recognized. The end-line's trailing CRLF is left off: Complete
// is reached on the terminator byte, and a further Read would reset the
// buffer for the next frame.
func TestByteAtATime(t *testing.T) {
	mb, err := New(4096)
	if err != nil {
		t.Fatal(err)
	}
	frame := bytes.TrimSuffix(simpleFrame(), []byte(crlf))
	for i, c := range frame {
		write(t, mb, []byte{c})
		if mb.State() == Complete && i != len(frame)-1 {
			t.Fatalf("reached Complete after byte %d of %d", i, len(frame))
		}
	}
	if mb.State() != Complete {
		t.Fatalf("state = %v, want Complete", mb.State())
	}
	m, err := mb.Parse(CopyContents)
	if err != nil {
		t.Fatal(err)
	}
	if string(m.Body) != "Hi, I'm Alice!\r\n" {
		t.Fatalf("body = %q", m.Body)
	}
}

// TestZeroBodyFrame covers spec §4.1 edge case (ii): headers run
// straight into the end delimiter with no blank-line-terminated body.
func TestZeroBodyFrame(t *testing.T) {
	mb, err := New(4096)
	if err != nil {
		t.Fatal(err)
	}
	var b bytes.Buffer
	b.WriteString("MSRP xyz REPORT\r\n")
	b.WriteString("To-Path: msrp://alice.example.com:7654/9di4eae923wzd;tcp\r\n")
	b.WriteString("From-Path: msrp://bob.example.com:9892;tcp\r\n")
	b.WriteString("Message-ID: 12339sdqwer\r\n")
	b.WriteString("Status: 000 200 OK\r\n")
	b.WriteString("-------xyz$\r\n")
	write(t, mb, b.Bytes())

	if mb.State() != Complete {
		t.Fatalf("state = %v, want Complete", mb.State())
	}
	if c := mb.Contents(); len(c) != 0 {
		t.Fatalf("contents = %q, want empty", c)
	}
	m, err := mb.Parse(NoContents)
	if err != nil {
		t.Fatal(err)
	}
	if m.Method != msg.REPORT {
		t.Fatalf("method = %v, want REPORT", m.Method)
	}
}

// TestStreamingLargeBodyWithholdsSafety exercises the publishable
// content sub-range: while more body is still expected, Contents must
// never include the trailing Safety-byte margin.
func TestStreamingLargeBodyWithholdsSafety(t *testing.T) {
	mb, err := New(4096)
	if err != nil {
		t.Fatal(err)
	}
	var head bytes.Buffer
	head.WriteString("MSRP abc123 SEND\r\n")
	head.WriteString("To-Path: msrp://alice.example.com:7654/iau39soe2843z;tcp\r\n")
	head.WriteString("From-Path: msrp://bob.example.com:9892;tcp\r\n")
	head.WriteString("Message-ID: 12339sdqwer\r\n")
	head.WriteString("Byte-Range: 1-*/*\r\n")
	head.WriteString("\r\n")
	write(t, mb, head.Bytes())

	body := bytes.Repeat([]byte("x"), 200)
	write(t, mb, body)

	if mb.State() != Content {
		t.Fatalf("state = %v, want Content", mb.State())
	}
	if mb.MsgStatus() != msg.Streaming {
		t.Fatalf("msg status = %v, want Streaming", mb.MsgStatus())
	}
	c := mb.Contents()
	if len(c) == 0 || len(c) >= len(body) {
		t.Fatalf("published %d of %d bytes; want fewer, withholding Safety margin", len(c), len(body))
	}
	delivered := len(c)

	mb.Erase()
	write(t, mb, []byte("-------abc123$\r\n"))
	if mb.State() != Complete {
		t.Fatalf("state = %v, want Complete", mb.State())
	}
	rest := mb.Contents()
	if delivered+len(rest) != len(body) {
		t.Fatalf("total delivered = %d, want %d", delivered+len(rest), len(body))
	}
}

// TestBufferExhausted covers spec §7: a frame whose header block never
// completes before the buffer fills propagates BufferExhaustedError.
func TestBufferExhausted(t *testing.T) {
	mb, err := New(128)
	if err != nil {
		t.Fatal(err)
	}
	junk := bytes.Repeat([]byte("A"), 128)
	write(t, mb, junk)
	if err := mb.Read(0); err != nil {
		t.Fatalf("Read(0) should be a no-op: %v", err)
	}
	// force the exhausted path: no terminator has arrived and the
	// buffer is already full.
	if mb.stored != 128 {
		t.Fatalf("stored = %d, want 128", mb.stored)
	}
	var exhausted *cos.BufferExhaustedError
	if err := mb.Read(1); !errors.As(err, &exhausted) {
		t.Fatalf("Read on a full buffer: got %v, want BufferExhaustedError", err)
	}
}

func TestMaxTokenLenTooLargeRejected(t *testing.T) {
	if _, err := New(64, WithMaxTokenLen(31)); err == nil {
		t.Fatal("expected error for maxTokenLen too large relative to capacity")
	}
}

func TestPipelinedFramesReset(t *testing.T) {
	mb, err := New(4096)
	if err != nil {
		t.Fatal(err)
	}
	// The second frame carries its own transaction id, as each MSRP
	// transaction does; the backward end-token scan is keyed by the id.
	second := bytes.ReplaceAll(simpleFrame(), []byte("a786hjs2"), []byte("b786hjs2"))
	two := append(append([]byte{}, simpleFrame()...), second...)
	write(t, mb, two)
	if mb.State() != Complete {
		t.Fatalf("state = %v, want Complete", mb.State())
	}
	m1, err := mb.Parse(CopyContents)
	if err != nil || m1 == nil {
		t.Fatalf("first frame parse failed: %v", err)
	}
	mb.reset()
	if mb.State() != Status {
		t.Fatalf("state after reset = %v, want Status", mb.State())
	}
	if mb.stored == 0 {
		t.Fatal("expected the second pipelined frame's bytes to survive reset")
	}
}
