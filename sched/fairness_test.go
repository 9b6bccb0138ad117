package sched_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cbond/msrp/sched"
)

// chunkedMsg is a Streamable standing in for an OutgoingMessage feeding
// chunks until it has run out, used to drive spec scenario S6.
type chunkedMsg struct {
	remaining int
	starts    int
	ends      int
	switches  []string
	name      string
}

func (m *chunkedMsg) Runnable() bool { return m.remaining > 0 }
func (m *chunkedMsg) Start()         { m.starts++ }
func (m *chunkedMsg) End()           { m.ends++ }
func (m *chunkedMsg) Run()           { m.remaining-- }

var _ = Describe("Scheduler fairness", func() {
	// S6 — fair scheduling: M1 is a 100-chunk transfer, M2 a single
	// chunk, both queued before any write completes. Round-robin must
	// let M2 finish within one message-switch rather than starving it
	// behind M1's much larger transfer.
	It("lets a short message finish within one switch of a long one (S6)", func() {
		s := sched.New()
		m1 := &chunkedMsg{name: "M1", remaining: 100}
		m2 := &chunkedMsg{name: "M2", remaining: 1}
		s.Queue(m1)
		s.Queue(m2)

		var ctx sched.StreamContext
		var current sched.Streamable
		switches := 0

		for i := 0; i < 200 && m2.remaining > 0; i++ {
			ctx.Select(s)
			if c := ctx.Current(); c != current {
				if current != nil {
					switches++
				}
				current = c
			}
		}

		Expect(m2.remaining).To(Equal(0), "M2 should have completed")
		Expect(switches).To(BeNumerically("<=", 1),
			"at most one full message-switch should occur before M2 finishes")
		Expect(m1.remaining).To(BeNumerically(">", 0),
			"M1 should still have chunks left; it must not have run to completion first")
	})

	It("never picks a non-runnable message", func() {
		s := sched.New()
		a := &chunkedMsg{remaining: 3}
		done := &chunkedMsg{remaining: 0}
		s.Queue(a)
		s.Queue(done)

		for i := 0; i < 10; i++ {
			m := s.Thread()
			Expect(m).NotTo(BeIdenticalTo(sched.Streamable(done)))
		}
	})
})
