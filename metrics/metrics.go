// Package metrics wires Connection/Session counters to prometheus, the
// observability layer SPEC_FULL.md carries as ambient even though the
// spec's "congestion control" Non-goal excludes flow control, not
// instrumentation. The teacher's own stats surface (cmn/rom.go) is JSON,
// not prometheus, but client_golang is a direct teacher `require`; this
// package is what exercises it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set bundles every collector this module registers. A nil *Set (the
// xport.Options.Metrics default) disables instrumentation entirely —
// every method on Set is a no-op on a nil receiver, so call sites never
// need a "metrics enabled" branch of their own.
type Set struct {
	BytesRead     *prometheus.CounterVec
	BytesWritten  *prometheus.CounterVec
	FramesRead    *prometheus.CounterVec
	FramesWritten *prometheus.CounterVec
	ParseErrors   *prometheus.CounterVec
	Reconnects    *prometheus.CounterVec
	IdleTeardowns *prometheus.CounterVec
	Connections   *prometheus.GaugeVec
	Reports       *prometheus.CounterVec
}

// NewSet constructs a Set and registers every collector on reg. Pass
// prometheus.DefaultRegisterer to use the global registry, or a fresh
// prometheus.NewRegistry() for test isolation.
func NewSet(reg prometheus.Registerer, namespace string) *Set {
	s := &Set{
		BytesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_read_total",
			Help: "Total bytes read from MSRP connections.",
		}, []string{"peer"}),
		BytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_written_total",
			Help: "Total bytes written to MSRP connections.",
		}, []string{"peer"}),
		FramesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_read_total",
			Help: "Total MSRP frames parsed from incoming connections.",
		}, []string{"peer", "method"}),
		FramesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_written_total",
			Help: "Total MSRP frames emitted on outgoing connections.",
		}, []string{"peer", "method"}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "parse_errors_total",
			Help: "Total frames dropped for a parse, routing, or protocol error.",
		}, []string{"peer", "kind"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_total",
			Help: "Total reconnect attempts across the target list.",
		}, []string{"peer"}),
		IdleTeardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "idle_teardowns_total",
			Help: "Total connections closed for exceeding the idle-teardown threshold.",
		}, []string{"peer"}),
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Connections currently in the Connected state.",
		}, []string{"peer"}),
		Reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reports_total",
			Help: "Total REPORT frames generated, by outcome.",
		}, []string{"peer", "outcome"}),
	}
	for _, c := range s.collectors() {
		reg.MustRegister(c)
	}
	return s
}

func (s *Set) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.BytesRead, s.BytesWritten, s.FramesRead, s.FramesWritten,
		s.ParseErrors, s.Reconnects, s.IdleTeardowns, s.Connections, s.Reports,
	}
}

func (s *Set) AddBytesRead(peer string, n int) {
	if s == nil {
		return
	}
	s.BytesRead.WithLabelValues(peer).Add(float64(n))
}

func (s *Set) AddBytesWritten(peer string, n int) {
	if s == nil {
		return
	}
	s.BytesWritten.WithLabelValues(peer).Add(float64(n))
}

func (s *Set) IncFramesRead(peer, method string) {
	if s == nil {
		return
	}
	s.FramesRead.WithLabelValues(peer, method).Inc()
}

func (s *Set) IncFramesWritten(peer, method string) {
	if s == nil {
		return
	}
	s.FramesWritten.WithLabelValues(peer, method).Inc()
}

func (s *Set) IncParseError(peer, kind string) {
	if s == nil {
		return
	}
	s.ParseErrors.WithLabelValues(peer, kind).Inc()
}

func (s *Set) IncReconnect(peer string) {
	if s == nil {
		return
	}
	s.Reconnects.WithLabelValues(peer).Inc()
}

func (s *Set) IncIdleTeardown(peer string) {
	if s == nil {
		return
	}
	s.IdleTeardowns.WithLabelValues(peer).Inc()
}

func (s *Set) SetConnected(peer string, connected bool) {
	if s == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1.0
	}
	s.Connections.WithLabelValues(peer).Set(v)
}

func (s *Set) IncReport(peer, outcome string) {
	if s == nil {
		return
	}
	s.Reports.WithLabelValues(peer, outcome).Inc()
}
