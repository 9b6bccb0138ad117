// Package xport implements Connection: the socket lifecycle, read/write
// loop, and reconnect/failover FSM that carries MessageBuffer frames to
// and from a Demultiplexer and Scheduler/StreamContext pair, ported from
// original_source/Connection.{hxx,cxx}.
package xport

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"
	"time"

	"github.com/cbond/msrp/metrics"
	"github.com/cbond/msrp/session"
	"github.com/cbond/msrp/uri"
)

// Options configures a Connection (spec §6's configuration table,
// Go-native shape).
type Options struct {
	BindEndpoint      string
	Targets           []uri.Uri
	TLSConfig         *tls.Config // nil selects plain TCP
	MessageBufferSize int         // default 8192
	ReconnectDelay    time.Duration
	SuccessReportMode session.ReportMode
	FailureReportMode session.FailureMode
	IdleTeardown      time.Duration // 0 disables, see IdleCollector
	Metrics           *metrics.Set  // nil disables instrumentation
	Resolver          Resolver      // nil selects the default net.DefaultResolver-backed one
}

const defaultMessageBufferSize = 8192

func (o Options) messageBufferSize() int {
	if o.MessageBufferSize > 0 {
		return o.MessageBufferSize
	}
	return defaultMessageBufferSize
}

func (o Options) resolver() Resolver {
	if o.Resolver != nil {
		return o.Resolver
	}
	return defaultResolver{}
}

// Resolver resolves a target host to its candidate addresses. Per
// spec §1's explicit scope cut, DNS SRV-aware resolution is never
// implemented in this module — a caller wanting it supplies its own
// Resolver; the default wraps net.DefaultResolver's A/AAAA lookup.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]netip.Addr, error)
}

type defaultResolver struct{}

func (defaultResolver) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}
