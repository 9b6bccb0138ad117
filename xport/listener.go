package xport

import (
	"context"
	"crypto/tls"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/cbond/msrp/cos"
)

// Listener accepts inbound connections and hands each one back as an
// already-Connected Connection — the passive, listen-and-accept
// construction mode of spec §4.3, ported from Connection::listen/acceptHandler, which the
// source folds into Connection itself; this module splits listening
// out into its own type since Go's net.Listener is already the
// idiomatic shape for that half of the lifecycle.
type Listener struct {
	ln      net.Listener
	opts    Options
	rootCtx context.Context
	cancel  context.CancelFunc
}

// Listen binds opts.BindEndpoint and returns a Listener ready to Accept;
// callers wanting Connection.hxx's onListen signal read back l.Addr()
// once Listen returns rather than receiving a callback.
func Listen(ctx context.Context, opts Options) (*Listener, error) {
	ln, err := net.Listen("tcp", opts.BindEndpoint)
	if err != nil {
		return nil, &cos.TransportError{Op: "listen", Err: err}
	}
	lctx, cancel := context.WithCancel(ctx)
	return &Listener{ln: ln, opts: opts, rootCtx: lctx, cancel: cancel}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (l *Listener) Close() error {
	l.cancel()
	return l.ln.Close()
}

// Accept blocks for the next inbound TCP connection, handshakes TLS
// when opts.TLSConfig is set, and returns a Connection already in the
// Connected state with its read loop (and write loop, if anything was
// pre-queued via PushTargets-less construction) running.
func (l *Listener) Accept() (*Connection, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		return nil, &cos.TransportError{Op: "accept", Err: err}
	}

	c := newConnection(l.opts)
	c.rootCtx, c.cancel = context.WithCancel(l.rootCtx)
	c.group, c.gctx = errgroup.WithContext(c.rootCtx)

	if l.opts.TLSConfig != nil {
		c.state.Store(int32(Handshaking))
		tlsConn := tls.Server(nc, l.opts.TLSConfig)
		if herr := tlsConn.HandshakeContext(c.rootCtx); herr != nil {
			nc.Close()
			return nil, &cos.TransportError{Op: "handshake", Err: herr}
		}
		c.onConnected(tlsConn, addrToURI(tlsConn.RemoteAddr()))
		return c, nil
	}
	c.onConnected(nc, addrToURI(nc.RemoteAddr()))
	return c, nil
}
