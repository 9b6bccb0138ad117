package xport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cbond/msrp/cos"
	"github.com/cbond/msrp/demux"
	"github.com/cbond/msrp/ebuf"
	"github.com/cbond/msrp/msg"
	"github.com/cbond/msrp/msgbuf"
	"github.com/cbond/msrp/nlog"
	"github.com/cbond/msrp/sched"
	"github.com/cbond/msrp/uri"
)

// State mirrors Connection.hxx's mState enum.
type State int32

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Connected
	Listening
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Handshaking:
		return "Handshaking"
	case Connected:
		return "Connected"
	case Listening:
		return "Listening"
	default:
		return "?"
	}
}

var (
	errNoTargets   = errors.New("xport: no targets configured")
	errNoAddresses = errors.New("xport: resolver returned no addresses")
)

// Connection wraps one net.Conn (plain or *tls.Conn), ported from
// original_source/Connection.{hxx,cxx}: state FSM, reconnect/failover
// over a target list, and the MessageBuffer -> Demultiplexer ->
// Scheduler/StreamContext pipeline that carries frames in both
// directions. It satisfies session.Conn.
type Connection struct {
	mu               sync.Mutex
	netConn          net.Conn
	local, peer      uri.Uri
	targets          []uri.Uri
	targetIdx        int
	reconnectTimer   *time.Timer
	headerDispatched bool

	state atomic.Int32

	opts   Options
	buf    *msgbuf.MessageBuffer
	dx     *demux.Demultiplexer
	sc     *sched.Scheduler
	ctx    sched.StreamContext
	egress ebuf.Buffer

	// writing guards the "at most one outstanding write" invariant
	// (spec §5); the teacher's transport/sendmsg.go enforces the same
	// single-outstanding-write discipline with an inSend() atomic guard.
	writing atomic.Bool

	rootCtx context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	gctx    context.Context

	closeOnce sync.Once

	// OnConnecting/OnConnect/OnDisconnect are typed callback fields
	// (Open Question resolution: no event-dispatch interface), ported
	// from three of the four resip::signal accessors of Connection.hxx
	// (the fourth, onListen, belongs to Listener since this module
	// splits listening out of Connection).
	OnConnecting func(uri.Uri)
	OnConnect    func(uri.Uri)
	OnDisconnect func(error)
}

func newConnection(opts Options) *Connection {
	buf, err := msgbuf.New(opts.messageBufferSize())
	if err != nil {
		// Options.MessageBufferSize too small relative to the grammar's
		// max transaction-id length; callers are expected to validate
		// configuration before constructing a Connection.
		panic(err)
	}
	c := &Connection{
		opts:    opts,
		buf:     buf,
		dx:      demux.New(0),
		sc:      sched.New(),
		targets: append([]uri.Uri(nil), opts.Targets...),
	}
	c.state.Store(int32(Disconnected))
	return c
}

// NewOffer builds a Connection that dials out to opts.Targets (the
// active, connect-outward construction mode of spec §4.3), ported from
// Connection::createOffer. Call Connect to begin dialing.
func NewOffer(ctx context.Context, opts Options) *Connection {
	c := newConnection(opts)
	c.rootCtx, c.cancel = context.WithCancel(ctx)
	c.group, c.gctx = errgroup.WithContext(c.rootCtx)
	return c
}

// Connect begins (or resumes, after PushTargets) dialing the target
// list. A no-op if already Connecting/Connected.
func (c *Connection) Connect() {
	if State(c.state.Load()) != Disconnected {
		return
	}
	c.group.Go(func() error {
		c.connect(c.gctx)
		return nil
	})
}

// PushTargets appends new candidate endpoints, deduplicated against the
// existing list, and repositions the round-robin cursor if it had run
// off the end — ported from Connection::pushTargets. If the Connection
// is currently Disconnected with no reconnect pending, this also starts
// a connection attempt, mirroring the source's auto-reconnect-on-push.
func (c *Connection) PushTargets(targets ...uri.Uri) {
	c.mu.Lock()
	exhausted := c.targetIdx >= len(c.targets)
	start := len(c.targets)
	for _, t := range targets {
		dup := false
		for _, e := range c.targets {
			if e.Equal(t) {
				dup = true
				break
			}
		}
		if !dup {
			c.targets = append(c.targets, t)
		}
	}
	if exhausted {
		c.targetIdx = start
	}
	pending := c.reconnectTimer != nil
	c.mu.Unlock()

	if State(c.state.Load()) == Disconnected && !pending {
		c.Connect()
	}
}

func (c *Connection) getTarget() (uri.Uri, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.targets) == 0 {
		return uri.Uri{}, errNoTargets
	}
	if c.targetIdx >= len(c.targets) {
		c.targetIdx = 0
	}
	return c.targets[c.targetIdx], nil
}

func (c *Connection) connect(ctx context.Context) {
	target, err := c.getTarget()
	if err != nil {
		if c.OnDisconnect != nil {
			c.OnDisconnect(err)
		}
		return
	}

	c.state.Store(int32(Connecting))
	if c.OnConnecting != nil {
		c.OnConnecting(target)
	}
	nlog.Infof("xport: connecting %s", target)

	nc, err := c.dialTarget(ctx, target)
	if err != nil {
		wrapped := pkgerrors.Wrap(&cos.TransportError{Op: "dial", Err: err}, "xport")
		c.opts.Metrics.IncReconnect(target.Key())
		if c.opts.ReconnectDelay > 0 {
			c.reconnect(ctx, c.opts.ReconnectDelay)
		} else {
			c.disconnect(wrapped)
		}
		return
	}
	c.onConnected(nc, target)
}

// dialTarget resolves target.Host via Options.Resolver and dials the
// first address that accepts a connection, handshaking TLS when
// Options.TLSConfig is set (ported from Connection::connect/createStream,
// merged with the Go-native dial+handshake sequence since net.Dial
// already subsumes socket-option setup that the source does by hand).
func (c *Connection) dialTarget(ctx context.Context, target uri.Uri) (net.Conn, error) {
	addrs, err := c.opts.resolver().Resolve(ctx, target.Host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, errNoAddresses
	}

	port := target.Port
	if port == 0 {
		port = 2855
	}

	var d net.Dialer
	var lastErr error
	for _, addr := range addrs {
		raddr := net.JoinHostPort(addr.String(), strconv.Itoa(int(port)))
		conn, derr := d.DialContext(ctx, "tcp", raddr)
		if derr != nil {
			lastErr = derr
			continue
		}
		if c.opts.TLSConfig == nil {
			return conn, nil
		}

		c.state.Store(int32(Handshaking))
		tlsConn := tls.Client(conn, c.opts.TLSConfig)
		if herr := tlsConn.HandshakeContext(ctx); herr != nil {
			conn.Close()
			lastErr = herr
			continue
		}
		return tlsConn, nil
	}
	return nil, lastErr
}

func (c *Connection) reconnect(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		c.group.Go(func() error {
			c.connect(ctx)
			return nil
		})
		return
	}
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		c.connect(ctx)
	})
	c.mu.Unlock()
	nlog.Infof("xport: reconnecting in %s", delay)
}

// onConnected transitions to Connected and starts the read loop (and the
// write loop, if something was already queued) — ported from the shared
// tail of connectHandler and acceptHandler.
func (c *Connection) onConnected(nc net.Conn, peer uri.Uri) {
	c.mu.Lock()
	c.netConn = nc
	c.peer = peer
	c.local = addrToURI(nc.LocalAddr())
	c.headerDispatched = false
	needWriter := !c.egress.Empty() && !c.writing.Swap(true)
	c.mu.Unlock()

	c.state.Store(int32(Connected))
	c.opts.Metrics.SetConnected(c.peerLabel(), true)
	nlog.Infof("xport: connected %s->%s", c.local, c.peer)
	if c.OnConnect != nil {
		c.OnConnect(peer)
	}

	if needWriter {
		go c.writeLoop()
	}
	go c.readLoop()
}

// Send queues b for writing and starts the write loop if the Connection
// is currently idle on writes — ported from Connection::send(const_buffer),
// collapsed from its synchronous-partial-write-then-queue shape into a
// single queue+kick since net.Buffers.WriteTo already performs the
// vectored write the source assembles by hand.
func (c *Connection) Send(b []byte) {
	if len(b) == 0 {
		return
	}
	c.mu.Lock()
	c.egress.Write(b)
	c.mu.Unlock()
	if !c.writing.Swap(true) {
		go c.writeLoop()
	}
}

// writeLoop drains the egress buffer onto the socket, one vectored write
// at a time, until empty — ported from write()/writeHandler()'s
// shift-then-either-rewrite-or-selectOutgoing loop.
func (c *Connection) writeLoop() {
	for {
		c.mu.Lock()
		if c.egress.Empty() {
			c.writing.Store(false)
			c.mu.Unlock()
			c.selectOutgoing()
			return
		}
		bufs := c.egress.Buffers()
		nc := c.netConn
		c.mu.Unlock()

		if nc == nil {
			c.writing.Store(false)
			return
		}

		n, err := bufs.WriteTo(nc)
		if err != nil {
			c.writing.Store(false)
			c.fail("write", err)
			return
		}
		c.opts.Metrics.AddBytesWritten(c.peerLabel(), int(n))

		c.mu.Lock()
		c.egress.Shift(int(n))
		c.mu.Unlock()
	}
}

// selectOutgoing asks the StreamContext for the next runnable message,
// ported from Connection::selectOutgoing (mContext.select(scheduler())).
func (c *Connection) selectOutgoing() {
	c.ctx.Select(c.sc)
}

// Poke implements session.Conn: one selectOutgoing cycle, called by
// Session/OutgoingMessage right after queuing work a currently-idle
// writer would otherwise never notice.
func (c *Connection) Poke() {
	c.selectOutgoing()
}

// readLoop owns the one dedicated goroutine per Connection that reads
// the socket and feeds MessageBuffer, ported from receive()/receiveHandler.
func (c *Connection) readLoop() {
	for {
		c.mu.Lock()
		nc := c.netConn
		c.mu.Unlock()
		if nc == nil {
			return
		}

		dst := c.buf.MutableBuffer()
		if len(dst) == 0 {
			c.fail("read", &cos.BufferExhaustedError{Capacity: c.buf.Capacity()})
			return
		}

		n, err := nc.Read(dst)
		if n > 0 {
			c.opts.Metrics.AddBytesRead(c.peerLabel(), n)
			if derr := c.onBytesRead(n); derr != nil {
				nlog.Warningf("xport: %s: parse error: %v", c.peer, derr)
				c.opts.Metrics.IncParseError(c.peerLabel(), "parse")
				c.fail("parse", derr)
				return
			}
		}
		if err != nil {
			c.fail("read", err)
			return
		}
	}
}

// onBytesRead advances the frame parser and dispatches whatever became
// available, ported from Connection::process().
func (c *Connection) onBytesRead(n int) error {
	if err := c.buf.Read(n); err != nil {
		return err
	}
	return c.dispatch()
}

func (c *Connection) dispatch() error {
	switch c.buf.State() {
	case msgbuf.Status, msgbuf.Headers:
		return nil

	case msgbuf.Content:
		// SEND is the only method dispatched before it is fully
		// received, since it's the only one that may exceed the
		// buffer and may take a while to complete (spec §4.1/§4.3).
		if !c.headerDispatched {
			m, err := c.buf.Parse(msgbuf.NoContents)
			if err != nil {
				return err
			}
			if m == nil {
				return nil
			}
			if m.Method != msg.SEND {
				break
			}
			if ok, derr := c.dx.Process(m); derr != nil || !ok {
				c.reject(m, 481)
				c.buf.Erase()
				return nil
			}
			c.headerDispatched = true
		}
		if body := c.buf.Contents(); len(body) > 0 {
			c.dx.ProcessBody(body, msg.Streaming)
		}
		c.buf.Erase()
		return nil

	case msgbuf.Complete:
		if !c.headerDispatched {
			m, err := c.buf.Parse(msgbuf.CopyContents)
			if err != nil {
				return err
			}
			if m == nil {
				return nil
			}
			if ok, derr := c.dx.Process(m); derr != nil || !ok {
				c.reject(m, 481)
				c.headerDispatched = false
				return nil
			}
			c.dx.ProcessBody(m.Body, msg.Complete)
		} else {
			c.dx.ProcessBody(c.buf.Contents(), msg.Complete)
		}
		c.headerDispatched = false
		c.opts.Metrics.IncFramesRead(c.peerLabel(), "frame")
		return nil
	}
	return nil
}

// reject synthesizes and sends a rejection response for a frame the
// Demultiplexer could not route, ported from Connection::reject.
func (c *Connection) reject(m *msg.Message, code uint16) {
	resp, err := m.Response(code, "Rejected")
	if err != nil || resp == nil {
		return
	}
	nlog.Warningf("xport: rejecting message with code %d", code)
	c.sendMessage(resp)
}

// sendMessage encodes and sends a complete out-of-band frame (a
// rejection), first clearing the StreamContext so it doesn't land
// mid-chunk of a queued OutgoingMessage — ported from
// Connection::send(shared_ptr<const Message>). Session sends its REPORTs
// and Cancel responses the same way, through its own send.
func (c *Connection) sendMessage(m *msg.Message) {
	c.ctx.Clear()
	c.Send(m.Encode())
}

// fail wraps a read/write/parse failure and drives the reconnect FSM,
// ported from writeHandler/receiveHandler's error branches ("if error
// and not already Disconnected and not operation_aborted, disconnect").
func (c *Connection) fail(op string, err error) {
	wrapped := pkgerrors.Wrap(&cos.TransportError{Op: op, Err: err}, "xport")
	c.disconnect(wrapped)
}

// disconnect tears down the socket and either advances to the next
// target (if more remain) or fires OnDisconnect — ported from
// Connection::disconnect.
func (c *Connection) disconnect(err error) {
	if State(c.state.Load()) == Disconnected {
		return
	}
	c.mu.Lock()
	c.state.Store(int32(Disconnected))
	nc := c.netConn
	c.netConn = nil
	c.headerDispatched = false
	c.mu.Unlock()

	if nc != nil {
		nc.Close()
	}
	c.opts.Metrics.SetConnected(c.peerLabel(), false)
	nlog.Infof("xport: disconnected %s: %v", c.peer, err)

	if err != nil {
		c.mu.Lock()
		c.targetIdx++
		hasMore := c.targetIdx < len(c.targets)
		c.mu.Unlock()
		if hasMore {
			c.reconnect(c.gctx, 0)
			return
		}
	}
	if c.OnDisconnect != nil {
		c.OnDisconnect(err)
	}
}

// Close tears the Connection down for good: cancels any in-flight dial,
// stops a pending reconnect timer, and closes the socket without
// retrying — ported from Connection::close (disconnect with no error).
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Lock()
		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
			c.reconnectTimer = nil
		}
		c.mu.Unlock()
		c.forceDisconnect()
	})
}

// forceDisconnect is disconnect(nil) without the reconnect-on-error
// branch, since Close never retries regardless of remaining targets.
func (c *Connection) forceDisconnect() {
	if State(c.state.Load()) == Disconnected {
		return
	}
	c.mu.Lock()
	c.state.Store(int32(Disconnected))
	nc := c.netConn
	c.netConn = nil
	c.mu.Unlock()
	if nc != nil {
		nc.Close()
	}
	c.opts.Metrics.SetConnected(c.peerLabel(), false)
	if c.OnDisconnect != nil {
		c.OnDisconnect(nil)
	}
}

func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) Scheduler() *sched.Scheduler         { return c.sc }
func (c *Connection) Context() *sched.StreamContext       { return &c.ctx }
func (c *Connection) Demultiplexer() *demux.Demultiplexer { return c.dx }

func (c *Connection) Local() uri.Uri {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Connection) Peer() uri.Uri {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

func (c *Connection) TLS() bool { return c.opts.TLSConfig != nil }

func (c *Connection) peerLabel() string {
	p := c.Peer()
	if p.Host == "" {
		return "unknown"
	}
	return p.Key()
}

func addrToURI(addr net.Addr) uri.Uri {
	if addr == nil {
		return uri.Uri{}
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return uri.Uri{Scheme: "msrp", Host: addr.String()}
	}
	port, _ := strconv.Atoi(portStr)
	return uri.Uri{Scheme: "msrp", Host: host, Port: uint16(port), Transport: "tcp"}
}
