// Package hcp implements the HTTP/1.1 client-side protocol state
// machine (§4.7): it mirrors hsp's state machine with CONNECTING and
// WAITING_FOR_RESPONSE states added, drives request sending and
// response parsing over a pooled backend connection, and special-cases
// a response with neither Content-Length nor chunked framing (body
// ends on connection close).
package hcp

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nxserve/nxserve/arena"
	"github.com/nxserve/nxserve/chunked"
	"github.com/nxserve/nxserve/hdr"
	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/metrics"
	"github.com/nxserve/nxserve/sock"
	"github.com/nxserve/nxserve/streamer"
)

// State mirrors §4.6's table with CONNECTING and WAITING_FOR_RESPONSE
// added per §4.7. StateWaitingFor100Continue is tracked via
// Conn.awaitingContinue rather than assigned to Conn.state, since the
// connection is actively parsing the interim status line during that
// wait and so must stay in StateReceivingHeaders for consume to dispatch.
type State int

const (
	StateConnecting State = iota
	StateIdle
	StateSendingHeaders
	StateSendingBody
	StateWaitingFor100Continue
	StateWaitingForResponse
	StateReceivingHeaders
	StateReceivingBody
	StateDone
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateIdle:
		return "IDLE"
	case StateSendingHeaders:
		return "SENDING_HEADERS"
	case StateSendingBody:
		return "SENDING_BODY"
	case StateWaitingFor100Continue:
		return "WAITING_FOR_100_CONTINUE"
	case StateWaitingForResponse:
		return "WAITING_FOR_RESPONSE"
	case StateReceivingHeaders:
		return "RECEIVING_HEADERS"
	case StateReceivingBody:
		return "RECEIVING_BODY"
	default:
		return "DONE"
	}
}

// Options configures timer intervals shared by every hcp a Client owns.
type Options struct {
	MaxHeaderSize  int
	Continue100    time.Duration // §5 "100-continue" timeout
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	KeepAlive      time.Duration
	Log            *logrus.Entry
	Metrics        metrics.Recorder
}

// Client owns the timer queues shared by every Conn it creates,
// mirroring hsp.Server (§4.1 "N timer queues, one per interval").
type Client struct {
	l    *loop.Loop
	opts Options

	continueTQ  *loop.TimerQueue
	readTQ      *loop.TimerQueue
	writeTQ     *loop.TimerQueue
	keepAliveTQ *loop.TimerQueue

	log *logrus.Entry
	rec metrics.Recorder
}

// NewClient creates a Client bound to l's timer queues.
func NewClient(l *loop.Loop, opts Options) *Client {
	if opts.MaxHeaderSize <= 0 {
		opts.MaxHeaderSize = 8192
	}
	if opts.Continue100 <= 0 {
		opts.Continue100 = 3 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 60 * time.Second
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &Client{
		l:           l,
		opts:        opts,
		continueTQ:  l.NewTimerQueue("hcp.100continue", opts.Continue100),
		readTQ:      l.NewTimerQueue("hcp.read", opts.ReadTimeout),
		writeTQ:     l.NewTimerQueue("hcp.write", opts.WriteTimeout),
		keepAliveTQ: l.NewTimerQueue("hcp.keepalive", opts.KeepAlive),
		log:         opts.Log,
		rec:         opts.Metrics,
	}
}

// Bind wires an already-connected socket to a new Conn in IDLE,
// matching ppool handing a freshly dialed (or reused pooled) backend
// connection to its caller.
func (cl *Client) Bind(s *sock.Socket) *Conn {
	c := &Conn{
		cl:       cl,
		sock:     s,
		reqArena: arena.New(4096),
		lp:       hdr.NewLineParser(cl.opts.MaxHeaderSize),
		state:    StateIdle,
		events:   loop.NewPublisher(cl.l),
	}
	c.dataIn.conn = c
	c.dataIn.InitOStream(cl.l, &c.dataIn)
	loop.Connect(s.In(), &c.dataIn)
	s.Errors().Subscribe(loop.SubscriberFunc(c.onSocketError))
	return c
}

// Conn is one backend connection's hcp state machine.
type Conn struct {
	cl   *Client
	sock *sock.Socket

	reqArena *arena.Arena
	lp       *hdr.LineParser

	dataIn  dataInStream
	pending []byte

	state State

	req    *Request
	resp   *Response
	rb     *responseBuilder
	onDone func(resp *Response, err error)

	respStreamer *streamer.Streamer

	bodyAccum      []byte
	bodyRemain     int64
	bodyUntilClose bool
	awaitingContinue bool
	chunkDec       *chunked.Decoder

	continueTimer  *loop.Timer
	readTimer      *loop.Timer
	writeTimer     *loop.Timer
	keepAliveTimer *loop.Timer

	// events publishes RESPONSE_HEADERS / RESPONSE_COMPLETE / READ_TIMEOUT
	// / WRITE_TIMEOUT / CONTINUE_TIMEOUT / PROTO_ERROR / RDCLOSED / ERROR.
	events *loop.Publisher

	// errAfterComplete holds an error observed after the body finished
	// but before the overall exchange was torn down, so it is queued and
	// delivered after the happy-path completion event (§4.7).
	errAfterComplete error

	closeHook func()
	closed    bool
}

func (c *Conn) Events() *loop.Publisher { return c.events }

// State reports the connection's current state, used by ppool to
// refuse returning a connection that isn't IDLE (§4.8 "if errored OR
// state != IDLE OR response disallows keep-alive, finalize and free").
func (c *Conn) State() State { return c.state }

// OnClose registers fn to run once, the moment this connection shuts
// down for any reason (protocol error, timeout, RDHUP). ppool uses this
// to implement invariant 6's "drop on error" hook: subscribed only
// while the connection sits idle in the pool, cleared the instant it is
// borrowed. A nil fn clears any previously registered hook.
func (c *Conn) OnClose(fn func()) { c.closeHook = fn }

func (c *Conn) setState(s State) {
	c.state = s
	switch s {
	case StateReceivingHeaders, StateReceivingBody:
		c.dataIn.SetReady(true)
	default:
		c.dataIn.SetReady(false)
	}
}

func (c *Conn) armContinueTimer() {
	c.continueTimer = c.cl.continueTQ.Set(c.cl.l.Now(), func() {
		c.events.Publish("CONTINUE_TIMEOUT")
		c.onSendBodyNow()
	})
}

func (c *Conn) disarmContinueTimer() {
	if c.continueTimer != nil {
		c.continueTimer.Unset()
		c.continueTimer = nil
	}
}

func (c *Conn) armRead() {
	if c.readTimer != nil {
		c.readTimer.Unset()
	}
	c.readTimer = c.cl.readTQ.Set(c.cl.l.Now(), func() {
		c.events.Publish("READ_TIMEOUT")
		c.fail(errTimeout("read"))
	})
}

func (c *Conn) disarmRead() {
	if c.readTimer != nil {
		c.readTimer.Unset()
		c.readTimer = nil
	}
}

func (c *Conn) armWrite() {
	if c.writeTimer != nil {
		c.writeTimer.Unset()
	}
	c.writeTimer = c.cl.writeTQ.Set(c.cl.l.Now(), func() {
		c.events.Publish("WRITE_TIMEOUT")
		c.fail(errTimeout("write"))
	})
}

func (c *Conn) disarmWrite() {
	if c.writeTimer != nil {
		c.writeTimer.Unset()
		c.writeTimer = nil
	}
}

func (c *Conn) armKeepAlive() {
	c.keepAliveTimer = c.cl.keepAliveTQ.Set(c.cl.l.Now(), func() {
		c.shutdown()
	})
}

func (c *Conn) disarmKeepAlive() {
	if c.keepAliveTimer != nil {
		c.keepAliveTimer.Unset()
		c.keepAliveTimer = nil
	}
}

func (c *Conn) onSocketError(data any) {
	reason, _ := data.(string)
	if reason == "" {
		reason = "ERROR"
	}
	if reason == "RDCLOSED" && c.state == StateReceivingBody && c.bodyUntilClose {
		// §4.7 "a received HUP/RDHUP while in RECEIVING_BODY finalizes
		// the body with success" for the close-delimited body case.
		c.finishBody()
		return
	}
	c.events.Publish(reason)
	c.fail(errConnReset(reason))
}

// fail delivers err to the in-flight request, queuing it after the
// happy-path completion event if the body already finished (§4.7).
func (c *Conn) fail(err error) {
	if c.state == StateDone || c.closed {
		return
	}
	if c.onDone != nil && c.resp != nil && c.resp.bodyDone {
		c.errAfterComplete = err
		return
	}
	done := c.onDone
	resp := c.resp
	c.onDone = nil
	c.shutdown()
	if done != nil {
		done(resp, err)
	}
}

// Close tears the connection down immediately; safe to call on an
// already-closed or already-idle connection. ppool uses this to drop a
// pooled connection it has decided not to keep (§4.8 "finalize and free").
func (c *Conn) Close() { c.shutdown() }

func (c *Conn) shutdown() {
	if c.closed {
		return
	}
	c.closed = true
	c.disarmContinueTimer()
	c.disarmRead()
	c.disarmWrite()
	c.disarmKeepAlive()
	c.setState(StateDone)
	_ = c.sock.Close()
	if c.closeHook != nil {
		hook := c.closeHook
		c.closeHook = nil
		hook()
	}
}
