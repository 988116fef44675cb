// Package hsp implements the HTTP/1.1 server-side protocol state
// machine (§4.6): it owns a connection's data-in/data-out streams,
// drives request parsing and response sending, and publishes
// lifecycle events (REQUEST_BODY_RECEIVED, REQUEST_COMPLETE) that a
// handler or filter chain subscribes to.
package hsp

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

// State is one of the six states in §4.6's transition table, plus
// StateDone for a connection whose exchange has ended for good.
type State int

const (
	StateWaitingForRequest State = iota
	StateReceivingHeaders
	StateReceivingBody
	StateHandling
	StateSendingHeaders
	StateSendingBody
	StateDone
)

func (s State) String() string {
	switch s {
	case StateWaitingForRequest:
		return "WAITING_FOR_REQUEST"
	case StateReceivingHeaders:
		return "RECEIVING_HEADERS"
	case StateReceivingBody:
		return "RECEIVING_BODY"
	case StateHandling:
		return "HANDLING"
	case StateSendingHeaders:
		return "SENDING_HEADERS"
	case StateSendingBody:
		return "SENDING_BODY"
	default:
		return "DONE"
	}
}

// Handler serves one fully-received request on conn.
type Handler interface {
	Handle(conn *Conn, req *Request)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(conn *Conn, req *Request)

func (f HandlerFunc) Handle(conn *Conn, req *Request) { f(conn, req) }

// ServerOptions configures timer intervals and size limits shared by
// every connection a Server owns.
type ServerOptions struct {
	MaxHeaderSize int           // §4.6 MAX_REQUEST_HEADERS_SIZE
	KeepAlive     time.Duration // keep-alive timer queue interval
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Log           *logrus.Entry
	Metrics       metrics.Recorder
}

// Server owns the timer queues and handler shared by every connection
// (§3 "Server protocol"): three timer queues, keep-alive, read and
// write, taken from the loop.
type Server struct {
	l       *loop.Loop
	handler Handler
	opts    ServerOptions

	keepAliveTQ *loop.TimerQueue
	readTQ      *loop.TimerQueue
	writeTQ     *loop.TimerQueue

	log *logrus.Entry
	rec metrics.Recorder
}

// NewServer creates a Server bound to l's timer queues.
func NewServer(l *loop.Loop, handler Handler, opts ServerOptions) *Server {
	if opts.MaxHeaderSize <= 0 {
		opts.MaxHeaderSize = 8192
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 60 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &Server{
		l:           l,
		handler:     handler,
		opts:        opts,
		keepAliveTQ: l.NewTimerQueue("hsp.keepalive", opts.KeepAlive),
		readTQ:      l.NewTimerQueue("hsp.read", opts.ReadTimeout),
		writeTQ:     l.NewTimerQueue("hsp.write", opts.WriteTimeout),
		log:         opts.Log,
		rec:         opts.Metrics,
	}
}

// Accept wires a freshly accepted socket to a new Conn in
// WAITING_FOR_REQUEST, matching §2 "a listening FD source publishes
// accepted connections; each becomes an hsp bound to a socket adapter".
func (srv *Server) Accept(s *sock.Socket) *Conn {
	c := &Conn{
		srv:       srv,
		sock:      s,
		connArena: arena.New(4096),
		reqArena:  arena.New(0),
		lp:        hdr.NewLineParser(srv.opts.MaxHeaderSize),
		state:     StateWaitingForRequest,
		events:    loop.NewPublisher(srv.l),
	}
	c.dataIn.conn = c
	c.dataIn.InitOStream(srv.l, &c.dataIn)
	loop.Connect(s.In(), &c.dataIn)
	s.Errors().Subscribe(loop.SubscriberFunc(c.onSocketError))
	c.armKeepAlive()
	c.dataIn.SetReady(true)
	return c
}

// Conn is one accepted connection's hsp state machine.
type Conn struct {
	srv  *Server
	sock *sock.Socket

	connArena *arena.Arena
	reqArena  *arena.Arena

	lp *hdr.LineParser

	dataIn  dataInStream
	pending []byte // unconsumed bytes from a pipelined read, see dataInStream.DoRead

	state State
	req   *Request
	rb    *requestBuilder

	respStreamer *streamer.Streamer

	requestCount int

	bodyAccum  []byte
	bodyRemain int64
	chunkDec   *chunked.Decoder

	keepAliveTimer *loop.Timer
	readTimer      *loop.Timer
	writeTimer     *loop.Timer

	// events publishes REQUEST_BODY_RECEIVED / REQUEST_COMPLETE /
	// READ_TIMEOUT / WRITE_TIMEOUT / KEEP_ALIVE_TIMEOUT / PROTO_ERROR.
	events *loop.Publisher

	closed bool
}

// Events returns the connection's lifecycle publisher.
func (c *Conn) Events() *loop.Publisher { return c.events }

// RequestArena is the per-request bump allocator; it is reset at
// request-complete (§3 "per-request arenas are freed at
// request-complete; the socket arena persists across keep-alive").
func (c *Conn) RequestArena() *arena.Arena { return c.reqArena }

func (c *Conn) armKeepAlive() {
	c.keepAliveTimer = c.srv.keepAliveTQ.Set(c.srv.l.Now(), func() {
		c.events.Publish("KEEP_ALIVE_TIMEOUT")
		c.shutdown()
	})
}

func (c *Conn) disarmKeepAlive() {
	if c.keepAliveTimer != nil {
		c.keepAliveTimer.Unset()
		c.keepAliveTimer = nil
	}
}

func (c *Conn) armRead() {
	if c.readTimer != nil {
		c.readTimer.Unset()
	}
	c.readTimer = c.srv.readTQ.Set(c.srv.l.Now(), func() {
		c.events.Publish("READ_TIMEOUT")
		c.shutdown()
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
	c.writeTimer = c.srv.writeTQ.Set(c.srv.l.Now(), func() {
		c.events.Publish("WRITE_TIMEOUT")
		c.shutdown()
	})
}

func (c *Conn) disarmWrite() {
	if c.writeTimer != nil {
		c.writeTimer.Unset()
		c.writeTimer = nil
	}
}

func (c *Conn) onSocketError(data any) {
	reason, _ := data.(string)
	if reason == "" {
		reason = "ERROR"
	}
	c.events.Publish(reason)
	c.shutdown()
}

// shutdown tears down timers and closes the underlying socket; safe to
// call more than once.
func (c *Conn) shutdown() {
	if c.closed {
		return
	}
	c.closed = true
	c.disarmKeepAlive()
	c.disarmRead()
	c.disarmWrite()
	_ = c.sock.Close()
}

func (c *Conn) setState(s State) {
	c.state = s
	switch s {
	case StateWaitingForRequest, StateReceivingHeaders, StateReceivingBody:
		c.dataIn.SetReady(true)
	default:
		c.dataIn.SetReady(false)
	}
}
