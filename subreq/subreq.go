// Package subreq implements subrequest orchestration (§4.12): running a
// handler as if a virtual HTTP request had arrived, without a socket.
// Request and Response reuse hsp's own wire-level shapes so a handler
// written against the socket path needs no special-casing to also serve
// a subrequest; only the Conn it is handed differs, since a subrequest
// has no data-in side and its response content_out feeds the caller's
// own composite stream rather than a connection's writer.
package subreq

import (
	"errors"
	"os"

	"github.com/nxserve/nxserve/arena"
	"github.com/nxserve/nxserve/buf"
	"github.com/nxserve/nxserve/hdr"
	"github.com/nxserve/nxserve/hsp"
	"github.com/nxserve/nxserve/loop"
)

// Handler is the subrequest-side counterpart of hsp.Handler: same
// Request/Response vocabulary, a Conn that has no socket behind it.
type Handler interface {
	Handle(conn *Conn, req *hsp.Request)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(conn *Conn, req *hsp.Request)

func (f HandlerFunc) Handle(conn *Conn, req *hsp.Request) { f(conn, req) }

// NewRequest builds a virtual request with no body, as issued by a
// caller composing an internal dispatch (e.g. an SSI include or a
// filter resolving a named route) rather than one parsed off the wire.
func NewRequest(method, uri, host string) *hsp.Request {
	h := hdr.Header{}
	if host != "" {
		h.Set("Host", host)
	}
	r := &hsp.Request{
		Method:        method,
		URI:           uri,
		Path:          uri,
		Version:       "HTTP/1.1",
		Header:        h,
		Host:          host,
		ContentLength: -1,
		KeepAlive:     true,
	}
	if i := indexByte(uri, '?'); i >= 0 {
		r.Path, r.Query = uri[:i], uri[i+1:]
	}
	return r
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// Conn is the socket-less stand-in for hsp.Conn, handed to a Handler
// dispatched via Dispatch. A Handler calls StartResponse exactly once,
// mirroring hsp.Conn's contract, but the response body is captured into
// memory (or drained by the caller's own composite stream, for
// BodyStream) rather than written to a connection.
type Conn struct {
	l *loop.Loop
	a *arena.Arena

	onHeaders func(resp *hsp.Response)
	onDone    func(body []byte, err error)

	responded bool
}

// Dispatch runs h against req without a socket, delivering onHeaders
// once the handler calls StartResponse (§4.12 "caller receives an event
// when the subrequest's response is ready"), and onDone once the body
// is fully collected (or immediately, for BodyNone/BodyBytes/BodyFile
// responses, since those complete synchronously within StartResponse).
func Dispatch(l *loop.Loop, h Handler, req *hsp.Request, onHeaders func(resp *hsp.Response), onDone func(body []byte, err error)) {
	c := &Conn{l: l, a: arena.New(0), onHeaders: onHeaders, onDone: onDone}
	h.Handle(c, req)
	if !c.responded {
		onDone(nil, errors.New("subreq: handler returned without calling StartResponse"))
	}
}

// StartResponse wires resp's body into the subrequest's completion
// path (§4.12 "on dispatch its response content_out becomes the
// caller's stream input"). For BodyBytes and BodyFile it completes
// synchronously, since the full body is already available without
// pumping the loop; for BodyStream it drains the stream into an arena
// through a buf.InBuf, matching how a real response's content_out would
// be pulled by a downstream consumer.
func (c *Conn) StartResponse(resp *hsp.Response) {
	if c.responded {
		return
	}
	c.responded = true
	if c.onHeaders != nil {
		c.onHeaders(resp)
	}

	switch resp.Kind {
	case hsp.BodyNone:
		c.onDone(nil, nil)
	case hsp.BodyBytes:
		c.onDone(resp.Bytes, nil)
	case hsp.BodyFile:
		c.collectFile(resp.File, resp.FileOffset, resp.FileLength)
	case hsp.BodyStream:
		c.collectStream(resp.Stream)
	default:
		c.onDone(nil, nil)
	}
}

func (c *Conn) collectFile(f *os.File, offset, length int64) {
	body := make([]byte, length)
	n, err := f.ReadAt(body, offset)
	if err != nil && int64(n) < length {
		c.onDone(nil, err)
		return
	}
	c.onDone(body[:n], nil)
}

func (c *Conn) collectStream(src loop.IStream) {
	pub := loop.NewPublisher(c.l)
	ib := buf.NewInBuf(c.l, c.a, 64<<20, pub)
	pub.Subscribe(loop.SubscriberFunc(func(reason any) {
		var err error
		if reason != "EOF" {
			err = errors.New("subreq: response body exceeded capture limit")
		}
		c.onDone(flatten(ib.Bytes()), err)
	}))

	if p, ok := src.(loop.Pusher); ok {
		c.pumpPusher(src, p, ib)
		return
	}
	loop.Connect(src, ib)
}

// pumpPusher drives a Pusher-shaped source (e.g. a streamer.Streamer)
// directly into ib, since loop.Connect alone only schedules a stream
// once both sides signal readiness through the normal FD-driven loop,
// and a subrequest's virtual source has no FD backing it to trigger
// that the first time.
func (c *Conn) pumpPusher(src loop.IStream, p loop.Pusher, ib *buf.InBuf) {
	for {
		_, progress, eof, err := p.DoWrite(ib)
		if err != nil {
			c.onDone(nil, err)
			return
		}
		if eof {
			ib.CloseWrite()
			return
		}
		if !progress {
			// Source not ready yet; fall back to the ordinary
			// Connect/Pusher path so the loop resumes it on its own
			// readiness transition.
			loop.Connect(src, ib)
			return
		}
	}
}

func flatten(chunks [][]byte) []byte {
	var n int
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
