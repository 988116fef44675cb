package hsp

import (
	"errors"

	"github.com/nxserve/nxserve/buf"
	"github.com/nxserve/nxserve/chunked"
	"github.com/nxserve/nxserve/hdr"
	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/streamer"
)

// errHeadersEnd is returned by onHeaderLine (never exposed outside the
// package) to tell hdr.LineParser.Feed to stop at the blank line ending
// the header block, per §4.6's RECEIVING_HEADERS -> {...} transition.
var errHeadersEnd = errors.New("hsp: headers end")

// requestBuilder accumulates the request line and headers while a
// connection is in RECEIVING_HEADERS.
type requestBuilder struct {
	started bool
	method  string
	uri     string
	version string
	header  hdr.Header
}

// dataInStream is the sink-active ostream paired with the socket's
// istream (§3 "hsp parses headers... client body is piped the other
// way"): it implements loop.Puller so it actively drains the socket
// rather than waiting to be pushed into.
type dataInStream struct {
	loop.OBase

	conn    *Conn
	scratch [16 * 1024]byte
}

// DoRead implements loop.Puller. A pipelined request (bytes for a
// second request arriving in the same read as the first one's tail) is
// parked in conn.pending rather than dropped: consume() stops accepting
// bytes the instant the connection leaves a receiving state, so any
// unconsumed remainder is saved and replayed once the connection is
// back in WAITING_FOR_REQUEST, before any new socket read is attempted.
func (d *dataInStream) DoRead(src loop.IStream) (n int, progress bool, eof bool, err error) {
	c := d.conn
	if len(c.pending) > 0 {
		used := c.consume(c.pending)
		c.pending = c.pending[used:]
		if len(c.pending) > 0 {
			return used, used > 0, false, nil
		}
	}

	reader, ok := src.(loop.ByteReader)
	if !ok {
		return 0, false, false, nil
	}
	rn, reof, rerr := reader.ReadBytes(d.scratch[:])
	if rerr != nil {
		c.events.Publish("PROTO_ERROR")
		return 0, false, false, rerr
	}
	if rn > 0 {
		c.armRead()
		used := c.consume(d.scratch[:rn])
		if used < rn {
			c.pending = append(c.pending[:0], d.scratch[used:rn]...)
		}
	}
	if reof {
		c.onPeerClosed()
		return rn, rn > 0, true, nil
	}
	return rn, rn > 0, false, nil
}

// onPeerClosed handles the client half-closing its write side. Outside
// of WAITING_FOR_REQUEST this is a premature close; inside it, it is
// just idle-connection teardown.
func (c *Conn) onPeerClosed() {
	if c.state != StateWaitingForRequest {
		c.events.Publish("RDCLOSED")
	}
	c.shutdown()
}

// consume feeds bytes read off the socket through the header/body
// parser, driving RECEIVING_HEADERS -> RECEIVING_BODY -> HANDLING
// (§4.6). It returns the number of bytes of p consumed: all of p, or
// fewer once a protocol error has triggered a 400 response or the
// connection has left the receiving states (the rest waits in
// conn.pending, see DoRead).
func (c *Conn) consume(p []byte) int {
	total := 0
	for len(p) > 0 {
		switch c.state {
		case StateWaitingForRequest:
			c.disarmKeepAlive()
			c.rb = &requestBuilder{header: hdr.Header{}}
			c.setState(StateReceivingHeaders)
			fallthrough
		case StateReceivingHeaders:
			n, done, herr := c.consumeHeaderBytes(p)
			total += n
			p = p[n:]
			if herr != nil {
				c.events.Publish("PROTO_ERROR")
				c.respondAndClose(400)
				return total
			}
			if !done {
				return total
			}
			c.finishHeaders()
		case StateReceivingBody:
			n, done, berr := c.consumeBodyBytes(p)
			total += n
			p = p[n:]
			if berr != nil {
				c.events.Publish("PROTO_ERROR")
				c.respondAndClose(400)
				return total
			}
			if !done {
				return total
			}
			c.finishBody()
		default:
			// HANDLING/SENDING_*: dataIn is paused (setState clears its
			// readiness), so further bytes are left for the next read.
			return total
		}
	}
	return total
}

func (c *Conn) consumeHeaderBytes(p []byte) (n int, done bool, err error) {
	n, ferr := c.lp.Feed(p, c.onHeaderLine)
	switch ferr {
	case nil:
		return n, false, nil
	case errHeadersEnd:
		return n, true, nil
	default:
		return n, true, ferr
	}
}

func (c *Conn) onHeaderLine(line []byte) error {
	rb := c.rb
	if !rb.started {
		if len(line) == 0 {
			return nil // tolerate a leading CRLF before the request line
		}
		method, uri, version, err := hdr.ParseRequestLine(line)
		if err != nil {
			return err
		}
		rb.method, rb.uri, rb.version = method, uri, version
		rb.started = true
		return nil
	}
	if len(line) == 0 {
		return errHeadersEnd
	}
	key, value, err := hdr.ParseHeaderLine(line)
	if err != nil {
		return err
	}
	rb.header.Add(key, value)
	return nil
}

func (c *Conn) consumeBodyBytes(p []byte) (n int, done bool, err error) {
	if c.req.Chunked {
		return c.chunkDec.Write(p, func(b []byte) {
			c.bodyAccum = append(c.bodyAccum, b...)
		})
	}
	n = len(p)
	if int64(n) > c.bodyRemain {
		n = int(c.bodyRemain)
	}
	c.bodyAccum = append(c.bodyAccum, p[:n]...)
	c.bodyRemain -= int64(n)
	return n, c.bodyRemain == 0, nil
}

// finishHeaders builds the Request once the blank line ending the
// header block is seen, then either waits for a body or hands off to
// the handler immediately (§4.6 "headers end found").
func (c *Conn) finishHeaders() {
	rb := c.rb
	req := newRequest(rb.method, rb.uri, rb.version, rb.header)
	c.req = req
	c.rb = nil
	c.lp.Reset()

	if req.Expect100 {
		c.send100Continue()
	}

	switch {
	case req.Chunked:
		c.chunkDec = chunked.NewDecoder()
		c.setState(StateReceivingBody)
	case req.ContentLength > 0:
		c.bodyRemain = req.ContentLength
		c.setState(StateReceivingBody)
	default:
		c.finishBody()
	}
}

// finishBody runs once the body (possibly empty) is fully received,
// publishing REQUEST_BODY_RECEIVED and invoking the handler (§4.6).
func (c *Conn) finishBody() {
	c.req.body = c.bodyAccum
	c.bodyAccum = nil
	c.bodyRemain = 0
	c.chunkDec = nil
	c.disarmRead()
	c.setState(StateHandling)
	c.events.Publish("REQUEST_BODY_RECEIVED")
	c.srv.handler.Handle(c, c.req)
}

// send100Continue writes the pre-response status line immediately,
// ahead of the body and the eventual real response headers (§4.6
// "a 100 Continue status line is sent as a pre-response").
func (c *Conn) send100Continue() {
	line := []byte("HTTP/1.1 100 Continue\r\n\r\n")
	ob := buf.NewOutBuf(c.srv.l, c.reqArena.AppendBytes(line))
	st := streamer.New(c.srv.l)
	st.Add(ob)
	st.Close()
	st.OnEOF = func() { loop.Disconnect(st, c.sock.Out()) }
	loop.Connect(st, c.sock.Out())
}
