package hcp

import (
	"errors"

	"github.com/nxserve/nxserve/chunked"
	"github.com/nxserve/nxserve/hdr"
	"github.com/nxserve/nxserve/loop"
)

// errHeadersEnd stops hdr.LineParser.Feed at the blank line ending the
// status line's header block, mirroring hsp.errHeadersEnd.
var errHeadersEnd = errors.New("hcp: headers end")

// dataInStream actively drains the backend socket while the connection
// is RECEIVING_HEADERS/RECEIVING_BODY, mirroring hsp.dataInStream.
type dataInStream struct {
	loop.OBase

	conn    *Conn
	scratch [16 * 1024]byte
}

// DoRead implements loop.Puller, preserving any pipelined leftover
// bytes in conn.pending exactly as hsp.dataInStream.DoRead does.
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

// onPeerClosed handles the backend closing its write side. A
// close-delimited body (§4.7, neither Content-Length nor chunked) is a
// normal way for the body to end while RECEIVING_BODY; anywhere else
// it is a failed exchange.
func (c *Conn) onPeerClosed() {
	if c.state == StateReceivingBody && c.bodyUntilClose {
		c.finishBody()
		return
	}
	c.events.Publish("RDCLOSED")
	c.fail(errConnReset("RDCLOSED"))
}

// consume feeds bytes read off the socket through the status-line,
// header, and body parser, mirroring hsp.Conn.consume's state-machine
// loop but over RECEIVING_HEADERS -> RECEIVING_BODY -> DONE.
func (c *Conn) consume(p []byte) int {
	total := 0
	for len(p) > 0 {
		switch c.state {
		case StateReceivingHeaders:
			n, done, herr := c.consumeHeaderBytes(p)
			total += n
			p = p[n:]
			if herr != nil {
				c.events.Publish("PROTO_ERROR")
				c.fail(herr)
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
				c.fail(berr)
				return total
			}
			if !done {
				return total
			}
			c.finishBody()
		default:
			// SENDING_*/WAITING_FOR_100_CONTINUE/DONE: dataIn is paused
			// (setState clears its readiness), bytes wait for the next read.
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
			return nil
		}
		version, code, reason, err := hdr.ParseStatusLine(line)
		if err != nil {
			return err
		}
		rb.version, rb.code, rb.reason = version, code, reason
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
	if c.resp.Chunked {
		return c.chunkDec.Write(p, func(b []byte) {
			c.bodyAccum = append(c.bodyAccum, b...)
		})
	}
	if c.bodyUntilClose {
		c.bodyAccum = append(c.bodyAccum, p...)
		return len(p), false, nil
	}
	n = len(p)
	if int64(n) > c.bodyRemain {
		n = int(c.bodyRemain)
	}
	c.bodyAccum = append(c.bodyAccum, p[:n]...)
	c.bodyRemain -= int64(n)
	return n, c.bodyRemain == 0, nil
}

// finishHeaders builds the Response once the blank line ending a header
// block is seen. A 100 Continue status line is an interim response
// (§4.7): it triggers the queued body send and is discarded, leaving
// the connection waiting for the real status line and headers.
func (c *Conn) finishHeaders() {
	rb := c.rb

	if rb.code == 100 {
		c.rb = &responseBuilder{header: hdr.Header{}}
		c.lp.Reset()
		c.onSendBodyNow()
		return
	}

	if c.awaitingContinue {
		// The backend answered without ever sending 100 Continue (e.g.
		// an outright rejection); the body is never sent.
		c.awaitingContinue = false
		c.disarmContinueTimer()
	}

	resp := newResponse(rb.version, rb.code, rb.reason, rb.header)
	c.resp = resp
	c.rb = nil
	c.lp.Reset()
	c.events.Publish("RESPONSE_HEADERS")

	switch {
	case resp.Chunked:
		c.chunkDec = chunked.NewDecoder()
		c.setState(StateReceivingBody)
	case resp.ContentLength >= 0:
		c.bodyRemain = resp.ContentLength
		if c.bodyRemain == 0 {
			c.finishBody()
			return
		}
		c.setState(StateReceivingBody)
	default:
		// Neither Content-Length nor chunked: the body ends on
		// connection close (§4.7).
		c.bodyUntilClose = true
		c.setState(StateReceivingBody)
	}
}

// finishBody runs once the response body (possibly empty, possibly
// ended by connection close) is fully received.
func (c *Conn) finishBody() {
	c.resp.body = c.bodyAccum
	c.resp.bodyDone = true
	c.bodyAccum = nil
	c.bodyRemain = 0
	c.bodyUntilClose = false
	c.chunkDec = nil
	c.disarmRead()
	c.exchangeComplete()
}
