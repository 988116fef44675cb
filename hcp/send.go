package hcp

import (
	"github.com/nxserve/nxserve/buf"
	"github.com/nxserve/nxserve/hdr"
	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/streamer"
)

// Do sends req over c and invokes onDone exactly once, either with the
// fully-received response or with the error that ended the exchange
// (§4.7 "CONNECTING -> ... -> DONE"). c must be IDLE.
func (c *Conn) Do(req *Request, onDone func(resp *Response, err error)) {
	c.disarmKeepAlive()
	c.req = req
	c.resp = nil
	c.onDone = onDone
	c.bodyUntilClose = false
	c.errAfterComplete = nil

	c.setState(StateSendingHeaders)
	c.armWrite()

	headerBytes := c.serializeRequestHeaders(req)
	st := streamer.New(c.cl.l)
	st.Add(buf.NewOutBuf(c.cl.l, headerBytes))

	if req.Kind != BodyNone && req.Expect100 {
		// Headers only for now; the body node is added once a 100
		// Continue status arrives or the continue timer fires (§4.7
		// "wait for a 100 status; otherwise stream the body"). The
		// connection starts reading immediately so an interim 100 (or an
		// outright rejection) can be parsed while the body is withheld.
		st.Close()
		st.OnEOF = func() {
			loop.Disconnect(st, c.sock.Out())
			c.disarmWrite()
			c.awaitingContinue = true
			c.armContinueTimer()
			c.armRead()
			c.rb = &responseBuilder{header: hdr.Header{}}
			c.setState(StateReceivingHeaders)
		}
	} else {
		c.addBodyNode(st, req)
		st.Close()
		st.OnEOF = func() { c.onRequestSent() }
	}

	c.respStreamer = st
	c.setState(StateSendingBody)
	loop.Connect(st, c.sock.Out())
}

func (c *Conn) addBodyNode(st *streamer.Streamer, req *Request) {
	switch req.Kind {
	case BodyBytes:
		if len(req.Bytes) > 0 {
			st.Add(buf.NewOutBuf(c.cl.l, req.Bytes))
		}
	case BodyFile:
		if req.FileLength > 0 {
			st.Add(buf.NewFileBuf(c.cl.l, req.File, req.FileOffset, req.FileLength))
		}
	case BodyStream:
		if req.Stream != nil {
			st.Add(req.Stream)
		}
	}
}

// onSendBodyNow fires once on either the 100-continue status arriving
// or the continue timer expiring, whichever happens first; the second
// caller is a no-op since the state has already moved on.
func (c *Conn) onSendBodyNow() {
	c.disarmContinueTimer()
	if !c.awaitingContinue {
		return
	}
	c.awaitingContinue = false
	st := streamer.New(c.cl.l)
	c.addBodyNode(st, c.req)
	st.Close()
	st.OnEOF = func() { c.onRequestSent() }

	c.respStreamer = st
	c.setState(StateSendingBody)
	loop.Connect(st, c.sock.Out())
}

// onRequestSent runs once the request (headers and, if any, body) has
// fully drained to the socket, and starts waiting for the response.
func (c *Conn) onRequestSent() {
	c.disarmWrite()
	loop.Disconnect(c.respStreamer, c.sock.Out())
	c.respStreamer = nil

	c.setState(StateWaitingForResponse)
	c.armRead()
	c.rb = &responseBuilder{header: hdr.Header{}}
	c.setState(StateReceivingHeaders)
}

// exchangeComplete runs once the response (headers and body) has been
// fully received, delivering resp via onDone, queuing any error
// observed meanwhile, then either rearming for keep-alive reuse by the
// pool or shutting the connection down (§4.7).
func (c *Conn) exchangeComplete() {
	resp := c.resp
	done := c.onDone
	err := c.errAfterComplete

	c.onDone = nil
	c.req = nil
	c.resp = nil
	c.errAfterComplete = nil
	c.reqArena.Reset()
	c.events.Publish("RESPONSE_COMPLETE")

	if c.closed {
		if done != nil {
			done(resp, err)
		}
		return
	}

	if err != nil || !resp.KeepAlive {
		c.shutdown()
		if done != nil {
			done(resp, err)
		}
		return
	}

	c.setState(StateIdle)
	c.armKeepAlive()
	if done != nil {
		done(resp, nil)
	}
}
