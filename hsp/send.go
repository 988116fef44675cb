package hsp

import (
	"github.com/nxserve/nxserve/buf"
	"github.com/nxserve/nxserve/hdr"
	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/streamer"
)

// StartResponse begins sending resp, wiring whichever buffer primitive
// matches its Kind into a per-request streamer and connecting that
// streamer to the socket's data-out stream (§4.6 "start_sending_response").
// It may be called from within Handle, or later (e.g. once a worker
// pool finishes, or a proxied upstream's headers arrive).
func (c *Conn) StartResponse(resp *Response) {
	c.setState(StateSendingHeaders)
	c.armWrite()

	headerBytes := c.serializeHeaders(resp)
	st := streamer.New(c.srv.l)
	st.Add(buf.NewOutBuf(c.srv.l, headerBytes))

	switch resp.Kind {
	case BodyBytes:
		if len(resp.Bytes) > 0 {
			st.Add(buf.NewOutBuf(c.srv.l, resp.Bytes))
		}
	case BodyFile:
		if resp.FileLength > 0 {
			st.Add(buf.NewFileBuf(c.srv.l, resp.File, resp.FileOffset, resp.FileLength))
		}
	case BodyStream:
		if resp.Stream != nil {
			st.Add(resp.Stream)
		}
	}
	st.Close()

	keepAlive := resp.KeepAlive
	st.OnEOF = func() { c.requestComplete(keepAlive) }

	c.setState(StateSendingBody)
	c.respStreamer = st
	loop.Connect(st, c.sock.Out())
}

// respondAndClose sends a minimal status-only response and forces
// keep-alive off, used for the 400 upgrade path on a pre-body protocol
// error (§4.6 "Header parsing is bounded by MAX_REQUEST_HEADERS_SIZE;
// exceeding it causes a 400 response with keep-alive=0").
func (c *Conn) respondAndClose(status int) {
	resp := &Response{Status: status, Header: hdr.Header{}, KeepAlive: false}
	c.StartResponse(resp)
}

// requestComplete runs §4.6's end-of-response bookkeeping: disconnect
// the response streamer, clear the per-request arena, publish
// REQUEST_COMPLETE, then either rearm for keep-alive or shut the
// connection's write side down.
func (c *Conn) requestComplete(keepAlive bool) {
	c.disarmWrite()
	loop.Disconnect(c.respStreamer, c.sock.Out())
	c.respStreamer = nil
	c.req = nil
	c.reqArena.Reset()
	c.requestCount++
	c.events.Publish("REQUEST_COMPLETE")

	if c.closed {
		return
	}
	if keepAlive {
		c.setState(StateWaitingForRequest)
		c.armKeepAlive()
		return
	}
	c.setState(StateDone)
	_ = c.sock.ShutdownWrite()
	c.shutdown()
}
