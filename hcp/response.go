package hcp

import (
	"strconv"
	"strings"

	"github.com/nxserve/nxserve/hdr"
	"github.com/nxserve/nxserve/wire"
)

// Response is one fully- or partially-received backend response.
// OnResponseHeaders fires once Status/Header are known; the body
// accumulates until OnResponseComplete fires (or a close-delimited
// body finalizes on RDHUP, §4.7).
type Response struct {
	Status  int
	Reason  string
	Version string
	Header  hdr.Header

	ContentLength int64 // -1 when neither Content-Length nor chunked
	Chunked       bool
	KeepAlive     bool

	body     []byte
	bodyDone bool
}

// Body returns the bytes received so far (complete once bodyDone).
func (r *Response) Body() []byte { return r.body }

// responseBuilder accumulates the status line and headers while a
// Conn is in RECEIVING_HEADERS.
type responseBuilder struct {
	started bool
	version string
	code    int
	reason  string
	header  hdr.Header
}

func newResponse(version string, code int, reason string, h hdr.Header) *Response {
	r := &Response{
		Status:        code,
		Reason:        reason,
		Version:       version,
		Header:        h,
		ContentLength: -1,
	}
	if te := h.Get(wire.HeaderTransferEncoding); strings.EqualFold(te, wire.TransferChunked) {
		r.Chunked = true
	} else if cl := h.Get(wire.HeaderContentLength); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
			r.ContentLength = n
		}
	}
	r.KeepAlive = keepAliveFor(version, h.Get(wire.HeaderConnection))
	return r
}

func keepAliveFor(version, connection string) bool {
	switch strings.ToLower(connection) {
	case "close":
		return false
	case "keep-alive":
		return true
	}
	return version == wire.HTTP11
}
