package hsp

import (
	"strconv"
	"strings"

	"github.com/nxserve/nxserve/hdr"
	"github.com/nxserve/nxserve/wire"
)

// Request is one fully-parsed HTTP/1.1 request, valid only for the
// duration of the Handle call that receives it (its backing bytes live
// in the connection's per-request arena, freed at request-complete).
type Request struct {
	Method  string
	URI     string
	Path    string
	Query   string
	Version string
	Header  hdr.Header

	Host          string
	ContentLength int64 // -1 when neither Content-Length nor chunked
	Chunked       bool
	KeepAlive     bool
	Expect100     bool

	RemoteAddr string

	body []byte
}

// Body returns the fully-received request body (empty for a bodyless
// request). Valid until the request completes.
func (r *Request) Body() []byte { return r.body }

func newRequest(method, uri, version string, h hdr.Header) *Request {
	path, query := uri, ""
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		path, query = uri[:i], uri[i+1:]
	}
	r := &Request{
		Method:        method,
		URI:           uri,
		Path:          path,
		Query:         query,
		Version:       version,
		Header:        h,
		ContentLength: -1,
	}
	r.Host = h.Get(wire.HeaderHost)
	if te := h.Get(wire.HeaderTransferEncoding); strings.EqualFold(te, wire.TransferChunked) {
		r.Chunked = true
	} else if cl := h.Get(wire.HeaderContentLength); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
			r.ContentLength = n
		}
	}
	r.Expect100 = strings.EqualFold(h.Get(wire.HeaderExpect), wire.Expect100Continue)
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
