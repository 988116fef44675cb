package hcp

import (
	"os"
	"strconv"

	"github.com/nxserve/nxserve/hdr"
	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/wire"
)

// BodyKind mirrors hsp.BodyKind: which buffer primitive to wire into
// the outbound streamer.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyBytes
	BodyFile
	BodyStream
)

// Request describes one outbound backend request.
type Request struct {
	Method  string
	URI     string
	Version string
	Header  hdr.Header

	Kind                   BodyKind
	Bytes                  []byte
	File                   *os.File
	FileOffset, FileLength int64
	Stream                 loop.IStream

	Expect100 bool
	KeepAlive bool
}

// NewRequest creates a bodyless HTTP/1.1 keep-alive request for method,
// uri and host; callers add a body via SetBytes/SetFile/SetStream as
// needed.
func NewRequest(method, uri, host string) *Request {
	r := &Request{
		Method:    method,
		URI:       uri,
		Version:   wire.HTTP11,
		Header:    hdr.Header{},
		KeepAlive: true,
	}
	r.Header.Set(wire.HeaderHost, host)
	return r
}

func (r *Request) SetBytes(b []byte) { r.Kind = BodyBytes; r.Bytes = b }
func (r *Request) SetFile(f *os.File, offset, length int64) {
	r.Kind = BodyFile
	r.File = f
	r.FileOffset = offset
	r.FileLength = length
}
func (r *Request) SetStream(s loop.IStream) { r.Kind = BodyStream; r.Stream = s }

func (r *Request) contentLength() (n int64, known bool) {
	switch r.Kind {
	case BodyBytes:
		return int64(len(r.Bytes)), true
	case BodyFile:
		return r.FileLength, true
	default:
		return 0, false
	}
}

func (c *Conn) serializeRequestHeaders(req *Request) []byte {
	var scratch []byte
	scratch = append(scratch, req.Method...)
	scratch = append(scratch, ' ')
	scratch = append(scratch, req.URI...)
	scratch = append(scratch, ' ')
	scratch = append(scratch, req.Version...)
	scratch = append(scratch, '\r', '\n')

	if cl, ok := req.contentLength(); ok && req.Header.Get(wire.HeaderContentLength) == "" {
		req.Header.Set(wire.HeaderContentLength, strconv.FormatInt(cl, 10))
	}
	if req.Header.Get(wire.HeaderConnection) == "" {
		if req.KeepAlive {
			req.Header.Set(wire.HeaderConnection, wire.ConnKeepAlive)
		} else {
			req.Header.Set(wire.HeaderConnection, wire.ConnClose)
		}
	}
	if req.Expect100 {
		req.Header.Set(wire.HeaderExpect, wire.Expect100Continue)
	}

	w := (*bytesWriter)(&scratch)
	_ = req.Header.Write(w)
	scratch = append(scratch, '\r', '\n')
	return c.reqArena.AppendBytes(scratch)
}

type bytesWriter []byte

func (w *bytesWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
