package hsp

import (
	"os"
	"strconv"

	"github.com/nxserve/nxserve/hdr"
	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/wire"
)

// BodyKind selects which buffer primitive Response wires into the
// response streamer (§4.6 "if content is by-buffer, an obuf is wired;
// if by-fd, an fbuf is wired; if by stream, the content istream is
// connected").
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyBytes
	BodyFile
	BodyStream
)

// Response describes what a Handler wants written back. Exactly one of
// Bytes, (File, FileOffset, FileLength), or Stream applies, selected by
// Kind.
type Response struct {
	Status int
	Header hdr.Header

	Kind   BodyKind
	Bytes  []byte
	File   *os.File
	FileOffset, FileLength int64
	Stream loop.IStream

	// KeepAlive defaults to the request's negotiated value; a handler
	// may force it false (e.g. after a fatal error mid-response).
	KeepAlive bool
}

// NewResponse creates a bodyless Response with the given status that
// inherits req's keep-alive negotiation.
func NewResponse(req *Request, status int) *Response {
	return &Response{
		Status:    status,
		Header:    hdr.Header{},
		Kind:      BodyNone,
		KeepAlive: req.KeepAlive,
	}
}

// SetBytes sets the response body to an in-memory buffer.
func (r *Response) SetBytes(b []byte) {
	r.Kind = BodyBytes
	r.Bytes = b
}

// SetFile sets the response body to a byte range of an open file,
// wired through buf.FileBuf so sendfile is attempted first.
func (r *Response) SetFile(f *os.File, offset, length int64) {
	r.Kind = BodyFile
	r.File = f
	r.FileOffset = offset
	r.FileLength = length
}

// SetStream sets the response body to an arbitrary data-out stream
// (a filter chain tail, a proxied upstream body).
func (r *Response) SetStream(s loop.IStream) {
	r.Kind = BodyStream
	r.Stream = s
}

func (r *Response) contentLength() (n int64, known bool) {
	switch r.Kind {
	case BodyBytes:
		return int64(len(r.Bytes)), true
	case BodyFile:
		return r.FileLength, true
	default:
		return 0, false
	}
}

// serializeHeaders writes the status line and header block into
// conn's request arena, matching §4.6 "response headers are serialized
// to an arena and handed to the data-out istream".
func (c *Conn) serializeHeaders(resp *Response) []byte {
	var scratch []byte
	scratch = append(scratch, wire.HTTP11...)
	scratch = append(scratch, ' ')
	scratch = strconv.AppendInt(scratch, int64(resp.Status), 10)
	scratch = append(scratch, ' ')
	scratch = append(scratch, wire.StatusText(resp.Status)...)
	scratch = append(scratch, '\r', '\n')

	if cl, ok := resp.contentLength(); ok && resp.Header.Get(wire.HeaderContentLength) == "" {
		resp.Header.Set(wire.HeaderContentLength, strconv.FormatInt(cl, 10))
	}
	if resp.Header.Get(wire.HeaderConnection) == "" {
		if resp.KeepAlive {
			resp.Header.Set(wire.HeaderConnection, wire.ConnKeepAlive)
		} else {
			resp.Header.Set(wire.HeaderConnection, wire.ConnClose)
		}
	}

	w := (*bytesWriter)(&scratch)
	_ = resp.Header.Write(w)
	scratch = append(scratch, '\r', '\n')
	return c.reqArena.AppendBytes(scratch)
}

// bytesWriter is an io.Writer over a growable []byte, used to collect
// hdr.Header.Write's output before it is copied once into the arena.
type bytesWriter []byte

func (w *bytesWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
