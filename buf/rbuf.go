// Package buf provides the fixed-size byte containers the streamer and
// protocol state machines move bytes through: a read/write ring, a
// file-backed source, an arena-backed sink with a size cap, a
// fixed-region source, and a file-backed sink (§4.4).
package buf

import "github.com/nxserve/nxserve/loop"

// Ring is a fixed-capacity byte ring with independent read and write
// cursors. Writing sets the data-out (readable) side ready and clears
// the data-in (writable) side ready once full; reading is symmetric.
// It is both an IStream (data out) and an OStream (data in).
type Ring struct {
	loop.IBase // data-out: readable bytes waiting to be drained
	in         ringIn

	buf   []byte
	start int // read cursor
	end   int // write cursor
	full  bool

	lastWrite int
	eof       bool
}

type ringIn struct {
	loop.OBase
	r *Ring
}

// NewRing allocates a ring of the given capacity and wires its two
// stream halves to l.
func NewRing(l *loop.Loop, capacity int) *Ring {
	r := &Ring{buf: make([]byte, capacity)}
	r.InitIStream(l, r)
	r.in.r = r
	r.in.InitOStream(l, &r.in)
	return r
}

// In is the writable half (an OStream/ByteWriter) of the ring.
func (r *Ring) In() *ringIn { return &r.in }

func (r *Ring) len() int {
	if r.full {
		return len(r.buf)
	}
	if r.end >= r.start {
		return r.end - r.start
	}
	return len(r.buf) - r.start + r.end
}

func (r *Ring) free() int { return len(r.buf) - r.len() }

// ReadBytes drains up to len(p) bytes from the ring into p.
func (r *Ring) ReadBytes(p []byte) (n int, eof bool, err error) {
	avail := r.len()
	if avail == 0 {
		if r.eof {
			return 0, true, nil
		}
		r.SetReady(false)
		return 0, false, nil
	}
	want := len(p)
	if want > avail {
		want = avail
	}
	n = 0
	for n < want {
		chunk := want - n
		if r.start+chunk > len(r.buf) {
			chunk = len(r.buf) - r.start
		}
		copy(p[n:], r.buf[r.start:r.start+chunk])
		r.start = (r.start + chunk) % len(r.buf)
		n += chunk
		r.full = false
	}
	if r.len() == 0 && r.eof {
		return n, true, nil
	}
	if r.len() == 0 {
		r.SetReady(false)
	}
	r.in.SetReady(true)
	return n, false, nil
}

// WriteBytes appends up to len(p) bytes into the ring, as much as free
// space allows; a short write means the ring is full.
func (in *ringIn) WriteBytes(p []byte) (n int, err error) {
	r := in.r
	space := r.free()
	if space == 0 {
		in.SetReady(false)
		return 0, nil
	}
	want := len(p)
	if want > space {
		want = space
	}
	n = 0
	for n < want {
		chunk := want - n
		if r.end+chunk > len(r.buf) {
			chunk = len(r.buf) - r.end
		}
		copy(r.buf[r.end:r.end+chunk], p[n:n+chunk])
		r.end = (r.end + chunk) % len(r.buf)
		n += chunk
	}
	if n > 0 {
		r.lastWrite = n
		if r.end == r.start {
			r.full = true
		}
		r.SetReady(true)
	}
	if r.free() == 0 {
		in.SetReady(false)
	}
	return n, nil
}

// CloseWrite marks the ring at EOF: once drained, reads report eof.
func (r *Ring) CloseWrite() {
	r.eof = true
	r.SetReady(true) // let a reader observe EOF even if empty
}

// Reset empties the ring and clears EOF, for connection reuse.
func (r *Ring) Reset() {
	r.start, r.end = 0, 0
	r.full = false
	r.eof = false
	r.lastWrite = 0
}

func (r *Ring) Cap() int  { return len(r.buf) }
func (r *Ring) Len() int  { return r.len() }
func (r *Ring) Free() int { return r.free() }
