package buf

import (
	"github.com/nxserve/nxserve/arena"
	"github.com/nxserve/nxserve/loop"
)

// InBuf collects incoming stream bytes into an arena up to a maximum
// size, publishing a completion message on EOF or once the cap is hit
// (§4.4). It is a data-in sink (OStream/ByteWriter).
type InBuf struct {
	loop.OBase

	a       *arena.Arena
	max     int
	written int
	done    *loop.Publisher

	chunks [][]byte
}

// NewInBuf creates an in-buffer backed by a, capped at max bytes, whose
// completion (EOF or cap reached) is announced on done.
func NewInBuf(l *loop.Loop, a *arena.Arena, max int, done *loop.Publisher) *InBuf {
	ib := &InBuf{a: a, max: max, done: done}
	ib.InitOStream(l, ib)
	return ib
}

// WriteBytes appends up to max-written bytes of p into the arena.
func (ib *InBuf) WriteBytes(p []byte) (n int, err error) {
	remaining := ib.max - ib.written
	if remaining <= 0 {
		ib.publishDone("MAX_SIZE")
		return 0, nil
	}
	want := len(p)
	if want > remaining {
		want = remaining
	}
	dst := ib.a.AppendBytes(p[:want])
	ib.chunks = append(ib.chunks, dst)
	ib.written += want
	if ib.written >= ib.max {
		ib.publishDone("MAX_SIZE")
	}
	return want, nil
}

// CloseWrite signals the source reached EOF; if not already at the
// size cap, the completion is announced as a normal EOF.
func (ib *InBuf) CloseWrite() {
	if ib.written < ib.max {
		ib.publishDone("EOF")
	}
}

func (ib *InBuf) publishDone(reason string) {
	if ib.done != nil {
		ib.done.Publish(reason)
		ib.done = nil
	}
}

// Bytes returns the collected chunks in write order; callers that need
// a single contiguous slice should concatenate via arena.Append instead
// of calling this on a hot path.
func (ib *InBuf) Bytes() [][]byte { return ib.chunks }

// Len returns the total number of bytes collected so far.
func (ib *InBuf) Len() int { return ib.written }
