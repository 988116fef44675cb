package buf

import "github.com/nxserve/nxserve/loop"

// OutBuf serves a fixed memory region as a data-out stream, reporting
// EOF once the region is exhausted (§4.4). Used for response bodies
// that already live in one contiguous arena slice (e.g. headers).
type OutBuf struct {
	loop.IBase

	data []byte
	pos  int
}

// NewOutBuf wraps data as a readable stream.
func NewOutBuf(l *loop.Loop, data []byte) *OutBuf {
	ob := &OutBuf{data: data}
	ob.InitIStream(l, ob)
	ob.SetReady(len(data) > 0)
	return ob
}

// DoWrite implements loop.Pusher.
func (ob *OutBuf) DoWrite(dst loop.OStream) (n int, progress bool, eof bool, err error) {
	remaining := ob.data[ob.pos:]
	if len(remaining) == 0 {
		return 0, false, true, nil
	}
	writer, ok := dst.(loop.ByteWriter)
	if !ok {
		return 0, false, false, nil
	}
	wn, werr := writer.WriteBytes(remaining)
	if werr != nil {
		return 0, false, false, werr
	}
	if wn == 0 {
		return 0, false, false, nil
	}
	ob.pos += wn
	if ob.pos >= len(ob.data) {
		ob.SetReady(false)
		return wn, true, true, nil
	}
	return wn, true, false, nil
}

// Remaining reports how many bytes are left to send.
func (ob *OutBuf) Remaining() int { return len(ob.data) - ob.pos }
