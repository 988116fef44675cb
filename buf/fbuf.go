package buf

import (
	"os"

	"github.com/nxserve/nxserve/loop"
)

// FileBuf is a data-out source backed by a byte range of an open file.
// Its DoWrite prefers the sink's sendfile path (loop.SendfileSink) and
// falls back to paging bytes through a local read buffer (§4.4).
type FileBuf struct {
	loop.IBase

	f      *os.File
	offset int64
	end    int64

	page   []byte
	eofHit bool
}

// NewFileBuf exposes [offset, offset+length) of f as a data-out stream.
func NewFileBuf(l *loop.Loop, f *os.File, offset, length int64) *FileBuf {
	fb := &FileBuf{f: f, offset: offset, end: offset + length, page: make([]byte, 64*1024)}
	fb.InitIStream(l, fb)
	fb.SetReady(length > 0)
	return fb
}

// FileWindow implements loop.SendfileSource.
func (fb *FileBuf) FileWindow() (fd int, offset int64, length int64, ok bool) {
	remaining := fb.end - fb.offset
	if remaining <= 0 {
		return 0, 0, 0, false
	}
	return int(fb.f.Fd()), fb.offset, remaining, true
}

// DoWrite implements loop.Pusher: try sendfile first, else page bytes
// through a local buffer into dst.
func (fb *FileBuf) DoWrite(dst loop.OStream) (n int, progress bool, eof bool, err error) {
	remaining := fb.end - fb.offset
	if remaining <= 0 {
		return 0, false, true, nil
	}
	if sfSink, ok := dst.(loop.SendfileSink); ok {
		written, serr := sfSink.Sendfile(int(fb.f.Fd()), fb.offset, remaining)
		if serr != nil {
			return 0, false, false, serr
		}
		if written > 0 {
			fb.offset += written
			if fb.offset >= fb.end {
				fb.SetReady(false)
				return int(written), true, true, nil
			}
			return int(written), true, false, nil
		}
		return 0, false, false, nil
	}

	writer, ok := dst.(loop.ByteWriter)
	if !ok {
		return 0, false, false, nil
	}
	want := remaining
	if want > int64(len(fb.page)) {
		want = int64(len(fb.page))
	}
	rn, rerr := fb.f.ReadAt(fb.page[:want], fb.offset)
	if rn == 0 && rerr != nil {
		return 0, false, false, rerr
	}
	wn, werr := writer.WriteBytes(fb.page[:rn])
	if werr != nil {
		return 0, false, false, werr
	}
	fb.offset += int64(wn)
	if wn == 0 {
		return 0, false, false, nil
	}
	if fb.offset >= fb.end {
		fb.SetReady(false)
		return wn, true, true, nil
	}
	return wn, true, false, nil
}
