package buf

import (
	"os"

	"github.com/nxserve/nxserve/loop"
)

// FileWriteBuf writes incoming stream bytes to an open file up to a
// maximum size, recording the first write error it sees but continuing
// to drain the source so upstream readiness bookkeeping stays correct
// (§4.4). Used by fcache to materialize a response body to disk.
type FileWriteBuf struct {
	loop.OBase

	f        *os.File
	offset   int64
	max      int64
	written  int64
	firstErr error
	done     *loop.Publisher
}

// NewFileWriteBuf writes to f starting at offset 0, capped
// at max bytes; done (if non-nil) is published on completion.
func NewFileWriteBuf(l *loop.Loop, f *os.File, max int64, done *loop.Publisher) *FileWriteBuf {
	fw := &FileWriteBuf{f: f, max: max, done: done}
	fw.InitOStream(l, fw)
	return fw
}

// WriteBytes writes p to the file, stopping at the max-size cap.
func (fw *FileWriteBuf) WriteBytes(p []byte) (n int, err error) {
	remaining := fw.max - fw.written
	if remaining <= 0 {
		fw.publishDone("MAX_SIZE")
		return 0, nil
	}
	want := int64(len(p))
	if want > remaining {
		want = remaining
	}
	wn, werr := fw.f.WriteAt(p[:want], fw.offset)
	if werr != nil {
		if fw.firstErr == nil {
			fw.firstErr = werr
		}
		wn = int(want) // keep draining: report the bytes as consumed
	}
	fw.offset += int64(wn)
	fw.written += int64(wn)
	if fw.written >= fw.max {
		fw.publishDone("MAX_SIZE")
	}
	return wn, nil
}

// CloseWrite signals the source reached EOF.
func (fw *FileWriteBuf) CloseWrite() {
	fw.publishDone("EOF")
}

func (fw *FileWriteBuf) publishDone(reason string) {
	if fw.done != nil {
		fw.done.Publish(reason)
		fw.done = nil
	}
}

// Err returns the first write error encountered, if any.
func (fw *FileWriteBuf) Err() error { return fw.firstErr }

// Written reports how many bytes have been written so far.
func (fw *FileWriteBuf) Written() int64 { return fw.written }
