package buf

import (
	"os"
	"testing"

	"github.com/nxserve/nxserve/arena"
	"github.com/nxserve/nxserve/loop"
)

func newLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l, err := loop.New(loop.Options{})
	if err != nil {
		t.Skipf("epoll unavailable: %v", err)
	}
	return l
}

func TestRingWriteReadWraps(t *testing.T) {
	l := newLoop(t)
	r := NewRing(l, 4)

	n, err := r.In().WriteBytes([]byte("ab"))
	if err != nil || n != 2 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	out := make([]byte, 1)
	n, eof, err := r.ReadBytes(out)
	if n != 1 || eof || err != nil {
		t.Fatalf("read: n=%d eof=%v err=%v", n, eof, err)
	}

	// write enough to wrap around the ring's backing array
	n, err = r.In().WriteBytes([]byte("cdef"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 { // only 3 bytes of free space (cap 4, 1 byte "b" still queued)
		t.Fatalf("expected short write of 3, got %d", n)
	}

	out = make([]byte, 8)
	n, _, err = r.ReadBytes(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(out[:n]) != "bcde" {
		t.Fatalf("got %q", out[:n])
	}
}

func TestRingFullClearsWriteReady(t *testing.T) {
	l := newLoop(t)
	r := NewRing(l, 2)
	n, err := r.In().WriteBytes([]byte("xyz"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected cap at 2, got %d", n)
	}
	if r.In().Ready() {
		t.Fatal("write side should not be ready once full")
	}
}

func TestRingEOFAfterDrain(t *testing.T) {
	l := newLoop(t)
	r := NewRing(l, 4)
	r.In().WriteBytes([]byte("hi"))
	r.CloseWrite()

	buf := make([]byte, 2)
	n, eof, err := r.ReadBytes(buf)
	if err != nil || !eof || n != 2 {
		t.Fatalf("first read: n=%d eof=%v err=%v", n, eof, err)
	}
	n, eof, err = r.ReadBytes(buf)
	if err != nil || !eof || n != 0 {
		t.Fatalf("second read: n=%d eof=%v err=%v", n, eof, err)
	}
}

func TestOutBufServesRegionThenEOF(t *testing.T) {
	l := newLoop(t)
	ob := NewOutBuf(l, []byte("payload"))
	dst := &captureWriter{}
	n, progress, eof, err := ob.DoWrite(dst)
	if err != nil || !progress || !eof || n != 7 {
		t.Fatalf("n=%d progress=%v eof=%v err=%v", n, progress, eof, err)
	}
	if string(dst.got) != "payload" {
		t.Fatalf("got %q", dst.got)
	}
}

func TestInBufPublishesOnMaxSize(t *testing.T) {
	l := newLoop(t)
	a := arena.New(0)
	pub := loop.NewPublisher(l)
	var fired string
	pub.Subscribe(loop.SubscriberFunc(func(data any) { fired = data.(string) }))

	ib := NewInBuf(l, a, 4, pub)
	ib.WriteBytes([]byte("abcdef"))
	l.RunOnce(0)

	if fired != "MAX_SIZE" {
		t.Fatalf("expected MAX_SIZE, got %q", fired)
	}
	if ib.Len() != 4 {
		t.Fatalf("expected 4 bytes collected, got %d", ib.Len())
	}
}

func TestFileWriteBufCapsAtMax(t *testing.T) {
	l := newLoop(t)
	f, err := os.CreateTemp(t.TempDir(), "fwbuf")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	pub := loop.NewPublisher(l)
	var fired string
	pub.Subscribe(loop.SubscriberFunc(func(data any) { fired = data.(string) }))

	fw := NewFileWriteBuf(l, f, 3, pub)
	n, err := fw.WriteBytes([]byte("abcdef"))
	if err != nil || n != 3 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	l.RunOnce(0)
	if fired != "MAX_SIZE" {
		t.Fatalf("expected MAX_SIZE, got %q", fired)
	}
}

type captureWriter struct {
	loop.OBase
	got []byte
}

func (c *captureWriter) WriteBytes(p []byte) (int, error) {
	c.got = append(c.got, p...)
	return len(p), nil
}
