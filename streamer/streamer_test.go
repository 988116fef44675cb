package streamer

import (
	"testing"

	"github.com/nxserve/nxserve/buf"
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

type capture struct {
	loop.OBase
	got []byte
}

func (c *capture) WriteBytes(p []byte) (int, error) {
	c.got = append(c.got, p...)
	return len(p), nil
}

func TestStreamerConcatenatesNodesInOrder(t *testing.T) {
	l := newLoop(t)
	s := New(l)

	a := buf.NewOutBuf(l, []byte("hello "))
	b := buf.NewOutBuf(l, []byte("world"))
	s.Add(a)
	s.Add(b)
	s.Close()

	dst := &capture{}
	for i := 0; i < 10; i++ {
		_, _, eof, err := s.DoWrite(dst)
		if err != nil {
			t.Fatal(err)
		}
		if eof {
			break
		}
	}
	if string(dst.got) != "hello world" {
		t.Fatalf("got %q", dst.got)
	}
}

func TestStreamerEmptyCloseIsImmediateEOF(t *testing.T) {
	l := newLoop(t)
	s := New(l)
	s.Close()
	if !s.Ready() {
		t.Fatal("expected ready after closing an empty streamer")
	}
	dst := &capture{}
	_, _, eof, err := s.DoWrite(dst)
	if err != nil || !eof {
		t.Fatalf("eof=%v err=%v", eof, err)
	}
}
