package wpool

import (
	"testing"
	"time"

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

func pumpUntil(l *loop.Loop, cond func() bool, maxIters int) {
	for i := 0; i < maxIters && !cond(); i++ {
		l.RunOnce(time.Millisecond)
	}
}

func TestSubmitRunsOnWorkerAndCompletesOnLoopThread(t *testing.T) {
	l := newLoop(t)
	p, err := New(l, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	var result any
	var gotErr error
	done := false
	if err := p.Submit(func() (any, error) {
		return 42, nil
	}, func(res any, err error) {
		result, gotErr, done = res, err, true
	}); err != nil {
		t.Fatal(err)
	}

	pumpUntil(l, func() bool { return done }, 1000)
	if !done {
		t.Fatal("completion never delivered")
	}
	if gotErr != nil || result != 42 {
		t.Fatalf("unexpected result: %v, %v", result, gotErr)
	}
}

func TestSubmitReusesIdleWorker(t *testing.T) {
	l := newLoop(t)
	p, err := New(l, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	for i := 0; i < 3; i++ {
		done := false
		if err := p.Submit(func() (any, error) { return nil, nil }, func(any, error) { done = true }); err != nil {
			t.Fatal(err)
		}
		pumpUntil(l, func() bool { return done }, 1000)
	}
	if p.Live() != 1 {
		t.Fatalf("expected exactly 1 worker goroutine reused, got %d", p.Live())
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	l := newLoop(t)
	p, err := New(l, Options{SoftCap: 1, QueueCap: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	block := make(chan struct{})
	if err := p.Submit(func() (any, error) { <-block; return nil, nil }, func(any, error) {}); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(func() (any, error) { return nil, nil }, func(any, error) {}); err == nil {
		t.Fatal("expected ErrQueueFull")
	}
	close(block)
}
