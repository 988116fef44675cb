package loop

import (
	"testing"
	"time"
)

func TestTimerQueueFIFOOrder(t *testing.T) {
	q := NewTimerQueue("test", 10*time.Millisecond)
	var fired []int
	base := time.Now()
	q.Set(base, func() { fired = append(fired, 1) })
	q.Set(base, func() { fired = append(fired, 2) })
	q.Set(base, func() { fired = append(fired, 3) })

	q.fireExpired(base.Add(100 * time.Millisecond))

	if len(fired) != 3 || fired[0] != 1 || fired[1] != 2 || fired[2] != 3 {
		t.Fatalf("expected timers to fire in arm order, got %v", fired)
	}
}

func TestTimerUnsetRemovesEntry(t *testing.T) {
	q := NewTimerQueue("test", 10*time.Millisecond)
	base := time.Now()
	fired := false
	timer := q.Set(base, func() { fired = true })
	timer.Unset()
	q.fireExpired(base.Add(time.Second))
	if fired {
		t.Fatal("expected cancelled timer not to fire")
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after unset, got %d", q.Len())
	}
}

func TestTimerDoesNotFireEarly(t *testing.T) {
	q := NewTimerQueue("test", time.Minute)
	base := time.Now()
	fired := false
	q.Set(base, func() { fired = true })
	q.fireExpired(base.Add(time.Second))
	if fired {
		t.Fatal("timer fired before its interval elapsed")
	}
}

func TestDeliveryListNeverDoubleLinked(t *testing.T) {
	var l deliveryList
	e := &Event{}
	l.link(e)
	l.link(e) // re-link must not create a duplicate entry
	if l.len() != 1 {
		t.Fatalf("expected 1 entry after re-link, got %d", l.len())
	}
	got := l.popFront()
	if got != e {
		t.Fatal("unexpected popped event")
	}
	if !l.empty() {
		t.Fatal("expected list empty after popping the only event")
	}
}

func TestPublisherFIFOPerSubscriber(t *testing.T) {
	l, err := New(Options{})
	if err != nil {
		t.Skipf("epoll unavailable in this environment: %v", err)
	}
	p := NewPublisher(l)
	var got []int
	p.Subscribe(SubscriberFunc(func(data any) { got = append(got, data.(int)) }))
	p.Publish(1)
	p.Publish(2)
	p.Publish(3)
	l.drainDeliveries()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected FIFO delivery order, got %v", got)
	}
}

type fakeIStream struct{ IBase }
type fakeOStream struct{ OBase }

func TestStreamReadyFiresOnlyWhenBothReady(t *testing.T) {
	l, err := New(Options{})
	if err != nil {
		t.Skipf("epoll unavailable in this environment: %v", err)
	}
	src := &fakeIStream{}
	dst := &fakeOStream{}
	src.InitIStream(l, src)
	dst.InitOStream(l, dst)
	Connect(src, dst)

	src.SetReady(true)
	if len(l.streamSched) != 0 {
		t.Fatal("stream event scheduled with only one side ready")
	}
	dst.SetReady(true)
	if len(l.streamSched) != 1 {
		t.Fatal("expected stream event scheduled once both sides are ready")
	}
}
