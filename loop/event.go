package loop

// Kind distinguishes the three event classes the loop ever delivers, per
// §3 "Event": stream-readiness, message-delivery (publish), and
// one-shot callbacks.
type Kind int

const (
	KindStream Kind = iota
	KindMessage
	KindCallback
)

// Receiver is anything that can be the target of a loop-delivered event.
// Subscribers, stream pairs and scheduled callbacks all implement it.
type Receiver interface {
	// Deliver is invoked on the loop thread exactly once per Event,
	// after the event has been unlinked from the loop's delivery list.
	Deliver(e *Event)
}

// Event is one entry on the loop's delivery list. Per invariant 1, an
// Event is never linked on the loop list twice simultaneously; linking
// always unlinks first.
type Event struct {
	Kind    Kind
	Payload any
	recv    Receiver

	linked     bool
	prev, next *Event
}

// ReceiverFunc adapts a plain function to Receiver.
type ReceiverFunc func(e *Event)

func (f ReceiverFunc) Deliver(e *Event) { f(e) }
