package loop

// Subscriber receives published messages. hsp/hcp error handling,
// ppool's idle-drop hook, and the GC channel all implement it.
type Subscriber interface {
	OnMessage(data any)
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(data any)

func (f SubscriberFunc) OnMessage(data any) { f(data) }

// Publisher is a broadcast channel: Publish enqueues one KindMessage
// Event per subscriber (§3 "Publisher / subscriber"), delivered FIFO
// per subscriber (§5 ordering guarantees).
type Publisher struct {
	l    *Loop
	subs []Subscriber
}

// NewPublisher creates a Publisher bound to l.
func NewPublisher(l *Loop) *Publisher {
	return &Publisher{l: l}
}

// Subscribe registers s to receive future Publish calls. Subscribing
// twice registers s twice (mirrors the list semantics of the original;
// callers needing idempotence should track membership themselves).
func (p *Publisher) Subscribe(s Subscriber) {
	p.subs = append(p.subs, s)
}

// Unsubscribe removes the first occurrence of s, if present.
func (p *Publisher) Unsubscribe(s Subscriber) {
	for i, sub := range p.subs {
		if sub == s {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

// Publish enqueues one delivery event per current subscriber.
func (p *Publisher) Publish(data any) {
	for _, s := range p.subs {
		sub := s
		e := &Event{Kind: KindMessage, Payload: data}
		e.recv = ReceiverFunc(func(_ *Event) { sub.OnMessage(data) })
		p.l.link(e)
	}
}

// Len reports the current subscriber count, for diagnostics/metrics.
func (p *Publisher) Len() int { return len(p.subs) }
