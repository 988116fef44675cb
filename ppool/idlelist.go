package ppool

// idleList is a doubly-linked list of idle pool entries (§3 "doubly-
// linked list of idle pooled hcps"). pushFront/popFront make the
// freshest-returned connection the next one reused, and unlink lets the
// idle-drop hook remove an arbitrary entry in O(1) when its connection
// times out or errors out while sitting idle.
type idleList struct {
	head, tail *entry
}

func (l *idleList) pushFront(e *entry) {
	e.prev = nil
	e.next = l.head
	if l.head != nil {
		l.head.prev = e
	} else {
		l.tail = e
	}
	l.head = e
}

func (l *idleList) popFront() *entry {
	e := l.head
	if e == nil {
		return nil
	}
	l.unlink(e)
	return e
}

func (l *idleList) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else if l.head == e {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else if l.tail == e {
		l.tail = e.prev
	}
	e.prev, e.next = nil, nil
}
