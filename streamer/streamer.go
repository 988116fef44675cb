// Package streamer implements the multi-source concatenation node
// described in §4.5: a linked list of stream nodes presented to a
// single downstream sink as one contiguous data-out source, where only
// the current (head) node is ever readable.
package streamer

import "github.com/nxserve/nxserve/loop"

// node wraps one contributor to the stream: source is the data-out
// side the streamer reads from once the node becomes current. The
// node's own data-in sink (where a handler pushes bytes, per §4.5) is
// owned and wired by the caller that built source; the streamer only
// ever needs the read side.
type node struct {
	source loop.IStream
	final  bool
	next   *node
}

// Streamer concatenates an ordered list of nodes into one data-out
// IStream (§4.5). Appending a node after the streamer starts draining
// is supported; Close marks the list closed so the last node added
// becomes the final one.
type Streamer struct {
	loop.IBase

	l *loop.Loop

	head    *node
	tail    *node
	current *node

	closed bool
	eof    bool

	scratch []byte

	// OnEOF, if set, is called exactly once, just before DoWrite
	// reports eof=true for the final time, so a caller (e.g. hsp's
	// response path) can learn when every node has been forwarded
	// downstream without needing a separate publisher per response.
	OnEOF func()
}

// New creates an empty streamer registered with l.
func New(l *loop.Loop) *Streamer {
	s := &Streamer{l: l, scratch: make([]byte, 32*1024)}
	s.InitIStream(l, s)
	return s
}

// Add appends a node whose data-out source will be read once it
// becomes current.
func (s *Streamer) Add(source loop.IStream) {
	n := &node{source: source}
	if s.tail == nil {
		s.head = n
		s.tail = n
	} else {
		s.tail.next = n
		s.tail = n
	}
	if s.current == nil {
		s.advanceTo(n)
	}
	source.SetPeer(nil) // streamer pulls directly, not via Connect
	if source.Ready() {
		s.SetReady(true)
	}
}

// Close marks the most recently added node as final; its EOF becomes
// the streamer's EOF. With an empty list, Close triggers an immediate
// EOF emission (§4.5).
func (s *Streamer) Close() {
	s.closed = true
	if s.tail != nil {
		s.tail.final = true
		return
	}
	s.eof = true
	s.SetReady(true)
	if s.OnEOF != nil {
		s.OnEOF()
	}
}

func (s *Streamer) advanceTo(n *node) {
	s.current = n
}

// DoWrite implements loop.Pusher: forward bytes from the current
// node's source to dst, advancing to the next node when the current
// one's input closes, and reporting the streamer's own EOF only once
// the final node has been exhausted (§4.5).
func (s *Streamer) DoWrite(dst loop.OStream) (n int, progress bool, eof bool, err error) {
	if s.current == nil {
		if s.eof {
			return 0, false, true, nil
		}
		s.SetReady(false)
		return 0, false, false, nil
	}
	cur := s.current
	reader, ok := cur.source.(loop.ByteReader)
	writer, wok := dst.(loop.ByteWriter)
	if !ok || !wok {
		// fall back to a direct connect-style pump for richer sources
		// (e.g. a file buffer) that implement Pusher themselves.
		if p, ok := cur.source.(loop.Pusher); ok {
			return s.pumpNode(cur, p, dst)
		}
		return 0, false, false, nil
	}
	rn, reof, rerr := reader.ReadBytes(s.scratch)
	if rerr != nil {
		return 0, false, false, rerr
	}
	var wn int
	if rn > 0 {
		wn, err = writer.WriteBytes(s.scratch[:rn])
		if err != nil {
			return 0, false, false, err
		}
	}
	if reof {
		return s.nodeDone(cur, wn)
	}
	return wn, wn > 0, false, nil
}

func (s *Streamer) pumpNode(cur *node, p loop.Pusher, dst loop.OStream) (n int, progress bool, eof bool, err error) {
	wn, wprogress, weof, werr := p.DoWrite(dst)
	if werr != nil {
		return 0, false, false, werr
	}
	if weof {
		return s.nodeDone(cur, wn)
	}
	return wn, wprogress, false, nil
}

func (s *Streamer) nodeDone(cur *node, lastWrite int) (n int, progress bool, eof bool, err error) {
	if cur.final {
		s.current = nil
		s.eof = true
		if s.OnEOF != nil {
			s.OnEOF()
		}
		return lastWrite, true, true, nil
	}
	s.advanceTo(cur.next)
	if s.current != nil && s.current.source.Ready() {
		s.SetReady(true)
	} else {
		s.SetReady(false)
	}
	return lastWrite, true, false, nil
}
