// Package loop implements the single-threaded, epoll-driven event loop
// described in §4.1: an ordered delivery list, N interval-keyed timer
// queues, a monotonic clock sample refreshed after each blocking wait,
// a GC publisher, and the batch-write ("cork") sentinel used to
// coalesce small socket writes. Each delivery Event is a fresh
// allocation; the loop keeps no free-record pool of them.
//
// Everything in this package runs on exactly one goroutine: the one
// that calls Run. No lock is taken anywhere in this package (§5
// "Scheduling model"); the only cross-thread boundary in the whole
// system is the worker pool, which hands control back to the loop
// through an eventfd FDSource registered like any other.
package loop

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/nxserve/nxserve/metrics"
)

const (
	maxEventsPerPass  = 100000 // §4.1 step 2 safety cap
	maxStreamRelays   = 50     // §4.1 dispatch detail starvation cap
	timerSlack        = 250 * time.Millisecond
	maxEpollTimeout    = 1 * time.Second // §4.1 step 4 "1s floor enables GC pacing"
)

// Loop is one event loop instance; a process normally runs one per
// worker ("net thread"), never shared across goroutines.
type Loop struct {
	epfd      int
	fdSources map[int]FDSource

	deliveries deliveryList

	timerQueues []*TimerQueue

	now time.Time

	streamSched map[IStream]*Event // coalescing dedup, keyed on source

	gc *Publisher

	batchWriteFD int // §4.1 "batch-write FD" sentinel; -1 when none this pass
	cork         func(fd int, on bool)

	dateCache   string
	dateCacheAt time.Time

	relayBuf []byte            // scratch for the generic ByteReader->ByteWriter fallback
	carry    map[IStream][]byte // bytes read but not yet written by that fallback

	broken bool

	log *logrus.Entry
	rec metrics.Recorder
}

// Options configures a Loop at construction.
type Options struct {
	Log     *logrus.Entry
	Metrics metrics.Recorder
	// Cork installs the OS-level write-coalescing hook (TCP_CORK or
	// equivalent); nil disables batching.
	Cork func(fd int, on bool)
}

// New creates a Loop with its own epoll instance.
func New(opts Options) (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	l := &Loop{
		epfd:         epfd,
		fdSources:    make(map[int]FDSource),
		streamSched:  make(map[IStream]*Event),
		now:          time.Now(),
		batchWriteFD: -1,
		cork:         opts.Cork,
		log:          opts.Log,
		rec:          opts.Metrics,
		relayBuf:     make([]byte, 64*1024),
		carry:        make(map[IStream][]byte),
	}
	l.gc = NewPublisher(l)
	return l, nil
}

// Now returns the loop's cached monotonic time sample, refreshed after
// each blocking wait (§3 "current_time").
func (l *Loop) Now() time.Time { return l.now }

// HTTPDate returns the cached RFC1123-with-GMT Date header value,
// recomputed at most once per second.
func (l *Loop) HTTPDate() string {
	if l.now.Sub(l.dateCacheAt) >= time.Second || l.dateCache == "" {
		l.dateCacheAt = l.now
		l.dateCache = l.now.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
	}
	return l.dateCache
}

// NewTimerQueue registers and returns a new interval-keyed timer queue.
func (l *Loop) NewTimerQueue(name string, interval time.Duration) *TimerQueue {
	q := NewTimerQueue(name, interval)
	l.timerQueues = append(l.timerQueues, q)
	return q
}

// DropCarry discards any bytes the generic ByteReader->ByteWriter
// fallback had read from src but not yet delivered. Callers that tear
// down a stream endpoint (e.g. closing a socket) must call this so the
// loop does not keep a dangling reference to it.
func (l *Loop) DropCarry(src IStream) { delete(l.carry, src) }

// GC returns the loop's GC publisher; components subscribe to shrink
// their pools when the loop has nothing else pending (§4.1 step 3).
func (l *Loop) GC() *Publisher { return l.gc }

// Break stops Run after the current pass completes.
func (l *Loop) Break() { l.broken = true }

// link appends e to the delivery list (§4.1 link).
func (l *Loop) link(e *Event) { l.deliveries.link(e) }

// ScheduleCallback enqueues a one-shot callback (§4.1 schedule_callback).
func (l *Loop) ScheduleCallback(fn func()) {
	e := &Event{Kind: KindCallback}
	e.recv = ReceiverFunc(func(_ *Event) { fn() })
	l.link(e)
}

// scheduleStream coalesces a stream-readiness delivery for the (src,dst)
// pair: if one is already pending it is left alone (invariant per
// §4.1 "Delivery ordering"); otherwise a new Event is linked that,
// when delivered, relays bytes via relayStream.
func (l *Loop) scheduleStream(src IStream, dst OStream) {
	if _, exists := l.streamSched[src]; exists {
		return
	}
	e := &Event{Kind: KindStream}
	e.recv = ReceiverFunc(func(ev *Event) {
		delete(l.streamSched, src)
		l.relayStream(src, dst)
	})
	l.streamSched[src] = e
	l.link(e)
}

// relayStream implements the §4.1 "Dispatch detail for a stream event":
// while both endpoints remain ready and paired, invoke the preferred
// active verb, capping at maxStreamRelays iterations and relinking the
// pair's event at the tail if the cap is hit, so one chatty pair can
// never starve the rest of the delivery list.
func (l *Loop) relayStream(src IStream, dst OStream) {
	for i := 0; i < maxStreamRelays; i++ {
		if src == nil || dst == nil || !src.Ready() || !dst.Ready() || src.Peer() != dst || dst.Peer() != src {
			return
		}
		n, progress, eof, err := l.pumpOnce(src, dst)
		_ = n
		if err != nil {
			l.log.WithError(err).Debug("stream relay error")
			return
		}
		if eof {
			return
		}
		if !progress {
			return
		}
	}
	// Iteration cap hit with more work pending: relink at the tail
	// instead of looping unboundedly, per §4.1.
	l.scheduleStream(src, dst)
}

// pumpOnce performs exactly one do_write-or-do_read step for a pair,
// preferring sendfile, then the source's active push, then the sink's
// active pull, and finally a generic byte copy through a scratch buffer
// for endpoints that only implement the raw ByteReader/ByteWriter
// primitives (§4.2, §4.1).
func (l *Loop) pumpOnce(src IStream, dst OStream) (n int, progress bool, eof bool, err error) {
	if sfSrc, ok := src.(SendfileSource); ok {
		if sfDst, ok2 := dst.(SendfileSink); ok2 {
			if fd, off, length, ok3 := sfSrc.FileWindow(); ok3 && length > 0 {
				written, serr := sfDst.Sendfile(fd, off, length)
				if serr != nil {
					return 0, false, false, serr
				}
				return int(written), written > 0, false, nil
			}
		}
	}
	if p, ok := src.(Pusher); ok {
		return p.DoWrite(dst)
	}
	if p, ok := dst.(Puller); ok {
		return p.DoRead(src)
	}
	reader, rok := src.(ByteReader)
	writer, wok := dst.(ByteWriter)
	if rok && wok {
		if pending, ok := l.carry[src]; ok {
			wn, werr := writer.WriteBytes(pending)
			if werr != nil {
				delete(l.carry, src)
				return 0, false, false, werr
			}
			if wn == len(pending) {
				delete(l.carry, src)
			} else if wn > 0 {
				l.carry[src] = pending[wn:]
			}
			return wn, wn > 0, false, nil
		}
		rn, reof, rerr := reader.ReadBytes(l.relayBuf)
		if rerr != nil {
			return 0, false, false, rerr
		}
		if rn == 0 {
			return 0, false, reof, nil
		}
		wn, werr := writer.WriteBytes(l.relayBuf[:rn])
		if werr != nil {
			return 0, false, false, werr
		}
		if wn < rn {
			leftover := make([]byte, rn-wn)
			copy(leftover, l.relayBuf[wn:rn])
			l.carry[src] = leftover
		}
		return wn, wn > 0, reof && wn == rn, nil
	}
	return 0, false, false, nil
}

// Run drives the loop until Break is called (§4.1 run()); it does not
// return on its own when idle or when no fd sources remain registered.
func (l *Loop) Run() {
	events := make([]unix.EpollEvent, 256)
	for !l.broken {
		l.processTimers()
		l.drainDeliveries()
		if l.deliveries.empty() {
			l.gc.Publish(struct{}{})
		}
		timeout := l.computeTimeout()
		l.uncork()
		n, err := unix.EpollWait(l.epfd, events, timeout)
		l.now = time.Now()
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			l.log.WithError(err).Error("epoll_wait failed")
			continue
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fs, ok := l.fdSources[fd]; ok {
				fs.Emit(events[i].Events)
			}
		}
	}
}

// RunOnce executes a single iteration of the loop body; exported for
// deterministic tests that want to drive the loop step by step instead
// of calling the blocking Run.
func (l *Loop) RunOnce(maxWait time.Duration) {
	l.processTimers()
	l.drainDeliveries()
	if l.deliveries.empty() {
		l.gc.Publish(struct{}{})
	}
	timeout := int(maxWait / time.Millisecond)
	if timeout < 0 {
		timeout = 0
	}
	l.uncork()
	events := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(l.epfd, events, timeout)
	l.now = time.Now()
	if err != nil {
		return
	}
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fs, ok := l.fdSources[fd]; ok {
			fs.Emit(events[i].Events)
		}
	}
}

func (l *Loop) processTimers() {
	deadline := l.now.Add(timerSlack)
	for _, q := range l.timerQueues {
		q.fireExpired(deadline)
	}
}

// drainDeliveries processes the delivery list with the §4.1 100k-event
// safety cap per pass.
func (l *Loop) drainDeliveries() {
	processed := 0
	for processed < maxEventsPerPass {
		e := l.deliveries.popFront()
		if e == nil {
			break
		}
		if e.recv != nil {
			e.recv.Deliver(e)
		}
		processed++
	}
	if processed > 0 {
		l.rec.Add("loop.deliveries", float64(processed))
	}
}

// computeTimeout is step 4 of §4.1 run(): min(nearest_timer, 1s) minus
// current_time, clamped to >= 0.
func (l *Loop) computeTimeout() int {
	best := maxEpollTimeout
	for _, q := range l.timerQueues {
		if exp, ok := q.nextExpiry(); ok {
			d := exp.Sub(l.now)
			if d < best {
				best = d
			}
		}
	}
	if best < 0 {
		best = 0
	}
	return int(best / time.Millisecond)
}

// MarkBatchWrite records fd as the first socket write under the current
// loop iteration (§4.1 "Batch-write coalescing") and enables cork.
func (l *Loop) MarkBatchWrite(fd int) {
	if l.batchWriteFD == fd {
		return
	}
	l.batchWriteFD = fd
	if l.cork != nil {
		l.cork(fd, true)
	}
}

func (l *Loop) uncork() {
	if l.batchWriteFD >= 0 && l.cork != nil {
		l.cork(l.batchWriteFD, false)
	}
	l.batchWriteFD = -1
}
