// Package wpool implements the off-loop worker pool (§4.11): a bounded
// queue of idle workers guarded by a mutex (the only lock in the core,
// per §5 "no locks are required within the core except for interaction
// with the worker pool"), each worker running its job on its own
// goroutine, with completions delivered back to the loop thread through
// a real eventfd registered as a loop.FDSource rather than a channel,
// so the completion edge composes with epoll exactly like any other FD
// source (§4.11 "an eventfd that is an FD source registered with the
// loop").
package wpool

import (
	"encoding/binary"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/metrics"
)

// Job is one unit of blocking work submitted to the pool. Fn runs on a
// worker's own goroutine; Done is invoked on the loop thread once Fn
// returns, never concurrently with any other loop callback.
type Job struct {
	Fn   func() (any, error)
	Done func(any, error)
}

type worker struct {
	jobs chan Job
}

type completion struct {
	done func(any, error)
	res  any
	err  error
}

// Options configures a Pool's soft worker cap, queue cap, and
// observability hooks.
type Options struct {
	// SoftCap is stored (defaulting to 32) but is not consulted by
	// Submit or shrinkIdle: Submit spawns a new worker whenever none is
	// idle and fewer than QueueCap jobs are in flight, and shrinkIdle
	// closes half of the idle workers on each GC pass. The number of
	// live worker goroutines is therefore not bounded by SoftCap.
	SoftCap  int
	QueueCap int

	Log     *logrus.Entry
	Metrics metrics.Recorder
}

// Pool is the worker factory of §3 "Worker factory / worker": owns the
// idle-worker queue, the running total, and the completion eventfd.
type Pool struct {
	l    *loop.Loop
	opts Options

	mu      sync.Mutex
	idle    []*worker
	live    int
	pending []completion

	efd int

	log *logrus.Entry
	rec metrics.Recorder
}

// New creates a Pool registered with l. QueueCap bounds how many jobs
// may be in flight (submitted but not yet completed) before Submit
// rejects new work with ErrQueueFull; SoftCap does not limit the
// worker count (see Options).
func New(l *loop.Loop, opts Options) (*Pool, error) {
	if opts.SoftCap <= 0 {
		opts.SoftCap = 32
	}
	if opts.QueueCap <= 0 {
		opts.QueueCap = 256
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	p := &Pool{l: l, opts: opts, efd: efd, log: opts.Log, rec: opts.Metrics}
	if err := l.RegisterFDSource(p); err != nil {
		unix.Close(efd)
		return nil, err
	}
	l.GC().Subscribe(loop.SubscriberFunc(func(any) { p.shrinkIdle() }))
	return p, nil
}

// FD implements loop.FDSource.
func (p *Pool) FD() int { return p.efd }

// Emit implements loop.FDSource: drains the eventfd counter, then runs
// every queued completion's Done callback on the loop thread.
func (p *Pool) Emit(mask uint32) {
	var buf [8]byte
	for {
		_, err := unix.Read(p.efd, buf[:])
		if err != nil {
			break
		}
	}
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, c := range batch {
		if c.done != nil {
			c.done(c.res, c.err)
		}
	}
	p.rec.Add("wpool.completions", float64(len(batch)))
}

// ErrQueueFull is returned by Submit when QueueCap in-flight jobs are
// already outstanding.
type ErrQueueFull struct{}

func (ErrQueueFull) Error() string { return "wpool: queue full" }

// Submit hands fn to an idle worker, spawning a new one when none is
// idle, and arranges for done to run on the loop thread once fn returns
// (§4.11 "get_worker ... start_worker(fn, arg, done)"). It rejects with
// ErrQueueFull when QueueCap in-flight jobs are already outstanding;
// SoftCap is not checked, so spawning is limited only by QueueCap.
func (p *Pool) Submit(fn func() (any, error), done func(any, error)) error {
	p.mu.Lock()
	inFlight := p.live - len(p.idle)
	if inFlight >= p.opts.QueueCap {
		p.mu.Unlock()
		return ErrQueueFull{}
	}
	var w *worker
	if n := len(p.idle); n > 0 {
		w = p.idle[n-1]
		p.idle = p.idle[:n-1]
	} else {
		w = &worker{jobs: make(chan Job, 1)}
		p.live++
		go p.run(w)
	}
	p.mu.Unlock()

	p.rec.Set("wpool.live", float64(p.Live()))
	w.jobs <- Job{Fn: fn, Done: done}
	return nil
}

func (p *Pool) run(w *worker) {
	for job := range w.jobs {
		res, err := job.Fn()
		p.mu.Lock()
		p.pending = append(p.pending, completion{done: job.Done, res: res, err: err})
		p.idle = append(p.idle, w)
		p.mu.Unlock()
		p.signal()
	}
}

func (p *Pool) signal() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(p.efd, buf[:])
}

// shrinkIdle closes half the currently idle workers' job channels when
// the loop has nothing else pending (§4.1 GC pass), so a burst of
// worker demand doesn't pin goroutines forever once it subsides.
func (p *Pool) shrinkIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	drop := len(p.idle) / 2
	for i := 0; i < drop; i++ {
		n := len(p.idle)
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		close(w.jobs)
		p.live--
	}
}

// Live reports the current worker goroutine count (idle + busy).
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Idle reports the current idle worker count.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close stops accepting new completions; outstanding workers drain and
// exit once their current job (if any) finishes.
func (p *Pool) Close() error {
	_ = p.l.UnregisterFDSource(p)
	p.mu.Lock()
	for _, w := range p.idle {
		close(w.jobs)
	}
	p.idle = nil
	p.mu.Unlock()
	return unix.Close(p.efd)
}
