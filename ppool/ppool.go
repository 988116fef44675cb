// Package ppool implements the per-backend proxy connection pool
// (§4.8): a doubly-linked idle list of pooled hcp connections, a
// per-pool free-record pool for the list's own intrusive nodes, a
// live-connection counter, and a rolling window smoothing backend-vs-
// local timestamp deltas for the proxy module's Date normalization.
package ppool

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nxserve/nxserve/hcp"
	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/metrics"
	"github.com/nxserve/nxserve/pool"
	"github.com/nxserve/nxserve/sock"
)

// deltaWindow bounds the rolling backend-time-delta sample ring.
const deltaWindow = 16

// Options configures a Pool's observability hooks.
type Options struct {
	Log     *logrus.Entry
	Metrics metrics.Recorder
}

// Pool is one backend's connection pool, keyed by the resolved address
// the caller dials (§3 "per-backend structure keyed by a resolved
// address").
type Pool struct {
	l       *loop.Loop
	cl      *hcp.Client
	network string
	addr    string

	idle      idleList
	idleCount int
	connCount int
	records   *pool.Pool[entry]

	deltas     [deltaWindow]time.Duration
	deltaPos   int
	deltaCount int

	log *logrus.Entry
	rec metrics.Recorder
}

// entry is the idle list's intrusive node, kept in its own free-record
// pool separate from the hcp.Conn it wraps (§3 "a per-pool record pool").
type entry struct {
	conn       *hcp.Conn
	prev, next *entry
}

// New creates a Pool that dials network/addr via cl as needed.
func New(l *loop.Loop, cl *hcp.Client, network, addr string, opts Options) *Pool {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	p := &Pool{
		l:       l,
		cl:      cl,
		network: network,
		addr:    addr,
		records: pool.New(8, func() *entry { return &entry{} }, func(e *entry) { e.conn = nil; e.prev, e.next = nil, nil }),
		log:     opts.Log,
		rec:     opts.Metrics,
	}
	l.GC().Subscribe(loop.SubscriberFunc(func(any) {
		p.records.Shrink(p.records.Idle())
	}))
	return p
}

// Addr is the backend address this pool dials.
func (p *Pool) Addr() string { return p.addr }

// Idle reports the number of pooled connections currently idle.
func (p *Pool) Idle() int { return p.idleCount }

// Live reports the number of connections (idle + active) this pool
// currently owns.
func (p *Pool) Live() int { return p.connCount }

// Connect hands the caller an hcp connection to this backend: an idle
// pooled one if available, otherwise a freshly dialed one (§4.8
// "connect()"). onReady is always invoked exactly once: synchronously
// for the idle-reuse path and for a dial that fails before connecting
// (address resolution or socket creation), otherwise once the dial
// resolves.
func (p *Pool) Connect(onReady func(conn *hcp.Conn, err error)) {
	if e := p.idle.popFront(); e != nil {
		conn := e.conn
		conn.OnClose(nil) // invariant 6: not subscribed once borrowed
		p.idleCount--
		p.records.Put(e)
		p.rec.Set("ppool.idle", float64(p.idleCount))
		onReady(conn, nil)
		return
	}

	_ = sock.Dial(p.l, p.network, p.addr, func(s *sock.Socket, err error) {
		if err != nil {
			p.rec.Inc("ppool.dial_errors")
			onReady(nil, err)
			return
		}
		conn := p.cl.Bind(s)
		p.connCount++
		p.rec.Set("ppool.live", float64(p.connCount))
		onReady(conn, nil)
	})
}

// Return hands conn back to the pool once a proxied exchange finishes.
// If errored is set, or conn did not come to rest IDLE (already shut
// itself down on a non-keep-alive response or a mid-exchange error),
// it is finalized and the pool's count drops; otherwise it is linked
// into the idle list and subscribed to its own error publisher via the
// idle-drop hook (§4.8 "return(hpx, errored)").
func (p *Pool) Return(conn *hcp.Conn, errored bool) {
	if errored || conn.State() != hcp.StateIdle {
		conn.Close()
		p.connCount--
		p.rec.Set("ppool.live", float64(p.connCount))
		return
	}

	e := p.records.Get()
	e.conn = conn
	p.idle.pushFront(e)
	p.idleCount++
	p.rec.Set("ppool.idle", float64(p.idleCount))
	conn.OnClose(func() { p.dropIdle(e) })
}

// dropIdle runs when a pooled-but-idle connection's close hook fires
// (keep-alive timeout, RDHUP, or any protocol error observed while idle).
func (p *Pool) dropIdle(e *entry) {
	p.idle.unlink(e)
	p.idleCount--
	p.connCount--
	p.records.Put(e)
	p.rec.Set("ppool.idle", float64(p.idleCount))
	p.rec.Set("ppool.live", float64(p.connCount))
}

// ReportBackendTimeDelta records one sample of (backend clock - local
// clock), used by the proxy module to normalize a backend's Date header
// against local time (§4.8 "timestamp smoothing").
func (p *Pool) ReportBackendTimeDelta(d time.Duration) {
	p.deltas[p.deltaPos] = d
	p.deltaPos = (p.deltaPos + 1) % deltaWindow
	if p.deltaCount < deltaWindow {
		p.deltaCount++
	}
}

// BackendTimeDelta returns the mean of the recorded samples, or 0 if
// none have been reported yet.
func (p *Pool) BackendTimeDelta() time.Duration {
	if p.deltaCount == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < p.deltaCount; i++ {
		sum += p.deltas[i]
	}
	return sum / time.Duration(p.deltaCount)
}
