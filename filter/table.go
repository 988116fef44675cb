package filter

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nxserve/nxserve/hsp"
	"github.com/nxserve/nxserve/metrics"
)

// Route is one entry in a Table: a host/prefix pattern dispatched to a
// Handler through an ordered chain of Filters.
type Route struct {
	// Host restricts the match to requests for that Host header;
	// empty matches any host, just as an unqualified mux pattern does.
	Host string
	// Prefix is matched the way mux.ServeMux documents it: a pattern
	// ending in "/" names a rooted subtree, otherwise only an exact
	// path match applies. A matching host-qualified entry wins over
	// every matching host-agnostic one whatever their lengths; within
	// each of the two groups the longest Prefix wins.
	Prefix  string
	Handler Handler
	Filters []Filter
}

// TableOptions configures a Table's observability hooks.
type TableOptions struct {
	Log     *logrus.Entry
	Metrics metrics.Recorder
}

// Table holds every registered Route and dispatches hsp-level requests
// to the best match, wrapping the connection so a Route's Filters run
// on the way out (§4's "Filter chain, handler dispatch").
type Table struct {
	routes []Route
	log    *logrus.Entry
	rec    metrics.Recorder
}

// NewTable creates an empty Table.
func NewTable(opts TableOptions) *Table {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &Table{log: opts.Log, rec: opts.Metrics}
}

// Register adds a route. Routes may be registered in any order; match
// order is decided at dispatch time by prefix length, not registration
// order.
func (t *Table) Register(r Route) {
	t.routes = append(t.routes, r)
}

// Handler returns an hsp.Handler driving this table, suitable as the
// single handler an hsp.Server is constructed with.
func (t *Table) Handler() hsp.Handler {
	return hsp.HandlerFunc(t.dispatch)
}

func (t *Table) dispatch(conn *hsp.Conn, req *hsp.Request) {
	route, ok := t.match(req.Host, req.Path)
	if !ok {
		t.rec.Inc("filter.not_found")
		resp := hsp.NewResponse(req, 404)
		resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
		resp.SetBytes([]byte("404 not found\n"))
		conn.StartResponse(resp)
		return
	}
	t.rec.Inc("filter.dispatched")
	fc := &Conn{inner: conn, req: req, filters: route.Filters, log: t.log}
	route.Handler.Handle(fc, req)
}

// match implements mux.ServeMux's documented precedence: longest
// matching prefix wins; a pattern without a trailing slash only
// matches that exact path; a matching host-qualified route outranks
// every matching host-agnostic one, so "codesearch.example.com/" takes
// every request for that host, even one whose path a longer general
// entry such as "/codesearch" also matches.
func (t *Table) match(host, path string) (*Route, bool) {
	var best *Route
	bestLen := -1
	for i := range t.routes {
		r := &t.routes[i]
		if r.Host != "" && r.Host != host {
			continue
		}
		if !pathMatches(r.Prefix, path) {
			continue
		}
		score := len(r.Prefix)
		if r.Host != "" {
			score += len(path) + 1 // host-qualified always outranks any host-agnostic match
		}
		if score > bestLen {
			best, bestLen = r, score
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

func pathMatches(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/") {
		return strings.HasPrefix(path, pattern)
	}
	return pattern == path
}
