// Package filter implements route dispatch and the filter-chain glue
// (§4's "Filter chain, handler dispatch" component): matching an
// incoming request to a registered route by longest-prefix (optionally
// vhost-scoped, following the precedence rules `mux.ServeMux` documents
// in the teacher repo), applying a route's ordered filters to the
// handler's response before it is sent, and composing on-disk file-
// cache keys out of a route and request.
package filter

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nxserve/nxserve/hsp"
	"github.com/nxserve/nxserve/loop"
)

// Filter transforms a handler's response in place before it reaches
// the wire — e.g. compressing the body, stamping CORS headers (§4.20).
// Apply runs after the handler calls StartResponse and before the
// wrapped Conn forwards to the real hsp.Conn, so every Filter sees the
// same fully-populated Response and may rewrite Kind/Bytes/Stream or
// just add headers.
type Filter interface {
	Name() string
	Apply(req *hsp.Request, resp *hsp.Response) error
}

// Handler is the route-dispatched counterpart of hsp.Handler: same
// Request, a Conn wrapping the real connection so this package can run
// a route's filters between the handler's response and the wire.
type Handler interface {
	Handle(conn *Conn, req *hsp.Request)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(conn *Conn, req *hsp.Request)

func (f HandlerFunc) Handle(conn *Conn, req *hsp.Request) { f(conn, req) }

// Conn wraps a real hsp.Conn, applying a route's filters to the
// Response a Handler hands to StartResponse before forwarding it.
type Conn struct {
	inner   *hsp.Conn
	req     *hsp.Request
	filters []Filter
	log     *logrus.Entry
}

// StartResponse applies every registered filter, in order, then
// forwards to the wrapped connection. A filter that returns an error
// is logged and skipped, never aborts the response (§7 "a filter
// failure must not fail the request it decorates").
func (c *Conn) StartResponse(resp *hsp.Response) {
	for _, f := range c.filters {
		if err := f.Apply(c.req, resp); err != nil && c.log != nil {
			c.log.WithError(err).Warn("filter " + f.Name() + " failed, passing response through unmodified")
		}
	}
	c.inner.StartResponse(resp)
}

// Events exposes the wrapped connection's lifecycle publisher
// (REQUEST_COMPLETE and friends), for handlers (modules/fileserver)
// that need to release a per-request resource once the response has
// fully gone out rather than leaking it until the connection closes.
func (c *Conn) Events() *loop.Publisher { return c.inner.Events() }

// CacheKey composes a virtual cache key (§4.10/§6 "virtual keys
// prefixed by a space sentinel") out of a route prefix and a request,
// for handlers (modules/proxy, modules/fileserver) that front fcache.
func CacheKey(routePrefix string, req *hsp.Request) string {
	var b strings.Builder
	b.WriteByte(' ')
	b.WriteString(req.Host)
	b.WriteString(routePrefix)
	b.WriteString(req.Path)
	if req.Query != "" {
		b.WriteByte('?')
		b.WriteString(req.Query)
	}
	return b.String()
}
