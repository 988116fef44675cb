// Package proxy implements the reverse-proxy filter.Handler (§4.21):
// it borrows an hcp connection from a ppool.Pool, forwards the inbound
// request with the conventional X-Forwarded-* headers added, and
// relays the backend's response back through the filter chain.
package proxy

import (
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nxserve/nxserve/buf"
	"github.com/nxserve/nxserve/filter"
	"github.com/nxserve/nxserve/hcp"
	"github.com/nxserve/nxserve/hdr"
	"github.com/nxserve/nxserve/hsp"
	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/metrics"
	"github.com/nxserve/nxserve/ppool"
	"github.com/nxserve/nxserve/wire"
)

// hopHeaders are stripped from both the forwarded request and the
// returned response (RFC 7230 §6.1); Connection itself is handled
// separately since hcp/hsp compute their own keep-alive framing.
var hopHeaders = []string{
	wire.HeaderConnection,
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	wire.HeaderTrailer,
	wire.HeaderTransferEncoding,
	"Upgrade",
}

// Options configures a Handler.
type Options struct {
	// Secure stamps X-Forwarded-SSL for every request this Handler
	// proxies. It is a per-listener static value rather than a live
	// per-connection TLS check: hsp.Conn does not yet expose one (see
	// DESIGN.md's tlsboot entry), and every route behind one Handler
	// shares the same listener.
	Secure bool
	// MaxRetries bounds the §5 idempotent-retry policy: an idempotent
	// request (GET/HEAD/OPTIONS) whose backend connection fails before
	// any response bytes arrive is retried against a freshly borrowed
	// connection up to this many times. The exact bound is a
	// configuration matter per the spec's own open question on
	// NXWEB_PROXY_RETRY_COUNT; 2 is this package's default.
	MaxRetries int
	Log        *logrus.Entry
	Metrics    metrics.Recorder
}

// Handler is a filter.Handler that reverse-proxies to one backend pool.
type Handler struct {
	l    *loop.Loop
	pool *ppool.Pool
	opts Options
	log  *logrus.Entry
	rec  metrics.Recorder
}

// New creates a Handler proxying through pool.
func New(l *loop.Loop, pool *ppool.Pool, opts Options) *Handler {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 2
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &Handler{l: l, pool: pool, opts: opts, log: opts.Log, rec: opts.Metrics}
}

// Handle implements filter.Handler.
func (h *Handler) Handle(conn *filter.Conn, req *hsp.Request) {
	h.attempt(conn, req, 0)
}

func (h *Handler) attempt(conn *filter.Conn, req *hsp.Request, tries int) {
	h.pool.Connect(func(c *hcp.Conn, err error) {
		if err != nil {
			h.rec.Inc("proxy.dial_errors")
			h.retryOrFail(conn, req, tries, err)
			return
		}
		outreq := h.buildOutbound(req)
		c.Do(outreq, func(resp *hcp.Response, err error) {
			if err != nil {
				h.pool.Return(c, true)
				if resp == nil && isIdempotent(req.Method) {
					h.retryOrFail(conn, req, tries, err)
					return
				}
				h.rec.Inc("proxy.backend_errors")
				h.failGateway(conn, req)
				return
			}
			h.pool.Return(c, false)
			h.rec.Inc("proxy.proxied")
			h.forward(conn, req, resp)
		})
	})
}

// retryOrFail implements §5's "retries ... up to a bounded retry count,
// provided the response body has not started being sent downstream and
// the request body had not begun uploading" — in this codec, both
// conditions collapse to "no response was ever received for this
// attempt", which is exactly when resp == nil reaches here.
func (h *Handler) retryOrFail(conn *filter.Conn, req *hsp.Request, tries int, err error) {
	if tries >= h.opts.MaxRetries {
		h.rec.Inc("proxy.retries_exhausted")
		h.log.WithError(err).Warn("proxy: backend unreachable after retries")
		h.failGateway(conn, req)
		return
	}
	h.rec.Inc("proxy.retry")
	h.attempt(conn, req, tries+1)
}

func (h *Handler) failGateway(conn *filter.Conn, req *hsp.Request) {
	resp := hsp.NewResponse(req, wire.StatusBadGateway)
	resp.KeepAlive = false
	resp.Header.Set(wire.HeaderContentType, "text/plain; charset=utf-8")
	resp.SetBytes([]byte("502 bad gateway\n"))
	conn.StartResponse(resp)
}

func (h *Handler) buildOutbound(req *hsp.Request) *hcp.Request {
	out := hcp.NewRequest(req.Method, req.URI, req.Host)
	out.Header = cloneHeader(req.Header)
	for _, hh := range hopHeaders {
		out.Header.Del(hh)
	}
	out.KeepAlive = true
	forwardFor(out.Header, req.RemoteAddr)
	out.Header.Set(wire.HeaderXForwardedHost, req.Host)
	if h.opts.Secure {
		out.Header.Set(wire.HeaderXForwardedSSL, "on")
	} else {
		out.Header.Set(wire.HeaderXForwardedSSL, "off")
	}

	if body := req.Body(); len(body) > 0 {
		out.SetStream(ringOf(h.l, body))
	}
	return out
}

func (h *Handler) forward(conn *filter.Conn, req *hsp.Request, backendResp *hcp.Response) {
	out := hsp.NewResponse(req, backendResp.Status)
	out.Header = cloneHeader(backendResp.Header)
	for _, hh := range hopHeaders {
		out.Header.Del(hh)
	}
	out.KeepAlive = req.KeepAlive && backendResp.KeepAlive

	body := backendResp.Body()
	if len(body) == 0 {
		conn.StartResponse(out)
		return
	}
	out.SetStream(ringOf(h.l, body))
	conn.StartResponse(out)
}

// ringOf wires body through a buf.Ring sized exactly to fit it in one
// write (§4.21 "wires bodies both directions through buf.Ring"): both
// hsp and hcp only ever hand this package a fully-received body, so
// the ring here carries the bytes rather than overlapping their
// production with their consumption, but it is the same transport the
// streamer drains for a BodyStream response either direction.
func ringOf(l *loop.Loop, body []byte) *buf.Ring {
	r := buf.NewRing(l, len(body))
	r.In().WriteBytes(body)
	r.CloseWrite()
	return r
}

func cloneHeader(h hdr.Header) hdr.Header {
	out := make(hdr.Header, len(h))
	for k, vv := range h {
		cp := make([]string, len(vv))
		copy(cp, vv)
		out[k] = cp
	}
	return out
}

func forwardFor(h hdr.Header, remoteAddr string) {
	clientIP := remoteAddr
	if ip, _, err := net.SplitHostPort(remoteAddr); err == nil {
		clientIP = ip
	}
	if clientIP == "" {
		return
	}
	if prior := h.Get(wire.HeaderXForwardedFor); prior != "" {
		h.Set(wire.HeaderXForwardedFor, prior+", "+clientIP)
		return
	}
	h.Set(wire.HeaderXForwardedFor, clientIP)
}

func isIdempotent(method string) bool {
	switch strings.ToUpper(method) {
	case wire.MethodGet, wire.MethodHead, wire.MethodOptions:
		return true
	default:
		return false
	}
}
