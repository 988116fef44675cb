// Package fileserver implements the static-file filter.Handler (§4.21):
// resolves a route prefix plus request path to a file under a root
// directory, honors If-Modified-Since and byte-range requests, and
// wires a hit through fcache when the Handler was built with one.
package fileserver

import (
	"crypto/rand"
	"encoding/hex"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nxserve/nxserve/buf"
	"github.com/nxserve/nxserve/fcache"
	"github.com/nxserve/nxserve/filter"
	"github.com/nxserve/nxserve/hsp"
	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/metrics"
	"github.com/nxserve/nxserve/streamer"
	"github.com/nxserve/nxserve/wire"
)

// Options configures a Handler.
type Options struct {
	// Root is the directory requests are resolved under.
	Root string
	// Prefix is the route prefix this Handler was registered at; it is
	// stripped from the request path before joining to Root, and feeds
	// filter.CacheKey so two routes serving the same backing directory
	// at different prefixes don't collide in the cache.
	Prefix string
	// Cache, if set, is consulted for whole-file GETs (no Range header)
	// that are not answered 304, and populated on miss.
	Cache    *fcache.Filter
	CacheTTL time.Duration
	Log      *logrus.Entry
	Metrics  metrics.Recorder
}

// Handler is a filter.Handler serving static files out of Options.Root.
type Handler struct {
	l    *loop.Loop
	opts Options
	log  *logrus.Entry
	rec  metrics.Recorder
}

// New creates a Handler. Root must already exist; New does not create it.
func New(l *loop.Loop, opts Options) *Handler {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &Handler{l: l, opts: opts, log: opts.Log, rec: opts.Metrics}
}

// Handle implements filter.Handler.
func (h *Handler) Handle(conn *filter.Conn, req *hsp.Request) {
	if req.Method != wire.MethodGet && req.Method != wire.MethodHead {
		h.rec.Inc("fileserver.method_not_allowed")
		resp := hsp.NewResponse(req, 405)
		resp.Header.Set(wire.HeaderContentType, "text/plain; charset=utf-8")
		resp.SetBytes([]byte("405 method not allowed\n"))
		conn.StartResponse(resp)
		return
	}

	full, ok := h.resolve(req.Path)
	if !ok {
		h.notFound(conn, req)
		return
	}

	st, err := os.Stat(full)
	if err != nil {
		h.notFound(conn, req)
		return
	}
	if st.IsDir() {
		full = filepath.Join(full, "index.html")
		st, err = os.Stat(full)
		if err != nil || st.IsDir() {
			h.notFound(conn, req)
			return
		}
	}

	if ims := req.Header.Get(wire.HeaderIfModifiedSince); ims != "" {
		if t, err := time.Parse(wire.TimeFormat, ims); err == nil {
			if !st.ModTime().Truncate(time.Second).After(t) {
				h.rec.Inc("fileserver.not_modified")
				resp := hsp.NewResponse(req, wire.StatusNotModified)
				resp.KeepAlive = req.KeepAlive
				conn.StartResponse(resp)
				return
			}
		}
	}

	contentType := contentTypeFor(full)
	rangeHeader := req.Header.Get(wire.HeaderRange)

	if rangeHeader == "" && h.opts.Cache != nil && req.Method == wire.MethodGet {
		if h.serveFromCache(conn, req, full, st, contentType) {
			return
		}
	}

	if rangeHeader == "" {
		h.serveWhole(conn, req, full, st, contentType)
		return
	}
	h.serveRange(conn, req, full, st, contentType, rangeHeader)
}

func (h *Handler) resolve(reqPath string) (full string, ok bool) {
	rel := reqPath
	if len(rel) >= len(h.opts.Prefix) && rel[:len(h.opts.Prefix)] == h.opts.Prefix {
		rel = rel[len(h.opts.Prefix):]
	}
	clean := path.Clean("/" + rel)
	return filepath.Join(h.opts.Root, filepath.FromSlash(clean)), true
}

func (h *Handler) notFound(conn *filter.Conn, req *hsp.Request) {
	h.rec.Inc("fileserver.not_found")
	resp := hsp.NewResponse(req, wire.StatusNotFound)
	resp.Header.Set(wire.HeaderContentType, "text/plain; charset=utf-8")
	resp.SetBytes([]byte("404 not found\n"))
	conn.StartResponse(resp)
}

func (h *Handler) setCommonHeaders(resp *hsp.Response, st os.FileInfo, contentType string) {
	resp.Header.Set(wire.HeaderContentType, contentType)
	resp.Header.Set(wire.HeaderLastModified, st.ModTime().UTC().Format(wire.TimeFormat))
	resp.Header.Set(wire.HeaderAcceptRanges, "bytes")
}

// serveFromCache tries a whole-file cache hit; it reports whether it
// fully handled the request (hit, or a miss it populated and served).
func (h *Handler) serveFromCache(conn *filter.Conn, req *hsp.Request, full string, st os.FileInfo, contentType string) bool {
	key := filter.CacheKey(h.opts.Prefix, req)
	if src, size, hit := h.opts.Cache.Lookup(key); hit {
		h.rec.Inc("fileserver.cache_hit")
		resp := hsp.NewResponse(req, 200)
		h.setCommonHeaders(resp, st, contentType)
		resp.Header.Set(wire.HeaderContentLength, strconv.FormatInt(size, 10))
		resp.SetStream(src)
		conn.StartResponse(resp)
		return true
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return false
	}
	sink, bypass := h.opts.Cache.Tee(key, time.Now().Add(h.opts.CacheTTL))
	if bypass {
		return false
	}
	h.rec.Inc("fileserver.cache_miss")
	if _, err := sink.WriteBytes(data); err != nil {
		sink.Abort()
		return false
	}
	sink.CloseWrite()

	resp := hsp.NewResponse(req, 200)
	h.setCommonHeaders(resp, st, contentType)
	resp.Header.Set(wire.HeaderContentLength, strconv.FormatInt(int64(len(data)), 10))
	resp.SetStream(sink.Source())
	conn.StartResponse(resp)
	return true
}

func (h *Handler) serveWhole(conn *filter.Conn, req *hsp.Request, full string, st os.FileInfo, contentType string) {
	f, err := os.Open(full)
	if err != nil {
		h.notFound(conn, req)
		return
	}
	resp := hsp.NewResponse(req, 200)
	h.setCommonHeaders(resp, st, contentType)
	resp.SetFile(f, 0, st.Size())
	conn.StartResponse(resp)
	h.closeOnComplete(conn, f)
}

func (h *Handler) serveRange(conn *filter.Conn, req *hsp.Request, full string, st os.FileInfo, contentType, rangeHeader string) {
	ranges, ok := parseRanges(rangeHeader, st.Size())
	if !ok {
		h.serveWhole(conn, req, full, st, contentType)
		return
	}
	f, err := os.Open(full)
	if err != nil {
		h.notFound(conn, req)
		return
	}

	if len(ranges) == 1 {
		r := ranges[0]
		resp := hsp.NewResponse(req, 206)
		h.setCommonHeaders(resp, st, contentType)
		resp.Header.Set(wire.HeaderContentRange, r.contentRange(st.Size()))
		resp.SetFile(f, r.start, r.length)
		conn.StartResponse(resp)
		h.closeOnComplete(conn, f)
		return
	}

	h.rec.Inc("fileserver.multipart_range")
	boundary := randomBoundary()
	st2 := streamer.New(h.l)
	for _, r := range ranges {
		part := "--" + boundary + "\r\n" +
			"Content-Type: " + contentType + "\r\n" +
			"Content-Range: " + r.contentRange(st.Size()) + "\r\n\r\n"
		st2.Add(buf.NewOutBuf(h.l, []byte(part)))
		st2.Add(buf.NewFileBuf(h.l, f, r.start, r.length))
		st2.Add(buf.NewOutBuf(h.l, []byte("\r\n")))
	}
	st2.Add(buf.NewOutBuf(h.l, []byte("--"+boundary+"--\r\n")))
	st2.Close()

	resp := hsp.NewResponse(req, 206)
	h.setCommonHeaders(resp, st, contentType)
	resp.Header.Set(wire.HeaderContentType, "multipart/byteranges; boundary="+boundary)
	resp.SetStream(st2)
	conn.StartResponse(resp)
	h.closeOnComplete(conn, f)
}

// closeOnComplete closes f once the response that streams it directly
// off disk has gone out, since hsp's BodyFile path has no completion
// hook of its own to do so (§4.6's response streamer forwards bytes;
// it does not own resp.File's lifetime).
func (h *Handler) closeOnComplete(conn *filter.Conn, f *os.File) {
	var sub *onceSub
	sub = &onceSub{fn: func() {
		f.Close()
		conn.Events().Unsubscribe(sub)
	}}
	conn.Events().Subscribe(sub)
}

// onceSub is a pointer-identity Subscriber: loop.Publisher.Unsubscribe
// compares by ==, and a func-typed Subscriber (loop.SubscriberFunc)
// cannot safely be compared that way since two func values of the same
// underlying type panic on ==. A distinct pointer type sidesteps it.
type onceSub struct{ fn func() }

func (s *onceSub) OnMessage(any) { s.fn() }

// contentTypeFor resolves name's extension first, then falls back to
// sniffing its first 512 bytes (http.DetectContentType, the same
// algorithm net/http's own FileServer uses) for extensionless files;
// the sniff only ever runs once per request, on a miss.
func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	f, err := os.Open(name)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()
	var buf [512]byte
	n, _ := f.Read(buf[:])
	return http.DetectContentType(buf[:n])
}

func randomBoundary() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "nxserveboundary"
	}
	return hex.EncodeToString(b[:])
}
