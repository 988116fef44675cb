// Package fcache implements the file-cache filter (§4.10): it tees an
// upstream response body into both the response sink and an on-disk
// cache file, and serves hits directly off disk through buf.FileBuf.
// Cache commit happens by rename(tmp -> final) only once the sink has
// observed every byte delivered downstream without error (§3 invariant
// 8); any write failure to the cache file unlinks the temp file and
// bypasses the cache without failing the request.
package fcache

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nxserve/nxserve/buf"
	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/metrics"
)

// virtualSentinel marks a cache key as "virtual" (§6 "Translate-cache-
// key: inputs are virtual keys prefixed by a space sentinel").
const virtualSentinel = ' '

// Filter owns the cache root directory and translates logical keys
// into the on-disk layout of §6: "/<aa>/<hex-tail> rooted at the
// configured cache directory".
type Filter struct {
	l    *loop.Loop
	root string

	// inflight tracks keys currently being materialized by this loop so
	// a second request for the same key while the first is still
	// writing skips straight to a bypass pass-through rather than
	// racing the O_CREAT|O_EXCL open (§4.10 "losing the race yields
	// already being built; skip"). This is plain in-process bookkeeping,
	// not a lock, since only the loop goroutine ever touches it.
	inflight map[string]bool

	log *logrus.Entry
	rec metrics.Recorder
}

// Options configures a Filter's observability hooks.
type Options struct {
	Log     *logrus.Entry
	Metrics metrics.Recorder
}

// New creates a Filter rooted at root, creating the directory if
// necessary.
func New(l *loop.Loop, root string, opts Options) (*Filter, error) {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Filter{l: l, root: root, inflight: make(map[string]bool), log: opts.Log, rec: opts.Metrics}, nil
}

// translateKey renders key's SHA-1 hex digest as "<aa>/<rest>" under
// root, splitting the virtual sentinel prefix off first (§6).
func (f *Filter) translateKey(key string) string {
	if len(key) > 0 && key[0] == virtualSentinel {
		key = key[1:]
	}
	sum := sha1.Sum([]byte(key))
	hexSum := hex.EncodeToString(sum[:])
	return filepath.Join(f.root, hexSum[:2], hexSum[2:])
}

// Lookup opens the cached file for key, if present, as a data-out
// stream ready to be wired into a response (§4.10 cache hit path).
func (f *Filter) Lookup(key string) (src loop.IStream, size int64, hit bool) {
	path := f.translateKey(key)
	if err := statValid(path); err != nil {
		return nil, 0, false
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, 0, false
	}
	st, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, 0, false
	}
	f.rec.Inc("fcache.hits")
	return buf.NewFileBuf(f.l, fh, 0, st.Size()), st.Size(), true
}

// Sink is the tee half of §4.10: an OStream a caller Connects its
// upstream producer into, writing every accepted byte through to both
// the downstream Ring (via Source) and the on-disk temp file.
type Sink struct {
	loop.OBase

	f    *Filter
	key  string
	path string
	tmp  string

	file *os.File
	ring *buf.Ring

	written int64
	werr    error

	expires time.Time
}

// Tee begins materializing key: it opens "<path>.tmp" with
// O_CREATE|O_EXCL (§4.10) and returns a Sink the caller Connects its
// upstream producer to, or bypass=true if another materialization of
// the same key is already in flight on this loop or the temp file
// already exists (the cross-process race the spec calls out; losing it
// here just means skipping the cache for this request, never failing
// it).
func (f *Filter) Tee(key string, expires time.Time) (sink *Sink, bypass bool) {
	if f.inflight[key] {
		return nil, true
	}
	path := f.translateKey(key)
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		f.rec.Inc("fcache.bypass")
		return nil, true
	}
	fh, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		f.rec.Inc("fcache.bypass")
		return nil, true
	}
	f.inflight[key] = true
	s := &Sink{
		f:       f,
		key:     key,
		path:    path,
		tmp:     tmp,
		file:    fh,
		ring:    buf.NewRing(f.l, 256*1024),
		expires: expires,
	}
	s.InitOStream(f.l, s)
	return s, false
}

// Source is the downstream data-out half a caller wires into the
// response in place of the original content-out (§4.10).
func (s *Sink) Source() loop.IStream { return s.ring }

// WriteBytes forwards bytes to the downstream ring and mirrors exactly
// what the ring accepted into the cache temp file, so a short write
// (ring momentarily full) keeps both sides byte-for-byte consistent;
// the loop's own carry-over buffer retries the remainder next pass.
func (s *Sink) WriteBytes(p []byte) (n int, err error) {
	n, _ = s.ring.In().WriteBytes(p)
	if n == 0 {
		return 0, nil
	}
	if s.werr == nil {
		if _, werr := s.file.WriteAt(p[:n], s.written); werr != nil {
			s.werr = werr
		}
	}
	s.written += int64(n)
	return n, nil
}

// CloseWrite finalizes the cache entry: on success, closes and renames
// the temp file to its final path and sets its mtime to the intended
// expiry (§4.10); on any write error observed along the way, unlinks
// the temp file instead. Either way downstream still completes via the
// ring's own CloseWrite, since the client must never be penalized for
// a cache-write failure (§4.10 "bypass; downstream continues").
func (s *Sink) CloseWrite() {
	delete(s.f.inflight, s.key)
	s.ring.CloseWrite()
	s.file.Close()
	if s.werr != nil {
		os.Remove(s.tmp)
		s.f.rec.Inc("fcache.write_errors")
		return
	}
	if err := os.Rename(s.tmp, s.path); err != nil {
		os.Remove(s.tmp)
		s.f.rec.Inc("fcache.write_errors")
		return
	}
	os.Chtimes(s.path, s.expires, s.expires)
	s.f.rec.Inc("fcache.committed")
}

// Abort discards an in-progress materialization without committing it
// (e.g. the upstream producer itself failed partway through).
func (s *Sink) Abort() {
	delete(s.f.inflight, s.key)
	s.file.Close()
	os.Remove(s.tmp)
}

var errNotRegular = errors.New("fcache: cached path is not a regular file")

// statValid reports whether path both exists and is a regular file,
// guarding Lookup against serving a directory or special file placed
// under the cache root by mistake.
func statValid(path string) error {
	st, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return errNotRegular
	}
	return nil
}

// TrimVirtualPrefix strips the §6 virtual-key sentinel, exported for
// callers (modules/fileserver, modules/proxy) that compose cache keys
// out of a route prefix plus request path and need to know whether the
// composed key was virtual before translation.
func TrimVirtualPrefix(key string) (trimmed string, wasVirtual bool) {
	if strings.HasPrefix(key, string(virtualSentinel)) {
		return key[1:], true
	}
	return key, false
}
