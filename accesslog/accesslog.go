// Package accesslog writes one line per completed request in the
// wire format described in SPEC_FULL.md §6 (unchanged from the
// distilled spec), advisory-locked with github.com/gofrs/flock so
// multiple nxserve worker processes sharing one log path don't
// interleave partial lines (§4.15).
package accesslog

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ProxyInfo is the optional trailing `{px:...}` block emitted when the
// request was served by the reverse-proxy module.
type ProxyInfo struct {
	BackendUID string
	ReqN       int
	Conns      int
	MaxConns   int
	Code       int
	Flags      string
}

// Entry is one completed request's access-log record.
type Entry struct {
	Time       time.Time
	ConnUID    uint64
	ReqUID     uint64
	RemoteAddr string // empty when ParentUID is set (a subrequest)
	ParentUID  string
	Method     string
	HTTP11     bool
	Host       string // "" rendered as "-"
	URI        string
	UserAgent  string // "" omits the [ua:...] field
	Flags      string // "" omits the [<flags>] field
	Status     int
	Bytes      int64
	Duration   time.Duration
	Handler    string
	RespFlags  string // "" omits the trailing [<respFlags>] field
	Proxy      *ProxyInfo
}

// Writer owns the open access-log file and its advisory lock.
type Writer struct {
	path string
	mu   sync.Mutex
	f    *os.File
	lock *flock.Flock
}

// New opens (creating if necessary) the access log at path, along with
// a sibling "<path>.lock" advisory lock file.
func New(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{path: path, f: f, lock: flock.New(path + ".lock")}, nil
}

// Write formats and appends one entry, serialized by an in-process
// mutex and a cross-process flock around the write+flush (§4.15).
func (w *Writer) Write(e Entry) error {
	line := format(e)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.lock.Lock(); err != nil {
		return err
	}
	defer w.lock.Unlock()

	if _, err := w.f.WriteString(line); err != nil {
		return err
	}
	return w.f.Sync()
}

// Rotate closes and reopens the same path, for use after an external
// tool has renamed the old file aside (invoked on SIGHUP).
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.lock.Lock(); err != nil {
		return err
	}
	defer w.lock.Unlock()

	if err := w.f.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	return nil
}

// Close releases the open file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

func format(e Entry) string {
	var b strings.Builder

	b.WriteString(e.Time.Format(time.RFC3339))
	b.WriteByte(' ')
	fmt.Fprintf(&b, "%016x", e.ConnUID)
	b.WriteByte(' ')
	fmt.Fprintf(&b, "%016x", e.ReqUID)
	b.WriteByte(' ')
	if e.ParentUID != "" {
		b.WriteString(e.ParentUID)
	} else {
		b.WriteString(e.RemoteAddr)
	}
	b.WriteByte(' ')

	b.WriteString(e.Method)
	b.WriteByte('.')
	if e.HTTP11 {
		b.WriteString("1")
	} else {
		b.WriteString("0")
	}
	b.WriteByte(' ')

	if e.Host == "" {
		b.WriteByte('-')
	} else {
		b.WriteString(e.Host)
	}
	b.WriteByte(' ')
	b.WriteString(e.URI)

	if e.UserAgent != "" {
		b.WriteString(" [ua:")
		b.WriteString(e.UserAgent)
		b.WriteByte(']')
	}
	if e.Flags != "" {
		b.WriteString(" [")
		b.WriteString(e.Flags)
		b.WriteByte(']')
	}

	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(e.Status))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(e.Bytes, 10))
	b.WriteByte('b')
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(e.Duration.Milliseconds(), 10))
	b.WriteString("ms ")
	b.WriteString(e.Handler)

	if e.RespFlags != "" {
		b.WriteString(" [")
		b.WriteString(e.RespFlags)
		b.WriteByte(']')
	}

	if p := e.Proxy; p != nil {
		fmt.Fprintf(&b, " {px:%s %d/%d/%d %d", p.BackendUID, p.ReqN, p.Conns, p.MaxConns, p.Code)
		if p.Flags != "" {
			b.WriteByte(' ')
			b.WriteString(p.Flags)
		}
		b.WriteByte('}')
	}

	b.WriteByte('\n')
	return b.String()
}
