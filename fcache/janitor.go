package fcache

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/nxserve/nxserve/metrics"
)

// Janitor bounds cache disk growth with a stateless sweep (§4.18):
// it never builds a persistent index (the non-goals explicitly exclude
// that), it just walks the root each tick and unlinks regular files
// whose mtime (set to the intended expiry by Sink.CloseWrite) has
// passed. It runs entirely off the event loop, on cron's own
// goroutines, touching only the cache directory tree.
type Janitor struct {
	root string
	c    *cron.Cron
	sf   singleflight.Group

	log *logrus.Entry
	rec metrics.Recorder
}

// JanitorOptions configures the sweep schedule and observability hooks.
type JanitorOptions struct {
	// Schedule is a standard cron expression; an empty value defaults
	// to hourly (§3.1 "default hourly").
	Schedule string
	Log      *logrus.Entry
	Metrics  metrics.Recorder
}

// NewJanitor creates a Janitor that has not yet started sweeping; call
// Start to schedule it.
func NewJanitor(root string, opts JanitorOptions) *Janitor {
	if opts.Schedule == "" {
		opts.Schedule = "@hourly"
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	j := &Janitor{root: root, c: cron.New(), log: opts.Log, rec: opts.Metrics}
	j.c.AddFunc(opts.Schedule, j.triggerSweep)
	return j
}

// Start launches the cron scheduler's own goroutine.
func (j *Janitor) Start() { j.c.Start() }

// Stop halts the scheduler, waiting for any sweep already running.
func (j *Janitor) Stop() { <-j.c.Stop().Done() }

// triggerSweep runs Sweep deduplicated through a singleflight.Group, so
// a cron tick that fires while an operator-triggered sweep (or a slow
// previous tick) is still walking the tree joins that sweep's result
// instead of racing a second concurrent walk across the same files
// (§4.10's "at-most-one materialization" idea applied to the sweep
// itself, not just one cache key).
func (j *Janitor) triggerSweep() {
	_, _, _ = j.sf.Do("sweep", func() (any, error) {
		n, err := j.Sweep(time.Now())
		return n, err
	})
}

// Sweep walks root and unlinks every regular file whose mtime is at or
// before now, returning the count removed. Safe to call directly
// (e.g. from an admin command) as well as from the cron schedule.
func (j *Janitor) Sweep(now time.Time) (removed int, err error) {
	err = filepath.WalkDir(j.root, func(path string, d os.DirEntry, werr error) error {
		if werr != nil {
			return nil // best-effort: skip entries we can't stat
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") {
			return nil // still being materialized by a Sink
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		if !info.ModTime().After(now) {
			if rerr := os.Remove(path); rerr == nil {
				removed++
			}
		}
		return nil
	})
	j.rec.Add("fcache.janitor_removed", float64(removed))
	j.log.WithField("removed", removed).Debug("cache janitor sweep complete")
	return removed, err
}
