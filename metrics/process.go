package metrics

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessCollector periodically samples this process's RSS and CPU
// percent via gopsutil and publishes them through a Recorder, giving
// operators host-level signal alongside the protocol-level counters
// (SPEC_FULL.md §4.17).
type ProcessCollector struct {
	rec      Recorder
	interval time.Duration
	proc     *process.Process
	stop     chan struct{}
}

// NewProcessCollector builds a collector for the current process.
func NewProcessCollector(rec Recorder, interval time.Duration) (*ProcessCollector, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ProcessCollector{rec: rec, interval: interval, proc: p, stop: make(chan struct{})}, nil
}

// Run samples on a ticker until ctx is cancelled or Stop is called.
func (c *ProcessCollector) Run(ctx context.Context) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-t.C:
			c.sampleOnce()
		}
	}
}

func (c *ProcessCollector) sampleOnce() {
	if mem, err := c.proc.MemoryInfo(); err == nil && mem != nil {
		c.rec.Set("process.rss_bytes", float64(mem.RSS))
	}
	if pct, err := c.proc.CPUPercent(); err == nil {
		c.rec.Set("process.cpu_percent", pct)
	}
}

// Stop halts a running collector.
func (c *ProcessCollector) Stop() { close(c.stop) }
