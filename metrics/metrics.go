// Package metrics is the one place in the module allowed to know both
// "the core" and "prometheus" exist (SPEC_FULL.md §9). Every core
// package (loop, hsp, hcp, ppool, fcache, wpool) accepts only the
// narrow Recorder interface below, so instrumenting them with
// Prometheus collectors never requires those packages to import
// github.com/prometheus/client_golang.
package metrics

// Recorder is the narrow metrics-observation surface core packages
// depend on. name is a short, stable, dotted identifier chosen by the
// calling component (e.g. "loop.deliveries", "wpool.active").
type Recorder interface {
	Inc(name string)
	Add(name string, delta float64)
	Set(name string, value float64)
}

// Noop implements Recorder by discarding every observation; it is the
// default when a component is constructed without an explicit Registry,
// keeping the core usable (and testable) without Prometheus wired up.
type Noop struct{}

func (Noop) Inc(string)            {}
func (Noop) Add(string, float64)   {}
func (Noop) Set(string, float64)   {}
