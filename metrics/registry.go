package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is a Recorder backed by a dedicated prometheus.Registry. It
// lazily creates a Gauge per distinct name the first time that name is
// observed, which keeps every core component free of any up-front
// registration boilerplate: it only ever calls Inc/Add/Set.
type Registry struct {
	reg *prometheus.Registry
	mu  sync.Mutex
	g   map[string]prometheus.Gauge
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		reg: prometheus.NewRegistry(),
		g:   make(map[string]prometheus.Gauge),
	}
}

// Prometheus exposes the underlying registry, e.g. to mount
// promhttp.HandlerFor in the /metrics route.
func (r *Registry) Prometheus() *prometheus.Registry { return r.reg }

func (r *Registry) gauge(name string) prometheus.Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.g[name]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nxserve_" + sanitize(name),
		Help: "nxserve runtime metric: " + name,
	})
	r.reg.MustRegister(g)
	r.g[name] = g
	return g
}

func (r *Registry) Inc(name string) { r.gauge(name).Add(1) }

func (r *Registry) Add(name string, delta float64) { r.gauge(name).Add(delta) }

func (r *Registry) Set(name string, value float64) { r.gauge(name).Set(value) }

func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '-' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}
