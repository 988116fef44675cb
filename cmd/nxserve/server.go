package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/nxserve/nxserve/accesslog"
	"github.com/nxserve/nxserve/config"
	"github.com/nxserve/nxserve/daemon"
	"github.com/nxserve/nxserve/fcache"
	"github.com/nxserve/nxserve/filter"
	"github.com/nxserve/nxserve/hcp"
	"github.com/nxserve/nxserve/hsp"
	"github.com/nxserve/nxserve/logging"
	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/metrics"
	"github.com/nxserve/nxserve/modules/fileserver"
	"github.com/nxserve/nxserve/modules/proxy"
	"github.com/nxserve/nxserve/plugins/cors"
	"github.com/nxserve/nxserve/plugins/gzip"
	"github.com/nxserve/nxserve/plugins/ssi"
	"github.com/nxserve/nxserve/plugins/templates"
	"github.com/nxserve/nxserve/ppool"
	"github.com/nxserve/nxserve/sock"
	"github.com/nxserve/nxserve/tlsboot"
	"github.com/nxserve/nxserve/wpool"
)

// runServe loads cfg, wires every component, and runs the event loop
// until SIGTERM/SIGINT. Most of this function's length is plumbing:
// one constructor call per component, in dependency order.
func runServe(configPath, pidFile string, fs *pflag.FlagSet) error {
	cfg, err := config.Load(configPath, fs)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel})
	entry := logging.Component(log, "nxserve")

	reg := metrics.NewRegistry()
	proc, err := metrics.NewProcessCollector(reg, 10*time.Second)
	if err != nil {
		entry.WithError(err).Warn("process collector unavailable, continuing without host metrics")
	}
	procCtx, stopProc := context.WithCancel(context.Background())
	if proc != nil {
		go proc.Run(procCtx)
	}

	var pf *daemon.PIDFile
	if pidFile != "" {
		pf, err = daemon.WritePIDFile(pidFile)
		if err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
	}
	entry.WithField("instance", daemon.InstanceID).Info("starting")

	var alog *accesslog.Writer
	if cfg.AccessLog != "" {
		alog, err = accesslog.New(cfg.AccessLog)
		if err != nil {
			return fmt.Errorf("open access log: %w", err)
		}
	}

	l, err := loop.New(loop.Options{Log: entry, Metrics: reg, Cork: sock.Cork})
	if err != nil {
		return fmt.Errorf("create loop: %w", err)
	}

	pool, err := wpool.New(l, wpool.Options{
		SoftCap:  cfg.Workers.SoftCap,
		QueueCap: cfg.Workers.QueueCap,
		Log:      entry,
		Metrics:  reg,
	})
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	_ = pool // reserved for handlers/filters that offload blocking work (none yet need it)

	var cache *fcache.Filter
	if cfg.Cache.Root != "" {
		cache, err = fcache.New(l, cfg.Cache.Root, fcache.Options{Log: entry, Metrics: reg})
		if err != nil {
			return fmt.Errorf("create file cache: %w", err)
		}
	}

	table, err := buildTable(l, cfg, cache, alog, entry, reg)
	if err != nil {
		return err
	}

	srv := hsp.NewServer(l, table.Handler(), hsp.ServerOptions{Log: entry, Metrics: reg})

	listeners := make([]*sock.Listener, 0, len(cfg.Listen))
	for _, le := range cfg.Listen {
		ln, err := buildListener(l, le, srv, entry)
		if err != nil {
			return fmt.Errorf("listen %s: %w", le.Addr, err)
		}
		listeners = append(listeners, ln)
		entry.WithField("addr", le.Addr).WithField("secure", le.Secure).Info("listening")
	}

	watcher, err := config.NewWatcher(configPath, cfg, entry)
	if err != nil {
		entry.WithError(err).Warn("config hot-reload unavailable")
	} else {
		watcher.Start()
	}

	stop := daemon.SignalHandlers(func() {
		entry.Info("reload signal received")
		if alog != nil {
			if err := alog.Rotate(); err != nil {
				entry.WithError(err).Warn("access log rotate failed")
			}
		}
	}, func() {
		entry.Info("shutdown signal received")
		l.Break()
	})
	defer stop()

	l.Run()

	stopProc()
	if proc != nil {
		proc.Stop()
	}
	for _, ln := range listeners {
		_ = ln.Close()
	}
	if watcher != nil {
		watcher.Stop()
	}
	if alog != nil {
		_ = alog.Close()
	}
	if pf != nil {
		_ = pf.Remove()
	}
	entry.Info("stopped")
	return nil
}

// buildTable registers one route per cfg.Routes entry, resolving its
// Handler (proxy or fileserver) and Filters (gzip/cors/ssi/templates)
// by name, plus a dedicated /metrics route.
func buildTable(l *loop.Loop, cfg *config.Config, cache *fcache.Filter, alog *accesslog.Writer, log *logrus.Entry, rec metrics.Recorder) (*filter.Table, error) {
	table := filter.NewTable(filter.TableOptions{Log: log, Metrics: rec})
	reg, _ := rec.(*metrics.Registry)
	table.Register(filter.Route{Prefix: "/metrics", Handler: &metricsHandler{reg: reg}})

	var cl *hcp.Client
	pools := map[string]*ppool.Pool{}
	poolFor := func(addr string) *ppool.Pool {
		if cl == nil {
			cl = hcp.NewClient(l, hcp.Options{Log: log, Metrics: rec})
		}
		if p, ok := pools[addr]; ok {
			return p
		}
		p := ppool.New(l, cl, "tcp", addr, ppool.Options{Log: log, Metrics: rec})
		pools[addr] = p
		return p
	}

	anySecure := false
	// proxy.Options.Secure is per-Handler, but every route shares one
	// Table across every listener (§2's single filter chain per
	// process, not per listener); a deployment mixing a plain and a
	// secure listener behind proxy routes needs two Tables, which this
	// entry point does not build, so X-Forwarded-Ssl is approximated
	// as "on" whenever any configured listener is secure.
	for _, le := range cfg.Listen {
		if le.Secure {
			anySecure = true
		}
	}

	for _, rt := range cfg.Routes {
		var h filter.Handler
		switch rt.Handler {
		case "proxy":
			addr, ok := cfg.Backends[rt.Backend]
			if !ok {
				return nil, fmt.Errorf("route %q: unknown backend %q", rt.Prefix, rt.Backend)
			}
			h = proxy.New(l, poolFor(addr), proxy.Options{Secure: anySecure, Log: log, Metrics: rec})
		case "fileserver":
			h = fileserver.New(l, fileserver.Options{
				Root:     rt.Dir,
				Prefix:   rt.Prefix,
				Cache:    cache,
				CacheTTL: cfg.Cache.MaxAge,
				Log:      log,
				Metrics:  rec,
			})
		default:
			return nil, fmt.Errorf("route %q: unknown handler %q", rt.Prefix, rt.Handler)
		}

		filters := []filter.Filter{&accessLogFilter{w: alog, handler: rt.Handler}}
		for _, name := range rt.Filters {
			f, err := buildFilter(name)
			if err != nil {
				return nil, fmt.Errorf("route %q: %w", rt.Prefix, err)
			}
			filters = append(filters, f)
		}

		table.Register(filter.Route{Host: rt.VHost, Prefix: rt.Prefix, Handler: h, Filters: filters})
	}
	return table, nil
}

func buildFilter(name string) (filter.Filter, error) {
	switch name {
	case "gzip":
		return gzip.Filter{}, nil
	case "cors":
		return cors.Filter{Config: cors.Config{AllowOrigins: []string{"*"}}}, nil
	case "ssi":
		return ssi.Filter{}, nil
	case "templates":
		return templates.Filter{}, nil
	default:
		return nil, fmt.Errorf("unknown filter %q", name)
	}
}
