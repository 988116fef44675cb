// Package daemon manages the process-level bookkeeping described in
// §3.1/§6 "daemon files": a numeric PID file and a stamped per-run
// instance id, plus signal handling for graceful reload/shutdown.
// True double-fork daemonization is left to the OS service manager
// (systemd or equivalent) that starts nxserve; this package still
// provides the PID-file and signal wiring a foreground-supervised
// process needs either way.
package daemon

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
)

// InstanceID is a per-run identifier logged at startup, distinguishing
// restarts of the same configured service from one another (§3.1
// "daemon ... per-run instance id"). The PID file holds only the
// numeric PID.
var InstanceID = uuid.New().String()

// PIDFile manages a single PID file's lifecycle: write it at startup,
// remove it at clean shutdown.
type PIDFile struct {
	path string
}

// WritePIDFile writes the current process's PID to path, failing if a
// live process already holds that PID (a stale file from a crashed
// run is overwritten, matching the conventional Unix PID-file
// contract).
func WritePIDFile(path string) (*PIDFile, error) {
	if existing, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(string(existing)); perr == nil && pid != os.Getpid() {
			if proc, ferr := os.FindProcess(pid); ferr == nil {
				if err := proc.Signal(syscall.Signal(0)); err == nil {
					return nil, fmt.Errorf("daemon: pid file %s already held by running process %d", path, pid)
				}
			}
		}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, err
	}
	return &PIDFile{path: path}, nil
}

// Remove deletes the PID file; safe to call once at shutdown.
func (p *PIDFile) Remove() error {
	return os.Remove(p.path)
}

// SignalHandlers registers the conventional nxweb signal contract:
// SIGHUP triggers reload (log/access-log rotation, §4.15's Rotate),
// SIGTERM/SIGINT trigger graceful shutdown. Either callback may be nil
// if the caller doesn't care about that signal class.
func SignalHandlers(onReload func(), onShutdown func()) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGHUP:
					if onReload != nil {
						onReload()
					}
				case syscall.SIGTERM, syscall.SIGINT:
					if onShutdown != nil {
						onShutdown()
					}
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
