// Package logging configures the structured logger every other
// component logs through (§4.14): github.com/sirupsen/logrus, with
// colorized text output on an interactive terminal and plain JSON
// otherwise, matching nxweb's split between a human-facing console and
// machine-parseable file output.
package logging

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Config selects the logger's level, output, and formatting.
type Config struct {
	Level  string    // parsed with logrus.ParseLevel; empty defaults to "info"
	Output io.Writer // nil defaults to os.Stderr
	// JSON forces the JSON formatter even on a TTY; false auto-detects
	// via isatty and only colorizes when attached to a terminal.
	JSON bool
}

// New builds a *logrus.Logger per cfg (§4.14). The event loop, hsp/hcp
// state machines, ppool, fcache, and wpool each take a
// logrus.FieldLogger scoped with their own "component" field; none
// constructs its own *log.Logger.
func New(cfg Config) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l.SetOutput(out)

	interactive := false
	if f, ok := out.(*os.File); ok {
		interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	if cfg.JSON || !interactive {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		color.NoColor = false
		l.SetFormatter(&logrus.TextFormatter{ForceColors: true, FullTimestamp: true})
	}

	l.AddHook(&stderrMirrorHook{out: os.Stderr, primary: out})
	return l
}

// Component scopes a logger with a component field, so every log line
// a package emits is attributable without that package constructing
// its own logger.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}

// stderrMirrorHook duplicates ERROR-and-above records to stderr even
// when the primary output is a file, so a fatal condition is visible
// to an operator watching the process's stderr regardless of how
// file/daemon logging is configured.
type stderrMirrorHook struct {
	out     io.Writer
	primary io.Writer
}

func (h *stderrMirrorHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

func (h *stderrMirrorHook) Fire(e *logrus.Entry) error {
	if h.primary == h.out {
		return nil
	}
	line, err := e.Logger.Formatter.Format(e)
	if err != nil {
		return err
	}
	_, err = h.out.Write(line)
	return err
}
