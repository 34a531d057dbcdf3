// Package diag wires femc-go's own ambient diagnostics — the handful of
// "this degraded but kept going" notices emitted by the reactor, and the
// demo commands' informational lines — onto logiface, with stumpy's JSON backend as the
// default writer. It is deliberately separate from the reactor's plain-
// text reopenable log file ([reactor.Loop.OpenLogFile]): that file's
// contents are a protocol consumed by [errstack.PrintStack], not a sink
// this package gets to restructure.
package diag

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is a handle to a configured diagnostic sink.
type Logger struct {
	l *logiface.Logger[*stumpy.Event]
}

// New builds a Logger writing structured JSON lines via stumpy. opts are
// applied after stumpy's own defaults, so a caller can override just the
// writer (via [stumpy.LoggerFactory.WithWriter]) while keeping stumpy's
// JSON event encoding.
func New(opts ...logiface.Option[*stumpy.Event]) *Logger {
	all := make([]logiface.Option[*stumpy.Event], 0, len(opts)+1)
	all = append(all, stumpy.L.WithStumpy())
	all = append(all, opts...)
	return &Logger{l: stumpy.L.New(all...)}
}

// Warn logs msg at warning level with the given key/value fields, used for
// degraded-but-recovered conditions such as a timer block allocation
// falling back to a single node.
func (d *Logger) Warn(msg string, fields map[string]string) {
	if d == nil || d.l == nil {
		return
	}
	e := d.l.Warning()
	for k, v := range fields {
		e = e.Str(k, v)
	}
	e.Log(msg)
}

// Info logs msg at info level with the given key/value fields.
func (d *Logger) Info(msg string, fields map[string]string) {
	if d == nil || d.l == nil {
		return
	}
	e := d.l.Info()
	for k, v := range fields {
		e = e.Str(k, v)
	}
	e.Log(msg)
}
