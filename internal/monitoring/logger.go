// Package monitoring holds the process-wide diagnostic loggers used by the
// fusion pipeline.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf receives per-cycle detail (detachments, evictions, merges). It is
// muted by default; SetDebugLogger or EnableDebug turn it on.
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebugLogger replaces the debug logger. Passing nil mutes it.
func SetDebugLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Debugf = func(string, ...interface{}) {}
		return
	}
	Debugf = f
}

// EnableDebug routes debug output through Logf with a "[debug] " prefix.
func EnableDebug(enabled bool) {
	if !enabled {
		SetDebugLogger(nil)
		return
	}
	Debugf = func(format string, v ...interface{}) {
		Logf("[debug] "+format, v...)
	}
}
