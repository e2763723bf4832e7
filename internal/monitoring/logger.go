package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf
// and may be redirected or muted through SetLogger, which tests and the
// daemon both use.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf carries high-rate diagnostics (per-batch, per-poll). It is a
// no-op until SetDebug(true); when enabled it writes through Logf.
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug enables or disables the high-rate debug channel.
func SetDebug(enabled bool) {
	if !enabled {
		Debugf = func(string, ...interface{}) {}
		return
	}
	Debugf = func(format string, v ...interface{}) {
		Logf("debug: "+format, v...)
	}
}
