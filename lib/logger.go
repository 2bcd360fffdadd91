package lib

import "log"

// logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger.
var logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		logf = func(string, ...interface{}) {}
		return
	}
	logf = f
}
