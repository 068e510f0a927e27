package impute

import "log"

// Logf is the package logger. Defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil silences it.
func SetLogger(fn func(format string, v ...interface{})) {
	if fn == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = fn
}
