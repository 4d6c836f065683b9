// Package monitoring holds the pipeline's diagnostic logging hook.
package monitoring

import "log"

// Logf is the package-level diagnostic logger used across the analysis
// pipeline. It defaults to log.Printf; batch tools and tests may replace it
// via SetLogger to redirect or silence output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the pipeline logger. Passing nil installs a no-op
// logger, which mutes all diagnostics.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
