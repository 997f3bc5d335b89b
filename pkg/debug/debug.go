// Package debug provides global debug logging flags
package debug

import "github.com/teslashibe/go-facenode/internal/log"

// Enabled controls whether debug logging is active
var Enabled bool

// Detection controls whether per-frame detector logs are shown.
// Use the -debug-detection flag to enable these very verbose logs
var Detection bool

// Log logs a message only if debug mode is enabled
func Log(msg string, args ...any) {
	if Enabled {
		log.Info(msg, args...)
	}
}

// DetectLog logs a message only if detection debug mode is enabled
func DetectLog(msg string, args ...any) {
	if Detection {
		log.Info(msg, args...)
	}
}
