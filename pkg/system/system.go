// Package system reports process-level facts for the health endpoint.
package system

import (
	"runtime"
	"time"
)

// Version is overridden at build time with -ldflags "-X ...system.Version=...".
var Version = "dev"

var startTime = time.Now()

// MarkStart resets the uptime origin; called once the relay is serving.
func MarkStart() {
	startTime = time.Now()
}

func StartedAt() time.Time {
	return startTime
}

// Uptime is whole seconds since MarkStart.
func Uptime() int64 {
	return int64(time.Since(startTime).Seconds())
}

func GoVersion() string {
	return runtime.Version()
}
