// Package lifecycle tracks whether the bot is draining and why.
package lifecycle

import (
	"sync"
	"sync/atomic"
)

// Shutdown reasons.
const (
	ReasonSignal    = "signal"
	ReasonPollEnded = "poll_ended"
	ReasonUnknown   = "unknown"
)

var (
	shuttingDown atomic.Bool
	mu           sync.Mutex
	reason       string
)

// BeginShutdown marks the bot as draining. Only the first call records its reason;
// it reports whether this call started the shutdown.
func BeginShutdown(why string) bool {
	mu.Lock()
	defer mu.Unlock()
	if shuttingDown.Load() {
		return false
	}
	if why == "" {
		why = ReasonUnknown
	}
	reason = why
	shuttingDown.Store(true)
	return true
}

// IsShuttingDown returns true once BeginShutdown has been called.
// The health handler answers 503 shutting-down while true.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Reason returns the reason recorded by BeginShutdown, or "" when running.
func Reason() string {
	mu.Lock()
	defer mu.Unlock()
	return reason
}

// Reset clears the shutdown state. Tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	shuttingDown.Store(false)
	reason = ""
}
