package signals

import (
	"sync"
	"time"
)

const defaultGracefulTimeout = 10 * time.Second

var (
	preShutdownMu       sync.RWMutex
	preShutdownHandlers []Handler
	gracefulTimeout     = defaultGracefulTimeout
)

// RegisterPreShutdownHandler registers a handler that runs before the
// interrupt handlers, while transports are still open. Nodes use it to send
// DESTROY for every circuit they hold before closing their sockets.
func RegisterPreShutdownHandler(f Handler) {
	if f == nil {
		return
	}
	preShutdownMu.Lock()
	defer preShutdownMu.Unlock()
	preShutdownHandlers = append(preShutdownHandlers, f)
}

// SetGracefulTimeout bounds how long pre-shutdown handlers may run. Zero or
// negative restores the default.
func SetGracefulTimeout(timeout time.Duration) {
	preShutdownMu.Lock()
	defer preShutdownMu.Unlock()
	if timeout <= 0 {
		gracefulTimeout = defaultGracefulTimeout
	} else {
		gracefulTimeout = timeout
	}
}

// handlePreShutdown reports whether every handler finished within the timeout.
func handlePreShutdown() bool {
	preShutdownMu.RLock()
	snapshot := make([]Handler, len(preShutdownHandlers))
	copy(snapshot, preShutdownHandlers)
	timeout := gracefulTimeout
	preShutdownMu.RUnlock()

	if len(snapshot) == 0 {
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, h := range snapshot {
			runProtected("pre-shutdown", h)
		}
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.WithField("timeout", timeout).Warn("pre-shutdown handlers timed out")
		return false
	}
}
