package util

import (
	"io"
	"sync"
)

var (
	closeOnExit []io.Closer
	closeMutex  sync.Mutex
)

// RegisterCloser registers an io.Closer to be closed during shutdown.
// Closers run in reverse registration order.
func RegisterCloser(c io.Closer) {
	closeMutex.Lock()
	defer closeMutex.Unlock()
	closeOnExit = append(closeOnExit, c)
	log.WithField("count", len(closeOnExit)).Debug("Registered closer")
}

// CloseAll closes all registered closers and clears the list. It returns the
// number of closers that failed.
func CloseAll() int {
	closeMutex.Lock()
	defer closeMutex.Unlock()

	failed := 0
	for i := len(closeOnExit) - 1; i >= 0; i-- {
		if err := closeOnExit[i].Close(); err != nil {
			log.WithError(err).Warn("Error closing resource")
			failed++
		}
	}
	closeOnExit = nil
	return failed
}
