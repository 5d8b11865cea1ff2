// Package signals dispatches process signals to registered handlers: SIGHUP
// to reload handlers, SIGINT and SIGTERM to pre-shutdown and then interrupt
// handlers.
package signals

import (
	"os"
	"os/signal"
	"sync"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// sigChan is buffered to avoid missing signals delivered while no receiver is ready.
var sigChan = make(chan os.Signal, 1)

// Handler is a function called when a signal is received.
type Handler func()

// HandlerID identifies a registration so it can be removed again.
type HandlerID int

type registeredHandler struct {
	id HandlerID
	fn Handler
}

type handlerList struct {
	name     string
	handlers []registeredHandler
}

var (
	mu           sync.RWMutex
	reloaders    = &handlerList{name: "reload"}
	interrupters = &handlerList{name: "interrupt"}
	nextID       HandlerID
	stopOnce     sync.Once
)

func (l *handlerList) add(f Handler) HandlerID {
	if f == nil {
		return -1
	}
	mu.Lock()
	defer mu.Unlock()
	id := nextID
	nextID++
	l.handlers = append(l.handlers, registeredHandler{id: id, fn: f})
	return id
}

func (l *handlerList) remove(id HandlerID) {
	mu.Lock()
	defer mu.Unlock()
	for i, h := range l.handlers {
		if h.id == id {
			l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
			return
		}
	}
}

func (l *handlerList) run() {
	mu.RLock()
	snapshot := make([]registeredHandler, len(l.handlers))
	copy(snapshot, l.handlers)
	mu.RUnlock()
	for _, h := range snapshot {
		runProtected(l.name, h.fn)
	}
}

func runProtected(kind string, fn Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("handler", kind).Errorf("panic in signal handler: %v", r)
		}
	}()
	fn()
}

// RegisterReloadHandler registers a handler called on SIGHUP.
// Nil handlers are ignored and return -1.
func RegisterReloadHandler(f Handler) HandlerID {
	return reloaders.add(f)
}

// DeregisterReloadHandler removes a reload handler by ID.
func DeregisterReloadHandler(id HandlerID) {
	reloaders.remove(id)
}

// RegisterInterruptHandler registers a handler called on SIGINT/SIGTERM after
// the pre-shutdown handlers. Nil handlers are ignored and return -1.
func RegisterInterruptHandler(f Handler) HandlerID {
	return interrupters.add(f)
}

// DeregisterInterruptHandler removes an interrupt handler by ID.
func DeregisterInterruptHandler(id HandlerID) {
	interrupters.remove(id)
}

func handleReload() {
	reloaders.run()
}

func handleInterrupted() {
	handlePreShutdown()
	interrupters.run()
}

// StopHandle closes the signal channel, causing Handle() to return.
// Safe to call multiple times.
func StopHandle() {
	stopOnce.Do(func() {
		signal.Stop(sigChan)
		close(sigChan)
	})
}
