package tunnel

import (
	"time"

	"github.com/go-i2p/go-onion/lib/message"
)

// CircuitID identifies a circuit on one link.
type CircuitID = message.CircuitID

// route is the role a circuit ID plays on this node: *Circuit, *RelayRoute or
// *ExitSocket.
type route interface {
	stats() *activity
}

// activity is the liveness and traffic accounting shared by every role.
type activity struct {
	created      time.Time
	lastActivity time.Time
	bytesUp      uint64
	bytesDown    uint64
}

func newActivity(now time.Time) activity {
	return activity{created: now, lastActivity: now}
}

func (a *activity) stats() *activity {
	return a
}

func (a *activity) beat(now time.Time) {
	a.lastActivity = now
}

func (a *activity) traffic() uint64 {
	return a.bytesUp + a.bytesDown
}

// expiry returns the pruning reason for a route, or ReasonNone. The
// inactivity rule is skipped when checkInactive is false.
func (a *activity) expiry(now time.Time, cfg limits, checkInactive bool) Reason {
	switch {
	case checkInactive && now.Sub(a.lastActivity) > cfg.maxInactive:
		return ReasonInactive
	case now.Sub(a.created) > cfg.maxAge:
		return ReasonTooOld
	case a.traffic() > cfg.maxTraffic:
		return ReasonTraffic
	}
	return ReasonNone
}

type limits struct {
	maxInactive time.Duration
	maxAge      time.Duration
	maxTraffic  uint64
}

func (e *Engine) _circuit(id CircuitID) (*Circuit, bool) {
	c, ok := e.routes[id].(*Circuit)
	return c, ok
}

func (e *Engine) _relay(id CircuitID) (*RelayRoute, bool) {
	r, ok := e.routes[id].(*RelayRoute)
	return r, ok
}

func (e *Engine) _exitSocket(id CircuitID) (*ExitSocket, bool) {
	s, ok := e.routes[id].(*ExitSocket)
	return s, ok
}

// _joinedCount is the number of relay routes and exit sockets held for others.
func (e *Engine) _joinedCount() int {
	n := 0
	for _, r := range e.routes {
		switch r.(type) {
		case *RelayRoute, *ExitSocket:
			n++
		}
	}
	return n
}
