package tunnel

import (
	"net/netip"
	"time"
)

// CircuitState is the lifecycle state of a circuit.
type CircuitState int

const (
	StateExtending CircuitState = iota
	StateReady
	StateClosing
)

func (s CircuitState) String() string {
	switch s {
	case StateExtending:
		return "EXTENDING"
	case StateReady:
		return "READY"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// CircuitType distinguishes plain data circuits from service circuits.
type CircuitType int

const (
	CircuitData CircuitType = iota
	CircuitIntroduction
	CircuitRendezvous
)

func (t CircuitType) String() string {
	switch t {
	case CircuitData:
		return "data"
	case CircuitIntroduction:
		return "introduction"
	case CircuitRendezvous:
		return "rendezvous"
	default:
		return "unknown"
	}
}

// Circuit is a path this node originated. Its state is derived from the
// number of verified hops, so READY holds exactly when every hop verified.
type Circuit struct {
	activity

	id           CircuitID
	goalHops     int
	ctype        CircuitType
	hops         []*Hop
	unverified   *Hop
	requiredExit *Peer
	tag          []byte
	closing      bool

	done chan CircuitInfo
}

func newCircuit(id CircuitID, goalHops int, ctype CircuitType, requiredExit *Peer, tag []byte, now time.Time) *Circuit {
	return &Circuit{
		activity:     newActivity(now),
		id:           id,
		goalHops:     goalHops,
		ctype:        ctype,
		requiredExit: requiredExit,
		tag:          tag,
		done:         make(chan CircuitInfo, 1),
	}
}

// State returns the current lifecycle state.
func (c *Circuit) State() CircuitState {
	switch {
	case c.closing:
		return StateClosing
	case len(c.hops) < c.goalHops:
		return StateExtending
	default:
		return StateReady
	}
}

// peer is the first hop, verified or not.
func (c *Circuit) peer() (Peer, bool) {
	if len(c.hops) > 0 {
		return c.hops[0].peer(), true
	}
	if c.unverified != nil {
		return c.unverified.peer(), true
	}
	return Peer{}, false
}

func (c *Circuit) peerAddress() netip.AddrPort {
	p, _ := c.peer()
	return p.Address
}

func (c *Circuit) addHop(h *Hop) {
	c.hops = append(c.hops, h)
	c.unverified = nil
}

// complete delivers the ready notification once. close makes sure the
// channel is closed even if the circuit never became ready.
func (c *Circuit) complete() {
	if c.done == nil {
		return
	}
	c.done <- c.info()
	close(c.done)
	c.done = nil
}

func (c *Circuit) close() {
	c.closing = true
	c.unverified = nil
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
}

// CircuitInfo is a snapshot of a circuit taken on the engine's actor.
type CircuitInfo struct {
	ID           CircuitID
	Type         CircuitType
	State        CircuitState
	GoalHops     int
	Hops         int
	FirstHop     netip.AddrPort
	Exit         []byte
	Tag          []byte
	Created      time.Time
	LastActivity time.Time
	BytesUp      uint64
	BytesDown    uint64
}

func (c *Circuit) info() CircuitInfo {
	info := CircuitInfo{
		ID:           c.id,
		Type:         c.ctype,
		State:        c.State(),
		GoalHops:     c.goalHops,
		Hops:         len(c.hops),
		FirstHop:     c.peerAddress(),
		Tag:          c.tag,
		Created:      c.created,
		LastActivity: c.lastActivity,
		BytesUp:      c.bytesUp,
		BytesDown:    c.bytesDown,
	}
	if n := len(c.hops); n > 0 {
		info.Exit = c.hops[n-1].PublicKey
	}
	return info
}
