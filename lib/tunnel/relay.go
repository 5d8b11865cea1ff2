package tunnel

import (
	"time"

	"github.com/Arceliar/phony"
	"github.com/go-i2p/go-onion/lib/crypto"
	"github.com/go-i2p/logger"
)

// RelayRoute is one direction of a splice held by an intermediate node. The
// route stored under an incoming ID names the outgoing ID and the peer to
// forward to. direction records which side cells arriving on the incoming ID
// come from: ExitNode for cells from the originator side, Originator for
// cells from the exit side.
type RelayRoute struct {
	activity

	circuitID  CircuitID
	peer       Peer
	direction  crypto.Direction
	rendezvous bool
	closing    bool
}

func newRelayRoute(to CircuitID, peer Peer, direction crypto.Direction, now time.Time) *RelayRoute {
	return &RelayRoute{
		activity:  newActivity(now),
		circuitID: to,
		peer:      peer,
		direction: direction,
	}
}

// LinkRendezvous splices two circuits that both end at this node. Each
// circuit's exit socket becomes a rendezvous relay forwarding to the other
// circuit's builder; cells are decrypted with the keys of the leg they arrive
// on and encrypted with the keys of the leg they leave on.
func (e *Engine) LinkRendezvous(a, b CircuitID) error {
	var err error
	phony.Block(e, func() {
		sa, okA := e._exitSocket(a)
		sb, okB := e._exitSocket(b)
		if !okA || !okB || sa.closing || sb.closing || a == b {
			err = ErrUnknownCircuit
			return
		}
		if e.keys[a] == nil || e.keys[b] == nil {
			err = ErrNoSessionKeys
			return
		}
		sa.close()
		sb.close()

		now := e.clock.Now()
		ra := newRelayRoute(b, sb.peer, crypto.Originator, now)
		ra.rendezvous = true
		rb := newRelayRoute(a, sa.peer, crypto.Originator, now)
		rb.rendezvous = true
		e.routes[a] = ra
		e.routes[b] = rb
		e.cache.Pop(cacheKey(kindCreated, uint32(a)))
		e.cache.Pop(cacheKey(kindCreated, uint32(b)))

		log.WithFields(logger.Fields{
			"at":    "(Engine) LinkRendezvous",
			"phase": "relay",
			"a":     a,
			"b":     b,
		}).Info("linked circuits at rendezvous point")
	})
	return err
}
