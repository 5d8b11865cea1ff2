package tunnel

import (
	"math/rand/v2"
	"slices"

	"github.com/Arceliar/phony"
	"github.com/dustin/go-humanize"
	"github.com/go-i2p/go-onion/lib/message"
	"github.com/go-i2p/logger"
	"github.com/samber/lo"
)

// BuildTunnels registers demand for MaxCircuits data circuits of hops hops
// and runs a maintenance pass right away.
func (e *Engine) BuildTunnels(hops int) {
	if hops <= 0 {
		return
	}
	phony.Block(e, func() {
		e.circuitsNeeded[hops] = e.cfg.MaxCircuits
		e._doCircuits()
	})
}

// TunnelsReady returns the fraction of the wanted data circuits of hops hops
// that are READY. It is 1 when nothing is wanted.
func (e *Engine) TunnelsReady(hops int) float64 {
	var ready float64
	phony.Block(e, func() {
		needed := e.circuitsNeeded[hops]
		if hops <= 0 || needed == 0 {
			ready = 1
			return
		}
		ready = float64(len(e._dataCircuits(hops, true))) / float64(needed)
	})
	return ready
}

// _doCircuits tops up every registered demand, then prunes.
func (e *Engine) _doCircuits() {
	lengths := lo.Keys(e.circuitsNeeded)
	slices.Sort(lengths)
	for _, hops := range lengths {
		inFlight := 0
		for _, c := range e._dataCircuits(hops, false) {
			if c.State() == StateExtending {
				inFlight++
			}
		}
		toBuild := max(0, e.circuitsNeeded[hops]-len(e._dataCircuits(hops, true))-inFlight)
		for i := 0; i < toBuild; i++ {
			if _, err := e._createCircuit(hops, CircuitData, nil, nil); err != nil {
				log.WithFields(logger.Fields{
					"at":      "(Engine) _doCircuits",
					"phase":   "maintenance",
					"hops":    hops,
					"wanted":  toBuild,
					"created": i,
				}).WithError(err).Info("circuit creation failed, no need to continue")
				break
			}
		}
	}
	e._doRemove()
}

// _doRemove is the pruning pass.
func (e *Engine) _doRemove() {
	now := e.clock.Now()
	lim := e._limits()

	for id, r := range e.routes {
		switch v := r.(type) {
		case *Circuit:
			if v.closing {
				continue
			}
			if reason := v.expiry(now, lim, v.State() == StateReady); reason != ReasonNone {
				e._logExpiry(id, roleCircuit, reason, &v.activity)
				e._removeCircuit(id, reason, false, true)
			}
		case *RelayRoute:
			if v.closing {
				continue
			}
			if reason := v.expiry(now, lim, true); reason != ReasonNone {
				e._logExpiry(id, roleRelay, reason, &v.activity)
				e._removeRelay(id, reason, false, true, nil, false)
			}
		case *ExitSocket:
			if v.closing {
				continue
			}
			if reason := v.expiry(now, lim, true); reason != ReasonNone {
				e._logExpiry(id, roleExit, reason, &v.activity)
				e._removeExitSocket(id, reason, false, true)
			}
		}
	}

	current := lo.SliceToMap(e.peers.Peers(), func(p Peer) (string, bool) { return p.key(), true })
	for k := range e.exitCandidates {
		if !current[k] {
			delete(e.exitCandidates, k)
		}
	}

	e.limiter.Cleanup(now)
	e._publishGauges()
}

func (e *Engine) _logExpiry(id CircuitID, role string, reason Reason, a *activity) {
	log.WithFields(logger.Fields{
		"at":         "(Engine) _doRemove",
		"phase":      "maintenance",
		"circuit_id": id,
		"role":       role,
		"reason":     reason.String(),
		"traffic":    humanize.IBytes(a.traffic()),
	}).Info("pruning")
}

// _doPing pings every live, non-rendezvous circuit through its first hop.
func (e *Engine) _doPing() {
	for id, r := range e.routes {
		c, ok := r.(*Circuit)
		if !ok || c.ctype == CircuitRendezvous {
			continue
		}
		if s := c.State(); s != StateExtending && s != StateReady {
			continue
		}
		addr := c.peerAddress()
		if !addr.IsValid() {
			continue
		}
		identifier := uint16(rand.N(1<<16 - 1))
		for e.cache.Has(cacheKey(kindPing, uint32(identifier))) {
			identifier = uint16(rand.N(1<<16 - 1))
		}
		if err := e.cache.Add(&pingRequest{identifier: identifier, circuitID: id, timeout: e.cfg.PingTimeout}); err != nil {
			continue
		}
		n, _ := e._sendCell(addr, &message.Ping{CircuitID: id, Identifier: identifier})
		c.bytesUp += uint64(n)
		e.metrics.RecordBytesSent(roleCircuit, n)
	}
}

func (e *Engine) _publishGauges() {
	if e.metrics == nil {
		return
	}
	states := make(map[CircuitState]int)
	relays, exits := 0, 0
	for _, r := range e.routes {
		switch v := r.(type) {
		case *Circuit:
			states[v.State()]++
		case *RelayRoute:
			relays++
		case *ExitSocket:
			exits++
		}
	}
	e.metrics.SetCircuitStates(states)
	e.metrics.SetJoined(relays, exits)
}
