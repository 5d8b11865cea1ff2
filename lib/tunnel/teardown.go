package tunnel

import (
	"net/netip"

	"github.com/Arceliar/phony"
	"github.com/go-i2p/logger"
)

// destroySource is the (circuit ID, address) a DESTROY arrived from. It is not
// echoed back there when the destroy is forwarded along a relay.
type destroySource struct {
	circuitID CircuitID
	address   netip.AddrPort
}

// RemoveCircuit tears down one of our circuits and sends DESTROY to its first
// hop. Removing an unknown or already closing circuit is a no-op.
func (e *Engine) RemoveCircuit(id CircuitID, reason Reason) {
	phony.Block(e, func() {
		e._removeCircuit(id, reason, false, true)
	})
}

// RemoveRelay closes the relay route at id together with its partner leg and
// sends DESTROY both ways.
func (e *Engine) RemoveRelay(id CircuitID, reason Reason) {
	phony.Block(e, func() {
		e._removeRelay(id, reason, false, true, nil, true)
	})
}

// RemoveExitSocket closes the exit socket at id and sends DESTROY to its
// previous hop.
func (e *Engine) RemoveExitSocket(id CircuitID, reason Reason) {
	phony.Block(e, func() {
		e._removeExitSocket(id, reason, false, true)
	})
}

// _removeCircuit closes a circuit and purges it after RemoveTunnelDelay, or
// immediately when now is set. A second call only matters to force the purge.
func (e *Engine) _removeCircuit(id CircuitID, reason Reason, now, destroy bool) {
	c, ok := e._circuit(id)
	if !ok {
		log.WithFields(logger.Fields{
			"at":         "(Engine) _removeCircuit",
			"circuit_id": id,
		}).Debug("cannot remove unknown circuit")
		return
	}
	if c.closing && !now {
		return
	}
	if !c.closing {
		log.WithFields(logger.Fields{
			"at":         "(Engine) _removeCircuit",
			"phase":      "teardown",
			"circuit_id": id,
			"reason":     reason.String(),
		}).Info("removing circuit")
		if addr := c.peerAddress(); destroy && addr.IsValid() {
			e._sendDestroy(addr, id, reason)
		}
		c.close()
		e.cache.Pop(cacheKey(kindCircuit, uint32(id)))
		e.cache.Pop(cacheKey(kindRetry, uint32(id)))
		e.metrics.RecordRemoval(roleCircuit, reason)
	}
	e._schedulePurge(id, c, now, nil)
}

// _removeRelay closes the relay route at id and, with bothSides, its partner.
// With destroy, DESTROY is forwarded on every leg except the one it came from.
func (e *Engine) _removeRelay(id CircuitID, reason Reason, now, destroy bool, from *destroySource, bothSides bool) {
	toRemove := []CircuitID{id}
	if bothSides {
		for k, r := range e.routes {
			if rr, ok := r.(*RelayRoute); ok && k != id && rr.circuitID == id {
				toRemove = append(toRemove, k)
			}
		}
	}

	if destroy {
		for _, cid := range toRemove {
			rr, ok := e._relay(cid)
			if !ok || rr.closing {
				continue
			}
			if from != nil && rr.circuitID == from.circuitID && rr.peer.Address == from.address {
				continue
			}
			e._sendDestroy(rr.peer.Address, rr.circuitID, reason)
		}
	}

	for _, cid := range toRemove {
		rr, ok := e._relay(cid)
		if !ok {
			continue
		}
		if !rr.closing {
			rr.closing = true
			log.WithFields(logger.Fields{
				"at":         "(Engine) _removeRelay",
				"phase":      "teardown",
				"circuit_id": cid,
				"reason":     reason.String(),
			}).Info("removing relay")
			e.metrics.RecordRemoval(roleRelay, reason)
		} else if !now {
			continue
		}
		e._schedulePurge(cid, rr, now, func() { delete(e.keys, cid) })
	}
}

// _removeExitSocket closes an exit socket. Its transport and keys are released
// when it is purged.
func (e *Engine) _removeExitSocket(id CircuitID, reason Reason, now, destroy bool) {
	s, ok := e._exitSocket(id)
	if !ok {
		return
	}
	if s.closing && !now {
		return
	}
	if !s.closing {
		if destroy {
			e._sendDestroy(s.peer.Address, id, reason)
		}
		s.closing = true
		log.WithFields(logger.Fields{
			"at":         "(Engine) _removeExitSocket",
			"phase":      "teardown",
			"circuit_id": id,
			"reason":     reason.String(),
		}).Info("removing exit socket")
		e.metrics.RecordRemoval(roleExit, reason)
	}
	e._schedulePurge(id, s, now, func() {
		s.close()
		delete(e.keys, id)
	})
}

// _schedulePurge deletes r from the arena after the grace delay. The entry is
// only deleted if id still maps to r, so a purge never removes a route that
// has since replaced it.
func (e *Engine) _schedulePurge(id CircuitID, r route, now bool, onPurge func()) {
	purge := func() {
		delete(e.pendingPurge, r)
		if e.routes[id] != r {
			return
		}
		delete(e.routes, id)
		if onPurge != nil {
			onPurge()
		}
	}
	if now || e.cfg.RemoveTunnelDelay <= 0 {
		if t, ok := e.pendingPurge[r]; ok {
			t.Stop()
		}
		purge()
		return
	}
	if _, ok := e.pendingPurge[r]; ok {
		return
	}
	e.pendingPurge[r] = e.clock.AfterFunc(e.cfg.RemoveTunnelDelay, func() {
		e.Act(nil, func() {
			if _, ok := e.pendingPurge[r]; ok {
				purge()
			}
		})
	})
}

// _unload removes everything immediately.
func (e *Engine) _unload() {
	for id, r := range e.routes {
		switch r.(type) {
		case *Circuit:
			e._removeCircuit(id, ReasonShutdown, true, true)
		case *RelayRoute:
			e._removeRelay(id, ReasonShutdown, true, true, nil, false)
		case *ExitSocket:
			e._removeExitSocket(id, ReasonShutdown, true, true)
		}
	}
	for r, t := range e.pendingPurge {
		t.Stop()
		delete(e.pendingPurge, r)
	}
	e.cache.Shutdown()
	e._publishGauges()
}
