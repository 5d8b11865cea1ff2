package tunnel

import (
	"github.com/Arceliar/phony"
	"github.com/go-i2p/go-onion/lib/crypto"
	"github.com/go-i2p/go-onion/lib/message"
	"github.com/go-i2p/logger"
	"github.com/samber/lo"
	"github.com/samber/oops"
)

// BuildCircuit starts building a circuit of goalHops hops. requiredExit pins
// the last hop; when nil an exit is chosen from the known peers. tag is an
// opaque value carried in CircuitInfo.
//
// The returned channel receives the circuit once it is READY and is then
// closed. It is closed without a value if the circuit is removed first, so
// callers that need a bounded wait must select on their own timeout.
func (e *Engine) BuildCircuit(goalHops int, ctype CircuitType, requiredExit *Peer, tag []byte) (CircuitID, <-chan CircuitInfo, error) {
	var (
		id   CircuitID
		done <-chan CircuitInfo
		err  error
	)
	phony.Block(e, func() {
		var c *Circuit
		if c, err = e._createCircuit(goalHops, ctype, requiredExit, tag); err == nil {
			id, done = c.id, c.done
		}
	})
	return id, done, err
}

// _compatiblePeers returns known peers whose keys work with our crypto suite,
// excluding ourselves.
func (e *Engine) _compatiblePeers() []Peer {
	own := string(e.crypto.PublicKey())
	return lo.Filter(e.peers.Peers(), func(p Peer, _ int) bool {
		return p.key() != own && e.crypto.IsKeyCompatible(p.PublicKey)
	})
}

func (e *Engine) _exitCandidateList() []Peer {
	own := string(e.crypto.PublicKey())
	return lo.Filter(lo.Values(e.exitCandidates), func(p Peer, _ int) bool {
		return p.key() != own
	})
}

func (e *Engine) _createCircuit(goalHops int, ctype CircuitType, requiredExit *Peer, tag []byte) (*Circuit, error) {
	if goalHops < 1 {
		return nil, ErrInvalidHops
	}
	// EXTEND towards the last hop has to carry its address.
	if requiredExit != nil && !requiredExit.Address.IsValid() {
		return nil, oops.In("tunnel").
			With("exit", shortKey(requiredExit.PublicKey)).
			Wrapf(ErrExitNoAddress, "building %d hop circuit", goalHops)
	}
	if requiredExit == nil {
		exits := e._exitCandidateList()
		if ctype != CircuitData {
			if compatible := e._compatiblePeers(); len(compatible) > 0 {
				exits = compatible
			}
		}
		if len(exits) == 0 {
			log.WithFields(logger.Fields{
				"at":    "(Engine) _createCircuit",
				"phase": "build",
				"hops":  goalHops,
				"type":  ctype.String(),
			}).Info("could not create circuit, no available exit nodes")
			return nil, ErrNoExitCandidate
		}
		exit := lo.Sample(exits)
		requiredExit = &exit
	}

	var firstHops []Peer
	if goalHops == 1 {
		firstHops = []Peer{*requiredExit}
	} else {
		used := make(map[string]bool)
		for _, r := range e.routes {
			if c, ok := r.(*Circuit); ok {
				if addr := c.peerAddress(); addr.IsValid() {
					used[addr.String()] = true
				}
			}
		}
		firstHops = lo.Filter(e._compatiblePeers(), func(p Peer, _ int) bool {
			return !used[p.Address.String()] && p.Address != requiredExit.Address
		})
	}
	if len(firstHops) == 0 {
		log.WithFields(logger.Fields{
			"at":    "(Engine) _createCircuit",
			"phase": "build",
			"hops":  goalHops,
		}).Info("could not create circuit, no first hop available")
		return nil, ErrNoFirstHop
	}

	id := e._newCircuitID()
	c := newCircuit(id, goalHops, ctype, requiredExit, tag, e.clock.Now())
	e.routes[id] = c
	if err := e.cache.Add(&circuitRequest{e: e, id: id, timeout: e.cfg.CircuitTimeout}); err != nil {
		delete(e.routes, id)
		return nil, err
	}
	log.WithFields(logger.Fields{
		"at":         "(Engine) _createCircuit",
		"phase":      "build",
		"circuit_id": id,
		"hops":       goalHops,
		"type":       ctype.String(),
	}).Info("creating new circuit")
	e.metrics.RecordCircuitCreated()
	e._sendInitialCreate(c, firstHops)
	return c, nil
}

// _sendInitialCreate sends CREATE to one of candidates and keeps the rest as
// alternates should it stay silent.
func (e *Engine) _sendInitialCreate(c *Circuit, candidates []Peer) {
	e.cache.Pop(cacheKey(kindRetry, uint32(c.id)))

	first := lo.Sample(candidates)
	alternates := lo.Reject(candidates, func(p Peer, _ int) bool { return p.Equal(first) })

	hop, err := newHop(e.crypto, first)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":         "(Engine) _sendInitialCreate",
			"circuit_id": c.id,
		}).WithError(err).Error("failed to generate handshake secret")
		e._removeCircuit(c.id, ReasonCrypto, false, false)
		return
	}
	c.unverified = hop

	retry := &retryRequest{
		e:       e,
		id:      c.id,
		timeout: e.cfg.NextHopTimeout,
		state: RetryState{
			Remaining: alternates,
			attempt:   func(remaining []Peer) { e._sendInitialCreate(c, remaining) },
		},
	}
	if err := e.cache.Add(retry); err != nil {
		return
	}

	log.WithFields(logger.Fields{
		"at":         "(Engine) _sendInitialCreate",
		"phase":      "build",
		"circuit_id": c.id,
		"peer":       first.String(),
	}).Debug("adding first hop")

	n, _ := e._sendCell(first.Address, &message.Create{
		CircuitID:     c.id,
		NodePublicKey: e.crypto.PublicKey(),
		Key:           hop.dhFirstPart,
	})
	c.bytesUp += uint64(n)
	e.metrics.RecordBytesSent(roleCircuit, n)
}

// _oursOnCreatedExtended verifies the pending hop of one of our circuits and
// either extends the circuit further or completes it.
func (e *Engine) _oursOnCreatedExtended(c *Circuit, key, auth, candidateList []byte) {
	e.cache.Pop(cacheKey(kindRetry, uint32(c.id)))

	hop := c.unverified
	if hop == nil {
		log.WithFields(logger.Fields{
			"at":         "(Engine) _oursOnCreatedExtended",
			"circuit_id": c.id,
		}).Warn("reply for circuit without a pending hop")
		return
	}
	if err := hop.verify(e.crypto, key, auth); err != nil {
		log.WithFields(logger.Fields{
			"at":         "(Engine) _oursOnCreatedExtended",
			"phase":      "build",
			"circuit_id": c.id,
			"peer":       hop.peer().String(),
		}).WithError(err).Warn("error while verifying shared secret, bailing out")
		e.metrics.RecordHandshakeFailure("auth")
		e._removeCircuit(c.id, ReasonCrypto, false, true)
		return
	}
	c.addHop(hop)

	switch c.State() {
	case StateExtending:
		plain, err := e.crypto.DecryptStr(candidateList, hop.keys.Key(crypto.ExitNode), hop.keys.Salt(crypto.ExitNode))
		if err != nil {
			e.metrics.RecordHandshakeFailure("candidates")
			e._removeCircuit(c.id, ReasonCrypto, false, true)
			return
		}
		keys, err := message.DecodeCandidates(plain)
		if err != nil {
			e.metrics.RecordHandshakeFailure("candidates")
			e._removeCircuit(c.id, ReasonCrypto, false, true)
			return
		}
		candidates := lo.Map(keys, func(k []byte, _ int) Peer { return Peer{PublicKey: k} })
		e._sendExtend(c, candidates)
	case StateReady:
		e.cache.Pop(cacheKey(kindCircuit, uint32(c.id)))
		log.WithFields(logger.Fields{
			"at":         "(Engine) _oursOnCreatedExtended",
			"phase":      "build",
			"circuit_id": c.id,
			"hops":       len(c.hops),
		}).Info("circuit ready")
		e.metrics.RecordCircuitReady()
		c.complete()
	}
}

// _sendExtend asks the current last hop to add one of candidates. The final
// hop of a circuit with a required exit is always that exit.
func (e *Engine) _sendExtend(c *Circuit, candidates []Peer) {
	ignore := map[string]bool{string(e.crypto.PublicKey()): true}
	for _, h := range c.hops {
		ignore[string(h.PublicKey)] = true
	}
	if c.requiredExit != nil {
		ignore[c.requiredExit.key()] = true
	}

	becomeExit := c.goalHops-1 == len(c.hops)
	var (
		next       Peer
		alternates []Peer
		retry      = true
	)
	if becomeExit && c.requiredExit != nil {
		next = *c.requiredExit
		retry = false
	} else {
		usable := lo.UniqBy(lo.Filter(candidates, func(p Peer, _ int) bool {
			return !ignore[p.key()] && e.crypto.IsKeyCompatible(p.PublicKey)
		}), Peer.key)
		if len(usable) == 0 {
			log.WithFields(logger.Fields{
				"at":         "(Engine) _sendExtend",
				"phase":      "build",
				"circuit_id": c.id,
			}).Info("no candidates to extend, bailing out")
			e._removeCircuit(c.id, ReasonNoCandidates, false, true)
			return
		}
		pool := lo.Filter(usable, func(p Peer, _ int) bool {
			_, known := e.peers.PeerByKey(p.PublicKey)
			return known
		})
		if len(pool) == 0 {
			pool = usable
		}
		next = Peer{PublicKey: pool[0].PublicKey}
		alternates = lo.Reject(usable, func(p Peer, _ int) bool { return p.Equal(next) })
	}

	hop, err := newHop(e.crypto, next)
	if err != nil {
		e._removeCircuit(c.id, ReasonCrypto, false, true)
		return
	}
	c.unverified = hop

	if retry {
		err := e.cache.Add(&retryRequest{
			e:       e,
			id:      c.id,
			timeout: e.cfg.NextHopTimeout,
			state: RetryState{
				Remaining: alternates,
				attempt:   func(remaining []Peer) { e._sendExtend(c, remaining) },
			},
		})
		if err != nil {
			return
		}
	}

	log.WithFields(logger.Fields{
		"at":         "(Engine) _sendExtend",
		"phase":      "build",
		"circuit_id": c.id,
		"candidate":  shortKey(next.PublicKey),
	}).Debug("extending circuit")

	n, _ := e._sendCell(c.peerAddress(), &message.Extend{
		CircuitID:     c.id,
		NodePublicKey: next.PublicKey,
		NodeAddr:      next.Address,
		Key:           hop.dhFirstPart,
	})
	c.bytesUp += uint64(n)
	e.metrics.RecordBytesSent(roleCircuit, n)
}
