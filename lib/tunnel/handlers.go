package tunnel

import (
	"net/netip"

	"github.com/go-i2p/go-onion/lib/crypto"
	"github.com/go-i2p/go-onion/lib/message"
	"github.com/go-i2p/logger"
	"github.com/samber/lo"
)

// _onCell routes an inbound cell: relayed if its ID is one leg of a splice,
// otherwise decrypted and dispatched.
func (e *Engine) _onCell(src netip.AddrPort, cell *message.Cell, size int) {
	id := cell.CircuitID
	now := e.clock.Now()

	if r, ok := e._relay(id); ok {
		if r.closing {
			return
		}
		r.beat(now)
		if partner, ok := e._relay(r.circuitID); ok {
			partner.beat(now)
			partner.bytesDown += uint64(size)
		}
		e.metrics.RecordBytesReceived(roleRelay, size)
		e._relayCell(cell, r)
		return
	}

	c, isCircuit := e._circuit(id)
	if err := e._decryptCell(cell); err != nil {
		if isCircuit {
			log.WithFields(logger.Fields{
				"at":         "(Engine) _onCell",
				"circuit_id": id,
				"type":       cell.MessageType.String(),
			}).WithError(err).Warn("undecryptable cell on own circuit")
			e.metrics.RecordCellDropped("crypto")
			e._removeCircuit(id, ReasonCrypto, false, true)
			return
		}
		log.WithFields(logger.Fields{
			"at":         "(Engine) _onCell",
			"circuit_id": id,
			"type":       cell.MessageType.String(),
			"source":     src.String(),
		}).WithError(err).Debug("dropping cell")
		e.metrics.RecordCellDropped("crypto")
		return
	}

	m, err := cell.Unwrap()
	if err != nil {
		log.WithFields(logger.Fields{
			"at":         "(Engine) _onCell",
			"circuit_id": id,
			"type":       cell.MessageType.String(),
		}).WithError(err).Warn("dropping malformed message")
		e.metrics.RecordCellDropped("malformed")
		return
	}
	e._dispatch(src, m)

	if isCircuit && !c.closing {
		c.beat(now)
		c.bytesDown += uint64(size)
		e.metrics.RecordBytesReceived(roleCircuit, size)
	}
}

func (e *Engine) _dispatch(src netip.AddrPort, m message.Message) {
	switch m := m.(type) {
	case *message.Create:
		e._onCreate(src, m)
	case *message.Created:
		e._onCreated(src, m)
	case *message.Extend:
		e._onExtend(src, m)
	case *message.Extended:
		e._onExtended(src, m)
	case *message.Data:
		e._onData(src, m)
	case *message.Ping:
		e._onPing(src, m)
	case *message.Pong:
		e._onPong(src, m)
	}
}

func (e *Engine) _onCreate(src netip.AddrPort, m *message.Create) {
	fields := logger.Fields{
		"at":         "(Engine) _onCreate",
		"phase":      "join",
		"circuit_id": m.CircuitID,
		"source":     src.String(),
	}
	if e.cache.Has(cacheKey(kindCreated, uint32(m.CircuitID))) {
		log.WithFields(fields).Warn("already have a request for this circuit id")
		return
	}
	if _, ok := e.routes[m.CircuitID]; ok {
		log.WithFields(fields).Warn("circuit id already in use")
		return
	}
	if !e.limiter.Allow(src.Addr(), e.clock.Now()) {
		e.metrics.RecordAdmissionRejection("rate_limit")
		return
	}
	if joined := e._joinedCount(); e.cfg.MaxJoinedCircuits <= joined {
		fields["joined"] = joined
		log.WithFields(fields).Warn("too many relays, not joining circuit")
		e.metrics.RecordAdmissionRejection("capacity")
		return
	}
	e._joinCircuit(src, m)
}

// _joinCircuit answers CREATE as the new last hop of someone's circuit. The
// circuit terminates here as an exit socket until it is extended.
func (e *Engine) _joinCircuit(src netip.AddrPort, m *message.Create) {
	id := m.CircuitID
	fields := logger.Fields{
		"at":         "(Engine) _joinCircuit",
		"phase":      "join",
		"circuit_id": id,
		"source":     src.String(),
	}
	shared, key, auth, err := e.crypto.GenerateDiffieSharedSecret(m.Key)
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("refusing create with bad handshake key")
		e.metrics.RecordHandshakeFailure("responder")
		return
	}
	keys, err := e.crypto.GenerateSessionKeys(shared)
	if err != nil {
		log.WithFields(fields).WithError(err).Error("failed to derive session keys")
		return
	}

	offered := lo.Filter(e._compatiblePeers(), func(p Peer, _ int) bool {
		_, exit := e.exitCandidates[p.key()]
		return !exit
	})
	offered = lo.Samples(offered, e.cfg.MaxOfferedCandidates)
	candidates := make(map[string]Peer, len(offered))
	list := make([][]byte, 0, len(offered))
	for _, p := range offered {
		candidates[p.key()] = p
		list = append(list, p.PublicKey)
	}
	encoded, err := message.EncodeCandidates(list)
	if err != nil {
		log.WithFields(fields).WithError(err).Error("failed to encode candidates")
		return
	}
	k, salt, explicit := keys.Next(crypto.ExitNode)
	candidateList, err := e.crypto.EncryptStr(encoded, k, salt, explicit)
	if err != nil {
		log.WithFields(fields).WithError(err).Error("failed to encrypt candidates")
		return
	}

	prev := Peer{PublicKey: m.NodePublicKey, Address: src}
	if err := e.cache.Add(&createdRequest{
		id:         id,
		prev:       prev,
		candidates: candidates,
		timeout:    e.cfg.UnstableTimeout,
	}); err != nil {
		return
	}
	e.keys[id] = keys
	e.routes[id] = newExitSocket(id, prev, e.clock.Now())
	e.metrics.RecordJoin()

	log.WithFields(fields).Info("joined circuit")
	_, _ = e._sendCell(src, &message.Created{
		CircuitID:     id,
		Key:           key,
		Auth:          auth,
		CandidateList: candidateList,
	})
}

func (e *Engine) _onCreated(src netip.AddrPort, m *message.Created) {
	if entry, ok := e.cache.Pop(cacheKey(kindCreate, uint32(m.CircuitID))); ok {
		e._spliceRelay(entry.(*createRequest), m)
		return
	}
	if e.cache.Has(cacheKey(kindCircuit, uint32(m.CircuitID))) && e.cache.Has(cacheKey(kindRetry, uint32(m.CircuitID))) {
		if c, ok := e._circuit(m.CircuitID); ok {
			e._oursOnCreatedExtended(c, m.Key, m.Auth, m.CandidateList)
			return
		}
	}
	log.WithFields(logger.Fields{
		"at":         "(Engine) _onCreated",
		"circuit_id": m.CircuitID,
		"source":     src.String(),
	}).Warn("received unexpected created")
}

// _spliceRelay turns the exit socket of an extended circuit into a relay
// pair and passes the new hop's answer back as EXTENDED.
func (e *Engine) _spliceRelay(req *createRequest, m *message.Created) {
	fields := logger.Fields{
		"at":    "(Engine) _spliceRelay",
		"phase": "relay",
		"from":  req.from,
		"to":    req.to,
	}
	s, ok := e._exitSocket(req.from)
	keys, hasKeys := e.keys[req.from]
	if !ok || s.closing || !hasKeys {
		log.WithFields(fields).Warn("incoming leg is gone, abandoning extension")
		e._sendDestroy(req.toPeer.Address, req.to, ReasonDestroyed)
		return
	}
	s.close()

	now := e.clock.Now()
	e.routes[req.to] = newRelayRoute(req.from, req.fromPeer, crypto.Originator, now)
	e.routes[req.from] = newRelayRoute(req.to, req.toPeer, crypto.ExitNode, now)
	e.keys[req.to] = keys

	log.WithFields(fields).Info("got created, forwarding as extended")
	_, _ = e._sendCell(req.fromPeer.Address, &message.Extended{
		CircuitID:     req.from,
		Key:           m.Key,
		Auth:          m.Auth,
		CandidateList: m.CandidateList,
	})
}

func (e *Engine) _onExtend(src netip.AddrPort, m *message.Extend) {
	fields := logger.Fields{
		"at":         "(Engine) _onExtend",
		"phase":      "relay",
		"circuit_id": m.CircuitID,
		"source":     src.String(),
	}
	entry, ok := e.cache.Get(cacheKey(kindCreated, uint32(m.CircuitID)))
	if !ok {
		log.WithFields(fields).Warn("received unexpected extend")
		return
	}
	req := entry.(*createdRequest)

	candidate, offered := req.candidates[string(m.NodePublicKey)]
	if !offered {
		if !m.NodeAddr.IsValid() {
			log.WithFields(fields).Warn("node public key not in request candidates and no address specified")
			return
		}
		if p, ok := e.peers.PeerByKey(m.NodePublicKey); ok {
			candidate = p
		} else {
			candidate = Peer{PublicKey: m.NodePublicKey, Address: m.NodeAddr}
		}
	}
	if !candidate.Address.IsValid() {
		log.WithFields(fields).Warn("no address for extend candidate")
		return
	}

	var from Peer
	switch r := e.routes[m.CircuitID].(type) {
	case *Circuit:
		from, _ = r.peer()
	case *ExitSocket:
		from = r.peer
	case *RelayRoute:
		from = r.peer
	default:
		log.WithFields(fields).Error("got extend for unknown source circuit")
		return
	}

	to := e._newCircuitID()
	if err := e.cache.Add(&createRequest{
		to:       to,
		from:     m.CircuitID,
		fromPeer: from,
		toPeer:   candidate,
		timeout:  e.cfg.NextHopTimeout,
	}); err != nil {
		return
	}
	fields["to"] = to
	fields["candidate"] = candidate.String()
	log.WithFields(fields).Info("extending circuit, sending create")
	_, _ = e._sendCell(candidate.Address, &message.Create{
		CircuitID:     to,
		NodePublicKey: e.crypto.PublicKey(),
		Key:           m.Key,
	})
}

func (e *Engine) _onExtended(src netip.AddrPort, m *message.Extended) {
	c, ok := e._circuit(m.CircuitID)
	if !ok || !e.cache.Has(cacheKey(kindCircuit, uint32(m.CircuitID))) {
		log.WithFields(logger.Fields{
			"at":         "(Engine) _onExtended",
			"circuit_id": m.CircuitID,
			"source":     src.String(),
		}).Warn("received unexpected extended")
		return
	}
	e._oursOnCreatedExtended(c, m.Key, m.Auth, m.CandidateList)
}

// _onData delivers data arriving on one of our circuits, or exits data that
// reached the end of somebody else's.
func (e *Engine) _onData(src netip.AddrPort, m *message.Data) {
	if c, ok := e._circuit(m.CircuitID); ok && m.Origin.IsValid() && src == c.peerAddress() {
		c.beat(e.clock.Now())
		if e.codec.Matches(m.Payload) {
			if e.onOverlay != nil {
				e.onOverlay(m.CircuitID, m.Origin, m.Payload)
			}
			return
		}
		if e.onRaw != nil {
			e.onRaw(c.info(), m.Origin, m.Payload)
		}
		return
	}
	if IsNullAddress(m.Destination) {
		log.WithFields(logger.Fields{
			"at":         "(Engine) _onData",
			"circuit_id": m.CircuitID,
		}).Warn("cannot exit data, destination is 0.0.0.0:0")
		return
	}
	e._exitData(m.CircuitID, src, m.Destination, m.Payload)
}

func (e *Engine) _exitData(id CircuitID, src, dst netip.AddrPort, data []byte) {
	fields := logger.Fields{
		"at":          "(Engine) _exitData",
		"phase":       "exit",
		"circuit_id":  id,
		"destination": dst.String(),
	}
	if !e.becomeExit && !e.codec.Matches(data) {
		log.WithFields(fields).Error("dropping data packets, refusing to be an exit node for data")
		e.metrics.RecordCellDropped("not_exit")
		return
	}
	s, ok := e._exitSocket(id)
	if !ok || s.closing {
		log.WithFields(fields).Error("dropping data packets with unknown circuit id")
		e.metrics.RecordCellDropped("unknown_circuit")
		return
	}
	if !s.enabled {
		if src != s.peer.Address {
			fields["source"] = src.String()
			fields["peer"] = s.peer.Address.String()
			log.WithFields(fields).Error("dropping outbound relayed packet from unexpected address")
			e.metrics.RecordCellDropped("spoofed")
			return
		}
		err := s.enable(e.dialer, func(from netip.AddrPort, b []byte) {
			e.DeliverFromExit(id, from, b)
		})
		if err != nil {
			log.WithFields(fields).WithError(err).Warn("failed to open exit transport")
			return
		}
	}
	if err := s.sendTo(dst, data); err != nil {
		log.WithFields(fields).WithError(err).Warn("dropping data packets while exiting")
		return
	}
	s.beat(e.clock.Now())
	s.bytesUp += uint64(len(data))
	e.metrics.RecordBytesSent(roleExit, len(data))
}

// DeliverFromExit sends a datagram received by the exit transport of circuit
// id back along the circuit. It is safe to call from any goroutine.
func (e *Engine) DeliverFromExit(id CircuitID, src netip.AddrPort, data []byte) {
	e.Act(nil, func() {
		e._deliverFromExit(id, src, data)
	})
}

func (e *Engine) _deliverFromExit(id CircuitID, src netip.AddrPort, data []byte) {
	s, ok := e._exitSocket(id)
	if !ok || s.closing || !s.enabled {
		return
	}
	if !e.becomeExit && !e.codec.Matches(data) {
		e.metrics.RecordCellDropped("not_exit")
		return
	}
	s.beat(e.clock.Now())
	s.bytesDown += uint64(len(data))
	e.metrics.RecordBytesReceived(roleExit, len(data))
	_, _ = e._sendCell(s.peer.Address, &message.Data{
		CircuitID:   id,
		Destination: nullAddress,
		Origin:      src,
		Payload:     data,
	})
}

func (e *Engine) _onPing(src netip.AddrPort, m *message.Ping) {
	if _, ok := e.routes[m.CircuitID]; !ok {
		return
	}
	if s, ok := e._exitSocket(m.CircuitID); ok {
		s.beat(e.clock.Now())
	}
	_, _ = e._sendCell(src, &message.Pong{CircuitID: m.CircuitID, Identifier: m.Identifier})
}

func (e *Engine) _onPong(src netip.AddrPort, m *message.Pong) {
	if _, ok := e.cache.Pop(cacheKey(kindPing, uint32(m.Identifier))); !ok {
		log.WithFields(logger.Fields{
			"at":         "(Engine) _onPong",
			"circuit_id": m.CircuitID,
			"source":     src.String(),
		}).Warn("invalid ping identifier")
	}
}

// _onDestroy honours DESTROY only from the peer entitled to send it for the
// circuit ID's role.
func (e *Engine) _onDestroy(src netip.AddrPort, d *message.Destroy) {
	id := d.CircuitID
	switch r := e.routes[id].(type) {
	case *RelayRoute:
		if partner, ok := e._relay(r.circuitID); ok && partner.circuitID == id && partner.peer.Address == src {
			e._removeRelay(id, ReasonDestroyed, false, true, &destroySource{circuitID: id, address: src}, true)
			return
		}
	case *ExitSocket:
		if src == r.peer.Address {
			e._removeExitSocket(id, ReasonDestroyed, false, false)
			return
		}
	case *Circuit:
		if src == r.peerAddress() {
			e._removeCircuit(id, ReasonDestroyed, false, false)
			return
		}
	}
	log.WithFields(logger.Fields{
		"at":         "(Engine) _onDestroy",
		"circuit_id": id,
		"source":     src.String(),
		"reason":     Reason(d.Reason).String(),
	}).Warn("invalid or unauthorized destroy")
}
