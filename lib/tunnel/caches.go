package tunnel

import (
	"time"

	"github.com/go-i2p/go-onion/lib/requestcache"
	"github.com/go-i2p/logger"
)

// Request kinds held in the engine's request cache.
const (
	kindCircuit requestcache.Kind = "circuit"
	kindRetry   requestcache.Kind = "retry"
	kindCreated requestcache.Kind = "created"
	kindCreate  requestcache.Kind = "create"
	kindPing    requestcache.Kind = "ping"
)

func cacheKey(kind requestcache.Kind, id uint32) requestcache.Key {
	return requestcache.Key{Kind: kind, ID: id}
}

// circuitRequest bounds the time a circuit may spend EXTENDING.
type circuitRequest struct {
	e       *Engine
	id      CircuitID
	timeout time.Duration
}

func (r *circuitRequest) Key() requestcache.Key  { return cacheKey(kindCircuit, uint32(r.id)) }
func (r *circuitRequest) Timeout() time.Duration { return r.timeout }

func (r *circuitRequest) OnTimeout() {
	c, ok := r.e._circuit(r.id)
	if !ok || c.State() == StateReady {
		return
	}
	r.e._removeCircuit(r.id, ReasonTimeout, false, false)
}

// RetryState is the retry contract for one hop position: the candidates not
// yet tried and the function that tries the next one.
type RetryState struct {
	Remaining []Peer
	attempt   func(remaining []Peer)
}

// retryRequest guards a single CREATE or EXTEND sent by the originator.
type retryRequest struct {
	e       *Engine
	id      CircuitID
	state   RetryState
	timeout time.Duration
}

func (r *retryRequest) Key() requestcache.Key  { return cacheKey(kindRetry, uint32(r.id)) }
func (r *retryRequest) Timeout() time.Duration { return r.timeout }

func (r *retryRequest) OnTimeout() {
	c, ok := r.e._circuit(r.id)
	if !ok {
		return
	}
	if s := c.State(); s == StateClosing || s == StateReady {
		return
	}
	r.e.metrics.RecordHandshakeFailure("timeout")
	if len(r.state.Remaining) == 0 {
		r.e._removeCircuit(r.id, ReasonNoCandidates, false, false)
		return
	}
	log.WithFields(logger.Fields{
		"at":         "(retryRequest) OnTimeout",
		"phase":      "build",
		"circuit_id": r.id,
		"remaining":  len(r.state.Remaining),
	}).Info("hop did not answer, trying an alternate")
	r.state.attempt(r.state.Remaining)
}

// createdRequest is held by a node that joined a circuit until the circuit is
// extended through it or the entry expires. The circuit owner may extend more
// than once, so the entry is read, not popped, by EXTEND.
type createdRequest struct {
	id         CircuitID
	prev       Peer
	candidates map[string]Peer
	timeout    time.Duration
}

func (r *createdRequest) Key() requestcache.Key  { return cacheKey(kindCreated, uint32(r.id)) }
func (r *createdRequest) Timeout() time.Duration { return r.timeout }
func (r *createdRequest) OnTimeout()             {}

// createRequest correlates a CREATE sent on behalf of an EXTEND with the
// incoming leg it will be spliced to.
type createRequest struct {
	to       CircuitID
	from     CircuitID
	fromPeer Peer
	toPeer   Peer
	timeout  time.Duration
}

func (r *createRequest) Key() requestcache.Key  { return cacheKey(kindCreate, uint32(r.to)) }
func (r *createRequest) Timeout() time.Duration { return r.timeout }
func (r *createRequest) OnTimeout()             {}

type pingRequest struct {
	identifier uint16
	circuitID  CircuitID
	timeout    time.Duration
}

func (r *pingRequest) Key() requestcache.Key  { return cacheKey(kindPing, uint32(r.identifier)) }
func (r *pingRequest) Timeout() time.Duration { return r.timeout }

func (r *pingRequest) OnTimeout() {
	log.WithFields(logger.Fields{
		"at":         "(pingRequest) OnTimeout",
		"circuit_id": r.circuitID,
	}).Debug("no pong received")
}
