package tunnel

import (
	"encoding/binary"
	"net/netip"

	"github.com/Arceliar/phony"
	"github.com/benbjohnson/clock"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-onion/lib/config"
	"github.com/go-i2p/go-onion/lib/crypto"
	"github.com/go-i2p/go-onion/lib/message"
	"github.com/go-i2p/go-onion/lib/requestcache"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Engine is the tunnel protocol engine of one node.
type Engine struct {
	phony.Inbox

	cfg      config.TunnelDefaults
	crypto   Crypto
	endpoint Endpoint
	peers    PeerSource
	codec    *message.Codec
	clock    clock.Clock
	random   func([]byte) (int, error)
	metrics  *Metrics
	limiter  *SourceLimiter

	dialer    ExitDialer
	onRaw     RawDataHandler
	onOverlay OverlayHandler

	routes         map[CircuitID]route
	keys           map[CircuitID]*crypto.SessionKeys
	pendingPurge   map[route]*clock.Timer
	cache          *requestcache.Cache
	exitCandidates map[string]Peer
	circuitsNeeded map[int]int
	becomeExit     bool
	roundRobin     int

	running     bool
	maintenance *clock.Timer
	pingTimer   *clock.Timer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

// WithExitDialer sets how exit sockets reach the public network.
func WithExitDialer(d ExitDialer) Option {
	return func(e *Engine) { e.dialer = d }
}

// WithRawDataHandler sets the receiver for non-overlay payloads arriving on
// our circuits.
func WithRawDataHandler(h RawDataHandler) Option {
	return func(e *Engine) { e.onRaw = h }
}

// WithOverlayHandler sets the receiver for overlay packets arriving on our
// circuits.
func WithOverlayHandler(h OverlayHandler) Option {
	return func(e *Engine) { e.onOverlay = h }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPrefix sets the overlay prefix of outer packets.
func WithPrefix(p message.Prefix) Option {
	return func(e *Engine) { e.codec = message.NewCodec(p) }
}

// WithSourceLimiter replaces the per-source CREATE limiter built from the
// configuration. A nil limiter disables per-source limiting.
func WithSourceLimiter(sl *SourceLimiter) Option {
	return func(e *Engine) { e.limiter = sl }
}

// New returns an engine that is not yet running. Call Start to begin
// periodic maintenance.
func New(cfg config.TunnelDefaults, c Crypto, ep Endpoint, peers PeerSource, opts ...Option) *Engine {
	e := &Engine{
		cfg:            cfg,
		crypto:         c,
		endpoint:       ep,
		peers:          peers,
		codec:          message.NewCodec(message.DefaultPrefix),
		clock:          clock.New(),
		random:         func(b []byte) (int, error) { return rand.Read(b) },
		limiter:        NewSourceLimiterWithConfig(cfg),
		routes:         make(map[CircuitID]route),
		keys:           make(map[CircuitID]*crypto.SessionKeys),
		pendingPurge:   make(map[route]*clock.Timer),
		exitCandidates: make(map[string]Peer),
		circuitsNeeded: make(map[int]int),
		becomeExit:     cfg.BecomeExitNode,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = requestcache.New(e, e.clock)
	return e
}

// Start schedules the maintenance and ping tasks.
func (e *Engine) Start() {
	phony.Block(e, func() {
		if e.running {
			return
		}
		e.running = true
		e._scheduleMaintenance()
		e._schedulePing()
		log.WithFields(logger.Fields{
			"at":          "(Engine) Start",
			"public_key":  shortKey(e.crypto.PublicKey()),
			"become_exit": e.becomeExit,
		}).Info("tunnel engine started")
	})
}

// Stop removes every circuit, relay and exit socket immediately, sending
// DESTROY for each, and cancels all timers. A stopped engine cannot be
// restarted.
func (e *Engine) Stop() {
	phony.Block(e, func() {
		e._unload()
		e.running = false
		if e.maintenance != nil {
			e.maintenance.Stop()
		}
		if e.pingTimer != nil {
			e.pingTimer.Stop()
		}
	})
}

func (e *Engine) _scheduleMaintenance() {
	e.maintenance = e.clock.AfterFunc(e.cfg.MaintenanceInterval, func() {
		e.Act(nil, func() {
			if !e.running {
				return
			}
			e._doCircuits()
			e._scheduleMaintenance()
		})
	})
}

func (e *Engine) _schedulePing() {
	e.pingTimer = e.clock.AfterFunc(e.cfg.PingInterval, func() {
		e.Act(nil, func() {
			if !e.running {
				return
			}
			e._doPing()
			e._schedulePing()
		})
	})
}

// HandlePacket decodes an outer packet received from src and processes it on
// the engine's actor. Transports call it from their receive loops.
func (e *Engine) HandlePacket(src netip.AddrPort, data []byte) {
	pkt, err := e.codec.Decode(data)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":     "(Engine) HandlePacket",
			"source": src.String(),
		}).WithError(err).Debug("dropping undecodable packet")
		e.metrics.RecordCellDropped("decode")
		return
	}
	size := len(data)
	e.Act(nil, func() {
		switch {
		case pkt.Cell != nil:
			e._onCell(src, pkt.Cell, size)
		case pkt.Destroy != nil:
			e._onDestroy(src, pkt.Destroy)
		}
	})
}

// _newCircuitID returns a random non-zero ID unused by any route or pending
// relay extension.
func (e *Engine) _newCircuitID() CircuitID {
	var b [4]byte
	for {
		if _, err := e.random(b[:]); err != nil {
			panic(err)
		}
		id := CircuitID(binary.BigEndian.Uint32(b[:]))
		if id == 0 {
			continue
		}
		if _, ok := e.routes[id]; ok {
			continue
		}
		if e.cache.Has(cacheKey(kindCreate, uint32(id))) {
			continue
		}
		return id
	}
}

func (e *Engine) _limits() limits {
	return limits{
		maxInactive: e.cfg.MaxTimeInactive,
		maxAge:      e.cfg.MaxTime,
		maxTraffic:  e.cfg.MaxTraffic,
	}
}
