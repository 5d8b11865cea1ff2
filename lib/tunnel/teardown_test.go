package tunnel

import (
	"net/netip"
	"testing"
	"time"

	"github.com/Arceliar/phony"
	"github.com/go-i2p/go-onion/lib/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveCircuitIsIdempotent(t *testing.T) {
	cfg := testConfig()
	tn := newTestNetWith(t, 2, cfg)
	origin, exit := tn.nodes[0], tn.nodes[1]
	info := readyCircuit(t, origin, exit, 1)
	sent := tn.countCells(origin.peer.Address)

	origin.RemoveCircuit(info.ID, ReasonRequested)
	origin.RemoveCircuit(info.ID, ReasonRequested)
	assert.Equal(t, 1, sent(message.TypeDestroy))

	c, ok := origin.Circuit(info.ID)
	require.True(t, ok)
	assert.Equal(t, StateClosing, c.State)
	assert.Empty(t, origin.DataCircuits(0), "closing circuits are not listed")

	tn.clock.Add(cfg.RemoveTunnelDelay + time.Millisecond)
	assert.Eventually(t, func() bool {
		_, ok := origin.Circuit(info.ID)
		return !ok
	}, waitFor, 10*time.Millisecond)

	origin.RemoveCircuit(info.ID, ReasonRequested)
	assert.Equal(t, 1, sent(message.TypeDestroy))
}

func TestDestroyRequiresFirstHop(t *testing.T) {
	tn := newTestNetWith(t, 2, testConfig())
	origin, exit := tn.nodes[0], tn.nodes[1]
	info := readyCircuit(t, origin, exit, 1)

	rogue, err := tn.net.Attach(netip.MustParseAddrPort("10.6.6.6:7760"), func(netip.AddrPort, []byte) {})
	require.NoError(t, err)
	destroy := tn.codec.EncodeDestroy(&message.Destroy{CircuitID: info.ID, Reason: uint16(ReasonDestroyed)})

	require.NoError(t, rogue.Send(origin.peer.Address, destroy))
	phony.Block(origin.Engine, func() {})
	c, _ := origin.Circuit(info.ID)
	assert.Equal(t, StateReady, c.State, "destroy from a stranger is ignored")

	require.NoError(t, exit.ep.Send(origin.peer.Address, destroy))
	phony.Block(origin.Engine, func() {})
	c, _ = origin.Circuit(info.ID)
	assert.Equal(t, StateClosing, c.State)
}

func TestDestroyPropagatesAlongRelays(t *testing.T) {
	tn := newTestNetWith(t, 4, testConfig())
	origin, exit := tn.nodes[0], tn.nodes[3]
	info := readyCircuit(t, origin, exit, 3)

	origin.RemoveCircuit(info.ID, ReasonRequested)
	assert.Eventually(t, func() bool {
		var closing bool
		phony.Block(exit.Engine, func() {
			for _, r := range exit.routes {
				if s, ok := r.(*ExitSocket); ok {
					closing = s.closing
				}
			}
		})
		return closing
	}, waitFor, 10*time.Millisecond)

	for _, relay := range tn.nodes[1:3] {
		phony.Block(relay.Engine, func() {
			for id, r := range relay.routes {
				if rr, ok := r.(*RelayRoute); assert.True(t, ok) {
					assert.True(t, rr.closing, "relay %d left open", id)
				}
			}
		})
	}
}

func TestRemoveRelayClosesBothLegs(t *testing.T) {
	tn := newTestNetWith(t, 3, testConfig())
	origin, middle, exit := tn.nodes[0], tn.nodes[1], tn.nodes[2]
	readyCircuit(t, origin, exit, 2)
	sent := tn.countCells(middle.peer.Address)

	var id CircuitID
	phony.Block(middle.Engine, func() {
		for k := range middle.routes {
			id = k
		}
	})
	middle.RemoveRelay(id, ReasonRequested)
	assert.Equal(t, 2, sent(message.TypeDestroy), "one destroy per leg")
	assert.Equal(t, 2, middle.Stats().Relays, "closed legs wait for the purge")

	middle.RemoveRelay(id, ReasonRequested)
	assert.Equal(t, 2, sent(message.TypeDestroy))
}

func TestRemoveExitSocket(t *testing.T) {
	cfg := testConfig()
	tn := newTestNetWith(t, 2, cfg)
	origin, exit := tn.nodes[0], tn.nodes[1]
	info := readyCircuit(t, origin, exit, 1)

	exit.RemoveExitSocket(info.ID, ReasonRequested)
	assert.Eventually(t, func() bool {
		c, _ := origin.Circuit(info.ID)
		return c.State == StateClosing
	}, waitFor, 10*time.Millisecond)

	tn.clock.Add(cfg.RemoveTunnelDelay + time.Millisecond)
	assert.Eventually(t, func() bool {
		return exit.Stats().ExitSockets == 0
	}, waitFor, 10*time.Millisecond)
}

func TestPruneExpiredRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTime = time.Minute
	cfg.MaxTimeInactive = time.Minute
	tn := newTestNetWith(t, 2, cfg)
	origin, exit := tn.nodes[0], tn.nodes[1]
	info := readyCircuit(t, origin, exit, 1)
	tn.settle()

	tn.clock.Add(2 * cfg.MaxTime)
	phony.Block(origin.Engine, origin._doRemove)
	phony.Block(exit.Engine, exit._doRemove)

	c, ok := origin.Circuit(info.ID)
	require.True(t, ok)
	assert.Equal(t, StateClosing, c.State)
	phony.Block(exit.Engine, func() {
		s, ok := exit._exitSocket(info.ID)
		if assert.True(t, ok) {
			assert.True(t, s.closing)
		}
	})
}

func TestPruneByAgeWhileActive(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTime = time.Minute
	cfg.MaxTimeInactive = 10 * time.Minute
	tn := newTestNet(t)
	m := NewMetricsWithRegistry(prometheus.NewRegistry(), "test")
	origin := tn.addNode(cfg, WithMetrics(m))
	middle := tn.addNode(cfg)
	exit := tn.addNode(cfg)
	tn.connect()
	info := readyCircuit(t, origin, exit, 2)
	tn.settle()

	beat := func(d time.Duration) {
		t.Helper()
		tn.clock.Add(d)
		phony.Block(origin.Engine, origin._doPing)
		require.Eventually(t, func() bool {
			return origin.Stats().PendingRequests == 0
		}, waitFor, 10*time.Millisecond, "pong never arrived")
	}
	prune := func(nodes ...*testNode) {
		for _, n := range nodes {
			phony.Block(n.Engine, n._doRemove)
		}
	}

	beat(25 * time.Second)
	beat(25 * time.Second)
	prune(origin, middle, exit)
	c, ok := origin.Circuit(info.ID)
	require.True(t, ok)
	require.Equal(t, StateReady, c.State, "young active circuits are kept")

	beat(20 * time.Second)
	sent := tn.countCells(origin.peer.Address)
	prune(origin, middle, exit)

	c, ok = origin.Circuit(info.ID)
	require.True(t, ok)
	assert.Equal(t, StateClosing, c.State)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitsRemoved.WithLabelValues(roleCircuit, ReasonTooOld.String())))
	assert.Equal(t, 1, sent(message.TypeDestroy))

	phony.Block(middle.Engine, func() {
		assert.Len(t, middle.routes, 2)
		for id, r := range middle.routes {
			if rr, ok := r.(*RelayRoute); assert.True(t, ok) {
				assert.True(t, rr.closing, "relay %d left open", id)
			}
		}
	})
	phony.Block(exit.Engine, func() {
		assert.Len(t, exit.routes, 1)
		for _, r := range exit.routes {
			if s, ok := r.(*ExitSocket); assert.True(t, ok) {
				assert.True(t, s.closing)
			}
		}
	})

	tn.clock.Add(cfg.RemoveTunnelDelay + time.Millisecond)
	assert.Eventually(t, func() bool {
		return origin.Stats().Circuits == 0 && middle.Stats().Relays == 0 && exit.Stats().ExitSockets == 0
	}, waitFor, 10*time.Millisecond)
}

func TestExpiry(t *testing.T) {
	start := time.Unix(1000, 0)
	lim := limits{maxInactive: 10 * time.Second, maxAge: time.Minute, maxTraffic: 100}

	a := newActivity(start)
	assert.Equal(t, ReasonNone, a.expiry(start.Add(5*time.Second), lim, true))
	assert.Equal(t, ReasonInactive, a.expiry(start.Add(11*time.Second), lim, true))
	assert.Equal(t, ReasonNone, a.expiry(start.Add(11*time.Second), lim, false))
	assert.Equal(t, ReasonTooOld, a.expiry(start.Add(2*time.Minute), lim, false))

	a.bytesUp, a.bytesDown = 60, 41
	assert.Equal(t, ReasonTraffic, a.expiry(start, lim, true))
}

func TestStopRemovesEverything(t *testing.T) {
	tn := newTestNetWith(t, 2, testConfig())
	origin, exit := tn.nodes[0], tn.nodes[1]
	readyCircuit(t, origin, exit, 1)
	sent := tn.countCells(origin.peer.Address)

	origin.Stop()
	stats := origin.Stats()
	assert.Zero(t, stats.Circuits)
	assert.Zero(t, stats.PendingRequests)
	assert.Equal(t, 1, sent(message.TypeDestroy))
}
