package tunnel

import (
	"testing"
	"time"

	"github.com/go-i2p/go-onion/lib/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTunnelsAndRoundRobin(t *testing.T) {
	cfg := testConfig()
	tn := newTestNetWith(t, 2, cfg)
	origin, exit := tn.nodes[0], tn.nodes[1]
	origin.UpdateExitCandidates(exit.peer, true)

	assert.Equal(t, 1.0, origin.TunnelsReady(1), "nothing wanted yet")
	_, err := origin.SelectCircuit(1)
	assert.ErrorIs(t, err, ErrCircuitNotReady)

	origin.BuildTunnels(1)
	assert.Len(t, origin.DataCircuits(1), cfg.MaxCircuits)
	assert.Eventually(t, func() bool {
		return origin.TunnelsReady(1) == 1
	}, waitFor, 10*time.Millisecond)

	ready := origin.ActiveDataCircuits(1)
	require.Len(t, ready, 2)
	assert.Less(t, ready[0].ID, ready[1].ID)

	first, err := origin.SelectCircuit(1)
	require.NoError(t, err)
	second, err := origin.SelectCircuit(1)
	require.NoError(t, err)
	third, err := origin.SelectCircuit(1)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.ID, third.ID)

	_, err = origin.SelectCircuit(2)
	assert.ErrorIs(t, err, ErrCircuitNotReady)

	// A second maintenance pass has nothing left to build.
	origin.BuildTunnels(1)
	assert.Len(t, origin.DataCircuits(1), cfg.MaxCircuits)
}

func TestDataCircuitsSkipsServiceCircuits(t *testing.T) {
	tn := newTestNetWith(t, 3, testConfig())
	origin := tn.nodes[0]

	_, done, err := origin.BuildCircuit(1, CircuitIntroduction, nil, nil)
	require.NoError(t, err)
	waitReady(t, done)

	assert.Empty(t, origin.DataCircuits(0))
	assert.Equal(t, 1, origin.Stats().ReadyCircuits)
}

func TestIntroductionUpdatesExitCandidates(t *testing.T) {
	tn := newTestNetWith(t, 2, testConfig())
	node, other := tn.nodes[0], tn.nodes[1]

	assert.Equal(t, message.EncodeIntroduction(false), node.IntroductionExtraBytes())
	node.SetBecomeExit(true)
	assert.True(t, node.BecomeExit())
	assert.Equal(t, message.EncodeIntroduction(true), node.IntroductionExtraBytes())

	node.OnIntroduction(other.peer, message.EncodeIntroduction(true))
	require.Len(t, node.ExitCandidates(), 1)
	assert.Equal(t, other.peer.Address, node.ExitCandidates()[0].Address)

	node.OnIntroduction(other.peer, []byte{0xff, 0xff, 0xff})
	assert.Len(t, node.ExitCandidates(), 1, "malformed bytes leave candidates alone")

	node.OnIntroduction(other.peer, message.EncodeIntroduction(false))
	assert.Empty(t, node.ExitCandidates())
}

func TestExitCandidatesPrunedWithPeers(t *testing.T) {
	tn := newTestNetWith(t, 2, testConfig())
	node, other := tn.nodes[0], tn.nodes[1]
	node.UpdateExitCandidates(other.peer, true)

	node.peers.set([]Peer{node.peer})
	node.BuildTunnels(1)
	assert.Empty(t, node.ExitCandidates())
}
