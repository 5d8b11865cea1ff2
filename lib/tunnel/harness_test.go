package tunnel

import (
	"bytes"
	"net/netip"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Arceliar/phony"
	"github.com/benbjohnson/clock"
	"github.com/go-i2p/go-onion/lib/config"
	"github.com/go-i2p/go-onion/lib/crypto"
	"github.com/go-i2p/go-onion/lib/crypto/curve25519"
	"github.com/go-i2p/go-onion/lib/message"
	"github.com/go-i2p/go-onion/lib/transport/memory"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

type staticPeers struct {
	mu    sync.RWMutex
	peers []Peer
}

func (s *staticPeers) Peers() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.peers)
}

func (s *staticPeers) PeerByKey(pk []byte) (Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		if bytes.Equal(p.PublicKey, pk) {
			return p, true
		}
	}
	return Peer{}, false
}

func (s *staticPeers) set(peers []Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = slices.Clone(peers)
}

type rawDelivery struct {
	circuit CircuitInfo
	origin  netip.AddrPort
	data    []byte
}

type testNode struct {
	*Engine
	peer  Peer
	ep    *memory.Endpoint
	peers *staticPeers
	raw   chan rawDelivery
}

type testNet struct {
	t     *testing.T
	net   *memory.Network
	clock *clock.Mock
	codec *message.Codec
	nodes []*testNode
}

func testConfig() config.TunnelDefaults {
	cfg := config.Defaults().Tunnel
	cfg.MaxCircuits = 2
	return cfg
}

func newTestNet(t *testing.T) *testNet {
	return &testNet{
		t:     t,
		net:   memory.NewNetwork(),
		clock: clock.NewMock(),
		codec: message.NewCodec(message.DefaultPrefix),
	}
}

// newTestNetWith returns a connected network of n nodes sharing cfg.
func newTestNetWith(t *testing.T, n int, cfg config.TunnelDefaults) *testNet {
	tn := newTestNet(t)
	for i := 0; i < n; i++ {
		tn.addNode(cfg)
	}
	tn.connect()
	return tn
}

func memoryDialer(n *memory.Network, host netip.Addr) ExitDialer {
	return func(_ CircuitID, deliver func(netip.AddrPort, []byte)) (ExitTransport, error) {
		return n.OpenExit(host, deliver)
	}
}

func (tn *testNet) addNode(cfg config.TunnelDefaults, opts ...Option) *testNode {
	tn.t.Helper()
	kp, err := curve25519.GenerateKeyPair()
	require.NoError(tn.t, err)
	tc, err := crypto.NewTunnelCrypto(kp)
	require.NoError(tn.t, err)

	host := netip.AddrFrom4([4]byte{10, 0, 0, byte(len(tn.nodes) + 1)})
	addr := netip.AddrPortFrom(host, 7760)
	node := &testNode{
		peer:  Peer{PublicKey: tc.PublicKey(), Address: addr},
		peers: &staticPeers{},
		raw:   make(chan rawDelivery, 16),
	}
	node.ep, err = tn.net.Attach(addr, func(src netip.AddrPort, data []byte) {
		node.HandlePacket(src, data)
	})
	require.NoError(tn.t, err)

	base := []Option{
		WithClock(tn.clock),
		WithExitDialer(memoryDialer(tn.net, host)),
		WithRawDataHandler(func(c CircuitInfo, origin netip.AddrPort, data []byte) {
			select {
			case node.raw <- rawDelivery{circuit: c, origin: origin, data: data}:
			default:
			}
		}),
	}
	node.Engine = New(cfg, tc, node.ep, node.peers, append(base, opts...)...)
	tn.nodes = append(tn.nodes, node)
	tn.t.Cleanup(node.Stop)
	return node
}

// connect makes every node know every other node.
func (tn *testNet) connect() {
	all := make([]Peer, len(tn.nodes))
	for i, n := range tn.nodes {
		all[i] = n.peer
	}
	for _, n := range tn.nodes {
		n.peers.set(all)
	}
}

// countCells counts the cell types sent from src.
func (tn *testNet) countCells(src netip.AddrPort) func(message.Type) int {
	var (
		mu     sync.Mutex
		counts = make(map[message.Type]int)
	)
	tn.net.SetFilter(func(from, _ netip.AddrPort, data []byte) bool {
		if from != src {
			return true
		}
		pkt, err := tn.codec.Decode(data)
		if err != nil {
			return true
		}
		mu.Lock()
		defer mu.Unlock()
		if pkt.Cell != nil {
			counts[pkt.Cell.MessageType]++
		} else {
			counts[message.TypeDestroy]++
		}
		return true
	})
	return func(t message.Type) int {
		mu.Lock()
		defer mu.Unlock()
		return counts[t]
	}
}

// settle waits until every node has drained the work queued so far.
func (tn *testNet) settle() {
	for i := 0; i < 3; i++ {
		for _, n := range tn.nodes {
			phony.Block(n.Engine, func() {})
		}
	}
}

func waitReady(t *testing.T, done <-chan CircuitInfo) CircuitInfo {
	t.Helper()
	select {
	case info, ok := <-done:
		require.True(t, ok, "circuit removed before it became ready")
		return info
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for circuit")
	}
	return CircuitInfo{}
}

// readyCircuit builds a circuit of hops hops from origin through exit.
func readyCircuit(t *testing.T, origin, exit *testNode, hops int) CircuitInfo {
	t.Helper()
	origin.UpdateExitCandidates(exit.peer, true)
	_, done, err := origin.BuildCircuit(hops, CircuitData, nil, nil)
	require.NoError(t, err)
	return waitReady(t, done)
}
