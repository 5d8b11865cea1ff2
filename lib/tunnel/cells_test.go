package tunnel

import (
	"net/netip"
	"testing"

	"github.com/Arceliar/phony"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-onion/lib/crypto"
	"github.com/go-i2p/go-onion/lib/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionKeys(t *testing.T, c Crypto) *crypto.SessionKeys {
	t.Helper()
	shared := make([]byte, 32)
	_, err := rand.Read(shared)
	require.NoError(t, err)
	keys, err := c.GenerateSessionKeys(shared)
	require.NoError(t, err)
	return keys
}

// TestOnionLayers checks that each hop peels exactly one layer on the way out
// and adds one on the way back.
func TestOnionLayers(t *testing.T) {
	tn := newTestNet(t)
	node := tn.addNode(testConfig())
	c := node.crypto

	const id CircuitID = 99
	hopKeys := []*crypto.SessionKeys{sessionKeys(t, c), sessionKeys(t, c), sessionKeys(t, c)}
	circuit := newCircuit(id, len(hopKeys), CircuitData, nil, nil, node.clock.Now())
	for _, k := range hopKeys {
		circuit.addHop(&Hop{keys: k})
	}
	want := &message.Data{
		CircuitID:   id,
		Destination: netip.MustParseAddrPort("192.0.2.1:53"),
		Origin:      nullAddress,
		Payload:     []byte("payload"),
	}

	phony.Block(node.Engine, func() {
		node.routes[id] = circuit

		cell, err := message.NewCell(want)
		if !assert.NoError(t, err) {
			return
		}
		if !assert.NoError(t, node._encryptCell(cell)) {
			return
		}
		for i, k := range hopKeys {
			cell.Body, err = c.DecryptStr(cell.Body, k.Key(crypto.Originator), k.Salt(crypto.Originator))
			if !assert.NoError(t, err, "hop %d", i) {
				return
			}
		}
		got, err := cell.Unwrap()
		if assert.NoError(t, err) {
			assert.Equal(t, want, got)
		}

		for i := len(hopKeys) - 1; i >= 0; i-- {
			key, salt, explicit := hopKeys[i].Next(crypto.ExitNode)
			cell.Body, err = c.EncryptStr(cell.Body, key, salt, explicit)
			if !assert.NoError(t, err) {
				return
			}
		}
		if assert.NoError(t, node._decryptCell(cell)) {
			got, err = cell.Unwrap()
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})
}

func TestPlaintextCellsAreNotEncrypted(t *testing.T) {
	tn := newTestNet(t)
	node := tn.addNode(testConfig())

	cell, err := message.NewCell(&message.Create{CircuitID: 5, NodePublicKey: node.peer.PublicKey, Key: node.peer.PublicKey})
	require.NoError(t, err)
	body := append([]byte(nil), cell.Body...)
	phony.Block(node.Engine, func() {
		assert.NoError(t, node._encryptCell(cell))
	})
	assert.Equal(t, body, cell.Body)
}

func TestEncryptUnknownCircuit(t *testing.T) {
	tn := newTestNet(t)
	node := tn.addNode(testConfig())

	cell, err := message.NewCell(&message.Ping{CircuitID: 5, Identifier: 1})
	require.NoError(t, err)
	phony.Block(node.Engine, func() {
		assert.ErrorIs(t, node._encryptCell(cell), ErrNoSessionKeys)
		assert.ErrorIs(t, node._decryptCell(cell), ErrNoSessionKeys)
	})
}

func TestLinkRendezvous(t *testing.T) {
	tn := newTestNet(t)
	node := tn.addNode(testConfig())
	peerA := Peer{Address: netip.MustParseAddrPort("10.1.0.1:7760")}
	peerB := Peer{Address: netip.MustParseAddrPort("10.1.0.2:7760")}

	keysA, keysB := sessionKeys(t, node.crypto), sessionKeys(t, node.crypto)
	phony.Block(node.Engine, func() {
		now := node.clock.Now()
		node.routes[1] = newExitSocket(1, peerA, now)
		node.routes[2] = newExitSocket(2, peerB, now)
		node.keys[1] = keysA
		node.keys[2] = keysB
	})

	assert.ErrorIs(t, node.LinkRendezvous(1, 1), ErrUnknownCircuit)
	assert.ErrorIs(t, node.LinkRendezvous(1, 3), ErrUnknownCircuit)
	require.NoError(t, node.LinkRendezvous(1, 2))
	assert.Equal(t, 2, node.Stats().Relays)

	phony.Block(node.Engine, func() {
		ra, ok := node._relay(1)
		if assert.True(t, ok) {
			assert.True(t, ra.rendezvous)
			assert.Equal(t, CircuitID(2), ra.circuitID)
			assert.Equal(t, peerB, ra.peer)
		}
		rb, ok := node._relay(2)
		if assert.True(t, ok) {
			assert.Equal(t, CircuitID(1), rb.circuitID)
			assert.Equal(t, peerA, rb.peer)
		}
	})
}
