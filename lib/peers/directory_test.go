package peers

import (
	"encoding/hex"
	"net/netip"
	"testing"

	"github.com/go-i2p/go-onion/lib/config"
	"github.com/go-i2p/go-onion/lib/message"
	"github.com/go-i2p/go-onion/lib/tunnel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingIntroducer struct {
	exits map[string]bool
}

func (r *recordingIntroducer) OnIntroduction(p tunnel.Peer, extra []byte) {
	exit, _ := message.DecodeIntroduction(extra)
	r.exits[p.Address.String()] = exit
}

func key(b byte) []byte {
	k := make([]byte, 32)
	k[0] = b
	return k
}

func TestFromConfig(t *testing.T) {
	d, err := FromConfig([]config.PeerEntry{
		{PublicKey: hex.EncodeToString(key(1)), Address: "10.0.0.2:7760", Exit: true},
		{PublicKey: hex.EncodeToString(key(2)), Address: "10.0.0.1:7760"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())

	peers := d.Peers()
	require.Len(t, peers, 2)
	assert.Equal(t, "10.0.0.1:7760", peers[0].Address.String())

	p, ok := d.PeerByKey(key(1))
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.2:7760"), p.Address)
}

func TestFromConfigRejectsBadEntries(t *testing.T) {
	_, err := FromConfig([]config.PeerEntry{{PublicKey: "zz", Address: "10.0.0.1:1"}})
	assert.Error(t, err)
	_, err = FromConfig([]config.PeerEntry{{PublicKey: "00", Address: "nowhere"}})
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	d := NewDirectory()
	d.Add(tunnel.Peer{PublicKey: key(1)}, false)
	d.Remove(key(1))
	_, ok := d.PeerByKey(key(1))
	assert.False(t, ok)
}

func TestAnnounce(t *testing.T) {
	d := NewDirectory()
	d.Add(tunnel.Peer{PublicKey: key(1), Address: netip.MustParseAddrPort("10.0.0.1:1")}, true)
	d.Add(tunnel.Peer{PublicKey: key(2), Address: netip.MustParseAddrPort("10.0.0.2:1")}, false)

	r := &recordingIntroducer{exits: map[string]bool{}}
	d.Announce(r)
	assert.Equal(t, map[string]bool{"10.0.0.1:1": true, "10.0.0.2:1": false}, r.exits)
}
