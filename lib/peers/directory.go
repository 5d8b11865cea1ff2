// Package peers is a static peer directory. It stands in for overlay
// membership: the engine draws its candidates from it and learns exit
// willingness from the introductions it replays.
package peers

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"github.com/go-i2p/go-onion/lib/config"
	"github.com/go-i2p/go-onion/lib/message"
	"github.com/go-i2p/go-onion/lib/tunnel"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

type entry struct {
	peer tunnel.Peer
	exit bool
}

// Directory is a set of known peers keyed by public key. It is safe for
// concurrent use.
type Directory struct {
	mu    sync.RWMutex
	peers map[string]*entry
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{peers: make(map[string]*entry)}
}

// FromConfig builds a directory from configured peer entries. Public keys are
// hex encoded.
func FromConfig(entries []config.PeerEntry) (*Directory, error) {
	d := NewDirectory()
	for i, pe := range entries {
		pk, err := hex.DecodeString(pe.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("peer %d: public key: %w", i, err)
		}
		addr, err := netip.ParseAddrPort(pe.Address)
		if err != nil {
			return nil, fmt.Errorf("peer %d: address: %w", i, err)
		}
		d.Add(tunnel.Peer{PublicKey: pk, Address: addr}, pe.Exit)
	}
	log.WithFields(logger.Fields{
		"at":    "FromConfig",
		"peers": len(entries),
	}).Debug("loaded static peers")
	return d, nil
}

// Add inserts or replaces p.
func (d *Directory) Add(p tunnel.Peer, exit bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[string(p.PublicKey)] = &entry{peer: p, exit: exit}
}

// Remove deletes the peer with publicKey.
func (d *Directory) Remove(publicKey []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, string(publicKey))
}

// Len returns the number of peers.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// Peers returns every peer ordered by address.
func (d *Directory) Peers() []tunnel.Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]tunnel.Peer, 0, len(d.peers))
	for _, e := range d.peers {
		out = append(out, e.peer)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Compare(out[j].Address) < 0
	})
	return out
}

// PeerByKey looks up a peer by public key.
func (d *Directory) PeerByKey(publicKey []byte) (tunnel.Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.peers[string(publicKey)]
	if !ok {
		return tunnel.Peer{}, false
	}
	return e.peer, true
}

// Introducer receives the capability bytes a peer advertised.
type Introducer interface {
	OnIntroduction(peer tunnel.Peer, extra []byte)
}

// Announce replays an introduction for every peer, carrying its configured
// exit flag, to in.
func (d *Directory) Announce(in Introducer) {
	d.mu.RLock()
	entries := make([]entry, 0, len(d.peers))
	for _, e := range d.peers {
		entries = append(entries, *e)
	}
	d.mu.RUnlock()
	for _, e := range entries {
		in.OnIntroduction(e.peer, message.EncodeIntroduction(e.exit))
	}
}

var _ tunnel.PeerSource = (*Directory)(nil)
