package tunnel

import (
	"bytes"
	"encoding/hex"
	"net/netip"
)

// nullAddress is the unset destination carried by DATA travelling back to the
// originator.
var nullAddress = netip.AddrPortFrom(netip.IPv4Unspecified(), 0)

// IsNullAddress reports whether ap is unset or 0.0.0.0:0.
func IsNullAddress(ap netip.AddrPort) bool {
	return !ap.IsValid() || ap == nullAddress
}

// Peer is an overlay node: its static public key and, when known, its
// overlay address.
type Peer struct {
	PublicKey []byte
	Address   netip.AddrPort
}

// Equal compares peers by public key.
func (p Peer) Equal(o Peer) bool {
	return bytes.Equal(p.PublicKey, o.PublicKey)
}

// String returns a short form suitable for logs.
func (p Peer) String() string {
	return shortKey(p.PublicKey) + "@" + p.Address.String()
}

func (p Peer) key() string {
	return string(p.PublicKey)
}

func shortKey(pk []byte) string {
	if len(pk) > 4 {
		pk = pk[:4]
	}
	return hex.EncodeToString(pk)
}

// PeerSource is the overlay membership the engine draws candidates from.
type PeerSource interface {
	// Peers returns the currently verified peers offering the tunnel service.
	Peers() []Peer
	// PeerByKey looks up a verified peer by its public key.
	PeerByKey(publicKey []byte) (Peer, bool)
}
