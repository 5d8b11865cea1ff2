package crypto

import (
	"sync/atomic"

	"github.com/go-i2p/go-onion/lib/crypto/chacha20"
)

// Direction selects one half of a session key bundle.
type Direction int

const (
	// Originator keys protect cells travelling away from the circuit owner.
	Originator Direction = 0
	// ExitNode keys protect cells travelling back towards the circuit owner.
	ExitNode Direction = 1
)

func (d Direction) String() string {
	if d == Originator {
		return "originator"
	}
	return "exit_node"
}

// SessionKeys is the six-value bundle shared between a circuit owner and one
// hop: an encryption key, a salt and an explicit-salt counter per direction.
// A bundle may be shared by both legs of a relay, so the counters are atomic.
type SessionKeys struct {
	keys     [2][chacha20.KeySize]byte
	salts    [2][chacha20.SaltSize]byte
	explicit [2]atomic.Uint64
}

// Key returns the encryption key for d.
func (k *SessionKeys) Key(d Direction) []byte {
	return k.keys[d][:]
}

// Salt returns the implicit salt for d.
func (k *SessionKeys) Salt(d Direction) []byte {
	return k.salts[d][:]
}

// Explicit returns the last explicit counter handed out for d.
func (k *SessionKeys) Explicit(d Direction) uint64 {
	return k.explicit[d].Load()
}

// Next increments the explicit counter for d and returns the values needed
// for one encryption.
func (k *SessionKeys) Next(d Direction) (key, salt []byte, explicit uint64) {
	explicit = k.explicit[d].Add(1)
	return k.keys[d][:], k.salts[d][:], explicit
}
