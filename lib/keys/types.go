package keys

import "github.com/go-i2p/go-onion/lib/crypto/curve25519"

// KeyStore holds the static key pair that identifies a node as a hop.
type KeyStore interface {
	// KeyPair returns the node's static key pair.
	KeyPair() *curve25519.KeyPair
	// StoreKeys persists the key pair.
	StoreKeys() error
}
