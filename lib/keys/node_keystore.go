// Package keys stores the node's static X25519 key on disk.
package keys

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-i2p/go-onion/lib/crypto/curve25519"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// NodeKeystore keeps the static key pair in a single file holding the hex
// encoded private scalar.
type NodeKeystore struct {
	path string
	pair *curve25519.KeyPair
}

var _ KeyStore = &NodeKeystore{}

// NewNodeKeystore loads the key at path, generating and storing a fresh one
// if the file does not exist. created reports whether a new key was made.
func NewNodeKeystore(path string) (ks *NodeKeystore, created bool, err error) {
	ks = &NodeKeystore{path: path}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		ks.pair, err = parseKey(data)
		if err != nil {
			return nil, false, oops.In("keys").With("path", path).Wrapf(err, "loading node key")
		}
		return ks, false, nil
	case os.IsNotExist(err):
		ks.pair, err = curve25519.GenerateKeyPair()
		if err != nil {
			return nil, false, err
		}
		if err := ks.StoreKeys(); err != nil {
			return nil, false, err
		}
		log.WithFields(logger.Fields{
			"at":   "NewNodeKeystore",
			"path": path,
		}).Info("generated new node key")
		return ks, true, nil
	default:
		return nil, false, err
	}
}

func parseKey(data []byte) (*curve25519.KeyPair, error) {
	priv, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	return curve25519.KeyPairFromPrivate(priv)
}

// KeyPair returns the static key pair.
func (ks *NodeKeystore) KeyPair() *curve25519.KeyPair {
	return ks.pair
}

// Path returns the key file location.
func (ks *NodeKeystore) Path() string {
	return ks.path
}

// StoreKeys writes the private key, creating the directory if needed.
func (ks *NodeKeystore) StoreKeys() error {
	if err := os.MkdirAll(filepath.Dir(ks.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(ks.path, []byte(hex.EncodeToString(ks.pair.Private[:])+"\n"), 0o600)
}
