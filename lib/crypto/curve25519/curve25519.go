package curve25519

import (
	"crypto/subtle"
	"errors"

	i2pcurve "github.com/go-i2p/crypto/curve25519"
	"github.com/go-i2p/crypto/types"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/crypto/curve25519"
)

var log = logger.GetGoI2PLogger()

// KeySize is the size of X25519 scalars, points and shared secrets in bytes.
const KeySize = curve25519.PointSize

var (
	ErrInvalidPublicKey  = errors.New("invalid public key for Curve25519")
	ErrInvalidPrivateKey = errors.New("invalid private key for Curve25519")
	ErrLowOrderPoint     = errors.New("Curve25519 exchange produced a low-order result")
)

// PublicKey is an X25519 point.
type PublicKey [KeySize]byte

// PrivateKey is an X25519 scalar.
type PrivateKey [KeySize]byte

// KeyPair holds a private scalar and the matching public point.
type KeyPair struct {
	Private PrivateKey
	Public  PublicKey
}

// GenerateKeyPair generates a new Curve25519 key pair
func GenerateKeyPair() (*KeyPair, error) {
	var (
		pub  types.ReceivingPublicKey
		priv types.PrivateEncryptionKey
		err  error
	)
	pub, priv, err = i2pcurve.GenerateKeyPair()
	if err != nil {
		return nil, oops.Errorf("failed to generate Curve25519 key pair: %w", err)
	}
	return newKeyPair(priv.Bytes(), pub.Bytes())
}

// KeyPairFromPrivate rebuilds a key pair from a stored private scalar.
func KeyPairFromPrivate(priv []byte) (*KeyPair, error) {
	if len(priv) != KeySize {
		log.WithField("key_length", len(priv)).Error("Invalid Curve25519 private key length")
		return nil, ErrInvalidPrivateKey
	}
	sk, err := i2pcurve.NewCurve25519PrivateKey(priv)
	if err != nil {
		return nil, oops.Errorf("failed to load Curve25519 private key: %w", err)
	}
	pk, err := sk.Public()
	if err != nil {
		return nil, oops.Errorf("failed to derive Curve25519 public key: %w", err)
	}
	pub, ok := pk.(types.ReceivingPublicKey)
	if !ok {
		return nil, ErrInvalidPublicKey
	}
	return newKeyPair(priv, pub.Bytes())
}

func newKeyPair(priv, pub []byte) (*KeyPair, error) {
	if len(priv) != KeySize {
		return nil, ErrInvalidPrivateKey
	}
	if len(pub) != KeySize {
		return nil, ErrInvalidPublicKey
	}
	kp := new(KeyPair)
	copy(kp.Private[:], priv)
	copy(kp.Public[:], pub)
	return kp, nil
}

// PublicKeyFromBytes validates and converts a wire encoded public key.
func PublicKeyFromBytes(data []byte) (PublicKey, error) {
	var pk PublicKey
	if !IsValidPublicKey(data) {
		return pk, ErrInvalidPublicKey
	}
	copy(pk[:], data)
	return pk, nil
}

// IsValidPublicKey reports whether data can be used as an X25519 public key.
func IsValidPublicKey(data []byte) bool {
	if len(data) != KeySize {
		return false
	}
	var zero [KeySize]byte
	return subtle.ConstantTimeCompare(data, zero[:]) == 0
}

// SharedSecret performs the X25519 exchange between priv and the remote point.
// Low-order inputs are rejected by the underlying implementation.
func SharedSecret(priv PrivateKey, remote PublicKey) ([]byte, error) {
	secret, err := curve25519.X25519(priv[:], remote[:])
	if err != nil {
		log.WithError(err).Debug("Curve25519 exchange rejected")
		return nil, ErrLowOrderPoint
	}
	return secret, nil
}

// Bytes returns the public key as a byte slice
func (k PublicKey) Bytes() []byte {
	return k[:]
}

// Zero wipes the private scalar.
func (kp *KeyPair) Zero() {
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}
