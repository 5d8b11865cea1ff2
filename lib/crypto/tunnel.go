package crypto

import (
	"errors"

	"github.com/go-i2p/crypto/kdf"
	"github.com/go-i2p/go-onion/lib/crypto/chacha20"
	"github.com/go-i2p/go-onion/lib/crypto/curve25519"
	"github.com/go-i2p/go-onion/lib/crypto/hmac"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

const (
	protoID        = "go-onion-ntor-curve25519-sha256-1"
	tKey           = protoID + ":key_extract"
	tVerify        = protoID + ":verify"
	tMac           = protoID + ":mac"
)

var (
	ErrAuthFailed     = errors.New("handshake authentication tag mismatch")
	ErrInvalidKey     = errors.New("public key is not usable with this suite")
	ErrNotInitialized = errors.New("tunnel crypto has no static key")
)

// DHSecret is the ephemeral half of a handshake kept by the initiator until
// the reply arrives.
type DHSecret struct {
	pair *curve25519.KeyPair
}

// Public returns the ephemeral public part sent to the responder.
func (s *DHSecret) Public() []byte {
	return s.pair.Public.Bytes()
}

// TunnelCrypto implements the per-hop key agreement and cell encryption used
// by circuits. The static key identifies this node as a hop.
type TunnelCrypto struct {
	static *curve25519.KeyPair
}

// NewTunnelCrypto creates a TunnelCrypto bound to the static key pair.
func NewTunnelCrypto(static *curve25519.KeyPair) (*TunnelCrypto, error) {
	if static == nil {
		return nil, ErrNotInitialized
	}
	log.Debug("Creating new Tunnel crypto")
	return &TunnelCrypto{static: static}, nil
}

// PublicKey returns the static public key peers use to address this hop.
func (c *TunnelCrypto) PublicKey() []byte {
	return c.static.Public.Bytes()
}

// IsKeyCompatible reports whether a peer key can be used in a handshake.
func (c *TunnelCrypto) IsKeyCompatible(pub []byte) bool {
	return curve25519.IsValidPublicKey(pub)
}

// GenerateDiffieSecret creates the initiator's ephemeral key for a new hop.
func (c *TunnelCrypto) GenerateDiffieSecret() (*DHSecret, []byte, error) {
	pair, err := curve25519.GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	secret := &DHSecret{pair: pair}
	return secret, secret.Public(), nil
}

// GenerateDiffieSharedSecret runs the responder side of the handshake for the
// initiator's ephemeral key X. It returns the shared secret, the responder's
// ephemeral key Y and the authentication tag proving knowledge of the static key.
func (c *TunnelCrypto) GenerateDiffieSharedSecret(dhReceived []byte) (shared, key, auth []byte, err error) {
	X, err := curve25519.PublicKeyFromBytes(dhReceived)
	if err != nil {
		return nil, nil, nil, oops.Errorf("responder handshake: %w", err)
	}
	eph, err := curve25519.GenerateKeyPair()
	if err != nil {
		return nil, nil, nil, err
	}
	defer eph.Zero()

	xy, err := curve25519.SharedSecret(eph.Private, X)
	if err != nil {
		return nil, nil, nil, oops.Errorf("responder handshake: %w", err)
	}
	xb, err := curve25519.SharedSecret(c.static.Private, X)
	if err != nil {
		return nil, nil, nil, oops.Errorf("responder handshake: %w", err)
	}

	B := c.static.Public.Bytes()
	Y := eph.Public.Bytes()
	shared, auth = ntor(xy, xb, B, X[:], Y)
	return shared, Y, auth, nil
}

// VerifyAndGenerateSharedSecret completes the initiator side. B is the static
// key of the hop that was asked to answer.
func (c *TunnelCrypto) VerifyAndGenerateSharedSecret(secret *DHSecret, dhReceived, auth, B []byte) ([]byte, error) {
	if secret == nil || secret.pair == nil {
		return nil, oops.Errorf("initiator handshake: missing ephemeral secret")
	}
	Y, err := curve25519.PublicKeyFromBytes(dhReceived)
	if err != nil {
		return nil, oops.Errorf("initiator handshake: %w", err)
	}
	static, err := curve25519.PublicKeyFromBytes(B)
	if err != nil {
		return nil, ErrInvalidKey
	}

	yx, err := curve25519.SharedSecret(secret.pair.Private, Y)
	if err != nil {
		return nil, oops.Errorf("initiator handshake: %w", err)
	}
	bx, err := curve25519.SharedSecret(secret.pair.Private, static)
	if err != nil {
		return nil, oops.Errorf("initiator handshake: %w", err)
	}

	shared, expected := ntor(yx, bx, B, secret.Public(), Y[:])
	if !hmac.Equal(expected, auth) {
		log.WithField("auth_length", len(auth)).Warn("handshake authentication failed")
		return nil, ErrAuthFailed
	}
	return shared, nil
}

func ntor(xy, xb, B, X, Y []byte) (keySeed, auth []byte) {
	secretInput := concat(xy, xb, B, X, Y, []byte(protoID))
	keySeed = hmac.Sum([]byte(tKey), secretInput)
	verify := hmac.Sum([]byte(tVerify), secretInput)
	auth = hmac.Sum([]byte(tMac), verify, B, Y, X, []byte(protoID), []byte("Server"))
	return keySeed, auth
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// GenerateSessionKeys expands a shared secret into the directional key bundle.
// The three derived keys become the originator key, the exit-node key and
// the source of both salts.
func (c *TunnelCrypto) GenerateSessionKeys(shared []byte) (*SessionKeys, error) {
	if len(shared) != chacha20.KeySize {
		return nil, oops.Errorf("failed to expand session keys: shared secret is %d bytes", len(shared))
	}
	var seed [chacha20.KeySize]byte
	copy(seed[:], shared)
	saltSeed, forward, backward, err := kdf.NewKeyDerivation(seed).DeriveSessionKeys()
	if err != nil {
		return nil, oops.Errorf("failed to expand session keys: %w", err)
	}

	keys := new(SessionKeys)
	copy(keys.keys[Originator][:], forward[:])
	copy(keys.keys[ExitNode][:], backward[:])
	copy(keys.salts[Originator][:], saltSeed[:chacha20.SaltSize])
	copy(keys.salts[ExitNode][:], saltSeed[chacha20.SaltSize:2*chacha20.SaltSize])
	return keys, nil
}

// EncryptStr seals content with one direction of a session key bundle.
func (c *TunnelCrypto) EncryptStr(content, key, salt []byte, saltExplicit uint64) ([]byte, error) {
	return chacha20.Seal(key, salt, saltExplicit, content)
}

// DecryptStr opens content sealed by EncryptStr.
func (c *TunnelCrypto) DecryptStr(content, key, salt []byte) ([]byte, error) {
	plain, _, err := chacha20.Open(key, salt, content)
	return plain, err
}
