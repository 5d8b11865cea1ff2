package crypto

import (
	"bytes"
	"testing"

	"github.com/go-i2p/go-onion/lib/crypto/curve25519"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCrypto(t *testing.T) *TunnelCrypto {
	t.Helper()
	kp, err := curve25519.GenerateKeyPair()
	require.NoError(t, err)
	c, err := NewTunnelCrypto(kp)
	require.NoError(t, err)
	return c
}

// TestHandshakeAgreement verifies that initiator and responder derive the
// same shared secret and therefore the same session keys.
func TestHandshakeAgreement(t *testing.T) {
	initiator := newTestCrypto(t)
	responder := newTestCrypto(t)

	secret, firstPart, err := initiator.GenerateDiffieSecret()
	require.NoError(t, err)

	shared, Y, auth, err := responder.GenerateDiffieSharedSecret(firstPart)
	require.NoError(t, err)

	verified, err := initiator.VerifyAndGenerateSharedSecret(secret, Y, auth, responder.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, shared, verified)

	a, err := initiator.GenerateSessionKeys(verified)
	require.NoError(t, err)
	b, err := responder.GenerateSessionKeys(shared)
	require.NoError(t, err)
	assert.Equal(t, a.Key(Originator), b.Key(Originator))
	assert.Equal(t, a.Key(ExitNode), b.Key(ExitNode))
	assert.Equal(t, a.Salt(ExitNode), b.Salt(ExitNode))
	assert.NotEqual(t, a.Key(Originator), a.Key(ExitNode))
}

// TestHandshakeRejectsWrongStaticKey verifies that a reply produced by a node
// other than the one the initiator addressed fails authentication.
func TestHandshakeRejectsWrongStaticKey(t *testing.T) {
	initiator := newTestCrypto(t)
	responder := newTestCrypto(t)
	impostor := newTestCrypto(t)

	secret, firstPart, err := initiator.GenerateDiffieSecret()
	require.NoError(t, err)

	_, Y, auth, err := impostor.GenerateDiffieSharedSecret(firstPart)
	require.NoError(t, err)

	_, err = initiator.VerifyAndGenerateSharedSecret(secret, Y, auth, responder.PublicKey())
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestHandshakeRejectsTamperedAuth(t *testing.T) {
	initiator := newTestCrypto(t)
	responder := newTestCrypto(t)

	secret, firstPart, err := initiator.GenerateDiffieSecret()
	require.NoError(t, err)
	_, Y, auth, err := responder.GenerateDiffieSharedSecret(firstPart)
	require.NoError(t, err)

	auth[0] ^= 0x01
	_, err = initiator.VerifyAndGenerateSharedSecret(secret, Y, auth, responder.PublicKey())
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestEncryptDecryptStr(t *testing.T) {
	c := newTestCrypto(t)
	keys, err := c.GenerateSessionKeys(bytes.Repeat([]byte{0x5a}, 32))
	require.NoError(t, err)

	key, salt, explicit := keys.Next(Originator)
	assert.Equal(t, uint64(1), explicit)

	sealed, err := c.EncryptStr([]byte("cell body"), key, salt, explicit)
	require.NoError(t, err)

	plain, err := c.DecryptStr(sealed, keys.Key(Originator), keys.Salt(Originator))
	require.NoError(t, err)
	assert.Equal(t, []byte("cell body"), plain)

	_, err = c.DecryptStr(sealed, keys.Key(ExitNode), keys.Salt(ExitNode))
	assert.Error(t, err, "opposite direction keys must not open the cell")
}

func TestSessionKeyCountersAreIndependent(t *testing.T) {
	c := newTestCrypto(t)
	keys, err := c.GenerateSessionKeys(bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)

	keys.Next(Originator)
	keys.Next(Originator)
	keys.Next(ExitNode)

	assert.Equal(t, uint64(2), keys.Explicit(Originator))
	assert.Equal(t, uint64(1), keys.Explicit(ExitNode))
}

func TestIsKeyCompatible(t *testing.T) {
	c := newTestCrypto(t)
	assert.True(t, c.IsKeyCompatible(c.PublicKey()))
	assert.False(t, c.IsKeyCompatible(make([]byte, 32)))
	assert.False(t, c.IsKeyCompatible([]byte("short")))
}

func TestNewTunnelCryptoRequiresKey(t *testing.T) {
	_, err := NewTunnelCrypto(nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestGenerateSessionKeysDirections(t *testing.T) {
	c := newTestCrypto(t)
	keys, err := c.GenerateSessionKeys(bytes.Repeat([]byte{0x33}, 32))
	require.NoError(t, err)

	again, err := c.GenerateSessionKeys(bytes.Repeat([]byte{0x33}, 32))
	require.NoError(t, err)
	assert.Equal(t, keys.Key(Originator), again.Key(Originator), "derivation is deterministic")

	assert.NotEqual(t, keys.Key(Originator), keys.Key(ExitNode))
	assert.NotEqual(t, keys.Salt(Originator), keys.Salt(ExitNode))

	_, err = c.GenerateSessionKeys([]byte("short"))
	assert.Error(t, err)
}
