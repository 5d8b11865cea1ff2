package chacha20

import (
	"encoding/binary"
	"errors"

	"github.com/go-i2p/crypto/chacha20poly1305"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// Key sizes
const (
	KeySize      = 32
	NonceSize    = chacha20poly1305.NonceSize
	TagSize      = 16
	SaltSize     = 4 // implicit nonce part, never sent on the wire
	ExplicitSize = 8 // explicit nonce part, prepended to every ciphertext
	Overhead     = ExplicitSize + TagSize
)

// Error definitions
var (
	ErrInvalidKeySize  = errors.New("invalid ChaCha20 key size")
	ErrInvalidSaltSize = errors.New("invalid ChaCha20 salt size")
	ErrTruncated       = errors.New("ChaCha20-Poly1305 ciphertext too short")
	ErrAuthFailed      = errors.New("ChaCha20-Poly1305 authentication failed")
)

// Nonce builds the 96-bit nonce salt || big-endian(explicit).
func Nonce(salt []byte, explicit uint64) ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if len(salt) != SaltSize {
		return nonce, ErrInvalidSaltSize
	}
	copy(nonce[:SaltSize], salt)
	binary.BigEndian.PutUint64(nonce[SaltSize:], explicit)
	return nonce, nil
}

func keyArray(key []byte) ([KeySize]byte, error) {
	var k [KeySize]byte
	if len(key) != KeySize {
		return k, ErrInvalidKeySize
	}
	copy(k[:], key)
	return k, nil
}

// Seal encrypts plaintext under key with the nonce salt || explicit.
// The format is: [8-byte explicit counter][ciphertext][16-byte tag]
func Seal(key, salt []byte, explicit uint64, plaintext []byte) ([]byte, error) {
	k, err := keyArray(key)
	if err != nil {
		return nil, err
	}
	nonce, err := Nonce(salt, explicit)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewAEAD(k)
	if err != nil {
		return nil, oops.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
	}

	ciphertext, tag, err := aead.Encrypt(plaintext, nil, nonce[:])
	if err != nil {
		return nil, oops.Errorf("failed to seal cell: %w", err)
	}
	out := make([]byte, ExplicitSize, ExplicitSize+len(ciphertext)+TagSize)
	binary.BigEndian.PutUint64(out, explicit)
	out = append(out, ciphertext...)
	return append(out, tag[:]...), nil
}

// Open reverses Seal, returning the plaintext and the explicit counter that
// was used for it.
func Open(key, salt, data []byte) ([]byte, uint64, error) {
	k, err := keyArray(key)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < Overhead {
		return nil, 0, ErrTruncated
	}
	explicit := binary.BigEndian.Uint64(data[:ExplicitSize])
	nonce, err := Nonce(salt, explicit)
	if err != nil {
		return nil, 0, err
	}

	aead, err := chacha20poly1305.NewAEAD(k)
	if err != nil {
		return nil, 0, oops.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
	}

	body := data[ExplicitSize:]
	split := len(body) - TagSize
	plaintext, err := aead.Decrypt(body[:split], body[split:], nil, nonce[:])
	if err != nil {
		log.WithField("data_length", len(data)).Debug("ChaCha20-Poly1305 decryption failed")
		return nil, 0, ErrAuthFailed
	}
	return plaintext, explicit, nil
}
