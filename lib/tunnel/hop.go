package tunnel

import (
	"net/netip"

	"github.com/go-i2p/go-onion/lib/crypto"
)

// Hop is one cryptographic relay point of a circuit. The handshake fields are
// set while the hop is pending; keys are set once its reply has verified.
type Hop struct {
	PublicKey []byte
	Address   netip.AddrPort

	dhSecret    *crypto.DHSecret
	dhFirstPart []byte
	keys        *crypto.SessionKeys
}

func newHop(c Crypto, peer Peer) (*Hop, error) {
	secret, firstPart, err := c.GenerateDiffieSecret()
	if err != nil {
		return nil, err
	}
	return &Hop{
		PublicKey:   peer.PublicKey,
		Address:     peer.Address,
		dhSecret:    secret,
		dhFirstPart: firstPart,
	}, nil
}

// Verified reports whether the hop completed its handshake.
func (h *Hop) Verified() bool {
	return h.keys != nil
}

// verify checks the responder's reply and derives the session keys. The
// ephemeral secret is dropped either way.
func (h *Hop) verify(c Crypto, key, auth []byte) error {
	secret := h.dhSecret
	h.dhSecret = nil
	h.dhFirstPart = nil
	shared, err := c.VerifyAndGenerateSharedSecret(secret, key, auth, h.PublicKey)
	if err != nil {
		return err
	}
	keys, err := c.GenerateSessionKeys(shared)
	if err != nil {
		return err
	}
	h.keys = keys
	return nil
}

func (h *Hop) peer() Peer {
	return Peer{PublicKey: h.PublicKey, Address: h.Address}
}
