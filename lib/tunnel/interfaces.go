package tunnel

import (
	"io"
	"net/netip"

	"github.com/go-i2p/go-onion/lib/crypto"
)

// Crypto is the key agreement and cell encryption capability. It is satisfied
// by *crypto.TunnelCrypto.
type Crypto interface {
	PublicKey() []byte
	IsKeyCompatible(pub []byte) bool
	GenerateDiffieSecret() (*crypto.DHSecret, []byte, error)
	GenerateDiffieSharedSecret(dhReceived []byte) (shared, key, auth []byte, err error)
	VerifyAndGenerateSharedSecret(secret *crypto.DHSecret, dhReceived, auth, B []byte) ([]byte, error)
	GenerateSessionKeys(shared []byte) (*crypto.SessionKeys, error)
	EncryptStr(content, key, salt []byte, saltExplicit uint64) ([]byte, error)
	DecryptStr(content, key, salt []byte) ([]byte, error)
}

// Endpoint sends datagrams on the overlay. Sends are fire and forget.
type Endpoint interface {
	Send(dst netip.AddrPort, packet []byte) error
}

// ExitTransport carries one exit socket's traffic to and from the public
// network.
type ExitTransport interface {
	io.Closer
	SendTo(dst netip.AddrPort, data []byte) error
}

// ExitDialer opens the transport for an exit socket once it has been enabled.
// Datagrams arriving from the public network are passed to deliver, which may
// be called from any goroutine.
type ExitDialer func(id CircuitID, deliver func(src netip.AddrPort, data []byte)) (ExitTransport, error)

// RawDataHandler receives non-overlay payloads arriving on our own circuits.
type RawDataHandler func(circuit CircuitInfo, origin netip.AddrPort, data []byte)

// OverlayHandler receives overlay packets that travelled inside a circuit.
type OverlayHandler func(circuit CircuitID, origin netip.AddrPort, packet []byte)
