package tunnel

import (
	"net/netip"

	"github.com/Arceliar/phony"
	"github.com/go-i2p/go-onion/lib/message"
)

// SendData sends payload through circuit id to dst, which the exit node
// delivers it to. It returns the size of the packet handed to the first hop.
func (e *Engine) SendData(id CircuitID, dst netip.AddrPort, payload []byte) (int, error) {
	var (
		n   int
		err error
	)
	phony.Block(e, func() {
		c, ok := e._circuit(id)
		if !ok {
			err = ErrUnknownCircuit
			return
		}
		if c.State() != StateReady {
			err = ErrCircuitNotReady
			return
		}
		n, err = e._sendCell(c.peerAddress(), &message.Data{
			CircuitID:   id,
			Destination: dst,
			Origin:      nullAddress,
			Payload:     payload,
		})
		c.bytesUp += uint64(n)
		e.metrics.RecordBytesSent(roleCircuit, n)
	})
	return n, err
}
