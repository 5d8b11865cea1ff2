package tunnel

import (
	"fmt"
	"net/netip"

	"github.com/go-i2p/go-onion/lib/crypto"
	"github.com/go-i2p/go-onion/lib/message"
	"github.com/go-i2p/logger"
)

// _encryptCell adds the layers a cell needs before it leaves this node. A
// circuit we own gets one layer per verified hop, innermost for the farthest
// hop. A joined circuit gets one layer with the shared keys.
func (e *Engine) _encryptCell(cell *message.Cell) error {
	if cell.Plaintext() {
		return nil
	}
	if c, ok := e._circuit(cell.CircuitID); ok {
		body := cell.Body
		for i := len(c.hops) - 1; i >= 0; i-- {
			key, salt, explicit := c.hops[i].keys.Next(crypto.Originator)
			enc, err := e.crypto.EncryptStr(body, key, salt, explicit)
			if err != nil {
				return fmt.Errorf("encrypting layer %d: %w", i, err)
			}
			body = enc
		}
		cell.Body = body
		return nil
	}
	keys, ok := e.keys[cell.CircuitID]
	if !ok {
		return ErrNoSessionKeys
	}
	return e._encryptWith(cell, keys)
}

func (e *Engine) _encryptWith(cell *message.Cell, keys *crypto.SessionKeys) error {
	key, salt, explicit := keys.Next(crypto.ExitNode)
	enc, err := e.crypto.EncryptStr(cell.Body, key, salt, explicit)
	if err != nil {
		return err
	}
	cell.Body = enc
	return nil
}

// _decryptCell removes the layers of a cell addressed to this node.
func (e *Engine) _decryptCell(cell *message.Cell) error {
	if cell.Plaintext() {
		return nil
	}
	if c, ok := e._circuit(cell.CircuitID); ok {
		body := cell.Body
		for i, h := range c.hops {
			dec, err := e.crypto.DecryptStr(body, h.keys.Key(crypto.ExitNode), h.keys.Salt(crypto.ExitNode))
			if err != nil {
				return fmt.Errorf("decrypting layer %d: %w", i, err)
			}
			body = dec
		}
		cell.Body = body
		return nil
	}
	keys, ok := e.keys[cell.CircuitID]
	if !ok {
		return ErrNoSessionKeys
	}
	return e._decryptWith(cell, keys)
}

func (e *Engine) _decryptWith(cell *message.Cell, keys *crypto.SessionKeys) error {
	dec, err := e.crypto.DecryptStr(cell.Body, keys.Key(crypto.Originator), keys.Salt(crypto.Originator))
	if err != nil {
		return err
	}
	cell.Body = dec
	return nil
}

// _sendCell wraps m in a cell, encrypts it for its circuit and sends it to
// dst. It returns the packet size.
func (e *Engine) _sendCell(dst netip.AddrPort, m message.Message) (int, error) {
	cell, err := message.NewCell(m)
	if err != nil {
		return 0, err
	}
	if err := e._encryptCell(cell); err != nil {
		return 0, err
	}
	return e._sendPacket(dst, e.codec.EncodeCell(cell))
}

// _sendCellWith is _sendCell for a joined circuit whose keys are not stored
// under the message's own circuit ID.
func (e *Engine) _sendCellWith(dst netip.AddrPort, m message.Message, keys *crypto.SessionKeys) (int, error) {
	cell, err := message.NewCell(m)
	if err != nil {
		return 0, err
	}
	if !cell.Plaintext() {
		if err := e._encryptWith(cell, keys); err != nil {
			return 0, err
		}
	}
	return e._sendPacket(dst, e.codec.EncodeCell(cell))
}

func (e *Engine) _sendPacket(dst netip.AddrPort, packet []byte) (int, error) {
	if err := e.endpoint.Send(dst, packet); err != nil {
		log.WithFields(logger.Fields{
			"at":          "(Engine) _sendPacket",
			"destination": dst.String(),
		}).WithError(err).Debug("send failed")
		return 0, err
	}
	return len(packet), nil
}

func (e *Engine) _sendDestroy(dst netip.AddrPort, id CircuitID, reason Reason) {
	packet := e.codec.EncodeDestroy(&message.Destroy{CircuitID: id, Reason: uint16(reason)})
	_, _ = e._sendPacket(dst, packet)
}

// _relayCell forwards a cell arriving on one leg of a splice to the other
// leg, adding or removing exactly one layer. Crypto failures drop the cell.
func (e *Engine) _relayCell(cell *message.Cell, r *RelayRoute) {
	in := cell.CircuitID
	if !cell.Plaintext() {
		var err error
		switch {
		case r.rendezvous:
			inKeys, okIn := e.keys[in]
			outKeys, okOut := e.keys[r.circuitID]
			if !okIn || !okOut {
				err = ErrNoSessionKeys
				break
			}
			if err = e._decryptWith(cell, inKeys); err == nil {
				err = e._encryptWith(cell, outKeys)
			}
		default:
			keys, ok := e.keys[in]
			if !ok {
				err = ErrNoSessionKeys
				break
			}
			if r.direction == crypto.ExitNode {
				err = e._decryptWith(cell, keys)
			} else {
				err = e._encryptWith(cell, keys)
			}
		}
		if err != nil {
			log.WithFields(logger.Fields{
				"at":         "(Engine) _relayCell",
				"circuit_id": in,
				"type":       cell.MessageType.String(),
			}).WithError(err).Warn("dropping relayed cell")
			e.metrics.RecordCellDropped("relay_crypto")
			return
		}
	}
	cell.CircuitID = r.circuitID
	n, err := e._sendPacket(r.peer.Address, e.codec.EncodeCell(cell))
	if err != nil {
		return
	}
	r.bytesUp += uint64(n)
	e.metrics.RecordCellRelayed()
	e.metrics.RecordBytesSent(roleRelay, n)
}
