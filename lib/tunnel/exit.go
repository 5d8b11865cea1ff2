package tunnel

import (
	"net/netip"
	"time"

	"github.com/go-i2p/logger"
)

// ExitSocket terminates somebody else's circuit. It stays disabled until the
// first DATA arrives from the address of the peer that built the circuit;
// only then is the exit transport opened.
type ExitSocket struct {
	activity

	circuitID CircuitID
	peer      Peer
	enabled   bool
	closing   bool
	transport ExitTransport
}

func newExitSocket(id CircuitID, peer Peer, now time.Time) *ExitSocket {
	return &ExitSocket{
		activity:  newActivity(now),
		circuitID: id,
		peer:      peer,
	}
}

// enable opens the exit transport. deliver is handed to the transport for
// datagrams coming back from the public network.
func (s *ExitSocket) enable(dial ExitDialer, deliver func(netip.AddrPort, []byte)) error {
	if s.enabled {
		return nil
	}
	if dial == nil {
		return ErrNoExitTransport
	}
	t, err := dial(s.circuitID, deliver)
	if err != nil {
		return err
	}
	s.transport = t
	s.enabled = true
	return nil
}

func (s *ExitSocket) sendTo(dst netip.AddrPort, data []byte) error {
	if !s.enabled || s.transport == nil {
		return ErrExitDisabled
	}
	return s.transport.SendTo(dst, data)
}

func (s *ExitSocket) close() {
	s.closing = true
	s.enabled = false
	if s.transport == nil {
		return
	}
	if err := s.transport.Close(); err != nil {
		log.WithFields(logger.Fields{
			"at":         "(ExitSocket) close",
			"circuit_id": s.circuitID,
		}).WithError(err).Warn("error closing exit transport")
	}
	s.transport = nil
}
