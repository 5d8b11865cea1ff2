package tunnel

import (
	"github.com/Arceliar/phony"
	"github.com/go-i2p/go-onion/lib/message"
	"github.com/go-i2p/logger"
	"github.com/samber/lo"
)

// SetBecomeExit changes whether this node exits non-overlay traffic. The new
// value is advertised in the next introduction.
func (e *Engine) SetBecomeExit(exit bool) {
	phony.Block(e, func() { e.becomeExit = exit })
}

// BecomeExit reports whether this node exits non-overlay traffic.
func (e *Engine) BecomeExit() bool {
	var exit bool
	phony.Block(e, func() { exit = e.becomeExit })
	return exit
}

// IntroductionExtraBytes returns the capability bytes to piggy-back on
// introduction requests and responses.
func (e *Engine) IntroductionExtraBytes() []byte {
	return message.EncodeIntroduction(e.BecomeExit())
}

// OnIntroduction records the exit willingness a peer advertised in the extra
// bytes of an introduction.
func (e *Engine) OnIntroduction(peer Peer, extra []byte) {
	exit, err := message.DecodeIntroduction(extra)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":   "(Engine) OnIntroduction",
			"peer": peer.String(),
		}).WithError(err).Debug("ignoring malformed introduction bytes")
		return
	}
	e.UpdateExitCandidates(peer, exit)
}

// UpdateExitCandidates adds peer to or removes it from the exit candidates.
func (e *Engine) UpdateExitCandidates(peer Peer, exit bool) {
	phony.Block(e, func() {
		if exit {
			e.exitCandidates[peer.key()] = peer
		} else {
			delete(e.exitCandidates, peer.key())
		}
	})
}

// ExitCandidates returns the peers currently known to be willing exits.
func (e *Engine) ExitCandidates() []Peer {
	var out []Peer
	phony.Block(e, func() { out = lo.Values(e.exitCandidates) })
	return out
}
