package tunnel

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/Arceliar/phony"
)

// _dataCircuits returns the data circuits of hops hops, all lengths when hops
// is 0, ordered by ID. Closing circuits are never included.
func (e *Engine) _dataCircuits(hops int, readyOnly bool) []*Circuit {
	var out []*Circuit
	for _, r := range e.routes {
		c, ok := r.(*Circuit)
		if !ok || c.ctype != CircuitData || c.closing {
			continue
		}
		if hops != 0 && c.goalHops != hops {
			continue
		}
		if readyOnly && c.State() != StateReady {
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Circuit) int {
		return cmp.Compare(a.id, b.id)
	})
	return out
}

func infos(cs []*Circuit) []CircuitInfo {
	out := make([]CircuitInfo, len(cs))
	for i, c := range cs {
		out[i] = c.info()
	}
	return out
}

// DataCircuits returns the open data circuits of hops hops, or of any length
// when hops is 0.
func (e *Engine) DataCircuits(hops int) []CircuitInfo {
	var out []CircuitInfo
	phony.Block(e, func() { out = infos(e._dataCircuits(hops, false)) })
	return out
}

// ActiveDataCircuits returns the READY data circuits of hops hops, or of any
// length when hops is 0.
func (e *Engine) ActiveDataCircuits(hops int) []CircuitInfo {
	var out []CircuitInfo
	phony.Block(e, func() { out = infos(e._dataCircuits(hops, true)) })
	return out
}

// SelectCircuit picks the next READY data circuit of hops hops in round-robin
// order.
func (e *Engine) SelectCircuit(hops int) (CircuitInfo, error) {
	var (
		info CircuitInfo
		err  error
	)
	phony.Block(e, func() {
		ready := e._dataCircuits(hops, true)
		if len(ready) == 0 {
			err = fmt.Errorf("%w: no ready data circuit with %d hops", ErrCircuitNotReady, hops)
			return
		}
		info = ready[e.roundRobin%len(ready)].info()
		e.roundRobin++
	})
	return info, err
}

// Circuit returns a snapshot of one of our circuits.
func (e *Engine) Circuit(id CircuitID) (CircuitInfo, bool) {
	var (
		info CircuitInfo
		ok   bool
	)
	phony.Block(e, func() {
		var c *Circuit
		if c, ok = e._circuit(id); ok {
			info = c.info()
		}
	})
	return info, ok
}

// Stats counts what the engine currently holds.
type Stats struct {
	Circuits        int
	ReadyCircuits   int
	Relays          int
	ExitSockets     int
	ExitCandidates  int
	PendingRequests int
	BytesUp         uint64
	BytesDown       uint64
}

// Stats returns the engine's current counters.
func (e *Engine) Stats() Stats {
	var s Stats
	phony.Block(e, func() {
		for _, r := range e.routes {
			a := r.stats()
			s.BytesUp += a.bytesUp
			s.BytesDown += a.bytesDown
			switch v := r.(type) {
			case *Circuit:
				s.Circuits++
				if v.State() == StateReady {
					s.ReadyCircuits++
				}
			case *RelayRoute:
				s.Relays++
			case *ExitSocket:
				s.ExitSockets++
			}
		}
		s.ExitCandidates = len(e.exitCandidates)
		s.PendingRequests = e.cache.Len()
	})
	return s
}
