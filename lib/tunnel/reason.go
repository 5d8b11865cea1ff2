package tunnel

// Reason explains why a circuit, relay or exit socket was removed. Its value
// is carried as the reason code of DESTROY messages.
type Reason uint16

const (
	ReasonNone Reason = iota
	ReasonRequested
	ReasonTimeout
	ReasonNoCandidates
	ReasonCrypto
	ReasonInactive
	ReasonTooOld
	ReasonTraffic
	ReasonDestroyed
	ReasonShutdown
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonRequested:
		return "requested"
	case ReasonTimeout:
		return "timeout"
	case ReasonNoCandidates:
		return "no candidates"
	case ReasonCrypto:
		return "crypto failure"
	case ReasonInactive:
		return "no activity"
	case ReasonTooOld:
		return "too old"
	case ReasonTraffic:
		return "traffic limit exceeded"
	case ReasonDestroyed:
		return "got destroy"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
