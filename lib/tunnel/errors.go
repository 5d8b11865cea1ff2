package tunnel

import "errors"

// Errors returned by the synchronous Engine API. These use errors.New (not
// oops.Errorf) so callers can match them with errors.Is().
var (
	ErrNoExitCandidate  = errors.New("tunnel: no exit candidate available")
	ErrNoFirstHop       = errors.New("tunnel: no first hop available")
	ErrExitNoAddress    = errors.New("tunnel: required exit has no address")
	ErrInvalidHops      = errors.New("tunnel: hop count must be at least 1")
	ErrUnknownCircuit   = errors.New("tunnel: unknown circuit")
	ErrCircuitNotReady  = errors.New("tunnel: circuit is not ready")
	ErrNoSessionKeys    = errors.New("tunnel: no session keys for circuit")
	ErrExitDisabled     = errors.New("tunnel: exit socket is not enabled")
	ErrNoExitTransport  = errors.New("tunnel: no exit transport configured")
	ErrEngineNotRunning = errors.New("tunnel: engine is not running")
)
