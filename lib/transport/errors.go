package transport

import "errors"

var (
	// ErrClosed is returned when sending on a closed endpoint.
	ErrClosed = errors.New("transport: endpoint closed")
	// ErrUnreachable is returned when nothing listens at the destination.
	ErrUnreachable = errors.New("transport: destination unreachable")
	// ErrAddressInUse is returned when binding an address twice.
	ErrAddressInUse = errors.New("transport: address already in use")
)
