package message

import (
	"errors"
	"fmt"
)

// Type identifies a message kind on the wire.
type Type uint8

// Message type constants
const (
	TypeData     Type = 0
	TypeCell     Type = 1
	TypeCreate   Type = 2
	TypeCreated  Type = 3
	TypeExtend   Type = 4
	TypeExtended Type = 5
	TypePing     Type = 6
	TypePong     Type = 7
	TypeDestroy  Type = 10
)

// Version is the protocol version byte that follows the packet prefix.
const Version byte = 2

// PrefixSize is the length of the overlay prefix at the start of every packet.
const PrefixSize = 4

// Prefix marks packets belonging to the tunnel overlay.
type Prefix [PrefixSize]byte

// DefaultPrefix is used when the configuration does not override it.
var DefaultPrefix = Prefix{'o', 'n', 'i', 'o'}

// Errors returned by the codec. These use errors.New so callers can match them with errors.Is().
var (
	ErrTruncated      = errors.New("message: not enough data")
	ErrTrailingData   = errors.New("message: unexpected trailing data")
	ErrUnknownType    = errors.New("message: unknown message type")
	ErrPrefixMismatch = errors.New("message: packet prefix mismatch")
	ErrBadVersion     = errors.New("message: unsupported protocol version")
	ErrFieldTooLarge  = errors.New("message: field exceeds length limit")
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "data"
	case TypeCell:
		return "cell"
	case TypeCreate:
		return "create"
	case TypeCreated:
		return "created"
	case TypeExtend:
		return "extend"
	case TypeExtended:
		return "extended"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	case TypeDestroy:
		return "destroy"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Plaintext reports whether cells of this type skip layer encryption.
func (t Type) Plaintext() bool {
	return t == TypeCreate || t == TypeCreated
}
