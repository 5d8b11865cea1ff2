package message

import (
	"fmt"

	"github.com/samber/oops"
)

// MaxCandidates bounds the number of keys accepted in a candidate list.
const MaxCandidates = 64

// EncodeCandidates serialises the public keys a joined node offers as onward hops.
func EncodeCandidates(keys [][]byte) ([]byte, error) {
	if len(keys) > MaxCandidates {
		return nil, fmt.Errorf("%w: %d candidates", ErrFieldTooLarge, len(keys))
	}
	if !fitsVarBytes(keys...) {
		return nil, ErrFieldTooLarge
	}
	w := &writer{}
	w.u16(uint16(len(keys)))
	for _, k := range keys {
		w.varBytes(k)
	}
	return w.buf, nil
}

// DecodeCandidates is the inverse of EncodeCandidates.
func DecodeCandidates(data []byte) ([][]byte, error) {
	r := &reader{buf: data}
	n := int(r.u16())
	if n > MaxCandidates {
		return nil, fmt.Errorf("%w: %d candidates", ErrFieldTooLarge, n)
	}
	keys := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, r.varBytes())
	}
	if err := r.done(); err != nil {
		return nil, oops.In("message").Wrapf(err, "decoding candidates")
	}
	return keys, nil
}

// Introduction flags appended to peer discovery messages.
const (
	flagExit byte = 1 << 0
)

// EncodeIntroduction returns the extra bytes advertising exit willingness.
func EncodeIntroduction(exit bool) []byte {
	var flags byte
	if exit {
		flags |= flagExit
	}
	return []byte{flags}
}

// DecodeIntroduction reads the exit flag. Empty input means the peer did not
// advertise anything.
func DecodeIntroduction(data []byte) (exit bool, err error) {
	if len(data) == 0 {
		return false, nil
	}
	if len(data) != 1 {
		return false, ErrTrailingData
	}
	return data[0]&flagExit != 0, nil
}
