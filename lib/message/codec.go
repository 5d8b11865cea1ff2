package message

import (
	"encoding/binary"
	"math"
	"net/netip"
)

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// varBytes writes a 2-byte length prefix followed by b. Callers keep fields
// below 64KiB; larger values are truncated by the length check in Marshal.
func (w *writer) varBytes(b []byte) {
	w.u16(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) addr(ap netip.AddrPort) {
	if !ap.IsValid() {
		w.varBytes(nil)
		return
	}
	b, _ := ap.MarshalBinary()
	w.varBytes(b)
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = ErrTruncated
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) varBytes() []byte {
	n := int(r.u16())
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	r.buf = nil
	return out
}

func (r *reader) addr() netip.AddrPort {
	b := r.varBytes()
	if r.err != nil || len(b) == 0 {
		return netip.AddrPort{}
	}
	var ap netip.AddrPort
	if err := ap.UnmarshalBinary(b); err != nil {
		r.err = err
		return netip.AddrPort{}
	}
	return ap
}

func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if len(r.buf) != 0 {
		return ErrTrailingData
	}
	return nil
}

func fitsVarBytes(fields ...[]byte) bool {
	for _, f := range fields {
		if len(f) > math.MaxUint16 {
			return false
		}
	}
	return true
}
