package message

import (
	"bytes"
	"fmt"

	"github.com/samber/oops"
)

// Cell is the envelope for every message except Destroy. Body holds the
// encoded message, possibly wrapped in one or more encryption layers.
type Cell struct {
	CircuitID   CircuitID
	MessageType Type
	Body        []byte
}

// Destroy tears down a circuit on one link.
type Destroy struct {
	CircuitID CircuitID
	Reason    uint16
}

// NewCell wraps m in a plaintext cell.
func NewCell(m Message) (*Cell, error) {
	body, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	return &Cell{CircuitID: m.Circuit(), MessageType: m.Type(), Body: body}, nil
}

// Plaintext reports whether the cell body is never layer encrypted.
func (c *Cell) Plaintext() bool {
	return c.MessageType.Plaintext()
}

// Unwrap decodes the cell body. The body must already be fully decrypted.
func (c *Cell) Unwrap() (Message, error) {
	return Unmarshal(c.MessageType, c.Body)
}

func (c *Cell) marshal() []byte {
	w := &writer{buf: make([]byte, 0, 5+len(c.Body))}
	w.u32(uint32(c.CircuitID))
	w.u8(uint8(c.MessageType))
	w.raw(c.Body)
	return w.buf
}

func unmarshalCell(data []byte) (*Cell, error) {
	r := &reader{buf: data}
	c := &Cell{
		CircuitID:   CircuitID(r.u32()),
		MessageType: Type(r.u8()),
	}
	c.Body = r.rest()
	if r.err != nil {
		return nil, oops.In("message").Wrapf(r.err, "decoding cell")
	}
	return c, nil
}

func (d *Destroy) marshal() []byte {
	w := &writer{}
	w.u32(uint32(d.CircuitID))
	w.u16(d.Reason)
	return w.buf
}

func unmarshalDestroy(data []byte) (*Destroy, error) {
	r := &reader{buf: data}
	d := &Destroy{CircuitID: CircuitID(r.u32()), Reason: r.u16()}
	if err := r.done(); err != nil {
		return nil, oops.In("message").Wrapf(err, "decoding destroy")
	}
	return d, nil
}

// Packet is a decoded outer packet: exactly one of Cell and Destroy is set.
type Packet struct {
	Cell    *Cell
	Destroy *Destroy
}

// Codec frames outer packets behind an overlay prefix and version byte.
type Codec struct {
	prefix Prefix
}

// NewCodec returns a codec for packets carrying prefix.
func NewCodec(prefix Prefix) *Codec {
	return &Codec{prefix: prefix}
}

// Prefix returns the codec's overlay prefix.
func (c *Codec) Prefix() Prefix {
	return c.prefix
}

func (c *Codec) header(t Type, size int) []byte {
	buf := make([]byte, 0, PrefixSize+2+size)
	buf = append(buf, c.prefix[:]...)
	buf = append(buf, Version, byte(t))
	return buf
}

// EncodeCell frames a cell as an outer packet.
func (c *Codec) EncodeCell(cell *Cell) []byte {
	body := cell.marshal()
	return append(c.header(TypeCell, len(body)), body...)
}

// EncodeDestroy frames a destroy as an outer packet.
func (c *Codec) EncodeDestroy(d *Destroy) []byte {
	body := d.marshal()
	return append(c.header(TypeDestroy, len(body)), body...)
}

// Matches reports whether data carries this codec's prefix and version, which
// is how embedded overlay traffic is recognised inside a Data payload.
func (c *Codec) Matches(data []byte) bool {
	return len(data) >= PrefixSize+1 && bytes.Equal(data[:PrefixSize], c.prefix[:]) && data[PrefixSize] == Version
}

// Decode parses an outer packet.
func (c *Codec) Decode(data []byte) (*Packet, error) {
	if len(data) < PrefixSize+2 {
		return nil, ErrTruncated
	}
	if !bytes.Equal(data[:PrefixSize], c.prefix[:]) {
		return nil, ErrPrefixMismatch
	}
	if data[PrefixSize] != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, data[PrefixSize])
	}
	body := data[PrefixSize+2:]
	switch t := Type(data[PrefixSize+1]); t {
	case TypeCell:
		cell, err := unmarshalCell(body)
		if err != nil {
			return nil, err
		}
		return &Packet{Cell: cell}, nil
	case TypeDestroy:
		d, err := unmarshalDestroy(body)
		if err != nil {
			return nil, err
		}
		return &Packet{Destroy: d}, nil
	default:
		return nil, fmt.Errorf("%w: outer %s", ErrUnknownType, t)
	}
}
