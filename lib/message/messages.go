package message

import (
	"fmt"
	"net/netip"

	"github.com/samber/oops"
)

// CircuitID identifies a circuit on a single link.
type CircuitID uint32

// Message is a protocol message that travels inside a cell. The set of
// implementations is closed.
type Message interface {
	Type() Type
	Circuit() CircuitID
	encode(w *writer)
	decode(r *reader)
}

// Create asks the receiver to join a circuit as its next hop.
type Create struct {
	CircuitID     CircuitID
	NodePublicKey []byte
	Key           []byte
}

// Created answers a Create with the joiner's ephemeral key, the handshake
// authenticator and an encrypted list of onward candidates.
type Created struct {
	CircuitID     CircuitID
	Key           []byte
	Auth          []byte
	CandidateList []byte
}

// Extend asks the last hop of a circuit to grow it by one node. NodeAddr is
// the zero value when the originator does not know the address.
type Extend struct {
	CircuitID     CircuitID
	NodePublicKey []byte
	NodeAddr      netip.AddrPort
	Key           []byte
}

// Extended carries the new hop's Created fields back to the originator.
type Extended struct {
	CircuitID     CircuitID
	Key           []byte
	Auth          []byte
	CandidateList []byte
}

// Data carries an application payload. Destination is set on the way out,
// Origin on the way back.
type Data struct {
	CircuitID   CircuitID
	Destination netip.AddrPort
	Origin      netip.AddrPort
	Payload     []byte
}

// Ping is a keep-alive sent by the originator.
type Ping struct {
	CircuitID  CircuitID
	Identifier uint16
}

// Pong answers a Ping with the same identifier.
type Pong struct {
	CircuitID  CircuitID
	Identifier uint16
}

func (*Create) Type() Type   { return TypeCreate }
func (*Created) Type() Type  { return TypeCreated }
func (*Extend) Type() Type   { return TypeExtend }
func (*Extended) Type() Type { return TypeExtended }
func (*Data) Type() Type     { return TypeData }
func (*Ping) Type() Type     { return TypePing }
func (*Pong) Type() Type     { return TypePong }

func (m *Create) Circuit() CircuitID   { return m.CircuitID }
func (m *Created) Circuit() CircuitID  { return m.CircuitID }
func (m *Extend) Circuit() CircuitID   { return m.CircuitID }
func (m *Extended) Circuit() CircuitID { return m.CircuitID }
func (m *Data) Circuit() CircuitID     { return m.CircuitID }
func (m *Ping) Circuit() CircuitID     { return m.CircuitID }
func (m *Pong) Circuit() CircuitID     { return m.CircuitID }

func (m *Create) encode(w *writer) {
	w.u32(uint32(m.CircuitID))
	w.varBytes(m.NodePublicKey)
	w.varBytes(m.Key)
}

func (m *Create) decode(r *reader) {
	m.CircuitID = CircuitID(r.u32())
	m.NodePublicKey = r.varBytes()
	m.Key = r.varBytes()
}

func (m *Created) encode(w *writer) {
	w.u32(uint32(m.CircuitID))
	w.varBytes(m.Key)
	w.varBytes(m.Auth)
	w.varBytes(m.CandidateList)
}

func (m *Created) decode(r *reader) {
	m.CircuitID = CircuitID(r.u32())
	m.Key = r.varBytes()
	m.Auth = r.varBytes()
	m.CandidateList = r.varBytes()
}

func (m *Extend) encode(w *writer) {
	w.u32(uint32(m.CircuitID))
	w.varBytes(m.NodePublicKey)
	w.addr(m.NodeAddr)
	w.varBytes(m.Key)
}

func (m *Extend) decode(r *reader) {
	m.CircuitID = CircuitID(r.u32())
	m.NodePublicKey = r.varBytes()
	m.NodeAddr = r.addr()
	m.Key = r.varBytes()
}

func (m *Extended) encode(w *writer) {
	w.u32(uint32(m.CircuitID))
	w.varBytes(m.Key)
	w.varBytes(m.Auth)
	w.varBytes(m.CandidateList)
}

func (m *Extended) decode(r *reader) {
	m.CircuitID = CircuitID(r.u32())
	m.Key = r.varBytes()
	m.Auth = r.varBytes()
	m.CandidateList = r.varBytes()
}

// The payload is not length prefixed; it runs to the end of the message.
func (m *Data) encode(w *writer) {
	w.u32(uint32(m.CircuitID))
	w.addr(m.Destination)
	w.addr(m.Origin)
	w.raw(m.Payload)
}

func (m *Data) decode(r *reader) {
	m.CircuitID = CircuitID(r.u32())
	m.Destination = r.addr()
	m.Origin = r.addr()
	m.Payload = r.rest()
}

func (m *Ping) encode(w *writer) {
	w.u32(uint32(m.CircuitID))
	w.u16(m.Identifier)
}

func (m *Ping) decode(r *reader) {
	m.CircuitID = CircuitID(r.u32())
	m.Identifier = r.u16()
}

func (m *Pong) encode(w *writer) {
	w.u32(uint32(m.CircuitID))
	w.u16(m.Identifier)
}

func (m *Pong) decode(r *reader) {
	m.CircuitID = CircuitID(r.u32())
	m.Identifier = r.u16()
}

// Marshal encodes m without its type byte.
func Marshal(m Message) ([]byte, error) {
	if err := checkSizes(m); err != nil {
		return nil, err
	}
	w := &writer{}
	m.encode(w)
	return w.buf, nil
}

// Unmarshal decodes a message body of type t.
func Unmarshal(t Type, data []byte) (Message, error) {
	m, err := newMessage(t)
	if err != nil {
		return nil, err
	}
	r := &reader{buf: data}
	m.decode(r)
	if err := r.done(); err != nil {
		return nil, oops.In("message").Wrapf(err, "decoding %s", t)
	}
	return m, nil
}

func newMessage(t Type) (Message, error) {
	switch t {
	case TypeCreate:
		return &Create{}, nil
	case TypeCreated:
		return &Created{}, nil
	case TypeExtend:
		return &Extend{}, nil
	case TypeExtended:
		return &Extended{}, nil
	case TypeData:
		return &Data{}, nil
	case TypePing:
		return &Ping{}, nil
	case TypePong:
		return &Pong{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
}

func checkSizes(m Message) error {
	ok := true
	switch v := m.(type) {
	case *Create:
		ok = fitsVarBytes(v.NodePublicKey, v.Key)
	case *Created:
		ok = fitsVarBytes(v.Key, v.Auth, v.CandidateList)
	case *Extend:
		ok = fitsVarBytes(v.NodePublicKey, v.Key)
	case *Extended:
		ok = fitsVarBytes(v.Key, v.Auth, v.CandidateList)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrFieldTooLarge, m.Type())
	}
	return nil
}
