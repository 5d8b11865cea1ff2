package message

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtendWithoutAddress(t *testing.T) {
	in := &Extend{CircuitID: 7, NodePublicKey: []byte("node-key"), Key: []byte("X")}
	body, err := Marshal(in)
	require.NoError(t, err)

	out, err := Unmarshal(TypeExtend, body)
	require.NoError(t, err)
	ext, ok := out.(*Extend)
	require.True(t, ok)
	assert.False(t, ext.NodeAddr.IsValid())
	assert.Equal(t, in.NodePublicKey, ext.NodePublicKey)
	assert.Equal(t, CircuitID(7), ext.Circuit())
}

func TestDataPayloadRunsToEnd(t *testing.T) {
	in := &Data{
		CircuitID:   1,
		Destination: netip.MustParseAddrPort("10.0.0.1:4000"),
		Origin:      netip.MustParseAddrPort("0.0.0.0:0"),
		Payload:     []byte{0, 0, 0, 1},
	}
	body, err := Marshal(in)
	require.NoError(t, err)

	out, err := Unmarshal(TypeData, body)
	require.NoError(t, err)
	d := out.(*Data)
	assert.Equal(t, in.Destination, d.Destination)
	assert.Equal(t, in.Origin, d.Origin)
	assert.Equal(t, in.Payload, d.Payload)
}

func TestUnmarshalRejectsTruncated(t *testing.T) {
	body, err := Marshal(&Create{CircuitID: 3, NodePublicKey: make([]byte, 32), Key: make([]byte, 32)})
	require.NoError(t, err)

	_, err = Unmarshal(TypeCreate, body[:len(body)-1])
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Unmarshal(TypePing, append(body[:6:6], 0xff))
	assert.ErrorIs(t, err, ErrTrailingData)
}

func TestUnmarshalUnknownType(t *testing.T) {
	_, err := Unmarshal(Type(99), nil)
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Unmarshal(TypeDestroy, nil)
	assert.ErrorIs(t, err, ErrUnknownType, "destroy is an outer packet, not a cell message")
}

func TestPlaintextTypes(t *testing.T) {
	for _, typ := range []Type{TypeCreate, TypeCreated} {
		assert.True(t, typ.Plaintext(), typ.String())
	}
	for _, typ := range []Type{TypeData, TypeExtend, TypeExtended, TypePing, TypePong} {
		assert.False(t, typ.Plaintext(), typ.String())
	}
}

func TestCodecCell(t *testing.T) {
	codec := NewCodec(DefaultPrefix)
	cell, err := NewCell(&Ping{CircuitID: 42, Identifier: 9})
	require.NoError(t, err)

	pkt, err := codec.Decode(codec.EncodeCell(cell))
	require.NoError(t, err)
	require.NotNil(t, pkt.Cell)
	assert.Nil(t, pkt.Destroy)
	assert.Equal(t, CircuitID(42), pkt.Cell.CircuitID)
	assert.Equal(t, TypePing, pkt.Cell.MessageType)

	msg, err := pkt.Cell.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, uint16(9), msg.(*Ping).Identifier)
}

func TestCodecDestroy(t *testing.T) {
	codec := NewCodec(DefaultPrefix)
	pkt, err := codec.Decode(codec.EncodeDestroy(&Destroy{CircuitID: 5, Reason: 3}))
	require.NoError(t, err)
	require.NotNil(t, pkt.Destroy)
	assert.Equal(t, CircuitID(5), pkt.Destroy.CircuitID)
	assert.Equal(t, uint16(3), pkt.Destroy.Reason)
}

func TestCodecRejectsForeignPackets(t *testing.T) {
	codec := NewCodec(DefaultPrefix)
	other := NewCodec(Prefix{1, 2, 3, 4})
	raw := other.EncodeDestroy(&Destroy{CircuitID: 1})

	_, err := codec.Decode(raw)
	assert.ErrorIs(t, err, ErrPrefixMismatch)
	assert.False(t, codec.Matches(raw))
	assert.True(t, other.Matches(raw))

	bad := codec.EncodeDestroy(&Destroy{CircuitID: 1})
	bad[PrefixSize] = Version + 1
	_, err = codec.Decode(bad)
	assert.ErrorIs(t, err, ErrBadVersion)

	_, err = codec.Decode(DefaultPrefix[:])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestCandidates(t *testing.T) {
	keys := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	enc, err := EncodeCandidates(keys)
	require.NoError(t, err)
	dec, err := DecodeCandidates(enc)
	require.NoError(t, err)
	assert.Equal(t, keys, dec)

	empty, err := EncodeCandidates(nil)
	require.NoError(t, err)
	dec, err = DecodeCandidates(empty)
	require.NoError(t, err)
	assert.Empty(t, dec)

	_, err = EncodeCandidates(make([][]byte, MaxCandidates+1))
	assert.ErrorIs(t, err, ErrFieldTooLarge)
}

func TestIntroduction(t *testing.T) {
	exit, err := DecodeIntroduction(EncodeIntroduction(true))
	require.NoError(t, err)
	assert.True(t, exit)

	exit, err = DecodeIntroduction(EncodeIntroduction(false))
	require.NoError(t, err)
	assert.False(t, exit)

	exit, err = DecodeIntroduction(nil)
	require.NoError(t, err)
	assert.False(t, exit)
}
