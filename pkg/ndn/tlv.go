package ndn

import (
	"encoding/binary"
	"fmt"
)

// TLV type numbers of the NDN packet format used by gepd.
const (
	TypeInterest             uint64 = 0x05
	TypeData                 uint64 = 0x06
	TypeName                 uint64 = 0x07
	TypeGenericNameComponent uint64 = 0x08
	TypeSelectors            uint64 = 0x09
	TypeNonce                uint64 = 0x0a
	TypeInterestLifetime     uint64 = 0x0c
	TypeExclude              uint64 = 0x10
	TypeChildSelector        uint64 = 0x11
	TypeMustBeFresh          uint64 = 0x12
	TypeAny                  uint64 = 0x13
	TypeMetaInfo             uint64 = 0x14
	TypeContent              uint64 = 0x15
	TypeSignatureInfo        uint64 = 0x16
	TypeSignatureValue       uint64 = 0x17
	TypeContentType          uint64 = 0x18
	TypeFreshnessPeriod      uint64 = 0x19
	TypeSignatureType        uint64 = 0x1b
	TypeKeyLocator           uint64 = 0x1c
	TypeCanBePrefix          uint64 = 0x21
)

// Block is one decoded TLV element.
type Block struct {
	Type  uint64
	Value []byte
}

// AppendVarNumber appends v in the NDN VAR-NUMBER encoding.
func AppendVarNumber(b []byte, v uint64) []byte {
	switch {
	case v < 253:
		return append(b, byte(v))
	case v <= 0xffff:
		b = append(b, 253)
		return binary.BigEndian.AppendUint16(b, uint16(v))
	case v <= 0xffffffff:
		b = append(b, 254)
		return binary.BigEndian.AppendUint32(b, uint32(v))
	default:
		b = append(b, 255)
		return binary.BigEndian.AppendUint64(b, v)
	}
}

// ReadVarNumber decodes a VAR-NUMBER at the start of b and returns it with the
// number of bytes consumed.
func ReadVarNumber(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrTruncated
	}
	switch first := b[0]; {
	case first < 253:
		return uint64(first), 1, nil
	case first == 253:
		if len(b) < 3 {
			return 0, 0, ErrTruncated
		}
		return uint64(binary.BigEndian.Uint16(b[1:3])), 3, nil
	case first == 254:
		if len(b) < 5 {
			return 0, 0, ErrTruncated
		}
		return uint64(binary.BigEndian.Uint32(b[1:5])), 5, nil
	default:
		if len(b) < 9 {
			return 0, 0, ErrTruncated
		}
		return binary.BigEndian.Uint64(b[1:9]), 9, nil
	}
}

// EncodeNonNegativeInteger returns the shortest 1, 2, 4 or 8 byte big-endian
// encoding of v.
func EncodeNonNegativeInteger(v uint64) []byte {
	switch {
	case v <= 0xff:
		return []byte{byte(v)}
	case v <= 0xffff:
		return binary.BigEndian.AppendUint16(nil, uint16(v))
	case v <= 0xffffffff:
		return binary.BigEndian.AppendUint32(nil, uint32(v))
	default:
		return binary.BigEndian.AppendUint64(nil, v)
	}
}

// DecodeNonNegativeInteger is the inverse of EncodeNonNegativeInteger.
func DecodeNonNegativeInteger(b []byte) (uint64, error) {
	switch len(b) {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(b)), nil
	case 8:
		return binary.BigEndian.Uint64(b), nil
	}
	return 0, fmt.Errorf("%w: non-negative integer of %d bytes", ErrMalformed, len(b))
}

// AppendTLV appends a complete type-length-value element.
func AppendTLV(b []byte, typ uint64, value []byte) []byte {
	b = AppendVarNumber(b, typ)
	b = AppendVarNumber(b, uint64(len(value)))
	return append(b, value...)
}

// ReadBlock decodes the first TLV element of b and returns it with the remaining bytes.
func ReadBlock(b []byte) (Block, []byte, error) {
	typ, n, err := ReadVarNumber(b)
	if err != nil {
		return Block{}, nil, err
	}
	b = b[n:]
	length, n, err := ReadVarNumber(b)
	if err != nil {
		return Block{}, nil, err
	}
	b = b[n:]
	if uint64(len(b)) < length {
		return Block{}, nil, ErrTruncated
	}
	return Block{Type: typ, Value: b[:length]}, b[length:], nil
}

// ReadBlocks decodes a sequence of sibling TLV elements.
func ReadBlocks(b []byte) ([]Block, error) {
	var blocks []Block
	for len(b) > 0 {
		blk, rest, err := ReadBlock(b)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, blk)
		b = rest
	}
	return blocks, nil
}

// PeekType returns the outer TLV type of a wire block without decoding it.
func PeekType(wire []byte) (uint64, error) {
	typ, _, err := ReadVarNumber(wire)
	return typ, err
}
