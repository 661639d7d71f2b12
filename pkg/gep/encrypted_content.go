package gep

import (
	"fmt"

	"github.com/gepd/gepd/pkg/ndn"
)

// TLV types of the EncryptedContent element.
const (
	TypeEncryptedContent    uint64 = 0x82
	TypeEncryptionAlgorithm uint64 = 0x83
	TypeEncryptedPayload    uint64 = 0x84
	TypeInitialVector       uint64 = 0x85
)

// EncryptedContent is the content of an encrypted Data packet: the payload,
// the algorithm and IV used to produce it, and the name of the decrypting key.
type EncryptedContent struct {
	Algorithm  Algorithm
	KeyLocator ndn.Name
	IV         []byte
	Payload    []byte
}

// Encode returns the EncryptedContent TLV.
func (ec *EncryptedContent) Encode() []byte {
	value := ndn.AppendTLV(nil, ndn.TypeKeyLocator, ec.KeyLocator.Encode())
	value = ndn.AppendTLV(value, TypeEncryptionAlgorithm, ndn.EncodeNonNegativeInteger(uint64(ec.Algorithm)))
	if len(ec.IV) > 0 {
		value = ndn.AppendTLV(value, TypeInitialVector, ec.IV)
	}
	value = ndn.AppendTLV(value, TypeEncryptedPayload, ec.Payload)
	return ndn.AppendTLV(nil, TypeEncryptedContent, value)
}

// DecodeEncryptedContent parses one EncryptedContent element and returns the
// bytes that follow it.
func DecodeEncryptedContent(b []byte) (*EncryptedContent, []byte, error) {
	outer, rest, err := ndn.ReadBlock(b)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	if outer.Type != TypeEncryptedContent {
		return nil, nil, fmt.Errorf("%w: type %d", ErrMalformedContent, outer.Type)
	}
	blocks, err := ndn.ReadBlocks(outer.Value)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	ec := &EncryptedContent{}
	var seenAlgo, seenPayload bool
	for _, blk := range blocks {
		switch blk.Type {
		case ndn.TypeKeyLocator:
			inner, _, err := ndn.ReadBlock(blk.Value)
			if err != nil || inner.Type != ndn.TypeName {
				return nil, nil, fmt.Errorf("%w: key locator", ErrMalformedContent)
			}
			if ec.KeyLocator, err = ndn.DecodeName(inner.Value); err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
			}
		case TypeEncryptionAlgorithm:
			v, err := ndn.DecodeNonNegativeInteger(blk.Value)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
			}
			ec.Algorithm = Algorithm(v)
			seenAlgo = true
		case TypeInitialVector:
			ec.IV = append([]byte(nil), blk.Value...)
		case TypeEncryptedPayload:
			ec.Payload = append([]byte(nil), blk.Value...)
			seenPayload = true
		}
	}
	if !seenAlgo || !seenPayload {
		return nil, nil, fmt.Errorf("%w: missing algorithm or payload", ErrMalformedContent)
	}
	return ec, rest, nil
}
