package ndn

import (
	"fmt"
	"time"
)

// Content types.
const (
	ContentTypeBlob uint64 = 0
	ContentTypeLink uint64 = 1
	ContentTypeKey  uint64 = 2
	ContentTypeNack uint64 = 3
)

// Signature types.
const (
	SignatureDigestSha256  uint64 = 0
	SignatureSha256WithRsa uint64 = 1
)

// MetaInfo carries the Data content type and freshness.
type MetaInfo struct {
	ContentType     uint64
	FreshnessPeriod time.Duration
}

// SignatureInfo describes how a Data packet is signed.
type SignatureInfo struct {
	Type       uint64
	KeyLocator Name
}

// Data is a named, signed response.
type Data struct {
	Name           Name
	MetaInfo       MetaInfo
	Content        []byte
	SignatureInfo  SignatureInfo
	SignatureValue []byte
}

// NewData returns an unsigned Data packet.
func NewData(name Name, content []byte) *Data {
	return &Data{Name: name, Content: content}
}

func (d *Data) String() string {
	return d.Name.String()
}

// Clone returns a deep copy.
func (d *Data) Clone() *Data {
	c := *d
	c.Name = d.Name.Append()
	c.Content = append([]byte(nil), d.Content...)
	c.SignatureInfo.KeyLocator = d.SignatureInfo.KeyLocator.Append()
	c.SignatureValue = append([]byte(nil), d.SignatureValue...)
	return &c
}

func (m MetaInfo) encode() []byte {
	var value []byte
	if m.ContentType != ContentTypeBlob {
		value = AppendTLV(value, TypeContentType, EncodeNonNegativeInteger(m.ContentType))
	}
	if m.FreshnessPeriod > 0 {
		value = AppendTLV(value, TypeFreshnessPeriod, EncodeNonNegativeInteger(uint64(m.FreshnessPeriod.Milliseconds())))
	}
	return AppendTLV(nil, TypeMetaInfo, value)
}

func (s SignatureInfo) encode() []byte {
	value := AppendTLV(nil, TypeSignatureType, EncodeNonNegativeInteger(s.Type))
	if len(s.KeyLocator) > 0 {
		value = AppendTLV(value, TypeKeyLocator, s.KeyLocator.Encode())
	}
	return AppendTLV(nil, TypeSignatureInfo, value)
}

// SignedPortion returns the bytes covered by the signature: Name, MetaInfo,
// Content and SignatureInfo elements.
func (d *Data) SignedPortion() []byte {
	out := d.Name.Encode()
	out = append(out, d.MetaInfo.encode()...)
	out = AppendTLV(out, TypeContent, d.Content)
	return append(out, d.SignatureInfo.encode()...)
}

// Encode returns the Data TLV. The encoding is deterministic.
func (d *Data) Encode() []byte {
	value := d.SignedPortion()
	value = AppendTLV(value, TypeSignatureValue, d.SignatureValue)
	return AppendTLV(nil, TypeData, value)
}

// DecodeData parses a Data wire block.
func DecodeData(wire []byte) (*Data, error) {
	outer, _, err := ReadBlock(wire)
	if err != nil {
		return nil, err
	}
	if outer.Type != TypeData {
		return nil, fmt.Errorf("%w: got %d, want Data", ErrUnexpected, outer.Type)
	}
	blocks, err := ReadBlocks(outer.Value)
	if err != nil {
		return nil, err
	}
	d := &Data{}
	seenName := false
	for _, b := range blocks {
		switch b.Type {
		case TypeName:
			if d.Name, err = DecodeName(b.Value); err != nil {
				return nil, err
			}
			seenName = true
		case TypeMetaInfo:
			if d.MetaInfo, err = decodeMetaInfo(b.Value); err != nil {
				return nil, err
			}
		case TypeContent:
			d.Content = append([]byte(nil), b.Value...)
		case TypeSignatureInfo:
			if d.SignatureInfo, err = decodeSignatureInfo(b.Value); err != nil {
				return nil, err
			}
		case TypeSignatureValue:
			d.SignatureValue = append([]byte(nil), b.Value...)
		}
	}
	if !seenName {
		return nil, fmt.Errorf("%w: data without name", ErrMalformed)
	}
	return d, nil
}

func decodeMetaInfo(value []byte) (MetaInfo, error) {
	var m MetaInfo
	blocks, err := ReadBlocks(value)
	if err != nil {
		return m, err
	}
	for _, b := range blocks {
		switch b.Type {
		case TypeContentType:
			if m.ContentType, err = DecodeNonNegativeInteger(b.Value); err != nil {
				return m, err
			}
		case TypeFreshnessPeriod:
			ms, err := DecodeNonNegativeInteger(b.Value)
			if err != nil {
				return m, err
			}
			m.FreshnessPeriod = time.Duration(ms) * time.Millisecond
		}
	}
	return m, nil
}

func decodeSignatureInfo(value []byte) (SignatureInfo, error) {
	var s SignatureInfo
	blocks, err := ReadBlocks(value)
	if err != nil {
		return s, err
	}
	for _, b := range blocks {
		switch b.Type {
		case TypeSignatureType:
			if s.Type, err = DecodeNonNegativeInteger(b.Value); err != nil {
				return s, err
			}
		case TypeKeyLocator:
			inner, _, err := ReadBlock(b.Value)
			if err != nil {
				return s, err
			}
			if inner.Type == TypeName {
				if s.KeyLocator, err = DecodeName(inner.Value); err != nil {
					return s, err
				}
			}
		}
	}
	return s, nil
}
