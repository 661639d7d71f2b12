package ndn

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// DefaultInterestLifetime applies when an Interest carries no lifetime.
const DefaultInterestLifetime = 4 * time.Second

// Child selector values.
const (
	ChildLeftmost  = 0
	ChildRightmost = 1
)

// ExcludeRange excludes every component c with From <= c <= To in canonical
// order. A nil bound is open.
type ExcludeRange struct {
	From Component
	To   Component
}

// Selectors narrow which Data under a prefix satisfies an Interest.
type Selectors struct {
	ChildSelector int
	Exclude       []ExcludeRange
}

// Excludes reports whether c falls in any exclude range.
func (s *Selectors) Excludes(c Component) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Exclude {
		if r.From != nil && c.Compare(r.From) < 0 {
			continue
		}
		if r.To != nil && c.Compare(r.To) > 0 {
			continue
		}
		return true
	}
	return false
}

// ExcludeAfter excludes every component canonically greater than c.
func ExcludeAfter(c Component) ExcludeRange {
	// Ranges are inclusive; start at the canonical successor so c stays eligible.
	return ExcludeRange{From: successor(c)}
}

func successor(c Component) Component {
	out := append(Component(nil), c...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out
		}
		out[i] = 0
	}
	return make(Component, len(c)+1)
}

// Interest is a named request.
type Interest struct {
	Name        Name
	CanBePrefix bool
	MustBeFresh bool
	Selectors   *Selectors
	Nonce       uint32
	Lifetime    time.Duration
}

// NewInterest returns an Interest with a random nonce and the default lifetime.
func NewInterest(name Name) *Interest {
	return &Interest{Name: name, Nonce: RandomNonce(), Lifetime: DefaultInterestLifetime}
}

// RandomNonce returns a random 32-bit nonce.
func RandomNonce() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// EffectiveLifetime returns the lifetime or the default when unset.
func (i *Interest) EffectiveLifetime() time.Duration {
	if i.Lifetime <= 0 {
		return DefaultInterestLifetime
	}
	return i.Lifetime
}

// Matches reports whether d satisfies the Interest.
func (i *Interest) Matches(d *Data) bool {
	if i.CanBePrefix || i.Selectors != nil {
		if !i.Name.IsPrefixOf(d.Name) {
			return false
		}
		if i.Selectors != nil && d.Name.Len() > i.Name.Len() {
			return !i.Selectors.Excludes(d.Name[i.Name.Len()])
		}
		return true
	}
	return i.Name.Equal(d.Name)
}

func (i *Interest) String() string {
	return i.Name.String()
}

// Encode returns the Interest TLV.
func (i *Interest) Encode() []byte {
	value := i.Name.Encode()
	if i.Selectors != nil {
		value = append(value, i.Selectors.encode()...)
	}
	if i.CanBePrefix {
		value = AppendTLV(value, TypeCanBePrefix, nil)
	}
	if i.MustBeFresh {
		value = AppendTLV(value, TypeMustBeFresh, nil)
	}
	nonce := binary.BigEndian.AppendUint32(nil, i.Nonce)
	value = AppendTLV(value, TypeNonce, nonce)
	if i.Lifetime > 0 {
		value = AppendTLV(value, TypeInterestLifetime, EncodeNonNegativeInteger(uint64(i.Lifetime.Milliseconds())))
	}
	return AppendTLV(nil, TypeInterest, value)
}

// DecodeInterest parses an Interest wire block.
func DecodeInterest(wire []byte) (*Interest, error) {
	outer, _, err := ReadBlock(wire)
	if err != nil {
		return nil, err
	}
	if outer.Type != TypeInterest {
		return nil, fmt.Errorf("%w: got %d, want Interest", ErrUnexpected, outer.Type)
	}
	blocks, err := ReadBlocks(outer.Value)
	if err != nil {
		return nil, err
	}
	i := &Interest{}
	seenName := false
	for _, b := range blocks {
		switch b.Type {
		case TypeName:
			if i.Name, err = DecodeName(b.Value); err != nil {
				return nil, err
			}
			seenName = true
		case TypeSelectors:
			if i.Selectors, err = decodeSelectors(b.Value); err != nil {
				return nil, err
			}
		case TypeCanBePrefix:
			i.CanBePrefix = true
		case TypeMustBeFresh:
			i.MustBeFresh = true
		case TypeNonce:
			if len(b.Value) != 4 {
				return nil, fmt.Errorf("%w: nonce length %d", ErrMalformed, len(b.Value))
			}
			i.Nonce = binary.BigEndian.Uint32(b.Value)
		case TypeInterestLifetime:
			ms, err := DecodeNonNegativeInteger(b.Value)
			if err != nil {
				return nil, err
			}
			i.Lifetime = time.Duration(ms) * time.Millisecond
		}
	}
	if !seenName {
		return nil, fmt.Errorf("%w: interest without name", ErrMalformed)
	}
	return i, nil
}

func (s *Selectors) encode() []byte {
	var value []byte
	if len(s.Exclude) > 0 {
		var ex []byte
		for _, r := range s.Exclude {
			if r.From != nil {
				ex = AppendTLV(ex, TypeGenericNameComponent, r.From)
			}
			ex = AppendTLV(ex, TypeAny, nil)
			if r.To != nil {
				ex = AppendTLV(ex, TypeGenericNameComponent, r.To)
			}
		}
		value = AppendTLV(value, TypeExclude, ex)
	}
	if s.ChildSelector != ChildLeftmost {
		value = AppendTLV(value, TypeChildSelector, EncodeNonNegativeInteger(uint64(s.ChildSelector)))
	}
	return AppendTLV(nil, TypeSelectors, value)
}

func decodeSelectors(value []byte) (*Selectors, error) {
	blocks, err := ReadBlocks(value)
	if err != nil {
		return nil, err
	}
	s := &Selectors{}
	for _, b := range blocks {
		switch b.Type {
		case TypeChildSelector:
			v, err := DecodeNonNegativeInteger(b.Value)
			if err != nil {
				return nil, err
			}
			s.ChildSelector = int(v)
		case TypeExclude:
			if s.Exclude, err = decodeExclude(b.Value); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func decodeExclude(value []byte) ([]ExcludeRange, error) {
	blocks, err := ReadBlocks(value)
	if err != nil {
		return nil, err
	}
	var (
		ranges  []ExcludeRange
		pending Component
	)
	for idx := 0; idx < len(blocks); idx++ {
		b := blocks[idx]
		switch b.Type {
		case TypeAny:
			r := ExcludeRange{From: pending}
			pending = nil
			if idx+1 < len(blocks) && blocks[idx+1].Type == TypeGenericNameComponent {
				r.To = Component(append([]byte(nil), blocks[idx+1].Value...))
				idx++
			}
			ranges = append(ranges, r)
		case TypeGenericNameComponent:
			if pending != nil {
				ranges = append(ranges, ExcludeRange{From: pending, To: pending})
			}
			pending = Component(append([]byte(nil), b.Value...))
		default:
			return nil, fmt.Errorf("%w: %d inside Exclude", ErrUnexpected, b.Type)
		}
	}
	if pending != nil {
		ranges = append(ranges, ExcludeRange{From: pending, To: pending})
	}
	return ranges, nil
}
