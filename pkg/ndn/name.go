// Package ndn implements the named-data primitives gepd exchanges between
// roles: hierarchical names, Interest and Data packets, and their TLV wire
// encoding.
package ndn

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// TimestampFormat is the ISO basic format used for time components
// (e.g. 20160320T000000).
const TimestampFormat = "20060102T150405"

// Component is one name component.
type Component []byte

// String returns the URI form of the component.
func (c Component) String() string {
	var sb strings.Builder
	onlyPeriods := len(c) > 0
	for _, b := range c {
		if b != '.' {
			onlyPeriods = false
		}
		if isUnreserved(b) {
			sb.WriteByte(b)
		} else {
			fmt.Fprintf(&sb, "%%%02X", b)
		}
	}
	if onlyPeriods || len(c) == 0 {
		return "..." + sb.String()
	}
	return sb.String()
}

// Compare orders components canonically: shorter first, then bytewise.
func (c Component) Compare(o Component) int {
	if len(c) != len(o) {
		if len(c) < len(o) {
			return -1
		}
		return 1
	}
	return bytes.Compare(c, o)
}

// Equal reports whether both components hold the same bytes.
func (c Component) Equal(o Component) bool {
	return bytes.Equal(c, o)
}

func isUnreserved(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') ||
		b == '-' || b == '.' || b == '_' || b == '~'
}

// Name is a hierarchical name. Methods never mutate the receiver.
type Name []Component

// ParseName parses the URI representation of a name ("/a/b/c").
func ParseName(uri string) (Name, error) {
	uri = strings.TrimPrefix(uri, "ndn:")
	uri = strings.TrimSpace(uri)
	if uri == "" || uri == "/" {
		return Name{}, nil
	}
	if !strings.HasPrefix(uri, "/") {
		return nil, fmt.Errorf("%w: %q must start with '/'", ErrInvalidName, uri)
	}
	parts := strings.Split(strings.Trim(uri, "/"), "/")
	name := make(Name, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		v, err := url.PathUnescape(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidName, err)
		}
		if strings.Trim(v, ".") == "" {
			if len(v) < 3 {
				return nil, fmt.Errorf("%w: illegal component %q", ErrInvalidName, p)
			}
			v = v[3:]
		}
		name = append(name, Component(v))
	}
	return name, nil
}

// MustParseName is ParseName for constant names; it panics on error.
func MustParseName(uri string) Name {
	n, err := ParseName(uri)
	if err != nil {
		panic(err)
	}
	return n
}

// String returns the URI representation.
func (n Name) String() string {
	if len(n) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, c := range n {
		sb.WriteByte('/')
		sb.WriteString(c.String())
	}
	return sb.String()
}

// Len returns the number of components.
func (n Name) Len() int { return len(n) }

// At returns the i-th component; negative i counts from the end.
func (n Name) At(i int) Component {
	if i < 0 {
		i += len(n)
	}
	if i < 0 || i >= len(n) {
		return nil
	}
	return n[i]
}

// Append returns a new name with the given names' components appended.
func (n Name) Append(others ...Name) Name {
	out := n.clone(0)
	for _, o := range others {
		out = append(out, o...)
	}
	return out
}

// AppendComponent returns a new name with raw components appended.
func (n Name) AppendComponent(comps ...Component) Name {
	out := n.clone(len(comps))
	return append(out, comps...)
}

// AppendString returns a new name with each string appended as one component.
func (n Name) AppendString(comps ...string) Name {
	out := n.clone(len(comps))
	for _, c := range comps {
		out = append(out, Component(c))
	}
	return out
}

// AppendTimestamp appends t in TimestampFormat (UTC).
func (n Name) AppendTimestamp(t time.Time) Name {
	return n.AppendString(t.UTC().Format(TimestampFormat))
}

// SubName returns the components from start to the end. A start beyond the
// end yields an empty name.
func (n Name) SubName(start int) Name {
	if start >= len(n) {
		return Name{}
	}
	if start < 0 {
		start = 0
	}
	return Name(append([]Component(nil), n[start:]...))
}

// Prefix returns the first count components; a negative count drops that many
// components from the end.
func (n Name) Prefix(count int) Name {
	if count < 0 {
		count += len(n)
	}
	if count <= 0 {
		return Name{}
	}
	if count > len(n) {
		count = len(n)
	}
	return Name(append([]Component(nil), n[:count]...))
}

// Equal reports component-wise equality.
func (n Name) Equal(o Name) bool {
	if len(n) != len(o) {
		return false
	}
	for i := range n {
		if !n[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether n is a (non-strict) prefix of o.
func (n Name) IsPrefixOf(o Name) bool {
	if len(n) > len(o) {
		return false
	}
	for i := range n {
		if !n[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Compare orders names canonically: component-wise, a prefix sorts first.
func (n Name) Compare(o Name) int {
	for i := 0; i < len(n) && i < len(o); i++ {
		if c := n[i].Compare(o[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(n) < len(o):
		return -1
	case len(n) > len(o):
		return 1
	}
	return 0
}

// Index returns the position of the first component equal to s at or after
// from, or -1.
func (n Name) Index(s string, from int) int {
	for i := from; i < len(n); i++ {
		if string(n[i]) == s {
			return i
		}
	}
	return -1
}

func (n Name) clone(extra int) Name {
	out := make(Name, len(n), len(n)+extra)
	copy(out, n)
	return out
}

// Encode returns the Name TLV.
func (n Name) Encode() []byte {
	var value []byte
	for _, c := range n {
		value = AppendTLV(value, TypeGenericNameComponent, c)
	}
	return AppendTLV(nil, TypeName, value)
}

// DecodeName decodes a Name TLV value (the bytes inside the Name element).
func DecodeName(value []byte) (Name, error) {
	blocks, err := ReadBlocks(value)
	if err != nil {
		return nil, err
	}
	name := make(Name, 0, len(blocks))
	for _, b := range blocks {
		name = append(name, Component(append([]byte(nil), b.Value...)))
	}
	return name, nil
}

// ParseTimestamp decodes a TimestampFormat component.
func ParseTimestamp(c Component) (time.Time, error) {
	return time.ParseInLocation(TimestampFormat, string(c), time.UTC)
}
