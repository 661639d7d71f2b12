package ndn

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestParseNameRoundTrip(t *testing.T) {
	tests := []struct {
		in, want string
		size     int
	}{
		{"/", "/", 0},
		{"/org/openmhealth/zhehao", "/org/openmhealth/zhehao", 3},
		{"ndn:/a/b", "/a/b", 2},
		{"/a//b/", "/a/b", 2},
		{"/a%20b/c", "/a%20b/c", 2},
		{"/.../x", "/.../x", 2},
	}
	for _, tt := range tests {
		n, err := ParseName(tt.in)
		if err != nil {
			t.Fatalf("ParseName(%q): %v", tt.in, err)
		}
		if n.Len() != tt.size {
			t.Errorf("ParseName(%q) size = %d, want %d", tt.in, n.Len(), tt.size)
		}
		if got := n.String(); got != tt.want {
			t.Errorf("ParseName(%q).String() = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseNameErrors(t *testing.T) {
	for _, in := range []string{"relative/name", "/a/%zz", "/a/.."} {
		if _, err := ParseName(in); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ParseName(%q) err = %v, want ErrInvalidName", in, err)
		}
	}
}

func TestNameOperations(t *testing.T) {
	n := MustParseName("/org/openmhealth/zhehao/read_access_request/alice/KEY/1")
	if got := n.SubName(4).String(); got != "/alice/KEY/1" {
		t.Errorf("SubName(4) = %s", got)
	}
	if got := n.SubName(10).Len(); got != 0 {
		t.Errorf("SubName beyond end should be empty, got %d", got)
	}
	if got := n.Prefix(-2).String(); got != "/org/openmhealth/zhehao/read_access_request/alice" {
		t.Errorf("Prefix(-2) = %s", got)
	}
	if got := n.Prefix(2).String(); got != "/org/openmhealth" {
		t.Errorf("Prefix(2) = %s", got)
	}
	if string(n.At(-1)) != "1" || n.At(99) != nil {
		t.Errorf("At mismatch")
	}
	if n.Index("KEY", 0) != 5 || n.Index("nope", 0) != -1 {
		t.Errorf("Index mismatch")
	}

	base := MustParseName("/a")
	ext := base.AppendString("b")
	if base.Len() != 1 {
		t.Fatal("Append must not mutate the receiver")
	}
	if !base.IsPrefixOf(ext) || ext.IsPrefixOf(base) {
		t.Error("IsPrefixOf mismatch")
	}
	ts := time.Date(2016, 3, 20, 0, 0, 0, 0, time.UTC)
	stamped := base.AppendTimestamp(ts)
	if got := stamped.String(); got != "/a/20160320T000000" {
		t.Errorf("AppendTimestamp = %s", got)
	}
	parsed, err := ParseTimestamp(stamped.At(-1))
	if err != nil || !parsed.Equal(ts) {
		t.Errorf("ParseTimestamp = %v, %v", parsed, err)
	}
}

func TestNameCompare(t *testing.T) {
	a := MustParseName("/a/b")
	b := MustParseName("/a/b/c")
	c := MustParseName("/a/bb")
	if a.Compare(b) >= 0 || b.Compare(a) <= 0 {
		t.Error("prefix must sort first")
	}
	if b.Compare(c) >= 0 {
		t.Error("shorter component must sort first")
	}
	if a.Compare(a.Append()) != 0 {
		t.Error("equal names must compare 0")
	}
}

func TestVarNumber(t *testing.T) {
	for _, v := range []uint64{0, 252, 253, 0xffff, 0x10000, 0xffffffff, 0x100000000} {
		b := AppendVarNumber(nil, v)
		got, n, err := ReadVarNumber(b)
		if err != nil || got != v || n != len(b) {
			t.Errorf("VarNumber %d: got %d (%d bytes), err %v", v, got, n, err)
		}
	}
	if _, _, err := ReadVarNumber([]byte{253, 1}); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected truncation error, got %v", err)
	}
	if _, err := DecodeNonNegativeInteger([]byte{1, 2, 3}); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected malformed error, got %v", err)
	}
}

func TestInterestWire(t *testing.T) {
	i := &Interest{
		Name:        MustParseName("/org/openmhealth/zhehao/READ/fitness/E-KEY"),
		CanBePrefix: true,
		MustBeFresh: true,
		Nonce:       0xdeadbeef,
		Lifetime:    time.Second,
		Selectors: &Selectors{
			ChildSelector: ChildRightmost,
			Exclude:       []ExcludeRange{ExcludeAfter(Component("20160321T090000"))},
		},
	}
	got, err := DecodeInterest(i.Encode())
	if err != nil {
		t.Fatalf("DecodeInterest: %v", err)
	}
	if !got.Name.Equal(i.Name) || !got.CanBePrefix || !got.MustBeFresh ||
		got.Nonce != i.Nonce || got.Lifetime != time.Second {
		t.Fatalf("decoded interest mismatch: %+v", got)
	}
	if got.Selectors == nil || got.Selectors.ChildSelector != ChildRightmost || len(got.Selectors.Exclude) != 1 {
		t.Fatalf("selectors lost: %+v", got.Selectors)
	}
	if _, err := DecodeInterest(NewData(i.Name, nil).Encode()); !errors.Is(err, ErrUnexpected) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
}

func TestInterestMatches(t *testing.T) {
	prefix := MustParseName("/p/E-KEY")
	exact := &Interest{Name: prefix}
	if exact.Matches(NewData(prefix.AppendString("20160321T080000"), nil)) {
		t.Error("exact interest must not match a longer name")
	}
	if !exact.Matches(NewData(prefix, nil)) {
		t.Error("exact interest must match an equal name")
	}
	sel := &Interest{Name: prefix, Selectors: &Selectors{
		Exclude: []ExcludeRange{ExcludeAfter(Component("20160321T090000"))},
	}}
	tests := []struct {
		comp string
		want bool
	}{
		{"20160321T080000", true},
		{"20160321T090000", true},
		{"20160321T100000", false},
	}
	for _, tt := range tests {
		d := NewData(prefix.AppendString(tt.comp, "20160321T100000"), nil)
		if got := sel.Matches(d); got != tt.want {
			t.Errorf("Matches(%s) = %v, want %v", tt.comp, got, tt.want)
		}
	}
}

func TestDataWireStable(t *testing.T) {
	d := &Data{
		Name:     MustParseName("/org/openmhealth/zhehao/SAMPLE/fitness/20160321T090000"),
		MetaInfo: MetaInfo{ContentType: ContentTypeKey, FreshnessPeriod: 10 * time.Second},
		Content:  []byte{0xcb, 0xe5, 0x6a},
		SignatureInfo: SignatureInfo{
			Type:       SignatureSha256WithRsa,
			KeyLocator: MustParseName("/org/openmhealth/zhehao/KEY/1"),
		},
		SignatureValue: []byte{1, 2, 3, 4},
	}
	wire := d.Encode()
	got, err := DecodeData(wire)
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if !bytes.Equal(got.Encode(), wire) {
		t.Fatal("re-encoded data differs from original wire")
	}
	if got.MetaInfo.FreshnessPeriod != 10*time.Second || !got.SignatureInfo.KeyLocator.Equal(d.SignatureInfo.KeyLocator) {
		t.Fatalf("decoded fields mismatch: %+v", got)
	}
	clone := d.Clone()
	clone.Content[0] = 0
	if d.Content[0] != 0xcb {
		t.Fatal("Clone must not share content")
	}
	if typ, _ := PeekType(wire); typ != TypeData {
		t.Fatalf("PeekType = %d", typ)
	}
	if _, err := DecodeData(wire[:len(wire)-2]); err == nil {
		t.Fatal("expected error for truncated data")
	}
}

func TestNamePrefixProperties(t *testing.T) {
	comp := rapid.SliceOfN(rapid.Byte(), 1, 6)
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.SliceOfN(comp, 0, 6).Draw(t, "base")
		extra := rapid.SliceOfN(comp, 0, 4).Draw(t, "extra")
		base := Name{}
		for _, c := range raw {
			base = base.AppendComponent(c)
		}
		ext := base
		for _, c := range extra {
			ext = ext.AppendComponent(c)
		}
		if !base.IsPrefixOf(ext) {
			t.Fatalf("%s must prefix %s", base, ext)
		}
		if !ext.SubName(0).Prefix(base.Len()).Equal(base) {
			t.Fatalf("Prefix(%d) of %s != %s", base.Len(), ext, base)
		}
		reparsed, err := ParseName(ext.String())
		if err != nil || !reparsed.Equal(ext) {
			t.Fatalf("URI round trip failed for %s: %v", ext, err)
		}
		decoded, err := DecodeName(ext.Encode()[2:])
		if ext.Len() > 0 && len(ext.Encode()) < 255 && (err != nil || !decoded.Equal(ext)) {
			t.Fatalf("TLV round trip failed for %s: %v", ext, err)
		}
	})
}
