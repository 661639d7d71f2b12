package producer

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gepd/gepd/pkg/face"
	"github.com/gepd/gepd/pkg/gep"
	"github.com/gepd/gepd/pkg/keychain"
	"github.com/gepd/gepd/pkg/logger"
	"github.com/gepd/gepd/pkg/ndn"
)

const testKeyBits = 1024

var testPrefix = ndn.MustParseName("/org/openmhealth/zhehao")

// fakeFace answers interests synchronously from a fixed set of Data.
type fakeFace struct {
	data       []*ndn.Data
	puts       []*ndn.Data
	sent       int
	registered []ndn.Name
	handler    face.InterestHandler
}

func (f *fakeFace) RegisterPrefix(_ context.Context, prefix ndn.Name, h face.InterestHandler) error {
	f.registered = append(f.registered, prefix)
	f.handler = h
	return nil
}

func (f *fakeFace) ExpressInterest(i *ndn.Interest, onData func(*ndn.Interest, *ndn.Data), onTimeout func(*ndn.Interest)) {
	f.sent++
	rightmost := i.Selectors != nil && i.Selectors.ChildSelector == ndn.ChildRightmost
	var best *ndn.Data
	for _, d := range f.data {
		if !i.Matches(d) {
			continue
		}
		if best == nil || (rightmost && d.Name.Compare(best.Name) > 0) || (!rightmost && d.Name.Compare(best.Name) < 0) {
			best = d
		}
	}
	if best == nil {
		onTimeout(i)
		return
	}
	onData(i, best)
}

func (f *fakeFace) Put(d *ndn.Data) error {
	f.puts = append(f.puts, d)
	return nil
}

func (f *fakeFace) last(t *testing.T) *ndn.Data {
	t.Helper()
	if len(f.puts) == 0 {
		t.Fatal("nothing was put")
	}
	return f.puts[len(f.puts)-1]
}

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(ndn.TimestampFormat, s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// publishEKeys adds the E-KEY that a group manager for dataType issues at
// slot to f.
func publishEKeys(t *testing.T, f *fakeFace, dataType string, slot time.Time) ndn.Name {
	t.Helper()
	db, err := gep.OpenGroupManagerDB(filepath.Join(t.TempDir(), "manager.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	gm := gep.NewGroupManager(testPrefix, ndn.MustParseName(dataType), db, testKeyBits, 1, nil)
	ri, err := gep.NewRepetitiveInterval(ts(t, "20160101T000000"), ts(t, "20170101T000000"), 8, 10, 1, gep.RepeatDay)
	if err != nil {
		t.Fatal(err)
	}
	if err := gm.AddSchedule("schedule1", gep.NewSchedule().AddWhiteInterval(ri)); err != nil {
		t.Fatal(err)
	}
	keys, err := gm.GroupKey(slot)
	if err != nil || len(keys) == 0 {
		t.Fatalf("GroupKey: %v", err)
	}
	f.data = append(f.data, keys[0])
	return keys[0].Name
}

func newService(t *testing.T, f *fakeFace, dataType string, log logger.Logger) *Service {
	t.Helper()
	db, err := gep.OpenProducerDB(filepath.Join(t.TempDir(), "producer.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	cfg := DefaultConfig()
	cfg.DataType = ndn.MustParseName(dataType)
	signer, err := keychain.Generate(testPrefix, testKeyBits)
	if err != nil {
		t.Fatal(err)
	}
	return New(cfg, db, f, signer, log)
}

func TestKeyRequestBeforeDataRequest(t *testing.T) {
	f := &fakeFace{}
	slot := ts(t, "20160321T092000")
	ekey := publishEKeys(t, f, "/fitness", slot)
	s := newService(t, f, "/fitness", logger.NewNopLogger())

	data, err := s.Setup(slot, []byte("steps=42"))
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if got := data.Name.String(); got != "/org/openmhealth/zhehao/SAMPLE/fitness/20160321T090000" {
		t.Fatalf("data name = %s", got)
	}

	s.HandleInterest(nil, &ndn.Interest{Name: ndn.MustParseName("/org/openmhealth/zhehao/SAMPLE/fitness/C-KEY")})
	want := "/org/openmhealth/zhehao/SAMPLE/fitness/C-KEY/20160321T090000/FOR" + ekey.String()
	if got := f.last(t).Name.String(); got != want {
		t.Errorf("first key request served %s, want %s", got, want)
	}

	s.HandleInterest(nil, &ndn.Interest{Name: data.Name})
	if !bytes.Equal(f.last(t).Encode(), data.Encode()) {
		t.Error("data request must return the produced Data byte for byte")
	}
	s.HandleInterest(nil, &ndn.Interest{Name: ndn.MustParseName("/org/openmhealth/zhehao/SAMPLE")})
	if !f.last(t).Name.Equal(data.Name) {
		t.Errorf("prefix request served %s", f.last(t).Name)
	}
}

func TestKeysRoutedByGroup(t *testing.T) {
	f := &fakeFace{}
	slot := ts(t, "20160321T092000")
	fitness := publishEKeys(t, f, "/fitness", slot)
	steps := publishEKeys(t, f, "/fitness/steps", slot)
	s := newService(t, f, "/fitness/steps", logger.NewNopLogger())
	if _, err := s.Setup(slot, []byte("x")); err != nil {
		t.Fatal(err)
	}
	keys := s.Keys()
	if len(keys) != 2 {
		t.Fatalf("cached %d keys, want 2: %+v", len(keys), keys)
	}

	ckey := gep.CKeyName(s.Namespace(), slot).AppendString(gep.ComponentFor)
	tests := []struct {
		name string
		req  ndn.Name
		want ndn.Name
	}{
		{"fitness group", ckey.Append(fitness), ckey.Append(fitness)},
		{"steps group", ckey.Append(steps), ckey.Append(steps)},
		{"group without interval", ckey.Append(fitness.Prefix(-3)), ckey.Append(fitness)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s.HandleInterest(nil, &ndn.Interest{Name: tt.req})
			if got := f.last(t).Name; !got.Equal(tt.want) {
				t.Errorf("served %s, want %s", got, tt.want)
			}
		})
	}

	s.HandleInterest(nil, &ndn.Interest{Name: ndn.MustParseName("/org/openmhealth/zhehao/SAMPLE/fitness/steps/C-KEY/20160321T090000/FOR/unknown/group")})
	latest := f.last(t)
	s.HandleInterest(nil, &ndn.Interest{Name: ndn.MustParseName("/org/openmhealth/zhehao/SAMPLE/fitness/steps/anything")})
	if !f.last(t).Name.Equal(latest.Name) {
		t.Errorf("unmatched requests must get the latest key, got %s and %s", latest.Name, f.last(t).Name)
	}
	if latest.Name.Index(gep.ComponentCKey, 0) < 0 {
		t.Errorf("fallback %s is not a key", latest.Name)
	}
}

func TestStartServesWholeSamplePrefix(t *testing.T) {
	f := &fakeFace{}
	slot := ts(t, "20160321T092000")
	publishEKeys(t, f, "/fitness", slot)
	s := newService(t, f, "/fitness", logger.NewNopLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.registered) != 1 || f.registered[0].String() != "/org/openmhealth/zhehao/SAMPLE" {
		t.Fatalf("registered %v, want /org/openmhealth/zhehao/SAMPLE", f.registered)
	}
	if _, err := s.Setup(slot, []byte("steps=42")); err != nil {
		t.Fatal(err)
	}

	// A request for another data type reaches the handler and gets the
	// latest key.
	req := ndn.MustParseName("/org/openmhealth/zhehao/SAMPLE/location/20160321T090000")
	if !f.registered[0].IsPrefixOf(req) {
		t.Fatalf("%s is outside the registered prefix", req)
	}
	f.handler(f.registered[0], &ndn.Interest{Name: req})
	if got := f.last(t).Name; got.Index(gep.ComponentCKey, 0) < 0 {
		t.Errorf("served %s, want the latest C-KEY", got)
	}
}

func TestNothingCachedDrops(t *testing.T) {
	log := logger.NewMockLogger()
	f := &fakeFace{}
	s := newService(t, f, "/fitness", log)
	s.HandleInterest(nil, &ndn.Interest{Name: ndn.MustParseName("/org/openmhealth/zhehao/SAMPLE/fitness/C-KEY")})
	if len(f.puts) != 0 {
		t.Fatalf("put %d packets with an empty cache", len(f.puts))
	}
	if !log.Contains("Nothing to serve") {
		t.Error("drop not logged")
	}
}

func TestMissingEKeyTimesOut(t *testing.T) {
	log := logger.NewMockLogger()
	f := &fakeFace{}
	s := newService(t, f, "/fitness", log)
	data, err := s.Setup(ts(t, "20160321T092000"), []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Keys()) != 0 {
		t.Errorf("keys = %+v", s.Keys())
	}
	// One initial interest plus the repeat attempts.
	if f.sent != 4 {
		t.Errorf("sent %d E-KEY interests, want 4", f.sent)
	}
	timeouts := 0
	for _, m := range log.InfoCalls() {
		if strings.HasPrefix(m, "Time out I: /org/openmhealth/zhehao/READ/fitness/E-KEY") {
			timeouts++
		}
	}
	if timeouts != 4 {
		t.Errorf("logged %d timeouts, want 4", timeouts)
	}
	s.HandleInterest(nil, &ndn.Interest{Name: data.Name})
	if !f.last(t).Name.Equal(data.Name) {
		t.Error("data must still be served without keys")
	}
}

func TestSetupIsDeterministic(t *testing.T) {
	f := &fakeFace{}
	slot := ts(t, "20160321T092000")
	publishEKeys(t, f, "/fitness", slot)
	s := newService(t, f, "/fitness", nil)
	a, err := s.Setup(slot, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Setup(slot, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if !a.Name.Equal(b.Name) || !bytes.Equal(a.Content, b.Content) {
		t.Error("same slot and payload must produce the same content")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	c := DefaultConfig()
	c.RepeatAttempts = 0
	if c.Validate() == nil {
		t.Error("zero repeat attempts must be rejected")
	}
	c = DefaultConfig()
	c.DataType = nil
	if c.Validate() == nil {
		t.Error("empty data type must be rejected")
	}
}
