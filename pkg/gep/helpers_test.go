package gep

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gepd/gepd/pkg/keychain"
	"github.com/gepd/gepd/pkg/ndn"
)

const testKeyBits = 1024

var (
	testPrefix   = ndn.MustParseName("/org/openmhealth/zhehao")
	testDataType = ndn.MustParseName("/fitness")
)

// staticFetcher answers interests from a fixed set of Data, synchronously.
// Interests without a matching packet time out.
type staticFetcher struct {
	data []*ndn.Data
	sent []*ndn.Interest
}

func (f *staticFetcher) add(ds ...*ndn.Data) { f.data = append(f.data, ds...) }

func (f *staticFetcher) ExpressInterest(i *ndn.Interest, onData func(*ndn.Interest, *ndn.Data), onTimeout func(*ndn.Interest)) {
	f.sent = append(f.sent, i)
	rightmost := i.Selectors != nil && i.Selectors.ChildSelector == ndn.ChildRightmost
	var best *ndn.Data
	for _, d := range f.data {
		if !i.Matches(d) {
			continue
		}
		if best == nil {
			best = d
			continue
		}
		c := d.Name.Compare(best.Name)
		if (rightmost && c > 0) || (!rightmost && c < 0) {
			best = d
		}
	}
	if best == nil {
		onTimeout(i)
		return
	}
	onData(i, best)
}

func (f *staticFetcher) count(prefix ndn.Name) int {
	n := 0
	for _, i := range f.sent {
		if prefix.IsPrefixOf(i.Name) {
			n++
		}
	}
	return n
}

func newKeychain(t testing.TB, identity string) *keychain.Keychain {
	t.Helper()
	kc, err := keychain.Generate(ndn.MustParseName(identity), testKeyBits)
	if err != nil {
		t.Fatalf("generate %s: %v", identity, err)
	}
	return kc
}

func newTestManager(t testing.TB, signer keychain.Signer) *GroupManager {
	t.Helper()
	db, err := OpenGroupManagerDB(filepath.Join(t.TempDir(), "manager.db"))
	if err != nil {
		t.Fatalf("open manager db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewGroupManager(testPrefix, testDataType, db, testKeyBits, 1, signer)
}

func newTestProducer(t testing.TB, f Fetcher, dataType ndn.Name) (*Producer, *ProducerDB) {
	t.Helper()
	db, err := OpenProducerDB(filepath.Join(t.TempDir(), "producer.db"))
	if err != nil {
		t.Fatalf("open producer db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewProducer(testPrefix, dataType, f, db, 3, nil), db
}

// managerWithMember returns a manager holding the daily 8-10 schedule and
// one member bound to it.
func managerWithMember(t testing.TB) (*GroupManager, *keychain.Keychain) {
	t.Helper()
	m := newTestManager(t, nil)
	if err := m.AddSchedule("schedule1", NewSchedule().AddWhiteInterval(dailyWindow(t))); err != nil {
		t.Fatal(err)
	}
	alice := newKeychain(t, "/ndn/member/alice")
	if _, err := m.AddMember("schedule1", alice.Certificate()); err != nil {
		t.Fatal(err)
	}
	return m, alice
}

// publishDay adds the group keys of every hour of the day to f.
func publishDay(t testing.TB, m *GroupManager, f *staticFetcher, day time.Time) {
	t.Helper()
	seen := map[string]bool{}
	for h := 0; h < 24; h++ {
		keys, err := m.GroupKey(day.Add(time.Duration(h) * time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		for _, k := range keys {
			if !seen[k.Name.String()] {
				seen[k.Name.String()] = true
				f.add(k)
			}
		}
	}
}
