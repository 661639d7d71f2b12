package hub

import (
	"fmt"
	"sort"
	"time"

	"github.com/gepd/gepd/pkg/ndn"
)

const nonceSweepEvery = 256

type pitEntry struct {
	key      string
	interest *ndn.Interest
	in       map[uint64]struct{}
	timer    *time.Timer
}

// pit holds interests forwarded and not yet satisfied, and recently seen
// nonces for loop suppression.
type pit struct {
	entries map[string]*pitEntry
	nonces  map[string]time.Time
	inserts int
}

func newPit() *pit {
	return &pit{
		entries: make(map[string]*pitEntry),
		nonces:  make(map[string]time.Time),
	}
}

// entryKey identifies interests that can share one forwarded copy.
func entryKey(i *ndn.Interest) string {
	key := fmt.Sprintf("%s|%t|%t", i.Name, i.CanBePrefix, i.MustBeFresh)
	if s := i.Selectors; s != nil {
		key += fmt.Sprintf("|%d", s.ChildSelector)
		for _, r := range s.Exclude {
			key += fmt.Sprintf("|%x-%x", []byte(r.From), []byte(r.To))
		}
	}
	return key
}

// duplicate records the nonce of i and reports whether it was seen within
// the interest's lifetime.
func (p *pit) duplicate(i *ndn.Interest, now time.Time) bool {
	key := fmt.Sprintf("%s|%d", i.Name, i.Nonce)
	if exp, ok := p.nonces[key]; ok && now.Before(exp) {
		return true
	}
	p.nonces[key] = now.Add(i.EffectiveLifetime())
	p.inserts++
	if p.inserts%nonceSweepEvery == 0 {
		for k, exp := range p.nonces {
			if !now.Before(exp) {
				delete(p.nonces, k)
			}
		}
	}
	return false
}

// insert adds face as a downstream of i. It reports whether the entry is new
// and therefore still has to be forwarded.
func (p *pit) insert(i *ndn.Interest, face uint64) (*pitEntry, bool) {
	key := entryKey(i)
	if e, ok := p.entries[key]; ok {
		e.in[face] = struct{}{}
		return e, false
	}
	e := &pitEntry{key: key, interest: i, in: map[uint64]struct{}{face: {}}}
	p.entries[key] = e
	return e, true
}

// satisfy removes every entry d satisfies and returns their downstream
// faces other than from.
func (p *pit) satisfy(d *ndn.Data, from uint64) []uint64 {
	set := map[uint64]struct{}{}
	for key, e := range p.entries {
		if !e.interest.Matches(d) {
			continue
		}
		for id := range e.in {
			if id != from {
				set[id] = struct{}{}
			}
		}
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(p.entries, key)
	}
	out := make([]uint64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// expire drops e if it is still the live entry for its key.
func (p *pit) expire(e *pitEntry) bool {
	if cur, ok := p.entries[e.key]; ok && cur == e {
		delete(p.entries, e.key)
		return true
	}
	return false
}

func (p *pit) removeFace(face uint64) {
	for key, e := range p.entries {
		delete(e.in, face)
		if len(e.in) == 0 {
			if e.timer != nil {
				e.timer.Stop()
			}
			delete(p.entries, key)
		}
	}
}

func (p *pit) len() int { return len(p.entries) }
