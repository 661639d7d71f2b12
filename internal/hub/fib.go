package hub

import (
	"sort"

	"github.com/gepd/gepd/pkg/ndn"
)

type fibEntry struct {
	prefix ndn.Name
	faces  map[uint64]struct{}
}

// fib maps registered prefixes to the faces that serve them.
type fib struct {
	entries map[string]*fibEntry
}

func newFib() *fib {
	return &fib{entries: make(map[string]*fibEntry)}
}

func (f *fib) add(prefix ndn.Name, face uint64) {
	key := prefix.String()
	e, ok := f.entries[key]
	if !ok {
		e = &fibEntry{prefix: prefix, faces: make(map[uint64]struct{})}
		f.entries[key] = e
	}
	e.faces[face] = struct{}{}
}

func (f *fib) remove(prefix ndn.Name, face uint64) bool {
	key := prefix.String()
	e, ok := f.entries[key]
	if !ok {
		return false
	}
	if _, ok := e.faces[face]; !ok {
		return false
	}
	delete(e.faces, face)
	if len(e.faces) == 0 {
		delete(f.entries, key)
	}
	return true
}

func (f *fib) removeFace(face uint64) {
	for key, e := range f.entries {
		delete(e.faces, face)
		if len(e.faces) == 0 {
			delete(f.entries, key)
		}
	}
}

// lookup returns the faces of the longest registered prefix of name that
// has a face other than in.
func (f *fib) lookup(name ndn.Name, in uint64) []uint64 {
	var best *fibEntry
	for _, e := range f.entries {
		if !e.prefix.IsPrefixOf(name) || (best != nil && e.prefix.Len() <= best.prefix.Len()) {
			continue
		}
		if _, only := e.faces[in]; only && len(e.faces) == 1 {
			continue
		}
		best = e
	}
	if best == nil {
		return nil
	}
	out := make([]uint64, 0, len(best.faces))
	for id := range best.faces {
		if id != in {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f *fib) len() int { return len(f.entries) }
