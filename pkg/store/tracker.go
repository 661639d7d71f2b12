package store

import (
	"sync"
	"time"
)

// State is the outcome of a push as far as the client knows.
type State int

const (
	Pending State = iota
	Acked
	Failed
)

func (s State) String() string {
	switch s {
	case Acked:
		return "acked"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// MarshalText renders the state by name in JSON status output.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Push records one batch sent to the store.
type Push struct {
	Token     string    `json:"token"`
	Names     []string  `json:"names"`
	State     State     `json:"state"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
}

// DEF_HISTORY is how many settled pushes a Tracker keeps.
const DEF_HISTORY = 4096

// Tracker maps correlation tokens to push outcomes. Settled pushes beyond
// the history limit are forgotten oldest first; pending ones are kept.
type Tracker struct {
	mu      sync.Mutex
	pushes  map[string]*Push
	settled []string
	limit   int
}

func NewTracker(history int) *Tracker {
	if history <= 0 {
		history = DEF_HISTORY
	}
	return &Tracker{pushes: make(map[string]*Push), limit: history}
}

func (t *Tracker) add(token string, names []string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pushes[token] = &Push{Token: token, Names: names, State: Pending, Created: now, Updated: now}
}

func (t *Tracker) attempt(token string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pushes[token]; ok {
		p.Attempts++
		p.Updated = now
	}
}

// settle moves token to its final state and returns a copy of the record.
func (t *Tracker) settle(token string, state State, err error, now time.Time) (Push, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pushes[token]
	if !ok || p.State != Pending {
		return Push{}, false
	}
	p.State = state
	p.Updated = now
	if err != nil {
		p.LastError = err.Error()
	}
	t.settled = append(t.settled, token)
	for len(t.settled) > t.limit {
		delete(t.pushes, t.settled[0])
		t.settled = t.settled[1:]
	}
	return *p, true
}

func (t *Tracker) note(token string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pushes[token]; ok {
		p.LastError = err.Error()
	}
}

// Get returns the record for token.
func (t *Tracker) Get(token string) (Push, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pushes[token]
	if !ok {
		return Push{}, false
	}
	return *p, true
}

// Snapshot returns every known push.
func (t *Tracker) Snapshot() []Push {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Push, 0, len(t.pushes))
	for _, p := range t.pushes {
		out = append(out, *p)
	}
	return out
}

// Counts returns the number of known pushes per state.
func (t *Tracker) Counts() map[State]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := map[State]int{}
	for _, p := range t.pushes {
		out[p.State]++
	}
	return out
}
