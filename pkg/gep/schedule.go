package gep

import (
	"encoding/json"
	"fmt"
	"time"
)

// Schedule is a set of white intervals granting access and black intervals
// revoking it. Black intervals take precedence.
type Schedule struct {
	White []RepetitiveInterval `json:"white"`
	Black []RepetitiveInterval `json:"black"`
}

func NewSchedule() *Schedule {
	return &Schedule{}
}

// AddWhiteInterval adds ri unless an equal interval is already present.
func (s *Schedule) AddWhiteInterval(ri RepetitiveInterval) *Schedule {
	s.White = addUnique(s.White, ri)
	return s
}

// AddBlackInterval adds ri unless an equal interval is already present.
func (s *Schedule) AddBlackInterval(ri RepetitiveInterval) *Schedule {
	s.Black = addUnique(s.Black, ri)
	return s
}

func addUnique(list []RepetitiveInterval, ri RepetitiveInterval) []RepetitiveInterval {
	for _, e := range list {
		if e.equal(ri) {
			return list
		}
	}
	return append(list, ri)
}

// CoveringInterval returns whether t is granted by the schedule and the
// widest interval around t over which that answer stays the same.
func (s *Schedule) CoveringInterval(t time.Time) (bool, Interval) {
	t = t.UTC()
	blackPos, blackNeg := collect(s.Black, t)
	if !blackPos.IsEmpty() {
		return false, blackPos
	}
	whitePos, whiteNeg := collect(s.White, t)
	if whitePos.IsEmpty() && !whiteNeg.Valid {
		d := dateOf(t)
		gap := Interval{Start: d, End: d.Add(day), Valid: true}
		if blackNeg.Valid {
			gap = gap.Intersect(blackNeg)
		}
		return false, gap
	}
	if !whitePos.IsEmpty() {
		if blackNeg.Valid {
			return true, whitePos.Intersect(blackNeg)
		}
		return true, whitePos
	}
	if blackNeg.Valid {
		return false, whiteNeg.Intersect(blackNeg)
	}
	return false, whiteNeg
}

// collect unites the positive intervals of list around t and intersects the
// negative ones. The negative result stays invalid if every entry is positive.
func collect(list []RepetitiveInterval, t time.Time) (pos, neg Interval) {
	pos = EmptyInterval()
	for _, ri := range list {
		ok, iv := ri.Interval(t)
		if ok {
			// Positive intervals all contain t, so they always overlap.
			pos, _ = pos.Union(iv)
			continue
		}
		if !neg.Valid {
			neg = iv
		} else {
			neg = neg.Intersect(iv)
		}
	}
	return pos, neg
}

// Encode serializes the schedule for storage.
func (s *Schedule) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSchedule parses a stored schedule and validates its intervals.
func DecodeSchedule(b []byte) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("gep: decode schedule: %w", err)
	}
	for _, ri := range append(append([]RepetitiveInterval(nil), s.White...), s.Black...) {
		if err := ri.Validate(); err != nil {
			return nil, err
		}
	}
	return &s, nil
}
