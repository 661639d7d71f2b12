package gep

import (
	"fmt"
	"time"
)

// Interval is a half-open time range [Start, End). The zero value is invalid;
// a valid interval with Start == End is empty.
type Interval struct {
	Start time.Time
	End   time.Time
	Valid bool
}

// NewInterval returns the valid interval [start, end).
func NewInterval(start, end time.Time) (Interval, error) {
	if end.Before(start) {
		return Interval{}, fmt.Errorf("%w: end %s before start %s", ErrInvalidInterval, end, start)
	}
	return Interval{Start: start.UTC(), End: end.UTC(), Valid: true}, nil
}

// EmptyInterval returns a valid interval that covers nothing.
func EmptyInterval() Interval {
	return Interval{Valid: true}
}

// IsEmpty reports whether a valid interval covers nothing.
func (iv Interval) IsEmpty() bool {
	return iv.Valid && !iv.Start.Before(iv.End)
}

// Covers reports whether t lies in the interval.
func (iv Interval) Covers(t time.Time) bool {
	return iv.Valid && !t.Before(iv.Start) && t.Before(iv.End)
}

// Intersect returns the overlap of both intervals. It is invalid when either
// input is invalid and empty when they do not overlap.
func (iv Interval) Intersect(o Interval) Interval {
	if !iv.Valid || !o.Valid {
		return Interval{}
	}
	if iv.IsEmpty() || o.IsEmpty() || !iv.Start.Before(o.End) || !o.Start.Before(iv.End) {
		return EmptyInterval()
	}
	out := iv
	if o.Start.After(out.Start) {
		out.Start = o.Start
	}
	if o.End.Before(out.End) {
		out.End = o.End
	}
	return out
}

// Union merges two overlapping or adjacent intervals.
func (iv Interval) Union(o Interval) (Interval, error) {
	if !iv.Valid || !o.Valid {
		return Interval{}, ErrInvalidInterval
	}
	if iv.IsEmpty() {
		return o, nil
	}
	if o.IsEmpty() {
		return iv, nil
	}
	if iv.Start.After(o.End) || o.Start.After(iv.End) {
		return Interval{}, fmt.Errorf("%w: %s and %s", ErrDisjointIntervals, iv, o)
	}
	out := iv
	if o.Start.Before(out.Start) {
		out.Start = o.Start
	}
	if o.End.After(out.End) {
		out.End = o.End
	}
	return out, nil
}

func (iv Interval) String() string {
	if !iv.Valid {
		return "[invalid]"
	}
	return fmt.Sprintf("[%s, %s)", SlotComponent(iv.Start), SlotComponent(iv.End))
}
