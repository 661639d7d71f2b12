package gep

import (
	"fmt"
	"time"
)

// RepeatUnit is the period after which a RepetitiveInterval recurs.
type RepeatUnit int

const (
	RepeatNone RepeatUnit = iota
	RepeatDay
	RepeatMonth
	RepeatYear
)

func (u RepeatUnit) String() string {
	switch u {
	case RepeatDay:
		return "day"
	case RepeatMonth:
		return "month"
	case RepeatYear:
		return "year"
	default:
		return "none"
	}
}

// ParseRepeatUnit parses the String form of a RepeatUnit.
func ParseRepeatUnit(s string) (RepeatUnit, error) {
	switch s {
	case "", "none":
		return RepeatNone, nil
	case "day":
		return RepeatDay, nil
	case "month":
		return RepeatMonth, nil
	case "year":
		return RepeatYear, nil
	}
	return RepeatNone, fmt.Errorf("%w: unknown repeat unit %q", ErrInvalidInterval, s)
}

const day = 24 * time.Hour

// RepetitiveInterval is a daily [StartHour, EndHour) window that recurs every
// NRepeats units between StartDate and EndDate, both dates inclusive.
type RepetitiveInterval struct {
	StartDate time.Time  `json:"startDate"`
	EndDate   time.Time  `json:"endDate"`
	StartHour int        `json:"startHour"`
	EndHour   int        `json:"endHour"`
	NRepeats  int        `json:"nRepeats"`
	Unit      RepeatUnit `json:"unit"`
}

// NewRepetitiveInterval validates and normalizes the dates to midnight UTC.
func NewRepetitiveInterval(startDate, endDate time.Time, startHour, endHour, nRepeats int, unit RepeatUnit) (RepetitiveInterval, error) {
	ri := RepetitiveInterval{
		StartDate: dateOf(startDate),
		EndDate:   dateOf(endDate),
		StartHour: startHour,
		EndHour:   endHour,
		NRepeats:  nRepeats,
		Unit:      unit,
	}
	return ri, ri.Validate()
}

// Validate checks the invariants of a decoded or constructed interval.
func (ri RepetitiveInterval) Validate() error {
	switch {
	case ri.StartHour < 0 || ri.EndHour > 24 || ri.StartHour >= ri.EndHour:
		return fmt.Errorf("%w: hours %d-%d", ErrInvalidInterval, ri.StartHour, ri.EndHour)
	case ri.EndDate.Before(ri.StartDate):
		return fmt.Errorf("%w: end date before start date", ErrInvalidInterval)
	case ri.Unit != RepeatNone && ri.NRepeats <= 0:
		return fmt.Errorf("%w: repeat count %d", ErrInvalidInterval, ri.NRepeats)
	case ri.Unit < RepeatNone || ri.Unit > RepeatYear:
		return fmt.Errorf("%w: repeat unit %d", ErrInvalidInterval, ri.Unit)
	}
	return nil
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Interval returns the interval around t and whether t falls inside the
// repeated window. A negative result is the gap containing t: the whole day
// when the window does not occur on t's date, otherwise the part of the day
// before or after the window.
func (ri RepetitiveInterval) Interval(t time.Time) (bool, Interval) {
	d := dateOf(t)
	if !ri.occursOn(d) {
		return false, Interval{Start: d, End: d.Add(day), Valid: true}
	}
	start := d.Add(time.Duration(ri.StartHour) * time.Hour)
	end := d.Add(time.Duration(ri.EndHour) * time.Hour)
	switch {
	case t.Before(start):
		return false, Interval{Start: d, End: start, Valid: true}
	case !t.Before(end):
		return false, Interval{Start: end, End: d.Add(day), Valid: true}
	}
	return true, Interval{Start: start, End: end, Valid: true}
}

func (ri RepetitiveInterval) occursOn(d time.Time) bool {
	if d.Before(ri.StartDate) || d.After(ri.EndDate) {
		return false
	}
	switch ri.Unit {
	case RepeatDay:
		days := int(d.Sub(ri.StartDate) / day)
		return days%ri.NRepeats == 0
	case RepeatMonth:
		if d.Day() != ri.StartDate.Day() {
			return false
		}
		months := (d.Year()-ri.StartDate.Year())*12 + int(d.Month()-ri.StartDate.Month())
		return months%ri.NRepeats == 0
	case RepeatYear:
		if d.Month() != ri.StartDate.Month() || d.Day() != ri.StartDate.Day() {
			return false
		}
		return (d.Year()-ri.StartDate.Year())%ri.NRepeats == 0
	}
	return d.Equal(ri.StartDate)
}

func (ri RepetitiveInterval) equal(o RepetitiveInterval) bool {
	return ri.StartDate.Equal(o.StartDate) && ri.EndDate.Equal(o.EndDate) &&
		ri.StartHour == o.StartHour && ri.EndHour == o.EndHour &&
		ri.NRepeats == o.NRepeats && ri.Unit == o.Unit
}
