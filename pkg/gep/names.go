package gep

import (
	"fmt"
	"time"

	"github.com/gepd/gepd/pkg/ndn"
)

// Name components of the group-encryption naming conventions.
const (
	ComponentRead   = "READ"
	ComponentSample = "SAMPLE"
	ComponentEKey   = "E-KEY"
	ComponentDKey   = "D-KEY"
	ComponentCKey   = "C-KEY"
	ComponentFor    = "FOR"
)

// RoundToHour truncates t to the start of its hour in UTC.
func RoundToHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// SlotComponent returns the name component for a time slot.
func SlotComponent(t time.Time) ndn.Component {
	return ndn.Component(t.UTC().Format(ndn.TimestampFormat))
}

// ReadNamespace returns <prefix>/READ/<dataType>.
func ReadNamespace(prefix, dataType ndn.Name) ndn.Name {
	return prefix.AppendString(ComponentRead).Append(dataType)
}

// SampleNamespace returns <prefix>/SAMPLE/<dataType>.
func SampleNamespace(prefix, dataType ndn.Name) ndn.Name {
	return prefix.AppendString(ComponentSample).Append(dataType)
}

// EKeyName returns <namespace>/E-KEY/<start>/<end>.
func EKeyName(readNamespace ndn.Name, iv Interval) ndn.Name {
	return readNamespace.AppendString(ComponentEKey).
		AppendComponent(SlotComponent(iv.Start), SlotComponent(iv.End))
}

// DKeyName returns <namespace>/D-KEY/<start>/<end>/FOR/<memberKeyName>.
func DKeyName(readNamespace ndn.Name, iv Interval, member ndn.Name) ndn.Name {
	return readNamespace.AppendString(ComponentDKey).
		AppendComponent(SlotComponent(iv.Start), SlotComponent(iv.End)).
		AppendString(ComponentFor).Append(member)
}

// CKeyName returns <sampleNamespace>/C-KEY/<hour slot>.
func CKeyName(sampleNamespace ndn.Name, slot time.Time) ndn.Name {
	return sampleNamespace.AppendString(ComponentCKey).AppendComponent(SlotComponent(RoundToHour(slot)))
}

// ContentName returns <sampleNamespace>/<hour slot>.
func ContentName(sampleNamespace ndn.Name, slot time.Time) ndn.Name {
	return sampleNamespace.AppendComponent(SlotComponent(RoundToHour(slot)))
}

// KeyInterval decodes the <start>/<end> pair that follows an E-KEY or D-KEY
// component.
func KeyInterval(name ndn.Name) (Interval, error) {
	idx := name.Index(ComponentEKey, 0)
	if idx < 0 {
		idx = name.Index(ComponentDKey, 0)
	}
	if idx < 0 || idx+2 >= name.Len() {
		return Interval{}, fmt.Errorf("%w: %s", ErrInvalidKeyName, name)
	}
	start, err := ndn.ParseTimestamp(name.At(idx + 1))
	if err != nil {
		return Interval{}, fmt.Errorf("%w: %s: %v", ErrInvalidKeyName, name, err)
	}
	end, err := ndn.ParseTimestamp(name.At(idx + 2))
	if err != nil {
		return Interval{}, fmt.Errorf("%w: %s: %v", ErrInvalidKeyName, name, err)
	}
	return NewInterval(start, end)
}

// DKeyNameFor maps an E-KEY name to the D-KEY the given member fetches.
func DKeyNameFor(eKeyName, member ndn.Name) (ndn.Name, error) {
	idx := eKeyName.Index(ComponentEKey, 0)
	if idx < 0 || idx+2 >= eKeyName.Len() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKeyName, eKeyName)
	}
	return eKeyName.Prefix(idx).AppendString(ComponentDKey).
		AppendComponent(eKeyName.At(idx+1), eKeyName.At(idx+2)).
		AppendString(ComponentFor).Append(member), nil
}

// CKeySlot decodes the slot and namespace from a name of the form
// <sampleNamespace>/C-KEY/<slot>[/FOR/...].
func CKeySlot(name ndn.Name) (ns ndn.Name, slot time.Time, err error) {
	idx := name.Index(ComponentCKey, 0)
	if idx < 0 || idx+1 >= name.Len() {
		return nil, time.Time{}, fmt.Errorf("%w: %s", ErrInvalidKeyName, name)
	}
	slot, err = ndn.ParseTimestamp(name.At(idx + 1))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %s: %v", ErrInvalidKeyName, name, err)
	}
	return name.Prefix(idx), slot, nil
}
