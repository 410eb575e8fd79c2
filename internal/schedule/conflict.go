package schedule

import "time"

// Interval is half-open: [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func NewInterval(start time.Time, minutes int) Interval {
	return Interval{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)}
}

func (i Interval) Valid() bool { return i.Start.Before(i.End) }

// Overlaps reports whether a and b share any instant. Back-to-back intervals
// (a.End == b.Start) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// IsAvailable reports whether candidate overlaps none of busy.
func IsAvailable(candidate Interval, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(candidate, b) {
			return false
		}
	}
	return true
}

// FreeSlots keeps the slots that overlap none of busy and start after notBefore.
// A zero notBefore keeps past slots.
func FreeSlots(slots []Slot, busy []Interval, notBefore time.Time) []Slot {
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if !notBefore.IsZero() && !s.Start.After(notBefore) {
			continue
		}
		if IsAvailable(s.Interval(), busy) {
			out = append(out, s)
		}
	}
	return out
}
