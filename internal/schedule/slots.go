// Package schedule derives bookable slots from weekly availability templates
// and answers interval conflict questions. It performs no I/O.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

const MinutesPerDay = 24 * 60

var ErrInvalidTemplate = errors.New("invalid availability template")

// Template is a recurring weekly window during which a specialist accepts
// bookings. Minutes are counted from local midnight in the specialist's zone.
type Template struct {
	ID           uuid.UUID
	SpecialistID uuid.UUID
	Weekday      time.Weekday // 0=Sunday .. 6=Saturday
	StartMinute  int
	EndMinute    int
	SlotMinutes  int
	Active       bool
}

func (t Template) Validate() error {
	if t.Weekday < time.Sunday || t.Weekday > time.Saturday {
		return fmt.Errorf("%w: weekday %d out of range", ErrInvalidTemplate, t.Weekday)
	}
	if t.StartMinute < 0 || t.EndMinute > MinutesPerDay || t.StartMinute >= t.EndMinute {
		return fmt.Errorf("%w: window %d-%d", ErrInvalidTemplate, t.StartMinute, t.EndMinute)
	}
	if t.SlotMinutes <= 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrInvalidTemplate)
	}
	return nil
}

// Slot is a candidate booking window.
type Slot struct {
	Start time.Time
	End   time.Time
}

func (s Slot) Interval() Interval { return Interval{Start: s.Start, End: s.End} }

func (s Slot) Duration() time.Duration { return s.End.Sub(s.Start) }

// GenerateSlots partitions every active template matching the weekday of date
// (evaluated in loc) into contiguous windows of the template's slot length.
// A trailing window that would overrun the template end is not emitted.
// The result is ordered by start and pairwise disjoint: when templates
// overlap each other, a window that collides with an earlier one is dropped.
// Every slot lasts exactly the slot length; a start that falls in a daylight
// saving gap is skipped.
func GenerateSlots(templates []Template, date time.Time, loc *time.Location) []Slot {
	if loc == nil {
		loc = time.UTC
	}
	local := date.In(loc)
	y, m, d := local.Date()
	weekday := time.Date(y, m, d, 12, 0, 0, 0, loc).Weekday()

	var candidates []Slot
	for _, tpl := range templates {
		if !tpl.Active || tpl.Weekday != weekday || tpl.Validate() != nil {
			continue
		}
		length := time.Duration(tpl.SlotMinutes) * time.Minute
		for start := tpl.StartMinute; start+tpl.SlotMinutes <= tpl.EndMinute; start += tpl.SlotMinutes {
			at, ok := wallClock(y, m, d, start, loc)
			if !ok {
				continue
			}
			candidates = append(candidates, Slot{Start: at, End: at.Add(length)})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Start.Equal(candidates[j].Start) {
			return candidates[i].End.Before(candidates[j].End)
		}
		return candidates[i].Start.Before(candidates[j].Start)
	})

	out := make([]Slot, 0, len(candidates))
	for _, c := range candidates {
		if len(out) > 0 && Overlaps(out[len(out)-1].Interval(), c.Interval()) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// DayBounds returns the [start, end) instants of the local calendar day
// containing date.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// wallClock resolves minute-of-day on the given local date. ok is false when
// that wall time does not exist, as inside a daylight saving gap, where
// time.Date would silently shift it.
func wallClock(y int, m time.Month, d, minute int, loc *time.Location) (time.Time, bool) {
	t := time.Date(y, m, d, 0, minute, 0, 0, loc)
	ty, tm, td := t.Date()
	if ty != y || tm != m || td != d || t.Hour()*60+t.Minute() != minute {
		return time.Time{}, false
	}
	return t, true
}
