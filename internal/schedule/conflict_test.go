package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(h, m int) time.Time {
	return time.Date(2030, 1, 7, h, m, 0, 0, time.UTC)
}

func TestOverlaps(t *testing.T) {
	ten := NewInterval(at(10, 0), 60)

	cases := []struct {
		name     string
		other    Interval
		expected bool
	}{
		{"identical", NewInterval(at(10, 0), 60), true},
		{"starts inside", NewInterval(at(10, 30), 30), true},
		{"contains", NewInterval(at(9, 0), 180), true},
		{"contained", NewInterval(at(10, 15), 15), true},
		{"ends inside", NewInterval(at(9, 30), 45), true},
		{"back to back after", NewInterval(at(11, 0), 60), false},
		{"back to back before", NewInterval(at(9, 0), 60), false},
		{"disjoint", NewInterval(at(14, 0), 30), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Overlaps(ten, tc.other))
			assert.Equal(t, tc.expected, Overlaps(tc.other, ten), "overlap must be symmetric")
		})
	}
}

func TestIsAvailable(t *testing.T) {
	busy := []Interval{NewInterval(at(10, 0), 60), NewInterval(at(13, 0), 30)}

	assert.False(t, IsAvailable(NewInterval(at(10, 30), 30), busy))
	assert.True(t, IsAvailable(NewInterval(at(11, 0), 60), busy))
	assert.False(t, IsAvailable(NewInterval(at(12, 30), 60), busy))
	assert.True(t, IsAvailable(NewInterval(at(12, 0), 30), nil))
}

func TestFreeSlots(t *testing.T) {
	slots := GenerateSlots([]Template{tpl(time.Monday, 9*60, 13*60, 60)}, monday, time.UTC)
	busy := []Interval{NewInterval(at(10, 30), 30)}

	free := FreeSlots(slots, busy, at(9, 0))

	// 09:00 is not after notBefore, 10:00 is busy.
	if assert.Len(t, free, 2) {
		assert.Equal(t, at(11, 0), free[0].Start)
		assert.Equal(t, at(12, 0), free[1].Start)
	}

	assert.Len(t, FreeSlots(slots, nil, time.Time{}), 4)
}

func TestInterval_Valid(t *testing.T) {
	assert.True(t, NewInterval(at(9, 0), 1).Valid())
	assert.False(t, NewInterval(at(9, 0), 0).Valid())
	assert.False(t, NewInterval(at(9, 0), -15).Valid())
}
