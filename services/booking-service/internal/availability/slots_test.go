package availability

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

func TestOverlapsSymmetric(t *testing.T) {
	cases := []struct {
		a, b Interval
		want bool
	}{
		{Interval{at(9, 0), at(10, 0)}, Interval{at(9, 15), at(9, 30)}, true},
		{Interval{at(9, 0), at(10, 0)}, Interval{at(10, 0), at(10, 30)}, false},
		{Interval{at(9, 0), at(10, 0)}, Interval{at(8, 30), at(9, 0)}, false},
		{Interval{at(9, 0), at(10, 0)}, Interval{at(8, 30), at(9, 1)}, true},
		{Interval{at(9, 0), at(10, 0)}, Interval{at(8, 0), at(11, 0)}, true},
	}
	for i, tc := range cases {
		assert.Equal(t, tc.want, tc.a.Overlaps(tc.b), "case %d a.Overlaps(b)", i)
		assert.Equal(t, tc.want, tc.b.Overlaps(tc.a), "case %d b.Overlaps(a)", i)
	}
}

func TestOverlapsAnyEmptySet(t *testing.T) {
	assert.False(t, OverlapsAny(Interval{at(9, 0), at(10, 0)}, nil))
}

func TestContainsIsHalfOpen(t *testing.T) {
	iv := Interval{at(15, 0), at(15, 30)}
	assert.True(t, iv.Contains(at(15, 0)))
	assert.True(t, iv.Contains(at(15, 15)))
	assert.False(t, iv.Contains(at(15, 30)), "end is excluded")
}

func TestGenerateSlots(t *testing.T) {
	slots := GenerateSlots(8*60, 18*60, 30)
	require.Len(t, slots, 20)
	assert.Equal(t, clock.TimeOfDay(8*60), slots[0])
	assert.Equal(t, clock.TimeOfDay(17*60+30), slots[len(slots)-1])
	assert.Equal(t, slots, GenerateSlots(8*60, 18*60, 30))
}

func TestGenerateSlotsUnevenAndDegenerate(t *testing.T) {
	assert.Equal(t, []clock.TimeOfDay{9 * 60, 9*60 + 25, 9*60 + 50}, GenerateSlots(9*60, 10*60, 25))
	assert.Empty(t, GenerateSlots(9*60, 10*60, 0))
	assert.Empty(t, GenerateSlots(10*60, 9*60, 15))
}

func TestAlignedMatchesGrid(t *testing.T) {
	for _, s := range GenerateSlots(8*60, 18*60, 30) {
		assert.True(t, Aligned(s, 8*60, 30), "grid value %s", s)
	}
	assert.False(t, Aligned(8*60+15, 8*60, 30))
	assert.False(t, Aligned(8*60, 8*60, 0))
}
