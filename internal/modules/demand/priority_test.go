package demand

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var asOf = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func days(n float64) time.Duration {
	return time.Duration(n * float64(24*time.Hour))
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestScore_KnownValues(t *testing.T) {
	s := NewScorer(DefaultWeights())

	tests := []struct {
		name string
		d    Demand
		want int
	}{
		{
			name: "fresh, no deadline, empty",
			d:    Demand{RequestedAt: asOf},
			want: 0,
		},
		{
			name: "deadline tomorrow, 2000 units",
			d:    Demand{RequestedAt: asOf, DeadlineAt: ptrTime(asOf.Add(days(1))), Quantity: 2000},
			want: 52,
		},
		{
			name: "overdue counts as due now",
			d:    Demand{RequestedAt: asOf, DeadlineAt: ptrTime(asOf.Add(-days(3)))},
			want: 40,
		},
		{
			name: "age saturates at thirty days",
			d:    Demand{RequestedAt: asOf.Add(-days(90))},
			want: 40,
		},
		{
			name: "everything saturated",
			d:    Demand{RequestedAt: asOf.Add(-days(45)), DeadlineAt: ptrTime(asOf), Quantity: 9000},
			want: 100,
		},
		{
			name: "requested in the future clamps age to zero",
			d:    Demand{RequestedAt: asOf.Add(days(2)), Quantity: 1500},
			want: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Score(tt.d, asOf))
		})
	}
}

func TestScore_MonotoneInQuantity(t *testing.T) {
	s := NewScorer(DefaultWeights())
	prev := -1
	for q := 0.0; q <= 4000; q += 250 {
		got := s.Score(Demand{RequestedAt: asOf.Add(-days(5)), Quantity: q}, asOf)
		assert.GreaterOrEqual(t, got, prev, "quantity %v", q)
		prev = got
	}
}

func TestScore_MonotoneInAge(t *testing.T) {
	s := NewScorer(DefaultWeights())
	prev := -1
	for age := 0.0; age <= 40; age++ {
		got := s.Score(Demand{RequestedAt: asOf.Add(-days(age)), Quantity: 500}, asOf)
		assert.GreaterOrEqual(t, got, prev, "age %v", age)
		prev = got
	}
}

func TestScore_MonotoneAsDeadlineApproaches(t *testing.T) {
	s := NewScorer(DefaultWeights())
	prev := -1
	for left := 40.0; left >= -2; left-- {
		got := s.Score(Demand{RequestedAt: asOf, DeadlineAt: ptrTime(asOf.Add(days(left))), Quantity: 500}, asOf)
		assert.GreaterOrEqual(t, got, prev, "days left %v", left)
		prev = got
	}
}

func TestScore_CustomWeights(t *testing.T) {
	s := NewScorer(Weights{Age: 0, Deadline: 0, Quantity: 1})
	assert.Equal(t, 50, s.Score(Demand{RequestedAt: asOf, Quantity: 1500}, asOf))
}

func TestScore_ClampedToRange(t *testing.T) {
	s := NewScorer(Weights{Age: 2, Deadline: 2, Quantity: 2})
	got := s.Score(Demand{RequestedAt: asOf.Add(-days(60)), DeadlineAt: ptrTime(asOf), Quantity: 5000}, asOf)
	assert.Equal(t, 100, got)
}
