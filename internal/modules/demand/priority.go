// README: Urgency scoring for demands from age, deadline proximity and quantity.
package demand

import (
	"math"
	"time"
)

// Weights holds the tunable scoring parameters.
type Weights struct {
	Age                 float64
	Deadline            float64
	Quantity            float64
	AgeHorizonDays      float64
	DeadlineHorizonDays float64
	QuantitySaturation  float64
	NoDeadlineDays      float64
}

func DefaultWeights() Weights {
	return Weights{
		Age:                 0.4,
		Deadline:            0.4,
		Quantity:            0.2,
		AgeHorizonDays:      30,
		DeadlineHorizonDays: 30,
		QuantitySaturation:  3000,
		NoDeadlineDays:      999,
	}
}

type Scorer struct {
	w Weights
}

// NewScorer fills zero-valued horizons from DefaultWeights so a partial config cannot divide by zero.
func NewScorer(w Weights) *Scorer {
	def := DefaultWeights()
	if w.AgeHorizonDays <= 0 {
		w.AgeHorizonDays = def.AgeHorizonDays
	}
	if w.DeadlineHorizonDays <= 0 {
		w.DeadlineHorizonDays = def.DeadlineHorizonDays
	}
	if w.QuantitySaturation <= 0 {
		w.QuantitySaturation = def.QuantitySaturation
	}
	if w.NoDeadlineDays <= 0 {
		w.NoDeadlineDays = def.NoDeadlineDays
	}
	return &Scorer{w: w}
}

// Score returns the demand's urgency in [0,100] as of asOf.
func (s *Scorer) Score(d Demand, asOf time.Time) int {
	day := 24 * time.Hour

	ageDays := math.Max(0, float64(asOf.Sub(d.RequestedAt))/float64(day))
	ageScore := math.Min(ageDays/s.w.AgeHorizonDays, 1)

	daysToDeadline := s.w.NoDeadlineDays
	if d.DeadlineAt != nil {
		daysToDeadline = math.Max(0, float64(d.DeadlineAt.Sub(asOf))/float64(day))
	}
	deadlineScore := 1 - math.Min(daysToDeadline/s.w.DeadlineHorizonDays, 1)

	weightScore := math.Min(math.Max(d.Quantity, 0)/s.w.QuantitySaturation, 1)

	raw := 100 * (s.w.Age*ageScore + s.w.Deadline*deadlineScore + s.w.Quantity*weightScore)
	score := int(math.Round(raw))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
