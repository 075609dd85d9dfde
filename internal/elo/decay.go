package elo

import (
	"math"

	"github.com/teelo/teelo/internal/model"
)

// InactivityDecay regresses a rating toward target after a grace period of
// inactivity, reflecting growing uncertainty about the player's level:
//
//	decayed = target + (rating - target) * exp(-rate * excessDays / 365)
//
// Short breaks inside the grace period leave the rating untouched, and a
// zero rate disables decay entirely.
func InactivityDecay(rating, daysSinceLast float64, p model.DecayParams, target float64) float64 {
	if p.Rate <= 0 || daysSinceLast <= p.StartDays {
		return rating
	}
	excess := daysSinceLast - p.StartDays
	factor := math.Exp(-p.Rate * excess / 365.0)
	return target + (rating-target)*factor
}
