package elo

import "github.com/teelo/teelo/internal/model"

// KBoost returns a K multiplier for new and returning players. The
// new-player boost interpolates linearly from NewBoost down to 1.0 as the
// match count approaches NewThreshold; the returning boost is a flat
// multiplier after ReturningDays of absence. The two combine
// multiplicatively and the result is clamped to [1.0, 3.0].
// daysSinceLast is nil on a player's first match.
func KBoost(matchCount int, daysSinceLast *float64, p model.BoostParams) float64 {
	mult := 1.0

	if p.NewThreshold > 0 && matchCount < p.NewThreshold {
		progress := float64(matchCount) / float64(p.NewThreshold)
		mult *= p.NewBoost + (1.0-p.NewBoost)*progress
	}

	if daysSinceLast != nil && p.ReturningDays > 0 && *daysSinceLast > p.ReturningDays {
		mult *= p.ReturningBoost
	}

	return clamp(mult, 1.0, 3.0)
}
