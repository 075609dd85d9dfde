package elo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teelo/teelo/internal/model"
)

var stockMargin = model.MarginParams{Base: 0.85, Scale: 0.3}
var stockDecay = model.DecayParams{Rate: 0.05, StartDays: 60}
var stockBoost = model.BoostParams{NewThreshold: 30, NewBoost: 1.5, ReturningDays: 180, ReturningBoost: 1.3}

func TestMarginMultiplier_DoubleBagel(t *testing.T) {
	score := []model.SetScore{{A: 6, B: 0}, {A: 6, B: 0}}
	r := MarginMultiplier(score, WinnerA, stockMargin)

	assert.InDelta(t, 1.0, r.Dominance, 1e-9)
	assert.InDelta(t, 1.15, r.Multiplier, 1e-9) // base + 1.0*scale
	assert.Equal(t, 12, r.GamesWon)
	assert.Equal(t, 0, r.GamesLost)
	assert.Equal(t, 2, r.SetsWon)
}

func TestMarginMultiplier_TightMatch(t *testing.T) {
	score := []model.SetScore{
		{A: 7, B: 6, TBA: 7, TBB: 5},
		{A: 7, B: 6, TBA: 7, TBB: 3},
	}
	r := MarginMultiplier(score, WinnerA, stockMargin)

	assert.InDelta(t, 2.0/26.0, r.Dominance, 1e-9)
	assert.Less(t, r.Multiplier, 0.9)
	assert.GreaterOrEqual(t, r.Multiplier, 0.5)
}

func TestMarginMultiplier_WinnerBPerspective(t *testing.T) {
	score := []model.SetScore{{A: 2, B: 6}, {A: 1, B: 6}}
	r := MarginMultiplier(score, WinnerB, stockMargin)

	assert.Equal(t, 12, r.GamesWon)
	assert.Equal(t, 3, r.GamesLost)
	assert.Greater(t, r.Multiplier, 1.0)
}

func TestMarginMultiplier_NeutralCases(t *testing.T) {
	r := MarginMultiplier(nil, WinnerA, stockMargin)
	assert.Equal(t, 1.0, r.Multiplier)

	// Disabled params are neutral regardless of score.
	r = MarginMultiplier([]model.SetScore{{A: 6, B: 0}, {A: 6, B: 0}}, WinnerA, model.MarginParams{})
	assert.Equal(t, 1.0, r.Multiplier)
}

func TestInactivityDecay_GracePeriod(t *testing.T) {
	assert.Equal(t, 1800.0, InactivityDecay(1800, 30, stockDecay, 1500))
	assert.Equal(t, 1800.0, InactivityDecay(1800, 60, stockDecay, 1500))
}

func TestInactivityDecay_RegressesTowardTarget(t *testing.T) {
	decayed := InactivityDecay(1800, 200, stockDecay, 1500)
	assert.Less(t, decayed, 1800.0)
	assert.Greater(t, decayed, 1500.0)

	// Longer absence regresses further but never past the target.
	longer := InactivityDecay(1800, 2000, stockDecay, 1500)
	assert.Less(t, longer, decayed)
	assert.Greater(t, longer, 1500.0)

	// Below-target ratings drift up.
	up := InactivityDecay(1300, 400, stockDecay, 1500)
	assert.Greater(t, up, 1300.0)
	assert.Less(t, up, 1500.0)
}

func TestInactivityDecay_Disabled(t *testing.T) {
	assert.Equal(t, 1800.0, InactivityDecay(1800, 500, model.DecayParams{}, 1500))
}

func TestKBoost(t *testing.T) {
	// Brand-new player gets the full boost.
	assert.InDelta(t, 1.5, KBoost(0, nil, stockBoost), 1e-9)

	// Boost fades linearly with match count.
	assert.InDelta(t, 1.25, KBoost(15, nil, stockBoost), 1e-9)

	// Established, active player: no boost.
	week := 7.0
	assert.Equal(t, 1.0, KBoost(100, &week, stockBoost))

	// Established player returning after a long absence.
	absence := 200.0
	assert.InDelta(t, 1.3, KBoost(100, &absence, stockBoost), 1e-9)

	// New and returning combine multiplicatively.
	assert.InDelta(t, 1.95, KBoost(0, &absence, stockBoost), 1e-9)

	// Disabled params are identity.
	assert.Equal(t, 1.0, KBoost(0, &absence, model.BoostParams{}))
}
