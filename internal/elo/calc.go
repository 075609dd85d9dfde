// Package elo implements the rating math: the core expected-score update
// plus the margin, decay and boost modifiers applied on top of it.
// Everything here is pure; persistence belongs to the caller.
package elo

import (
	"math"

	"github.com/rotisserie/eris"
)

// ErrInvalidInput marks malformed rating inputs (non-finite ratings,
// non-positive K or S). It indicates upstream data corruption and is
// surfaced rather than coerced.
var ErrInvalidInput = eris.New("elo: invalid input")

// Winner identifies which participant won the match.
type Winner string

const (
	WinnerA Winner = "A"
	WinnerB Winner = "B"
)

// Update is the result of one rating calculation: the inputs actually fed to
// the formula and the outputs, with pre-match win expectancies.
type Update struct {
	PreA      float64
	PreB      float64
	PostA     float64
	PostB     float64
	ExpectedA float64
	ExpectedB float64
}

// Rate computes new ratings for both players after a match.
//
//	E_A = 1 / (1 + 10^((ratingB - ratingA) / s))
//	postA = ratingA + kA * (actualA - E_A)
//
// Each player carries their own effective K because margin and boost
// multipliers differ per player. Post ratings are rounded to two decimals.
func Rate(ratingA, ratingB float64, winner Winner, kA, kB, s float64) (Update, error) {
	if !isFinite(ratingA) || !isFinite(ratingB) {
		return Update{}, eris.Wrapf(ErrInvalidInput, "non-finite rating (a=%v, b=%v)", ratingA, ratingB)
	}
	if kA <= 0 || kB <= 0 || s <= 0 {
		return Update{}, eris.Wrapf(ErrInvalidInput, "non-positive constant (kA=%v, kB=%v, s=%v)", kA, kB, s)
	}
	if winner != WinnerA && winner != WinnerB {
		return Update{}, eris.Wrapf(ErrInvalidInput, "winner must be A or B, got %q", winner)
	}

	expA := expectedScore(ratingA, ratingB, s)
	expB := 1.0 - expA

	actualA, actualB := 1.0, 0.0
	if winner == WinnerB {
		actualA, actualB = 0.0, 1.0
	}

	return Update{
		PreA:      ratingA,
		PreB:      ratingB,
		PostA:     round2(ratingA + kA*(actualA-expA)),
		PostB:     round2(ratingB + kB*(actualB-expB)),
		ExpectedA: expA,
		ExpectedB: expB,
	}, nil
}

// WinProbability returns the pre-match probability of player A winning.
func WinProbability(ratingA, ratingB, s float64) float64 {
	if s <= 0 {
		return 0.5
	}
	return expectedScore(ratingA, ratingB, s)
}

// expectedScore caps extreme rating gaps so 10^x cannot overflow.
func expectedScore(ratingA, ratingB, s float64) float64 {
	diff := (ratingB - ratingA) / s
	if diff > 300 {
		return 0.001
	}
	if diff < -300 {
		return 0.999
	}
	return 1.0 / (1.0 + math.Pow(10, diff))
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// round2 rounds half away from zero to two decimals, matching how stored
// snapshots are quantized.
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
