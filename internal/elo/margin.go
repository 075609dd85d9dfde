package elo

import "github.com/teelo/teelo/internal/model"

// MarginResult breaks down the margin-of-victory calculation.
type MarginResult struct {
	Multiplier float64
	GamesWon   int
	GamesLost  int
	SetsWon    int
	SetsLost   int
	Dominance  float64
}

// MarginMultiplier scales the K-factor by how dominant the win was: a 6-0
// 6-0 moves ratings more than a 7-6 7-6. The multiplier is
// base + dominance*scale, clamped to [0.5, 2.0], where dominance is the game
// differential over total games. A missing score or disabled params yield a
// neutral 1.0.
func MarginMultiplier(score []model.SetScore, winner Winner, p model.MarginParams) MarginResult {
	neutral := MarginResult{Multiplier: 1.0, Dominance: 0.5}
	if !p.Enabled() || len(score) == 0 {
		return neutral
	}

	var gamesA, gamesB, setsA, setsB int
	for _, set := range score {
		gamesA += set.A
		gamesB += set.B
		if set.A > set.B {
			setsA++
		} else if set.B > set.A {
			setsB++
		}
	}

	r := MarginResult{GamesWon: gamesA, GamesLost: gamesB, SetsWon: setsA, SetsLost: setsB}
	if winner == WinnerB {
		r.GamesWon, r.GamesLost = gamesB, gamesA
		r.SetsWon, r.SetsLost = setsB, setsA
	}

	total := r.GamesWon + r.GamesLost
	if total == 0 {
		return neutral
	}
	r.Dominance = float64(r.GamesWon-r.GamesLost) / float64(total)
	r.Multiplier = clamp(p.Base+r.Dominance*p.Scale, 0.5, 2.0)
	return r
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
