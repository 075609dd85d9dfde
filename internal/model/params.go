package model

import (
	"fmt"
	"time"
)

// DefaultInitialRating is the rating assigned on a player's first match.
const DefaultInitialRating = 1500.0

// DefaultParamsVersion tags snapshots produced by the built-in defaults when
// no parameter set has ever been activated.
const DefaultParamsVersion = "defaults@v1"

// Constant is the (K, S) pair for one rating context. K controls update
// magnitude, S controls how rating differences map to win probability.
type Constant struct {
	K float64 `json:"k" yaml:"k"`
	S float64 `json:"s" yaml:"s"`
}

// MarginParams scale the K-factor by margin of victory.
// Zero values disable the modifier (multiplier 1.0).
type MarginParams struct {
	Base  float64 `json:"base" yaml:"base"`
	Scale float64 `json:"scale" yaml:"scale"`
}

// Enabled reports whether margin scaling is configured.
func (p MarginParams) Enabled() bool { return p.Base != 0 || p.Scale != 0 }

// DecayParams regress inactive players toward the initial rating.
// A zero Rate disables decay.
type DecayParams struct {
	Rate      float64 `json:"rate" yaml:"rate"`
	StartDays float64 `json:"start_days" yaml:"start_days"`
}

// BoostParams raise the effective K for new and returning players.
// Zero values disable the respective boost.
type BoostParams struct {
	NewThreshold   int     `json:"new_threshold" yaml:"new_threshold"`
	NewBoost       float64 `json:"new_boost" yaml:"new_boost"`
	ReturningDays  float64 `json:"returning_days" yaml:"returning_days"`
	ReturningBoost float64 `json:"returning_boost" yaml:"returning_boost"`
}

// Params holds every tunable of the rating formula. A Params value is
// immutable once referenced by a snapshot: retuning always creates a new
// parameter set version, never an in-place edit.
type Params struct {
	Constants     map[string]Constant `json:"constants" yaml:"constants"`
	InitialRating float64             `json:"initial_rating" yaml:"initial_rating"`
	Margin        MarginParams        `json:"margin" yaml:"margin"`
	Decay         DecayParams         `json:"decay" yaml:"decay"`
	Boost         BoostParams         `json:"boost" yaml:"boost"`
}

// Constant returns the (K, S) pair for a rating context.
// The second return is false for contexts absent from the set.
func (p Params) Constant(levelCode string) (Constant, bool) {
	c, ok := p.Constants[levelCode]
	return c, ok
}

// DefaultParams returns the built-in parameter set: per-level constants from
// the v3 optimization run plus the stock margin/decay/boost modifiers.
// Women's levels carry a W prefix so the tours tune independently.
func DefaultParams() Params {
	return Params{
		Constants: map[string]Constant{
			"F": {K: 183, S: 1241}, // ITF / Futures
			"C": {K: 137, S: 1441}, // Challenger
			"A": {K: 108, S: 1670}, // ATP 250/500
			"M": {K: 107, S: 1809}, // Masters 1000
			"G": {K: 116, S: 1428}, // Grand Slam

			"WF": {K: 183, S: 1241},
			"WC": {K: 137, S: 1441},
			"WA": {K: 108, S: 1670},
			"WM": {K: 107, S: 1809},
			"WG": {K: 116, S: 1428},
		},
		InitialRating: DefaultInitialRating,
		Margin:        MarginParams{Base: 0.85, Scale: 0.3},
		Decay:         DecayParams{Rate: 0.05, StartDays: 60},
		Boost: BoostParams{
			NewThreshold:   30,
			NewBoost:       1.5,
			ReturningDays:  180,
			ReturningBoost: 1.3,
		},
	}
}

// ParameterSet is a named, versioned, immutable Params value. At most one
// set is active at any time.
type ParameterSet struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Params    Params    `json:"params"`
	Source    string    `json:"source"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// VersionTag is the provenance string stamped on every snapshot this set
// produces, e.g. "season-2026@v3".
func (ps *ParameterSet) VersionTag() string {
	return fmt.Sprintf("%s@v%d", ps.Name, ps.Version)
}

// CandidateTag marks snapshots produced by a rebuild that pinned this set
// without activating it, so provenance stays recoverable.
func (ps *ParameterSet) CandidateTag() string {
	return "candidate:" + ps.VersionTag()
}
