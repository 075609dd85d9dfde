package model

import "time"

// PlayerState is the current rating state for one player. It reflects the
// cumulative effect of every committed match up to and including
// LastTemporalOrder, applied in total order under one parameter lineage.
type PlayerState struct {
	PlayerID          int64      `json:"player_id"`
	Rating            float64    `json:"rating"`
	MatchCount        int        `json:"match_count"`
	LastTemporalOrder *int64     `json:"last_temporal_order,omitempty"`
	LastMatchDate     *time.Time `json:"last_match_date,omitempty"`
	CareerPeak        float64    `json:"career_peak"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewPlayerState returns the state for a player's first processed match.
func NewPlayerState(playerID int64, initialRating float64) *PlayerState {
	return &PlayerState{
		PlayerID:   playerID,
		Rating:     initialRating,
		CareerPeak: initialRating,
	}
}
