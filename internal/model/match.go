package model

import "time"

// MatchStatus is the lifecycle state of a match as reported by ingestion.
type MatchStatus string

const (
	StatusUpcoming  MatchStatus = "upcoming"
	StatusScheduled MatchStatus = "scheduled"
	StatusCompleted MatchStatus = "completed"
	StatusRetired   MatchStatus = "retired"
	StatusWalkover  MatchStatus = "walkover"
	StatusDefault   MatchStatus = "default"
	StatusCancelled MatchStatus = "cancelled"
)

// TerminalStatuses are the statuses eligible for rating computation.
// A match in any other status is skipped by both processing modes.
var TerminalStatuses = []MatchStatus{StatusCompleted, StatusRetired, StatusWalkover, StatusDefault}

// IsTerminal reports whether s is in the fixed terminal set.
func (s MatchStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRetired, StatusWalkover, StatusDefault:
		return true
	}
	return false
}

// SetScore is one set of a structured score. Tiebreak points are optional.
type SetScore struct {
	A   int `json:"a"`
	B   int `json:"b"`
	TBA int `json:"tb_a,omitempty"`
	TBB int `json:"tb_b,omitempty"`
}

// Match is one row of the ordered match log. Identity, participants, status,
// temporal_order and level_code are owned by the ingestion collaborator; the
// Elo* fields are annotations owned by the rating engine.
type Match struct {
	ID            int64       `json:"id"`
	PlayerAID     int64       `json:"player_a_id"`
	PlayerBID     int64       `json:"player_b_id"`
	WinnerID      int64       `json:"winner_id"`
	Status        MatchStatus `json:"status"`
	TemporalOrder int64       `json:"temporal_order"`
	LevelCode     string      `json:"level_code"`
	MatchDate     *time.Time  `json:"match_date,omitempty"`
	Score         []SetScore  `json:"score,omitempty"`

	EloPreA          *float64   `json:"elo_pre_a,omitempty"`
	EloPreB          *float64   `json:"elo_pre_b,omitempty"`
	EloPostA         *float64   `json:"elo_post_a,omitempty"`
	EloPostB         *float64   `json:"elo_post_b,omitempty"`
	EloParamsVersion *string    `json:"elo_params_version,omitempty"`
	EloProcessedAt   *time.Time `json:"elo_processed_at,omitempty"`
	NeedsRecompute   bool       `json:"elo_needs_recompute"`
}

// Processed reports whether this match already carries committed ratings.
func (m *Match) Processed() bool {
	return m.EloProcessedAt != nil
}

// Cursor returns the match's position in the total order.
func (m *Match) Cursor() Cursor {
	return Cursor{TemporalOrder: m.TemporalOrder, MatchID: m.ID}
}

// Cursor is a position in the strict total order over matches:
// temporal_order ascending, match id ascending as tie-break.
type Cursor struct {
	TemporalOrder int64 `json:"temporal_order"`
	MatchID       int64 `json:"match_id"`
}

// Before reports whether c precedes o in the total order.
func (c Cursor) Before(o Cursor) bool {
	if c.TemporalOrder != o.TemporalOrder {
		return c.TemporalOrder < o.TemporalOrder
	}
	return c.MatchID < o.MatchID
}

// IsZero reports whether the cursor is the start-of-log position.
func (c Cursor) IsZero() bool {
	return c.TemporalOrder == 0 && c.MatchID == 0
}

// MatchUpdate carries the annotation values written back to one match row
// after rating computation.
type MatchUpdate struct {
	MatchID        int64     `json:"match_id"`
	EloPreA        float64   `json:"elo_pre_a"`
	EloPreB        float64   `json:"elo_pre_b"`
	EloPostA       float64   `json:"elo_post_a"`
	EloPostB       float64   `json:"elo_post_b"`
	ParamsVersion  string    `json:"params_version"`
	ProcessedAt    time.Time `json:"processed_at"`
	NeedsRecompute bool      `json:"needs_recompute"`
}
