package model

import "time"

// RunMode identifies which processing mode a run used.
type RunMode string

const (
	ModeIncremental RunMode = "incremental"
	ModeRebuild     RunMode = "rebuild"
)

// RunStatus is the lifecycle state of a rating run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// RatingRun is one row of the run log: who processed what, when, and how far.
type RatingRun struct {
	ID            string     `json:"id"`
	Mode          RunMode    `json:"mode"`
	Status        RunStatus  `json:"status"`
	ParamsVersion string     `json:"params_version"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Scanned       int        `json:"scanned"`
	Processed     int        `json:"processed"`
	Flagged       int        `json:"flagged"`
	Error         string     `json:"error,omitempty"`
}

// RunSummary is returned by both processing modes. Flagged counts every
// match that gained a needs_recompute flag during the run: late arrivals
// themselves plus the downstream history their anomaly sweeps flipped.
type RunSummary struct {
	Scanned   int           `json:"matches_scanned"`
	Processed int           `json:"matches_processed"`
	Flagged   int           `json:"matches_flagged_needs_recompute"`
	Duration  time.Duration `json:"duration"`
}

// Anomaly records an out-of-order arrival: a match for PlayerID landed
// before already-processed history. Every processed match of that player at
// or after FromTemporalOrder is flagged for recompute.
type Anomaly struct {
	PlayerID          int64 `json:"player_id"`
	FromTemporalOrder int64 `json:"from_temporal_order"`
}

// Batch is one committed unit of work: match annotations, the resulting
// player states, any anomaly flags, and the advanced checkpoint. Stores
// persist a Batch in a single transaction or not at all.
type Batch struct {
	Matches    []MatchUpdate
	States     []*PlayerState
	Anomalies  []Anomaly
	Checkpoint Checkpoint
}
