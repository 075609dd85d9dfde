package model

import "time"

// Checkpoint job keys, one per job type.
const (
	CheckpointIncremental = "incremental"
	CheckpointRebuild     = "rebuild"
)

// CheckpointPhase distinguishes an in-flight replay from a finished one.
type CheckpointPhase string

const (
	PhaseReplay   CheckpointPhase = "replay"
	PhaseComplete CheckpointPhase = "complete"
)

// Checkpoint is the durable progress marker for one job type. Cursor is the
// total-order key of the last match whose batch committed; it only advances
// after a successful commit and never moves backwards within a lineage.
type Checkpoint struct {
	Key           string          `json:"-"`
	Phase         CheckpointPhase `json:"phase"`
	ParamsVersion string          `json:"params_version"`
	Cursor        Cursor          `json:"cursor"`
	UpdatedAt     time.Time       `json:"-"`
}
