// Package store persists the rating engine's state: the annotated match log,
// per-player rating states, parameter sets, checkpoints, the run lock and
// the run log. Two drivers are provided, SQLite and Postgres.
package store

import (
	"context"
	"time"

	"github.com/teelo/teelo/internal/model"
)

// Store defines the persistence interface for the rating engine.
//
// CommitBatch and ResetRatings are transactional: either every write in the
// call commits, or none do. Checkpoints only ever advance inside those
// transactions, which is what makes interrupted runs resumable.
type Store interface {
	// Match log. Matches are owned by the ingestion collaborator;
	// UpsertMatch exists for ingestion and tests. ListPending yields
	// terminal matches that are unprocessed or flagged for recompute,
	// ListTerminal yields every terminal match; both return matches
	// strictly after the cursor in (temporal_order, id) order.
	UpsertMatch(ctx context.Context, m *model.Match) error
	GetMatch(ctx context.Context, id int64) (*model.Match, error)
	ListPending(ctx context.Context, after model.Cursor, limit int) ([]model.Match, error)
	ListTerminal(ctx context.Context, after model.Cursor, limit int) ([]model.Match, error)
	CountPending(ctx context.Context) (int, error)

	// Player rating state.
	GetPlayerStates(ctx context.Context, playerIDs []int64) (map[int64]*model.PlayerState, error)
	Leaderboard(ctx context.Context, limit int) ([]model.PlayerState, error)

	// Batch persistence. CommitBatch reports how many previously unflagged
	// processed matches its anomaly sweeps flipped to needs_recompute.
	// ResetRatings deletes all player states, clears every engine-owned
	// match annotation and writes the given checkpoint, all in one
	// transaction.
	CommitBatch(ctx context.Context, batch *model.Batch) (int64, error)
	ResetRatings(ctx context.Context, ck model.Checkpoint) error

	// Checkpoints. GetCheckpoint returns (nil, nil) when the key is unset.
	GetCheckpoint(ctx context.Context, key string) (*model.Checkpoint, error)
	SetCheckpoint(ctx context.Context, ck model.Checkpoint) error

	// Parameter sets. Sets are immutable; creating an existing name
	// allocates the next version. GetParameterSet with version <= 0
	// returns the newest version of the name. ActiveParameterSet returns
	// (nil, nil) when no set is active.
	CreateParameterSet(ctx context.Context, name string, p model.Params, source string, activate bool) (*model.ParameterSet, error)
	GetParameterSet(ctx context.Context, name string, version int) (*model.ParameterSet, error)
	ActiveParameterSet(ctx context.Context) (*model.ParameterSet, error)
	ActivateParameterSet(ctx context.Context, name string, version int) error
	ListParameterSets(ctx context.Context) ([]model.ParameterSet, error)

	// Run lock: a lease that expires after ttl so a crashed holder never
	// wedges the system. Acquire returns false immediately when another
	// live holder owns the key.
	AcquireRunLock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, key, holder string) error

	// Run log.
	StartRun(ctx context.Context, mode model.RunMode, paramsVersion string) (string, error)
	CompleteRun(ctx context.Context, runID string, s *model.RunSummary) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]model.RatingRun, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

// RunLockKey is the single lock key shared by both processing modes, so an
// incremental run and a rebuild can never mutate rating state concurrently.
const RunLockKey = "rating"
