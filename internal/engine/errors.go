package engine

import "github.com/rotisserie/eris"

// Sentinels for the failure classes callers branch on. elo.ErrInvalidInput
// covers bad formula inputs; everything else surfaces through one of these.
var (
	// ErrConfiguration means a match referenced a level code absent from the
	// pinned parameter set. The run aborts before committing the batch.
	ErrConfiguration = eris.New("engine: configuration error")

	// ErrLockUnavailable means another run holds the rating lock. Expected
	// under overlapping schedules; callers exit without treating it as a
	// crash.
	ErrLockUnavailable = eris.New("engine: run lock unavailable")

	// ErrPersistence wraps store failures. The checkpoint was not advanced,
	// so a retry resumes from the last committed batch.
	ErrPersistence = eris.New("engine: persistence error")
)
