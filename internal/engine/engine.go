// Package engine applies Elo rating updates over the ordered match log. Both
// processing modes run strictly sequentially under a single lease lock;
// batching exists to amortize commit cost, never to reorder work.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/teelo/teelo/internal/elo"
	"github.com/teelo/teelo/internal/model"
	"github.com/teelo/teelo/internal/store"
)

const (
	DefaultBatchSize = 500
	DefaultLockTTL   = 15 * time.Minute
)

// Config tunes a single engine run.
type Config struct {
	BatchSize  int
	MaxMatches int // 0 = unbounded; incremental only
	LockTTL    time.Duration
}

// Engine processes matches under one pinned parameter set. The set is
// resolved before the lock is taken and never re-read, so a concurrent
// activation cannot shift a run mid-flight.
type Engine struct {
	store      store.Store
	params     model.Params
	versionTag string
	batchSize  int
	maxMatches int
	lockTTL    time.Duration
	now        func() time.Time
}

// New builds an engine pinned to one parameter set and version tag.
func New(st store.Store, params model.Params, versionTag string, cfg Config) *Engine {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Engine{
		store:      st,
		params:     params,
		versionTag: versionTag,
		batchSize:  batchSize,
		maxMatches: cfg.MaxMatches,
		lockTTL:    lockTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RunIncremental processes pending matches: unprocessed terminal matches and
// anything flagged for recompute. Flagged matches that already carry ratings
// are scanned and skipped; only a rebuild resolves them.
func (e *Engine) RunIncremental(ctx context.Context) (*model.RunSummary, error) {
	release, err := e.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	log := zap.L().With(
		zap.String("mode", string(model.ModeIncremental)),
		zap.String("params_version", e.versionTag),
	)

	runID, err := e.store.StartRun(ctx, model.ModeIncremental, e.versionTag)
	if err != nil {
		return nil, eris.Wrapf(ErrPersistence, "start run: %v", err)
	}

	// The durable checkpoint is a high-water mark: a late arrival sits before
	// it in the total order, and committing that batch must not rewind it.
	ckCursor := model.Cursor{}
	if ck, err := e.store.GetCheckpoint(ctx, model.CheckpointIncremental); err != nil {
		return e.fail(ctx, runID, eris.Wrapf(ErrPersistence, "read checkpoint: %v", err))
	} else if ck != nil {
		ckCursor = ck.Cursor
		log.Info("resuming after checkpoint",
			zap.Int64("temporal_order", ckCursor.TemporalOrder),
			zap.Int64("match_id", ckCursor.MatchID))
	}

	start := e.now()
	sum := &model.RunSummary{}
	states := map[int64]*model.PlayerState{}

	// Players whose history was invalidated earlier in this run. The anomaly
	// sweep only covers rows committed before it ran; later batches consult
	// this map so a match landing after the sweep is flagged too.
	flaggedFrom := map[int64]int64{}

	// The selection predicate is recomputed from match state each run, so the
	// in-run cursor starts at zero regardless of the stored checkpoint.
	cursor := model.Cursor{}

	for {
		limit := e.batchSize
		if e.maxMatches > 0 && e.maxMatches-sum.Scanned < limit {
			limit = e.maxMatches - sum.Scanned
		}
		if limit <= 0 {
			break
		}

		matches, err := e.store.ListPending(ctx, cursor, limit)
		if err != nil {
			return e.fail(ctx, runID, eris.Wrapf(ErrPersistence, "list pending: %v", err))
		}
		if len(matches) == 0 {
			break
		}

		batch := &model.Batch{}
		for i := range matches {
			m := &matches[i]
			sum.Scanned++
			cursor = m.Cursor()

			// Already rated and flagged: leave for rebuild.
			if m.Processed() {
				continue
			}

			update, anomalies, err := e.applyMatch(ctx, m, states, flaggedFrom)
			if err != nil {
				return e.fail(ctx, runID, err)
			}
			for _, a := range anomalies {
				if from, ok := flaggedFrom[a.PlayerID]; !ok || a.FromTemporalOrder < from {
					flaggedFrom[a.PlayerID] = a.FromTemporalOrder
				}
			}
			batch.Matches = append(batch.Matches, update)
			batch.Anomalies = append(batch.Anomalies, anomalies...)
			sum.Processed++
			if update.NeedsRecompute {
				sum.Flagged++
			}
		}

		if ckCursor.Before(cursor) {
			ckCursor = cursor
		}
		batch.States = touchedStates(states, batch.Matches, matches)
		batch.Checkpoint = model.Checkpoint{
			Key:           model.CheckpointIncremental,
			Phase:         model.PhaseReplay,
			ParamsVersion: e.versionTag,
			Cursor:        ckCursor,
		}
		swept, err := e.store.CommitBatch(ctx, batch)
		if err != nil {
			return e.fail(ctx, runID, eris.Wrapf(ErrPersistence, "commit batch: %v", err))
		}
		sum.Flagged += int(swept)
		log.Debug("batch committed",
			zap.Int("matches", len(batch.Matches)),
			zap.Int64("temporal_order", cursor.TemporalOrder))
	}

	sum.Duration = e.now().Sub(start)
	if err := e.store.CompleteRun(ctx, runID, sum); err != nil {
		return nil, eris.Wrapf(ErrPersistence, "complete run: %v", err)
	}
	log.Info("run complete",
		zap.Int("scanned", sum.Scanned),
		zap.Int("processed", sum.Processed),
		zap.Int("flagged", sum.Flagged),
		zap.Duration("duration", sum.Duration))
	return sum, nil
}

// RunRebuild recomputes every rating from scratch under the pinned parameter
// set. A checkpoint in phase replay with the same version tag resumes from
// its cursor; phase complete with the same tag is a no-op unless forced.
func (e *Engine) RunRebuild(ctx context.Context, force bool) (*model.RunSummary, error) {
	release, err := e.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	log := zap.L().With(
		zap.String("mode", string(model.ModeRebuild)),
		zap.String("params_version", e.versionTag),
	)

	runID, err := e.store.StartRun(ctx, model.ModeRebuild, e.versionTag)
	if err != nil {
		return nil, eris.Wrapf(ErrPersistence, "start run: %v", err)
	}

	ck, err := e.store.GetCheckpoint(ctx, model.CheckpointRebuild)
	if err != nil {
		return e.fail(ctx, runID, eris.Wrapf(ErrPersistence, "read checkpoint: %v", err))
	}

	start := e.now()
	sum := &model.RunSummary{}
	cursor := model.Cursor{}

	switch {
	case ck != nil && ck.ParamsVersion == e.versionTag && ck.Phase == model.PhaseComplete && !force:
		log.Info("rebuild already complete, nothing to do")
		sum.Duration = e.now().Sub(start)
		if err := e.store.CompleteRun(ctx, runID, sum); err != nil {
			return nil, eris.Wrapf(ErrPersistence, "complete run: %v", err)
		}
		return sum, nil

	case ck != nil && ck.ParamsVersion == e.versionTag && ck.Phase == model.PhaseReplay && !force:
		cursor = ck.Cursor
		log.Info("resuming rebuild",
			zap.Int64("temporal_order", cursor.TemporalOrder),
			zap.Int64("match_id", cursor.MatchID))

	default:
		if err := e.store.ResetRatings(ctx, model.Checkpoint{
			Key:           model.CheckpointRebuild,
			Phase:         model.PhaseReplay,
			ParamsVersion: e.versionTag,
		}); err != nil {
			return e.fail(ctx, runID, eris.Wrapf(ErrPersistence, "reset ratings: %v", err))
		}
		log.Info("rating state reset, replaying full match log")
	}

	states := map[int64]*model.PlayerState{}
	for {
		matches, err := e.store.ListTerminal(ctx, cursor, e.batchSize)
		if err != nil {
			return e.fail(ctx, runID, eris.Wrapf(ErrPersistence, "list terminal: %v", err))
		}
		if len(matches) == 0 {
			break
		}

		if err := e.loadStates(ctx, matches, states); err != nil {
			return e.fail(ctx, runID, err)
		}

		batch := &model.Batch{}
		for i := range matches {
			m := &matches[i]
			sum.Scanned++
			cursor = m.Cursor()

			update, _, err := e.applyMatch(ctx, m, states, nil)
			if err != nil {
				return e.fail(ctx, runID, err)
			}
			// Replay visits matches in total order, so no arrival can be out
			// of order and every flag is resolved.
			update.NeedsRecompute = false
			batch.Matches = append(batch.Matches, update)
			sum.Processed++
		}

		batch.States = touchedStates(states, batch.Matches, matches)
		batch.Checkpoint = model.Checkpoint{
			Key:           model.CheckpointRebuild,
			Phase:         model.PhaseReplay,
			ParamsVersion: e.versionTag,
			Cursor:        cursor,
		}
		if _, err := e.store.CommitBatch(ctx, batch); err != nil {
			return e.fail(ctx, runID, eris.Wrapf(ErrPersistence, "commit batch: %v", err))
		}
	}

	if err := e.store.SetCheckpoint(ctx, model.Checkpoint{
		Key:           model.CheckpointRebuild,
		Phase:         model.PhaseComplete,
		ParamsVersion: e.versionTag,
		Cursor:        cursor,
	}); err != nil {
		return e.fail(ctx, runID, eris.Wrapf(ErrPersistence, "finalize checkpoint: %v", err))
	}

	sum.Duration = e.now().Sub(start)
	if err := e.store.CompleteRun(ctx, runID, sum); err != nil {
		return nil, eris.Wrapf(ErrPersistence, "complete run: %v", err)
	}
	log.Info("rebuild complete",
		zap.Int("processed", sum.Processed),
		zap.Duration("duration", sum.Duration))
	return sum, nil
}

// applyMatch computes one match's rating update, mutating the in-memory
// states of both participants. It loads missing states from the store.
// flaggedFrom carries each player's earliest anomaly order seen so far in
// this run; a match at or past that order inherits the recompute flag.
func (e *Engine) applyMatch(ctx context.Context, m *model.Match, states map[int64]*model.PlayerState, flaggedFrom map[int64]int64) (model.MatchUpdate, []model.Anomaly, error) {
	c, ok := e.params.Constant(m.LevelCode)
	if !ok {
		return model.MatchUpdate{}, nil, eris.Wrapf(ErrConfiguration,
			"level code %q not in parameter set %s (match %d)", m.LevelCode, e.versionTag, m.ID)
	}

	stateA, err := e.playerState(ctx, m.PlayerAID, states)
	if err != nil {
		return model.MatchUpdate{}, nil, err
	}
	stateB, err := e.playerState(ctx, m.PlayerBID, states)
	if err != nil {
		return model.MatchUpdate{}, nil, err
	}

	var winner elo.Winner
	switch m.WinnerID {
	case m.PlayerAID:
		winner = elo.WinnerA
	case m.PlayerBID:
		winner = elo.WinnerB
	default:
		return model.MatchUpdate{}, nil, eris.Wrapf(elo.ErrInvalidInput,
			"winner %d is not a participant of match %d", m.WinnerID, m.ID)
	}

	var anomalies []model.Anomaly
	outOfOrder := false
	for _, st := range []*model.PlayerState{stateA, stateB} {
		if st.LastTemporalOrder != nil && m.TemporalOrder < *st.LastTemporalOrder {
			outOfOrder = true
			anomalies = append(anomalies, model.Anomaly{
				PlayerID:          st.PlayerID,
				FromTemporalOrder: m.TemporalOrder,
			})
		}
		if from, ok := flaggedFrom[st.PlayerID]; ok && m.TemporalOrder >= from {
			outOfOrder = true
		}
	}

	daysA := daysSince(stateA.LastMatchDate, m.MatchDate)
	daysB := daysSince(stateB.LastMatchDate, m.MatchDate)

	preA := stateA.Rating
	preB := stateB.Rating
	if daysA != nil {
		preA = elo.InactivityDecay(preA, *daysA, e.params.Decay, e.params.InitialRating)
	}
	if daysB != nil {
		preB = elo.InactivityDecay(preB, *daysB, e.params.Decay, e.params.InitialRating)
	}

	margin := elo.MarginMultiplier(m.Score, winner, e.params.Margin)
	kA := c.K * margin.Multiplier * elo.KBoost(stateA.MatchCount, daysA, e.params.Boost)
	kB := c.K * margin.Multiplier * elo.KBoost(stateB.MatchCount, daysB, e.params.Boost)

	update, err := elo.Rate(preA, preB, winner, kA, kB, c.S)
	if err != nil {
		return model.MatchUpdate{}, nil, eris.Wrapf(err, "match %d", m.ID)
	}

	now := e.now()
	e.advanceState(stateA, update.PostA, m, now)
	e.advanceState(stateB, update.PostB, m, now)

	return model.MatchUpdate{
		MatchID:        m.ID,
		EloPreA:        update.PreA,
		EloPreB:        update.PreB,
		EloPostA:       update.PostA,
		EloPostB:       update.PostB,
		ParamsVersion:  e.versionTag,
		ProcessedAt:    now,
		NeedsRecompute: outOfOrder,
	}, anomalies, nil
}

// advanceState folds one match result into a player's running state. The
// temporal high-water marks never move backwards, so an out-of-order match
// updates the rating without rewinding the anomaly detector.
func (e *Engine) advanceState(st *model.PlayerState, rating float64, m *model.Match, now time.Time) {
	st.Rating = rating
	st.MatchCount++
	if st.LastTemporalOrder == nil || m.TemporalOrder > *st.LastTemporalOrder {
		order := m.TemporalOrder
		st.LastTemporalOrder = &order
	}
	if m.MatchDate != nil && (st.LastMatchDate == nil || m.MatchDate.After(*st.LastMatchDate)) {
		d := *m.MatchDate
		st.LastMatchDate = &d
	}
	if rating > st.CareerPeak {
		st.CareerPeak = rating
	}
	st.UpdatedAt = now
}

func (e *Engine) playerState(ctx context.Context, playerID int64, states map[int64]*model.PlayerState) (*model.PlayerState, error) {
	if st, ok := states[playerID]; ok {
		return st, nil
	}
	loaded, err := e.store.GetPlayerStates(ctx, []int64{playerID})
	if err != nil {
		return nil, eris.Wrapf(ErrPersistence, "load state for player %d: %v", playerID, err)
	}
	st, ok := loaded[playerID]
	if !ok {
		st = model.NewPlayerState(playerID, e.params.InitialRating)
	}
	states[playerID] = st
	return st, nil
}

// loadStates prefetches states for every participant of a batch in one query.
func (e *Engine) loadStates(ctx context.Context, matches []model.Match, states map[int64]*model.PlayerState) error {
	var missing []int64
	seen := map[int64]bool{}
	for i := range matches {
		for _, id := range []int64{matches[i].PlayerAID, matches[i].PlayerBID} {
			if _, ok := states[id]; !ok && !seen[id] {
				seen[id] = true
				missing = append(missing, id)
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	loaded, err := e.store.GetPlayerStates(ctx, missing)
	if err != nil {
		return eris.Wrapf(ErrPersistence, "load player states: %v", err)
	}
	for _, id := range missing {
		if st, ok := loaded[id]; ok {
			states[id] = st
		} else {
			states[id] = model.NewPlayerState(id, e.params.InitialRating)
		}
	}
	return nil
}

// touchedStates collects the states of every player whose match was updated
// in this batch, deduplicated.
func touchedStates(states map[int64]*model.PlayerState, updates []model.MatchUpdate, matches []model.Match) []*model.PlayerState {
	updated := map[int64]bool{}
	for _, u := range updates {
		updated[u.MatchID] = true
	}
	seen := map[int64]bool{}
	var out []*model.PlayerState
	add := func(id int64) {
		if st, ok := states[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, st)
		}
	}
	for i := range matches {
		if updated[matches[i].ID] {
			add(matches[i].PlayerAID)
			add(matches[i].PlayerBID)
		}
	}
	return out
}

func (e *Engine) acquireLock(ctx context.Context) (func(), error) {
	holder := uuid.New().String()
	ok, err := e.store.AcquireRunLock(ctx, store.RunLockKey, holder, e.lockTTL)
	if err != nil {
		return nil, eris.Wrapf(ErrPersistence, "acquire lock: %v", err)
	}
	if !ok {
		return nil, eris.Wrap(ErrLockUnavailable, "another run holds the rating lock")
	}
	return func() {
		ctx := context.WithoutCancel(ctx)
		if err := e.store.ReleaseRunLock(ctx, store.RunLockKey, holder); err != nil {
			zap.L().Warn("release run lock", zap.Error(err))
		}
	}, nil
}

func (e *Engine) fail(ctx context.Context, runID string, cause error) (*model.RunSummary, error) {
	if err := e.store.FailRun(context.WithoutCancel(ctx), runID, cause.Error()); err != nil {
		zap.L().Warn("mark run failed", zap.String("run_id", runID), zap.Error(err))
	}
	return nil, cause
}

// daysSince converts the gap between a player's last match and the current
// match date into fractional days. Nil when either date is unknown.
func daysSince(last, current *time.Time) *float64 {
	if last == nil || current == nil {
		return nil
	}
	days := current.Sub(*last).Hours() / 24
	if days < 0 {
		days = 0
	}
	return &days
}
