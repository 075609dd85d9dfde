package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teelo/teelo/internal/model"
	"github.com/teelo/teelo/internal/store"
)

// plainParams has no modifiers, so a K=32/S=400 even match moves exactly
// 16 points each way.
func plainParams() model.Params {
	return model.Params{
		Constants:     map[string]model.Constant{"A": {K: 32, S: 400}},
		InitialRating: 1500,
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestEngine(t *testing.T, st store.Store, cfg Config) *Engine {
	t.Helper()
	return New(st, plainParams(), "defaults@v1", cfg)
}

func addMatch(t *testing.T, st store.Store, id, order, a, b, winner int64) {
	t.Helper()
	date := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(order))
	require.NoError(t, st.UpsertMatch(context.Background(), &model.Match{
		ID:            id,
		PlayerAID:     a,
		PlayerBID:     b,
		WinnerID:      winner,
		Status:        model.StatusCompleted,
		TemporalOrder: order,
		LevelCode:     "A",
		MatchDate:     &date,
	}))
}

func ratings(t *testing.T, st store.Store, ids ...int64) map[int64]float64 {
	t.Helper()
	states, err := st.GetPlayerStates(context.Background(), ids)
	require.NoError(t, err)
	out := make(map[int64]float64, len(states))
	for id, s := range states {
		out[id] = s.Rating
	}
	return out
}

func TestIncremental_EvenMatchMovesSixteenPoints(t *testing.T) {
	st := newTestStore(t)
	eng := newTestEngine(t, st, Config{})
	ctx := context.Background()

	addMatch(t, st, 1, 100, 10, 20, 10)

	sum, err := eng.RunIncremental(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Scanned)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 0, sum.Flagged)

	r := ratings(t, st, 10, 20)
	assert.Equal(t, 1516.0, r[10])
	assert.Equal(t, 1484.0, r[20])

	m, err := st.GetMatch(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, m.EloPreA)
	assert.Equal(t, 1500.0, *m.EloPreA)
	assert.Equal(t, 1500.0, *m.EloPreB)
	assert.Equal(t, 1516.0, *m.EloPostA)
	assert.Equal(t, 1484.0, *m.EloPostB)
	assert.Equal(t, "defaults@v1", *m.EloParamsVersion)
	assert.False(t, m.NeedsRecompute)
}

func TestIncremental_Idempotent(t *testing.T) {
	st := newTestStore(t)
	eng := newTestEngine(t, st, Config{})
	ctx := context.Background()

	addMatch(t, st, 1, 100, 10, 20, 10)
	addMatch(t, st, 2, 200, 10, 20, 20)

	_, err := eng.RunIncremental(ctx)
	require.NoError(t, err)
	before := ratings(t, st, 10, 20)

	sum, err := eng.RunIncremental(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Scanned)
	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, before, ratings(t, st, 10, 20))
}

func TestIncremental_TotalOrderChaining(t *testing.T) {
	st := newTestStore(t)
	eng := newTestEngine(t, st, Config{BatchSize: 2})
	ctx := context.Background()

	// Insertion order is not temporal order; processing must follow
	// (temporal_order, id) regardless.
	addMatch(t, st, 7, 300, 10, 30, 10)
	addMatch(t, st, 3, 100, 10, 20, 10)
	addMatch(t, st, 5, 200, 10, 20, 20)

	_, err := eng.RunIncremental(ctx)
	require.NoError(t, err)

	m1, _ := st.GetMatch(ctx, 3)
	m2, _ := st.GetMatch(ctx, 5)
	m3, _ := st.GetMatch(ctx, 7)

	// Player 10's pre in each later match equals their post in the previous.
	assert.Equal(t, *m1.EloPostA, *m2.EloPreA)
	assert.Equal(t, *m2.EloPostA, *m3.EloPreA)
	// Player 20 likewise across matches 3 and 5.
	assert.Equal(t, *m1.EloPostB, *m2.EloPreB)
}

func TestIncremental_OutOfOrderArrivalFlags(t *testing.T) {
	st := newTestStore(t)
	eng := newTestEngine(t, st, Config{})
	ctx := context.Background()

	// Player 10 processed at orders 100 and 300; player 40 has history at
	// order 250 that must stay untouched.
	addMatch(t, st, 1, 100, 10, 20, 10)
	addMatch(t, st, 2, 300, 10, 30, 30)
	addMatch(t, st, 3, 250, 40, 50, 40)
	_, err := eng.RunIncremental(ctx)
	require.NoError(t, err)

	// A match for player 10 lands at order 200, before committed history.
	// Flagged counts the late match itself plus the downstream match its
	// anomaly sweep flipped.
	addMatch(t, st, 4, 200, 10, 60, 10)
	sum, err := eng.RunIncremental(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 2, sum.Flagged)

	late, err := st.GetMatch(ctx, 4)
	require.NoError(t, err)
	assert.True(t, late.Processed(), "out-of-order match still gets rated")
	assert.True(t, late.NeedsRecompute)

	// Downstream history of player 10 is flagged; earlier history and other
	// players' history are not.
	m1, _ := st.GetMatch(ctx, 1)
	m2, _ := st.GetMatch(ctx, 2)
	m3, _ := st.GetMatch(ctx, 3)
	assert.False(t, m1.NeedsRecompute)
	assert.True(t, m2.NeedsRecompute)
	assert.False(t, m3.NeedsRecompute)
}

func TestIncremental_CheckpointNeverRegresses(t *testing.T) {
	st := newTestStore(t)
	eng := newTestEngine(t, st, Config{})
	ctx := context.Background()

	addMatch(t, st, 1, 100, 10, 20, 10)
	addMatch(t, st, 2, 300, 30, 40, 30)
	_, err := eng.RunIncremental(ctx)
	require.NoError(t, err)

	ck, err := st.GetCheckpoint(ctx, model.CheckpointIncremental)
	require.NoError(t, err)
	require.NotNil(t, ck)
	assert.Equal(t, model.Cursor{TemporalOrder: 300, MatchID: 2}, ck.Cursor)

	// A late arrival sits before the checkpoint in the total order.
	// Processing it must not rewind the durable cursor.
	addMatch(t, st, 3, 200, 50, 60, 50)
	sum, err := eng.RunIncremental(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)

	ck, err = st.GetCheckpoint(ctx, model.CheckpointIncremental)
	require.NoError(t, err)
	require.NotNil(t, ck)
	assert.Equal(t, model.Cursor{TemporalOrder: 300, MatchID: 2}, ck.Cursor)
}

func TestIncremental_LateArrivalFlagsAcrossBatches(t *testing.T) {
	st := newTestStore(t)
	eng := newTestEngine(t, st, Config{BatchSize: 1})
	ctx := context.Background()

	addMatch(t, st, 1, 100, 10, 20, 10)
	addMatch(t, st, 2, 300, 10, 30, 30)
	_, err := eng.RunIncremental(ctx)
	require.NoError(t, err)

	// The late arrival and player 10's next new match land in separate
	// single-match batches; the later batch commits after the anomaly sweep
	// already ran, so the engine must carry the flag forward itself.
	addMatch(t, st, 3, 200, 10, 60, 10)
	addMatch(t, st, 4, 400, 10, 70, 10)
	sum, err := eng.RunIncremental(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 3, sum.Flagged)

	m2, _ := st.GetMatch(ctx, 2)
	m3, _ := st.GetMatch(ctx, 3)
	m4, _ := st.GetMatch(ctx, 4)
	assert.True(t, m2.NeedsRecompute)
	assert.True(t, m3.NeedsRecompute)
	assert.True(t, m4.NeedsRecompute, "match after the anomaly batch inherits the flag")
}

func TestIncremental_SkipsFlaggedProcessedMatches(t *testing.T) {
	st := newTestStore(t)
	eng := newTestEngine(t, st, Config{})
	ctx := context.Background()

	addMatch(t, st, 1, 100, 10, 20, 10)
	addMatch(t, st, 2, 300, 10, 30, 30)
	_, err := eng.RunIncremental(ctx)
	require.NoError(t, err)

	addMatch(t, st, 3, 200, 10, 60, 10)
	_, err = eng.RunIncremental(ctx)
	require.NoError(t, err)

	// Matches 2 and 3 are flagged and processed. Another incremental run
	// scans them but resolves nothing; only a rebuild may.
	before := ratings(t, st, 10, 20, 30, 60)
	sum, err := eng.RunIncremental(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Scanned)
	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, before, ratings(t, st, 10, 20, 30, 60))

	m2, _ := st.GetMatch(ctx, 2)
	assert.True(t, m2.NeedsRecompute, "incremental must not resolve flags")
}

func TestIncremental_MaxMatchesCap(t *testing.T) {
	st := newTestStore(t)
	eng := newTestEngine(t, st, Config{BatchSize: 2, MaxMatches: 3})
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		addMatch(t, st, i, i*100, 10, 20, 10)
	}

	sum, err := eng.RunIncremental(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Scanned)
	assert.Equal(t, 3, sum.Processed)

	n, err := st.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIncremental_UnknownLevelCodeAborts(t *testing.T) {
	st := newTestStore(t)
	eng := newTestEngine(t, st, Config{BatchSize: 1})
	ctx := context.Background()

	addMatch(t, st, 1, 100, 10, 20, 10)
	exhibition := &model.Match{
		ID: 2, PlayerAID: 10, PlayerBID: 30, WinnerID: 30,
		Status: model.StatusCompleted, TemporalOrder: 200, LevelCode: "X",
	}
	require.NoError(t, st.UpsertMatch(ctx, exhibition))

	_, err := eng.RunIncremental(ctx)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrConfiguration))

	// The first batch committed before the abort; its ratings stand.
	r := ratings(t, st, 10, 20)
	assert.Equal(t, 1516.0, r[10])

	runs, err := st.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, `level code "X"`)

	// The failed run released the lock.
	ok, err := st.AcquireRunLock(ctx, store.RunLockKey, "probe", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_LockContention(t *testing.T) {
	st := newTestStore(t)
	eng := newTestEngine(t, st, Config{})
	ctx := context.Background()

	ok, err := st.AcquireRunLock(ctx, store.RunLockKey, "other-process", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = eng.RunIncremental(ctx)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrLockUnavailable))

	_, err = eng.RunRebuild(ctx, false)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrLockUnavailable))
}

func TestRebuild_ResolvesFlagsDeterministically(t *testing.T) {
	st := newTestStore(t)
	eng := newTestEngine(t, st, Config{BatchSize: 2})
	ctx := context.Background()

	// Incremental processing with a late arrival leaves flags behind.
	addMatch(t, st, 1, 100, 10, 20, 10)
	addMatch(t, st, 2, 300, 10, 30, 30)
	_, err := eng.RunIncremental(ctx)
	require.NoError(t, err)
	addMatch(t, st, 3, 200, 10, 20, 20)
	_, err = eng.RunIncremental(ctx)
	require.NoError(t, err)

	sum, err := eng.RunRebuild(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)

	for _, id := range []int64{1, 2, 3} {
		m, err := st.GetMatch(ctx, id)
		require.NoError(t, err)
		assert.False(t, m.NeedsRecompute, "rebuild resolves every flag")
		assert.Equal(t, "defaults@v1", *m.EloParamsVersion)
	}

	// A control store fed the same matches in order yields identical states.
	control := newTestStore(t)
	addMatch(t, control, 1, 100, 10, 20, 10)
	addMatch(t, control, 3, 200, 10, 20, 20)
	addMatch(t, control, 2, 300, 10, 30, 30)
	controlEng := newTestEngine(t, control, Config{})
	_, err = controlEng.RunIncremental(ctx)
	require.NoError(t, err)

	assert.Equal(t, ratings(t, control, 10, 20, 30), ratings(t, st, 10, 20, 30))
}

func TestRebuild_NoopWhenCompleteUnlessForced(t *testing.T) {
	st := newTestStore(t)
	eng := newTestEngine(t, st, Config{})
	ctx := context.Background()

	addMatch(t, st, 1, 100, 10, 20, 10)

	sum, err := eng.RunRebuild(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)

	sum, err = eng.RunRebuild(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Scanned, "complete checkpoint with same tag is a no-op")

	sum, err = eng.RunRebuild(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed, "--force replays from scratch")

	r := ratings(t, st, 10, 20)
	assert.Equal(t, 1516.0, r[10])
}

func TestRebuild_FreshWhenVersionTagChanges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addMatch(t, st, 1, 100, 10, 20, 10)

	eng := newTestEngine(t, st, Config{})
	_, err := eng.RunRebuild(ctx, false)
	require.NoError(t, err)

	// A different pinned set doubles K; the rebuild must start over, not
	// no-op on the stale complete checkpoint.
	retuned := plainParams()
	retuned.Constants["A"] = model.Constant{K: 64, S: 400}
	eng2 := New(st, retuned, "candidate:tune@v1", Config{})
	sum, err := eng2.RunRebuild(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)

	r := ratings(t, st, 10, 20)
	assert.Equal(t, 1532.0, r[10])

	m, err := st.GetMatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "candidate:tune@v1", *m.EloParamsVersion)
}

// interruptingStore fails CommitBatch after a fixed number of successes,
// simulating a crash between batches.
type interruptingStore struct {
	store.Store
	commits   int
	failAfter int
}

func (s *interruptingStore) CommitBatch(ctx context.Context, batch *model.Batch) (int64, error) {
	if s.commits >= s.failAfter {
		return 0, eris.New("simulated crash")
	}
	s.commits++
	return s.Store.CommitBatch(ctx, batch)
}

func TestRebuild_ResumesAfterInterruption(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	players := []int64{10, 20, 30}
	for i := int64(1); i <= 9; i++ {
		addMatch(t, st, i, i*100, players[i%3], players[(i+1)%3], players[i%3])
	}

	// Crash after two committed batches of three.
	broken := &interruptingStore{Store: st, failAfter: 2}
	eng := New(broken, plainParams(), "defaults@v1", Config{BatchSize: 3})
	_, err := eng.RunRebuild(ctx, false)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrPersistence))

	ck, err := st.GetCheckpoint(ctx, model.CheckpointRebuild)
	require.NoError(t, err)
	require.NotNil(t, ck)
	assert.Equal(t, model.PhaseReplay, ck.Phase)
	assert.Equal(t, int64(600), ck.Cursor.TemporalOrder)

	// Resume with a fresh engine; it must not reset, only replay the rest.
	resumed := newTestEngine(t, st, Config{BatchSize: 3})
	sum, err := resumed.RunRebuild(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)

	ck, err = st.GetCheckpoint(ctx, model.CheckpointRebuild)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseComplete, ck.Phase)

	// Interrupted-then-resumed equals uninterrupted.
	control := newTestStore(t)
	for i := int64(1); i <= 9; i++ {
		addMatch(t, control, i, i*100, players[i%3], players[(i+1)%3], players[i%3])
	}
	controlEng := newTestEngine(t, control, Config{BatchSize: 4})
	_, err = controlEng.RunRebuild(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, ratings(t, control, players...), ratings(t, st, players...))
}

func TestRebuild_AppliesModifiers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	params := plainParams()
	params.Boost = model.BoostParams{NewThreshold: 30, NewBoost: 1.5}
	eng := New(st, params, "defaults@v1", Config{})

	addMatch(t, st, 1, 100, 10, 20, 10)
	_, err := eng.RunRebuild(ctx, false)
	require.NoError(t, err)

	// Both debutants carry the full new-player boost: 32 * 1.5 * 0.5 = 24.
	r := ratings(t, st, 10, 20)
	assert.Equal(t, 1524.0, r[10])
	assert.Equal(t, 1476.0, r[20])
}
