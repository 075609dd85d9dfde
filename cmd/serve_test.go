package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teelo/teelo/internal/model"
	"github.com/teelo/teelo/internal/store"
)

func newTestRouter(t *testing.T) (http.Handler, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	params := model.Params{
		Constants:     map[string]model.Constant{"A": {K: 32, S: 400}},
		InitialRating: 1500,
	}
	return newRouter(st, params, "defaults@v1"), st
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServe_Health(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServe_Leaderboard(t *testing.T) {
	h, st := newTestRouter(t)

	now := time.Now().UTC()
	_, err := st.CommitBatch(context.Background(), &model.Batch{
		States: []*model.PlayerState{
			{PlayerID: 1, Rating: 1700, CareerPeak: 1700, UpdatedAt: now},
			{PlayerID: 2, Rating: 1600, CareerPeak: 1650, UpdatedAt: now},
		},
		Checkpoint: model.Checkpoint{Key: model.CheckpointIncremental, Phase: model.PhaseReplay},
	})
	require.NoError(t, err)

	rec := get(t, h, "/api/leaderboard?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var states []model.PlayerState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	require.Len(t, states, 1)
	assert.Equal(t, int64(1), states[0].PlayerID)
}

func TestServe_Status(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := get(t, h, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		PendingMatches int                          `json:"pending_matches"`
		ParamsVersion  string                       `json:"params_version"`
		Checkpoints    map[string]*model.Checkpoint `json:"checkpoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.PendingMatches)
	assert.Equal(t, "defaults@v1", body.ParamsVersion)
	assert.Nil(t, body.Checkpoints[model.CheckpointRebuild])
}

func TestServe_Probability(t *testing.T) {
	h, st := newTestRouter(t)

	now := time.Now().UTC()
	_, err := st.CommitBatch(context.Background(), &model.Batch{
		States: []*model.PlayerState{
			{PlayerID: 1, Rating: 1700, CareerPeak: 1700, UpdatedAt: now},
		},
		Checkpoint: model.Checkpoint{Key: model.CheckpointIncremental, Phase: model.PhaseReplay},
	})
	require.NoError(t, err)

	rec := get(t, h, "/api/probability?a=1&b=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RatingA     float64 `json:"rating_a"`
		RatingB     float64 `json:"rating_b"`
		Probability float64 `json:"probability_a"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1700.0, body.RatingA)
	// Player 2 has no history and defaults to the initial rating.
	assert.Equal(t, 1500.0, body.RatingB)
	assert.Greater(t, body.Probability, 0.5)

	rec = get(t, h, "/api/probability?a=1&b=oops")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, h, "/api/probability?a=1&b=2&level=X")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServe_Runs(t *testing.T) {
	h, st := newTestRouter(t)

	_, err := st.StartRun(context.Background(), model.ModeIncremental, "defaults@v1")
	require.NoError(t, err)

	rec := get(t, h, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []model.RatingRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunRunning, runs[0].Status)
}
