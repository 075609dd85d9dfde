package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/teelo/teelo/internal/db"
	"github.com/teelo/teelo/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hot-path queries to prepare on each new
// connection. The incremental job runs these once per batch.
var preparedStatements = map[string]string{
	"list_pending":   pgListPendingSQL,
	"count_pending":  pgCountPendingSQL,
	"get_checkpoint": pgGetCheckpointSQL,
	"set_checkpoint": pgSetCheckpointSQL,
	"acquire_lock":   pgAcquireLockSQL,
	"release_lock":   pgReleaseLockSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS matches (
	id                  BIGINT PRIMARY KEY,
	player_a_id         BIGINT NOT NULL,
	player_b_id         BIGINT NOT NULL,
	winner_id           BIGINT,
	status              TEXT NOT NULL,
	temporal_order      BIGINT NOT NULL,
	level_code          TEXT NOT NULL,
	match_date          TIMESTAMPTZ,
	score               JSONB,
	elo_pre_a           DOUBLE PRECISION,
	elo_pre_b           DOUBLE PRECISION,
	elo_post_a          DOUBLE PRECISION,
	elo_post_b          DOUBLE PRECISION,
	elo_params_version  TEXT,
	elo_processed_at    TIMESTAMPTZ,
	elo_needs_recompute BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS player_rating_states (
	player_id           BIGINT PRIMARY KEY,
	rating              DOUBLE PRECISION NOT NULL,
	match_count         BIGINT NOT NULL DEFAULT 0,
	last_temporal_order BIGINT,
	last_match_date     TIMESTAMPTZ,
	career_peak         DOUBLE PRECISION NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rating_parameter_sets (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	version    INTEGER NOT NULL,
	params     JSONB NOT NULL,
	source     TEXT NOT NULL DEFAULT 'manual',
	is_active  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE(name, version)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS run_locks (
	key         TEXT PRIMARY KEY,
	holder      TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rating_runs (
	id             TEXT PRIMARY KEY,
	mode           TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	params_version TEXT NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ,
	scanned        BIGINT NOT NULL DEFAULT 0,
	processed      BIGINT NOT NULL DEFAULT 0,
	flagged        BIGINT NOT NULL DEFAULT 0,
	error          TEXT
);

CREATE INDEX IF NOT EXISTS idx_matches_temporal ON matches(temporal_order, id);
CREATE INDEX IF NOT EXISTS idx_matches_pending ON matches(temporal_order, id)
	WHERE status IN ('completed', 'retired', 'walkover', 'default')
	AND (elo_post_a IS NULL OR elo_post_b IS NULL OR elo_needs_recompute);
CREATE INDEX IF NOT EXISTS idx_matches_player_a ON matches(player_a_id, temporal_order);
CREATE INDEX IF NOT EXISTS idx_matches_player_b ON matches(player_b_id, temporal_order);
CREATE INDEX IF NOT EXISTS idx_param_sets_active ON rating_parameter_sets(is_active) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_rating_runs_started ON rating_runs(started_at DESC);
`

const pgMatchCols = `id, player_a_id, player_b_id, winner_id, status, temporal_order, level_code,
	match_date, score, elo_pre_a, elo_pre_b, elo_post_a, elo_post_b,
	elo_params_version, elo_processed_at, elo_needs_recompute`

const pgListPendingSQL = `SELECT ` + pgMatchCols + `
	FROM matches
	WHERE status IN ` + terminalStatusSet + `
	  AND winner_id IS NOT NULL
	  AND (elo_post_a IS NULL OR elo_post_b IS NULL OR elo_needs_recompute)
	  AND (temporal_order > $1 OR (temporal_order = $1 AND id > $2))
	ORDER BY temporal_order ASC, id ASC
	LIMIT $3`

const pgCountPendingSQL = `SELECT COUNT(*) FROM matches
	WHERE status IN ` + terminalStatusSet + `
	  AND winner_id IS NOT NULL
	  AND (elo_post_a IS NULL OR elo_post_b IS NULL OR elo_needs_recompute)`

const pgGetCheckpointSQL = `SELECT value, updated_at FROM checkpoints WHERE key = $1`

const pgSetCheckpointSQL = `INSERT INTO checkpoints (key, value, updated_at) VALUES ($1, $2, $3)
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

const pgAcquireLockSQL = `INSERT INTO run_locks (key, holder, acquired_at, expires_at) VALUES ($1, $2, $3, $4)
	ON CONFLICT (key) DO UPDATE SET
		holder = EXCLUDED.holder,
		acquired_at = EXCLUDED.acquired_at,
		expires_at = EXCLUDED.expires_at
	WHERE run_locks.expires_at <= EXCLUDED.acquired_at OR run_locks.holder = EXCLUDED.holder`

const pgReleaseLockSQL = `DELETE FROM run_locks WHERE key = $1 AND holder = $2`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Match log ---

func (s *PostgresStore) UpsertMatch(ctx context.Context, m *model.Match) error {
	scoreJSON, err := marshalScore(m.Score)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal score")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO matches (id, player_a_id, player_b_id, winner_id, status, temporal_order, level_code, match_date, score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			player_a_id = EXCLUDED.player_a_id,
			player_b_id = EXCLUDED.player_b_id,
			winner_id = EXCLUDED.winner_id,
			status = EXCLUDED.status,
			temporal_order = EXCLUDED.temporal_order,
			level_code = EXCLUDED.level_code,
			match_date = EXCLUDED.match_date,
			score = EXCLUDED.score`,
		m.ID, m.PlayerAID, m.PlayerBID, nullInt64(m.WinnerID), string(m.Status),
		m.TemporalOrder, m.LevelCode, nullTime(m.MatchDate), scoreJSON,
	)
	return eris.Wrapf(err, "postgres: upsert match %d", m.ID)
}

func (s *PostgresStore) GetMatch(ctx context.Context, id int64) (*model.Match, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgMatchCols+` FROM matches WHERE id = $1`, id)
	m, err := scanMatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: match not found: %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get match %d", id)
	}
	return m, nil
}

func (s *PostgresStore) ListPending(ctx context.Context, after model.Cursor, limit int) ([]model.Match, error) {
	rows, err := s.pool.Query(ctx, pgListPendingSQL, after.TemporalOrder, after.MatchID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending")
	}
	return collectPgMatches(rows)
}

func (s *PostgresStore) ListTerminal(ctx context.Context, after model.Cursor, limit int) ([]model.Match, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgMatchCols+`
		 FROM matches
		 WHERE status IN `+terminalStatusSet+`
		   AND winner_id IS NOT NULL
		   AND (temporal_order > $1 OR (temporal_order = $1 AND id > $2))
		 ORDER BY temporal_order ASC, id ASC
		 LIMIT $3`,
		after.TemporalOrder, after.MatchID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list terminal")
	}
	return collectPgMatches(rows)
}

func (s *PostgresStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, pgCountPendingSQL).Scan(&n)
	return n, eris.Wrap(err, "postgres: count pending")
}

// --- Player states ---

func (s *PostgresStore) GetPlayerStates(ctx context.Context, playerIDs []int64) (map[int64]*model.PlayerState, error) {
	states := make(map[int64]*model.PlayerState, len(playerIDs))
	if len(playerIDs) == 0 {
		return states, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT player_id, rating, match_count, last_temporal_order, last_match_date, career_peak, updated_at
		 FROM player_rating_states WHERE player_id = ANY($1)`, playerIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get player states")
	}
	defer rows.Close()

	for rows.Next() {
		st, err := scanPlayerState(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan player state")
		}
		states[st.PlayerID] = st
	}
	return states, eris.Wrap(rows.Err(), "postgres: iterate player states")
}

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]model.PlayerState, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT player_id, rating, match_count, last_temporal_order, last_match_date, career_peak, updated_at
		 FROM player_rating_states ORDER BY rating DESC, player_id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: leaderboard")
	}
	defer rows.Close()

	var out []model.PlayerState
	for rows.Next() {
		st, err := scanPlayerState(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan leaderboard row")
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate leaderboard")
}

// --- Batch persistence ---

var playerStateUpsert = db.UpsertConfig{
	Table: "player_rating_states",
	Columns: []string{
		"player_id", "rating", "match_count", "last_temporal_order",
		"last_match_date", "career_peak", "updated_at",
	},
	ConflictKeys: []string{"player_id"},
}

func (s *PostgresStore) CommitBatch(ctx context.Context, batch *model.Batch) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin batch tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, u := range batch.Matches {
		if _, err := tx.Exec(ctx,
			`UPDATE matches SET
				elo_pre_a = $1, elo_pre_b = $2, elo_post_a = $3, elo_post_b = $4,
				elo_params_version = $5, elo_processed_at = $6, elo_needs_recompute = $7
			 WHERE id = $8`,
			u.EloPreA, u.EloPreB, u.EloPostA, u.EloPostB,
			u.ParamsVersion, u.ProcessedAt, u.NeedsRecompute, u.MatchID,
		); err != nil {
			return 0, eris.Wrapf(err, "postgres: annotate match %d", u.MatchID)
		}
	}

	if len(batch.States) > 0 {
		rows := make([][]any, len(batch.States))
		for i, st := range batch.States {
			rows[i] = []any{
				st.PlayerID, st.Rating, st.MatchCount, st.LastTemporalOrder,
				nullTime(st.LastMatchDate), st.CareerPeak, st.UpdatedAt,
			}
		}
		if _, err := db.BulkUpsertTx(ctx, tx, playerStateUpsert, rows); err != nil {
			return 0, eris.Wrap(err, "postgres: upsert player states")
		}
	}

	// Only previously unflagged rows are swept, so the returned count never
	// double-counts a match hit by overlapping anomalies.
	var flagged int64
	for _, a := range batch.Anomalies {
		ct, err := tx.Exec(ctx,
			`UPDATE matches SET elo_needs_recompute = TRUE
			 WHERE (player_a_id = $1 OR player_b_id = $1)
			   AND temporal_order >= $2
			   AND elo_processed_at IS NOT NULL
			   AND elo_needs_recompute = FALSE`,
			a.PlayerID, a.FromTemporalOrder,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: flag recompute for player %d", a.PlayerID)
		}
		flagged += ct.RowsAffected()
	}

	if err := s.setCheckpointPgTx(ctx, tx, batch.Checkpoint); err != nil {
		return 0, err
	}

	return flagged, eris.Wrap(tx.Commit(ctx), "postgres: commit batch")
}

func (s *PostgresStore) ResetRatings(ctx context.Context, ck model.Checkpoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin reset tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM player_rating_states`); err != nil {
		return eris.Wrap(err, "postgres: delete player states")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE matches SET
			elo_pre_a = NULL, elo_pre_b = NULL, elo_post_a = NULL, elo_post_b = NULL,
			elo_params_version = NULL, elo_processed_at = NULL, elo_needs_recompute = FALSE`,
	); err != nil {
		return eris.Wrap(err, "postgres: clear match annotations")
	}
	if err := s.setCheckpointPgTx(ctx, tx, ck); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit reset")
}

// --- Checkpoints ---

func (s *PostgresStore) setCheckpointPgTx(ctx context.Context, tx pgx.Tx, ck model.Checkpoint) error {
	value, err := json.Marshal(ck)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal checkpoint")
	}
	_, err = tx.Exec(ctx, pgSetCheckpointSQL, ck.Key, value, time.Now().UTC())
	return eris.Wrapf(err, "postgres: set checkpoint %s", ck.Key)
}

func (s *PostgresStore) GetCheckpoint(ctx context.Context, key string) (*model.Checkpoint, error) {
	var value []byte
	var updatedAt time.Time
	err := s.pool.QueryRow(ctx, pgGetCheckpointSQL, key).Scan(&value, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get checkpoint %s", key)
	}

	var ck model.Checkpoint
	if err := json.Unmarshal(value, &ck); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal checkpoint %s", key)
	}
	ck.Key = key
	ck.UpdatedAt = updatedAt
	return &ck, nil
}

func (s *PostgresStore) SetCheckpoint(ctx context.Context, ck model.Checkpoint) error {
	value, err := json.Marshal(ck)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal checkpoint")
	}
	_, err = s.pool.Exec(ctx, pgSetCheckpointSQL, ck.Key, value, time.Now().UTC())
	return eris.Wrapf(err, "postgres: set checkpoint %s", ck.Key)
}

// --- Parameter sets ---

func (s *PostgresStore) CreateParameterSet(ctx context.Context, name string, p model.Params, source string, activate bool) (*model.ParameterSet, error) {
	paramsJSON, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin params tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var version int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM rating_parameter_sets WHERE name = $1`, name,
	).Scan(&version); err != nil {
		return nil, eris.Wrap(err, "postgres: next params version")
	}

	if activate {
		if _, err := tx.Exec(ctx, `UPDATE rating_parameter_sets SET is_active = FALSE WHERE is_active`); err != nil {
			return nil, eris.Wrap(err, "postgres: deactivate params")
		}
	}

	now := time.Now().UTC()
	var id int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO rating_parameter_sets (name, version, params, source, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		name, version, paramsJSON, source, activate, now,
	).Scan(&id); err != nil {
		return nil, eris.Wrapf(err, "postgres: insert params %s", name)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit params")
	}

	return &model.ParameterSet{
		ID: id, Name: name, Version: version, Params: p,
		Source: source, IsActive: activate, CreatedAt: now,
	}, nil
}

func (s *PostgresStore) GetParameterSet(ctx context.Context, name string, version int) (*model.ParameterSet, error) {
	query := `SELECT id, name, version, params, source, is_active, created_at
		 FROM rating_parameter_sets WHERE name = $1`
	args := []any{name}
	if version > 0 {
		query += ` AND version = $2`
		args = append(args, version)
	}
	query += ` ORDER BY version DESC LIMIT 1`

	ps, err := scanParameterSet(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("parameter set not found: %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get parameter set %s", name)
	}
	return ps, nil
}

func (s *PostgresStore) ActiveParameterSet(ctx context.Context) (*model.ParameterSet, error) {
	ps, err := scanParameterSet(s.pool.QueryRow(ctx,
		`SELECT id, name, version, params, source, is_active, created_at
		 FROM rating_parameter_sets WHERE is_active
		 ORDER BY created_at DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active parameter set")
	}
	return ps, nil
}

func (s *PostgresStore) ActivateParameterSet(ctx context.Context, name string, version int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin activate tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `UPDATE rating_parameter_sets SET is_active = FALSE WHERE is_active`); err != nil {
		return eris.Wrap(err, "postgres: deactivate params")
	}
	tag, err := tx.Exec(ctx,
		`UPDATE rating_parameter_sets SET is_active = TRUE WHERE name = $1 AND version = $2`,
		name, version,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: activate %s@v%d", name, version)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("parameter set not found: %s@v%d", name, version)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit activate")
}

func (s *PostgresStore) ListParameterSets(ctx context.Context) ([]model.ParameterSet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, version, params, source, is_active, created_at
		 FROM rating_parameter_sets ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list parameter sets")
	}
	defer rows.Close()

	var out []model.ParameterSet
	for rows.Next() {
		ps, err := scanParameterSet(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan parameter set")
		}
		out = append(out, *ps)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate parameter sets")
}

// --- Run lock ---

func (s *PostgresStore) AcquireRunLock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, pgAcquireLockSQL, key, holder, now, now.Add(ttl))
	if err != nil {
		return false, eris.Wrapf(err, "postgres: acquire lock %s", key)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ReleaseRunLock(ctx context.Context, key, holder string) error {
	_, err := s.pool.Exec(ctx, pgReleaseLockSQL, key, holder)
	return eris.Wrapf(err, "postgres: release lock %s", key)
}

// --- Run log ---

func (s *PostgresStore) StartRun(ctx context.Context, mode model.RunMode, paramsVersion string) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rating_runs (id, mode, status, params_version, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(mode), string(model.RunRunning), paramsVersion, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: start %s run", mode)
	}
	return id, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, sum *model.RunSummary) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rating_runs SET status = $1, completed_at = $2, scanned = $3, processed = $4, flagged = $5 WHERE id = $6`,
		string(model.RunComplete), time.Now().UTC(), sum.Scanned, sum.Processed, sum.Flagged, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rating_runs SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
		string(model.RunFailed), time.Now().UTC(), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RatingRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, mode, status, params_version, started_at, completed_at, scanned, processed, flagged, error
		 FROM rating_runs ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.RatingRun
	for rows.Next() {
		var r model.RatingRun
		var completedAt *time.Time
		var errMsg *string
		if err := rows.Scan(&r.ID, &r.Mode, &r.Status, &r.ParamsVersion, &r.StartedAt,
			&completedAt, &r.Scanned, &r.Processed, &r.Flagged, &errMsg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.CompletedAt = completedAt
		if errMsg != nil {
			r.Error = *errMsg
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func collectPgMatches(rows pgx.Rows) ([]model.Match, error) {
	defer rows.Close()
	var out []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan match")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate matches")
}
