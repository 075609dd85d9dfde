package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/teelo/teelo/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS matches (
	id                  INTEGER PRIMARY KEY,
	player_a_id         INTEGER NOT NULL,
	player_b_id         INTEGER NOT NULL,
	winner_id           INTEGER,
	status              TEXT NOT NULL,
	temporal_order      INTEGER NOT NULL,
	level_code          TEXT NOT NULL,
	match_date          DATETIME,
	score               TEXT,
	elo_pre_a           REAL,
	elo_pre_b           REAL,
	elo_post_a          REAL,
	elo_post_b          REAL,
	elo_params_version  TEXT,
	elo_processed_at    DATETIME,
	elo_needs_recompute INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS player_rating_states (
	player_id           INTEGER PRIMARY KEY,
	rating              REAL NOT NULL,
	match_count         INTEGER NOT NULL DEFAULT 0,
	last_temporal_order INTEGER,
	last_match_date     DATETIME,
	career_peak         REAL NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rating_parameter_sets (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	version    INTEGER NOT NULL,
	params     TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT 'manual',
	is_active  INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	UNIQUE(name, version)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS run_locks (
	key         TEXT PRIMARY KEY,
	holder      TEXT NOT NULL,
	acquired_at DATETIME NOT NULL,
	expires_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rating_runs (
	id             TEXT PRIMARY KEY,
	mode           TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	params_version TEXT NOT NULL,
	started_at     DATETIME NOT NULL,
	completed_at   DATETIME,
	scanned        INTEGER NOT NULL DEFAULT 0,
	processed      INTEGER NOT NULL DEFAULT 0,
	flagged        INTEGER NOT NULL DEFAULT 0,
	error          TEXT
);

CREATE INDEX IF NOT EXISTS idx_matches_temporal ON matches(temporal_order, id);
CREATE INDEX IF NOT EXISTS idx_matches_pending ON matches(temporal_order, id)
	WHERE status IN ('completed', 'retired', 'walkover', 'default')
	AND (elo_post_a IS NULL OR elo_post_b IS NULL OR elo_needs_recompute = 1);
CREATE INDEX IF NOT EXISTS idx_matches_player_a ON matches(player_a_id, temporal_order);
CREATE INDEX IF NOT EXISTS idx_matches_player_b ON matches(player_b_id, temporal_order);
CREATE INDEX IF NOT EXISTS idx_param_sets_active ON rating_parameter_sets(is_active);
CREATE INDEX IF NOT EXISTS idx_rating_runs_started ON rating_runs(started_at);
`

const terminalStatusSet = `('completed', 'retired', 'walkover', 'default')`

const sqliteMatchCols = `id, player_a_id, player_b_id, winner_id, status, temporal_order, level_code,
	match_date, score, elo_pre_a, elo_pre_b, elo_post_a, elo_post_b,
	elo_params_version, elo_processed_at, elo_needs_recompute`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Match log ---

func (s *SQLiteStore) UpsertMatch(ctx context.Context, m *model.Match) error {
	scoreJSON, err := marshalScore(m.Score)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal score")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO matches (id, player_a_id, player_b_id, winner_id, status, temporal_order, level_code, match_date, score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			player_a_id = excluded.player_a_id,
			player_b_id = excluded.player_b_id,
			winner_id = excluded.winner_id,
			status = excluded.status,
			temporal_order = excluded.temporal_order,
			level_code = excluded.level_code,
			match_date = excluded.match_date,
			score = excluded.score`,
		m.ID, m.PlayerAID, m.PlayerBID, nullInt64(m.WinnerID), string(m.Status),
		m.TemporalOrder, m.LevelCode, nullTime(m.MatchDate), scoreJSON,
	)
	return eris.Wrapf(err, "sqlite: upsert match %d", m.ID)
}

func (s *SQLiteStore) GetMatch(ctx context.Context, id int64) (*model.Match, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteMatchCols+` FROM matches WHERE id = ?`, id)
	m, err := scanMatch(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: match not found: %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get match %d", id)
	}
	return m, nil
}

func (s *SQLiteStore) ListPending(ctx context.Context, after model.Cursor, limit int) ([]model.Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteMatchCols+`
		 FROM matches
		 WHERE status IN `+terminalStatusSet+`
		   AND winner_id IS NOT NULL
		   AND (elo_post_a IS NULL OR elo_post_b IS NULL OR elo_needs_recompute = 1)
		   AND (temporal_order > ? OR (temporal_order = ? AND id > ?))
		 ORDER BY temporal_order ASC, id ASC
		 LIMIT ?`,
		after.TemporalOrder, after.TemporalOrder, after.MatchID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending")
	}
	return collectMatches(rows)
}

func (s *SQLiteStore) ListTerminal(ctx context.Context, after model.Cursor, limit int) ([]model.Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteMatchCols+`
		 FROM matches
		 WHERE status IN `+terminalStatusSet+`
		   AND winner_id IS NOT NULL
		   AND (temporal_order > ? OR (temporal_order = ? AND id > ?))
		 ORDER BY temporal_order ASC, id ASC
		 LIMIT ?`,
		after.TemporalOrder, after.TemporalOrder, after.MatchID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list terminal")
	}
	return collectMatches(rows)
}

func (s *SQLiteStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM matches
		 WHERE status IN `+terminalStatusSet+`
		   AND winner_id IS NOT NULL
		   AND (elo_post_a IS NULL OR elo_post_b IS NULL OR elo_needs_recompute = 1)`,
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count pending")
}

// --- Player states ---

func (s *SQLiteStore) GetPlayerStates(ctx context.Context, playerIDs []int64) (map[int64]*model.PlayerState, error) {
	states := make(map[int64]*model.PlayerState, len(playerIDs))
	if len(playerIDs) == 0 {
		return states, nil
	}

	query := `SELECT player_id, rating, match_count, last_temporal_order, last_match_date, career_peak, updated_at
		 FROM player_rating_states WHERE player_id IN (?` + repeatPlaceholder(len(playerIDs)-1) + `)`
	args := make([]any, len(playerIDs))
	for i, id := range playerIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get player states")
	}
	defer rows.Close()

	for rows.Next() {
		st, err := scanPlayerState(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan player state")
		}
		states[st.PlayerID] = st
	}
	return states, eris.Wrap(rows.Err(), "sqlite: iterate player states")
}

func (s *SQLiteStore) Leaderboard(ctx context.Context, limit int) ([]model.PlayerState, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT player_id, rating, match_count, last_temporal_order, last_match_date, career_peak, updated_at
		 FROM player_rating_states ORDER BY rating DESC, player_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: leaderboard")
	}
	defer rows.Close()

	var out []model.PlayerState
	for rows.Next() {
		st, err := scanPlayerState(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan leaderboard row")
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate leaderboard")
}

// --- Batch persistence ---

func (s *SQLiteStore) CommitBatch(ctx context.Context, batch *model.Batch) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin batch tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, u := range batch.Matches {
		if _, err := tx.ExecContext(ctx,
			`UPDATE matches SET
				elo_pre_a = ?, elo_pre_b = ?, elo_post_a = ?, elo_post_b = ?,
				elo_params_version = ?, elo_processed_at = ?, elo_needs_recompute = ?
			 WHERE id = ?`,
			u.EloPreA, u.EloPreB, u.EloPostA, u.EloPostB,
			u.ParamsVersion, u.ProcessedAt, boolInt(u.NeedsRecompute), u.MatchID,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: annotate match %d", u.MatchID)
		}
	}

	for _, st := range batch.States {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO player_rating_states
				(player_id, rating, match_count, last_temporal_order, last_match_date, career_peak, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(player_id) DO UPDATE SET
				rating = excluded.rating,
				match_count = excluded.match_count,
				last_temporal_order = excluded.last_temporal_order,
				last_match_date = excluded.last_match_date,
				career_peak = excluded.career_peak,
				updated_at = excluded.updated_at`,
			st.PlayerID, st.Rating, st.MatchCount, st.LastTemporalOrder,
			nullTime(st.LastMatchDate), st.CareerPeak, st.UpdatedAt,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert player state %d", st.PlayerID)
		}
	}

	// Only previously unflagged rows are swept, so the returned count never
	// double-counts a match hit by overlapping anomalies.
	var flagged int64
	for _, a := range batch.Anomalies {
		res, err := tx.ExecContext(ctx,
			`UPDATE matches SET elo_needs_recompute = 1
			 WHERE (player_a_id = ? OR player_b_id = ?)
			   AND temporal_order >= ?
			   AND elo_processed_at IS NOT NULL
			   AND elo_needs_recompute = 0`,
			a.PlayerID, a.PlayerID, a.FromTemporalOrder,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: flag recompute for player %d", a.PlayerID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: count flagged rows")
		}
		flagged += n
	}

	if err := setCheckpointTx(ctx, tx, batch.Checkpoint); err != nil {
		return 0, err
	}

	return flagged, eris.Wrap(tx.Commit(), "sqlite: commit batch")
}

func (s *SQLiteStore) ResetRatings(ctx context.Context, ck model.Checkpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin reset tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM player_rating_states`); err != nil {
		return eris.Wrap(err, "sqlite: delete player states")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE matches SET
			elo_pre_a = NULL, elo_pre_b = NULL, elo_post_a = NULL, elo_post_b = NULL,
			elo_params_version = NULL, elo_processed_at = NULL, elo_needs_recompute = 0`,
	); err != nil {
		return eris.Wrap(err, "sqlite: clear match annotations")
	}
	if err := setCheckpointTx(ctx, tx, ck); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit reset")
}

// --- Checkpoints ---

type sqliteExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setCheckpointTx(ctx context.Context, ex sqliteExecer, ck model.Checkpoint) error {
	value, err := json.Marshal(ck)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal checkpoint")
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO checkpoints (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		ck.Key, string(value), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set checkpoint %s", ck.Key)
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, key string) (*model.Checkpoint, error) {
	var value string
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT value, updated_at FROM checkpoints WHERE key = ?`, key,
	).Scan(&value, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get checkpoint %s", key)
	}

	var ck model.Checkpoint
	if err := json.Unmarshal([]byte(value), &ck); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal checkpoint %s", key)
	}
	ck.Key = key
	ck.UpdatedAt = updatedAt
	return &ck, nil
}

func (s *SQLiteStore) SetCheckpoint(ctx context.Context, ck model.Checkpoint) error {
	return setCheckpointTx(ctx, s.db, ck)
}

// --- Parameter sets ---

func (s *SQLiteStore) CreateParameterSet(ctx context.Context, name string, p model.Params, source string, activate bool) (*model.ParameterSet, error) {
	paramsJSON, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin params tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var version int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM rating_parameter_sets WHERE name = ?`, name,
	).Scan(&version); err != nil {
		return nil, eris.Wrap(err, "sqlite: next params version")
	}

	if activate {
		if _, err := tx.ExecContext(ctx, `UPDATE rating_parameter_sets SET is_active = 0`); err != nil {
			return nil, eris.Wrap(err, "sqlite: deactivate params")
		}
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO rating_parameter_sets (name, version, params, source, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, version, string(paramsJSON), source, boolInt(activate), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert params %s", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: params insert id")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit params")
	}

	return &model.ParameterSet{
		ID: id, Name: name, Version: version, Params: p,
		Source: source, IsActive: activate, CreatedAt: now,
	}, nil
}

func (s *SQLiteStore) GetParameterSet(ctx context.Context, name string, version int) (*model.ParameterSet, error) {
	query := `SELECT id, name, version, params, source, is_active, created_at
		 FROM rating_parameter_sets WHERE name = ?`
	args := []any{name}
	if version > 0 {
		query += ` AND version = ?`
		args = append(args, version)
	}
	query += ` ORDER BY version DESC LIMIT 1`

	ps, err := scanParameterSet(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("parameter set not found: %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get parameter set %s", name)
	}
	return ps, nil
}

func (s *SQLiteStore) ActiveParameterSet(ctx context.Context) (*model.ParameterSet, error) {
	ps, err := scanParameterSet(s.db.QueryRowContext(ctx,
		`SELECT id, name, version, params, source, is_active, created_at
		 FROM rating_parameter_sets WHERE is_active = 1
		 ORDER BY created_at DESC LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: active parameter set")
	}
	return ps, nil
}

func (s *SQLiteStore) ActivateParameterSet(ctx context.Context, name string, version int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin activate tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `UPDATE rating_parameter_sets SET is_active = 0`); err != nil {
		return eris.Wrap(err, "sqlite: deactivate params")
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE rating_parameter_sets SET is_active = 1 WHERE name = ? AND version = ?`,
		name, version,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: activate %s@v%d", name, version)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: activate rows affected")
	}
	if n == 0 {
		return eris.Errorf("parameter set not found: %s@v%d", name, version)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit activate")
}

func (s *SQLiteStore) ListParameterSets(ctx context.Context) ([]model.ParameterSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, version, params, source, is_active, created_at
		 FROM rating_parameter_sets ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list parameter sets")
	}
	defer rows.Close()

	var out []model.ParameterSet
	for rows.Next() {
		ps, err := scanParameterSet(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan parameter set")
		}
		out = append(out, *ps)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate parameter sets")
}

// --- Run lock ---

func (s *SQLiteStore) AcquireRunLock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_locks (key, holder, acquired_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		 WHERE run_locks.expires_at <= excluded.acquired_at OR run_locks.holder = excluded.holder`,
		key, holder, now, now.Add(ttl),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: acquire lock %s", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: lock rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ReleaseRunLock(ctx context.Context, key, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM run_locks WHERE key = ? AND holder = ?`, key, holder)
	return eris.Wrapf(err, "sqlite: release lock %s", key)
}

// --- Run log ---

func (s *SQLiteStore) StartRun(ctx context.Context, mode model.RunMode, paramsVersion string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rating_runs (id, mode, status, params_version, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(mode), string(model.RunRunning), paramsVersion, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start %s run", mode)
	}
	return id, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, sum *model.RunSummary) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rating_runs SET status = ?, completed_at = ?, scanned = ?, processed = ?, flagged = ? WHERE id = ?`,
		string(model.RunComplete), time.Now().UTC(), sum.Scanned, sum.Processed, sum.Flagged, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rating_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(model.RunFailed), time.Now().UTC(), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RatingRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mode, status, params_version, started_at, completed_at, scanned, processed, flagged, error
		 FROM rating_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.RatingRun
	for rows.Next() {
		var r model.RatingRun
		var completedAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.Mode, &r.Status, &r.ParamsVersion, &r.StartedAt,
			&completedAt, &r.Scanned, &r.Processed, &r.Flagged, &errMsg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanMatch(row scannable) (*model.Match, error) {
	var m model.Match
	var winnerID sql.NullInt64
	var matchDate, processedAt sql.NullTime
	var scoreJSON, paramsVersion sql.NullString
	var preA, preB, postA, postB sql.NullFloat64

	err := row.Scan(
		&m.ID, &m.PlayerAID, &m.PlayerBID, &winnerID, &m.Status, &m.TemporalOrder, &m.LevelCode,
		&matchDate, &scoreJSON, &preA, &preB, &postA, &postB,
		&paramsVersion, &processedAt, &m.NeedsRecompute,
	)
	if err != nil {
		return nil, err
	}

	m.WinnerID = winnerID.Int64
	if matchDate.Valid {
		t := matchDate.Time
		m.MatchDate = &t
	}
	if scoreJSON.Valid && scoreJSON.String != "" {
		if err := json.Unmarshal([]byte(scoreJSON.String), &m.Score); err != nil {
			return nil, eris.Wrapf(err, "unmarshal score for match %d", m.ID)
		}
	}
	m.EloPreA = nullableFloat(preA)
	m.EloPreB = nullableFloat(preB)
	m.EloPostA = nullableFloat(postA)
	m.EloPostB = nullableFloat(postB)
	if paramsVersion.Valid {
		v := paramsVersion.String
		m.EloParamsVersion = &v
	}
	if processedAt.Valid {
		t := processedAt.Time
		m.EloProcessedAt = &t
	}
	return &m, nil
}

func collectMatches(rows *sql.Rows) ([]model.Match, error) {
	defer rows.Close()
	var out []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan match")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate matches")
}

func scanPlayerState(row scannable) (*model.PlayerState, error) {
	var st model.PlayerState
	var lastTemporal sql.NullInt64
	var lastDate sql.NullTime

	err := row.Scan(&st.PlayerID, &st.Rating, &st.MatchCount, &lastTemporal, &lastDate, &st.CareerPeak, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastTemporal.Valid {
		v := lastTemporal.Int64
		st.LastTemporalOrder = &v
	}
	if lastDate.Valid {
		t := lastDate.Time
		st.LastMatchDate = &t
	}
	return &st, nil
}

func scanParameterSet(row scannable) (*model.ParameterSet, error) {
	var ps model.ParameterSet
	var paramsJSON string

	err := row.Scan(&ps.ID, &ps.Name, &ps.Version, &paramsJSON, &ps.Source, &ps.IsActive, &ps.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paramsJSON), &ps.Params); err != nil {
		return nil, eris.Wrapf(err, "unmarshal params for %s", ps.Name)
	}
	return &ps, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func marshalScore(score []model.SetScore) (any, error) {
	if len(score) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(score)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullableFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
