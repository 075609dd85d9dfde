package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table        string   // target table (e.g., "player_rating_states")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

// BulkUpsertTx performs a multi-row INSERT ... ON CONFLICT (keys) DO UPDATE
// inside the caller's transaction, so the upsert commits or rolls back
// together with the rest of the batch.
func BulkUpsertTx(ctx context.Context, tx pgx.Tx, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	var (
		placeholders []string
		args         []any
	)
	n := 1
	for _, row := range rows {
		if len(row) != len(cfg.Columns) {
			return 0, eris.Errorf("db: upsert: row has %d values, want %d", len(row), len(cfg.Columns))
		}
		ph := make([]string, len(row))
		for i, v := range row {
			ph[i] = fmt.Sprintf("$%d", n)
			args = append(args, v)
			n++
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")
	}

	setClauses := make([]string, len(updateCols))
	for i, c := range updateCols {
		setClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) DO UPDATE SET %s",
		cfg.Table,
		strings.Join(cfg.Columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(cfg.ConflictKeys, ", "),
		strings.Join(setClauses, ", "),
	)

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert into %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}
