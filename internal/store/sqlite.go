package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rickgao/barfeed/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bars (
	instrument TEXT    NOT NULL,
	resolution TEXT    NOT NULL,
	ts         INTEGER NOT NULL,
	open       REAL    NOT NULL,
	high       REAL    NOT NULL,
	low        REAL    NOT NULL,
	close      REAL    NOT NULL,
	volume     REAL    NOT NULL,
	PRIMARY KEY (instrument, resolution, ts)
) WITHOUT ROWID;
`

// SQLiteStore keeps every series in one SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; WAL lets readers proceed.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		logger.Warn("failed to set WAL mode", "error", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = FULL;"); err != nil {
		logger.Warn("failed to set synchronous mode", "error", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements SeriesStore.
func (s *SQLiteStore) Load(ctx context.Context, key model.Key) (model.Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE instrument = ? AND resolution = ?
		ORDER BY ts ASC
	`, key.Instrument, string(key.Resolution))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", key, err)
	}
	defer rows.Close()

	series := model.Series{}
	for rows.Next() {
		var (
			ts int64
			b  model.Bar
		)
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan %s: %w", key, err)
		}
		b.Timestamp = time.UnixMilli(ts).UTC()
		series = append(series, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", key, err)
	}
	return series, nil
}

// Watermark implements SeriesStore.
func (s *SQLiteStore) Watermark(ctx context.Context, key model.Key) (time.Time, bool, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(ts) FROM bars WHERE instrument = ? AND resolution = ?
	`, key.Instrument, string(key.Resolution)).Scan(&ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("watermark %s: %w", key, err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ts.Int64).UTC(), true, nil
}

// Save implements SeriesStore. The key's rows are replaced in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, key model.Key, series model.Series) error {
	if err := checkSave(key, series); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bars WHERE instrument = ? AND resolution = ?`,
		key.Instrument, string(key.Resolution),
	); err != nil {
		return fmt.Errorf("clear %s: %w", key, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (instrument, resolution, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range series {
		if _, err := stmt.ExecContext(ctx,
			key.Instrument, string(key.Resolution), b.Timestamp.UnixMilli(),
			b.Open, b.High, b.Low, b.Close, b.Volume,
		); err != nil {
			return fmt.Errorf("insert %s at %s: %w", key, b.Timestamp.Format(TimeLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}

	s.logger.Debug("saved series", "key", key.String(), "bars", len(series))
	return nil
}
