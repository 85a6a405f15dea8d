package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/barfeed/internal/model"
)

// DB is the subset of *pgxpool.Pool the writer needs.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config holds mirror write settings.
type Config struct {
	BatchSize      int           // Rows per pgx.Batch (default: 500)
	MaxRetries     int           // Retries per batch after the first attempt (default: 3)
	InitialBackoff time.Duration // First retry delay (default: 200ms)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:      500,
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
	}
}

// WriterMetrics tracks write statistics.
type WriterMetrics struct {
	Upserts int64
	Errors  int64
	Flushes int64
}

// BarWriter upserts bars into the bars table.
type BarWriter struct {
	cfg    Config
	db     DB
	logger *slog.Logger

	mu      sync.Mutex
	metrics WriterMetrics
}

// NewBarWriter creates a new BarWriter.
func NewBarWriter(cfg Config, db DB, logger *slog.Logger) *BarWriter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	return &BarWriter{cfg: cfg, db: db, logger: logger}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS bars (
	instrument TEXT NOT NULL,
	resolution TEXT NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	open       DOUBLE PRECISION NOT NULL,
	high       DOUBLE PRECISION NOT NULL,
	low        DOUBLE PRECISION NOT NULL,
	close      DOUBLE PRECISION NOT NULL,
	volume     DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (instrument, resolution, ts)
)`

const hypertableSQL = `SELECT create_hypertable('bars', 'ts', if_not_exists => TRUE, migrate_data => TRUE)`

const upsertSQL = `
	INSERT INTO bars (instrument, resolution, ts, open, high, low, close, volume)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (instrument, resolution, ts) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume,
		updated_at = now()
`

// EnsureSchema creates the bars table. Converting it to a hypertable is
// attempted but optional, so plain PostgreSQL works too.
func (w *BarWriter) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create bars table: %w", err)
	}
	if _, err := w.db.Exec(ctx, hypertableSQL); err != nil {
		w.logger.Warn("bars table is not a hypertable", "error", err)
	}
	return nil
}

// Write upserts bars for key in batches of cfg.BatchSize.
func (w *BarWriter) Write(ctx context.Context, key model.Key, bars []model.Bar) error {
	for start := 0; start < len(bars); start += w.cfg.BatchSize {
		end := min(start+w.cfg.BatchSize, len(bars))
		if err := w.flush(ctx, key, bars[start:end]); err != nil {
			w.mu.Lock()
			w.metrics.Errors++
			w.mu.Unlock()
			return fmt.Errorf("mirror %s: %w", key, err)
		}
	}
	return nil
}

// Stats returns current metrics.
func (w *BarWriter) Stats() WriterMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

func (w *BarWriter) flush(ctx context.Context, key model.Key, rows []model.Bar) error {
	start := time.Now()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = w.cfg.InitialBackoff
	expo.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(w.cfg.MaxRetries)), ctx)

	op := func() error {
		err := w.batchUpsert(ctx, key, rows)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		w.logger.Warn("mirror batch failed, retrying", "key", key.String(), "error", err, "backoff", d)
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return err
	}

	w.mu.Lock()
	w.metrics.Upserts += int64(len(rows))
	w.metrics.Flushes++
	w.mu.Unlock()

	w.logger.Debug("mirrored bars",
		"key", key.String(),
		"count", len(rows),
		"duration", time.Since(start),
	)
	return nil
}

// batchUpsert sends rows using pgx.Batch with ON CONFLICT DO UPDATE.
func (w *BarWriter) batchUpsert(ctx context.Context, key model.Key, rows []model.Bar) error {
	batch := &pgx.Batch{}
	for _, b := range rows {
		batch.Queue(upsertSQL,
			key.Instrument, string(key.Resolution), b.Timestamp.UTC(),
			b.Open, b.High, b.Low, b.Close, b.Volume,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// retryable reports whether err may succeed on a later attempt: connection
// exceptions, transaction rollbacks, and resource or operator interventions.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return true
	}
	if len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "08", "40", "53", "57":
		return true
	}
	return false
}
