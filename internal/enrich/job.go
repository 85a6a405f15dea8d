package enrich

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/barfeed/internal/model"
	"github.com/rickgao/barfeed/internal/store"
)

// Source returns daily bars for a ticker.
type Source interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error)
}

// Config holds enrichment job settings.
type Config struct {
	BaseKey    model.Key // Daily gold series to enrich
	Output     string
	Start      time.Time
	Indicators []Indicator
	Sentiment  bool
}

// Job builds and writes the feature table.
type Job struct {
	cfg    Config
	base   store.SeriesStore
	source Source
	logger *slog.Logger
	now    func() time.Time
}

// NewJob creates a Job reading the gold series from base.
func NewJob(cfg Config, base store.SeriesStore, source Source, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{cfg: cfg, base: base, source: source, logger: logger, now: time.Now}
}

// Run fetches every indicator, joins them onto the gold series, derives the
// extra columns and writes the table to cfg.Output. An indicator that cannot
// be fetched is left out of the table rather than failing the job.
func (j *Job) Run(ctx context.Context) (Table, error) {
	start := time.Now()
	end := j.now().UTC()

	base, err := j.base.Load(ctx, j.cfg.BaseKey)
	if err != nil {
		return Table{}, fmt.Errorf("load %s: %w", j.cfg.BaseKey, err)
	}
	if len(base) == 0 {
		return Table{}, fmt.Errorf("series %s is empty", j.cfg.BaseKey)
	}

	frames := make([]Frame, len(j.cfg.Indicators))
	fetched := make([]bool, len(j.cfg.Indicators))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, ind := range j.cfg.Indicators {
		g.Go(func() error {
			bars, err := j.source.Fetch(gctx, ind.Symbol, j.cfg.Start, end)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				j.logger.Warn("indicator unavailable, leaving it out",
					"indicator", ind.Name,
					"symbol", ind.Symbol,
					"error", err,
				)
				return nil
			}
			frames[i] = IndicatorFrame(ind, bars)
			fetched[i] = true
			j.logger.Info("indicator fetched", "indicator", ind.Name, "rows", len(bars))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Table{}, err
	}

	var joined []Frame
	for i, f := range frames {
		if fetched[i] {
			joined = append(joined, f)
		}
	}
	if j.cfg.Sentiment {
		joined = append(joined, SentimentFrame(j.cfg.Start, end))
	}

	table := Join(base, joined...)
	AddDerived(&table)

	if err := store.WriteFileAtomic(j.cfg.Output, 0o644, func(w io.Writer) error {
		return WriteCSV(w, table)
	}); err != nil {
		return Table{}, fmt.Errorf("write %s: %w", j.cfg.Output, err)
	}

	j.logger.Info("feature table written",
		"output", j.cfg.Output,
		"rows", len(table.Rows),
		"columns", len(table.Columns)+1,
		"duration", time.Since(start),
	)
	return table, nil
}
