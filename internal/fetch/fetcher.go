// Package fetch pulls the bars a series is missing from the provider.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/barfeed/internal/api"
	"github.com/rickgao/barfeed/internal/model"
)

// PriceSource is the provider capability used by the Fetcher.
type PriceSource interface {
	FetchPrices(ctx context.Context, s *api.Session, q api.PriceQuery) ([]api.PriceSnapshot, error)
}

// Sessions hands out provider sessions and takes back rejected ones.
type Sessions interface {
	EnsureSession(ctx context.Context) (*api.Session, error)
	Invalidate(s *api.Session)
}

// Watermarks reports the last persisted timestamp of a series.
type Watermarks interface {
	Watermark(ctx context.Context, key model.Key) (time.Time, bool, error)
}

// Config holds fetcher settings.
type Config struct {
	BackfillStart time.Time // Window start for a series with no bars
	Mapping       Mapping
}

// Fetcher computes fetch windows and converts provider rows to bars.
type Fetcher struct {
	cfg      Config
	source   PriceSource
	sessions Sessions
	marks    Watermarks
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClock sets the clock used as the window end.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		f.now = now
	}
}

// New creates a Fetcher.
func New(cfg Config, source PriceSource, sessions Sessions, marks Watermarks, logger *slog.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mapping.Prices == "" {
		cfg.Mapping = DefaultMapping()
	}
	f := &Fetcher{
		cfg:      cfg,
		source:   source,
		sessions: sessions,
		marks:    marks,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Window returns the range to request for key. The watermark bar itself is
// included so a provisional last bar gets replaced by its final value.
func (f *Fetcher) Window(ctx context.Context, key model.Key) (model.FetchWindow, error) {
	to := f.now().UTC().Truncate(time.Second)

	wm, ok, err := f.marks.Watermark(ctx, key)
	if err != nil {
		return model.FetchWindow{}, fmt.Errorf("watermark %s: %w", key, err)
	}
	if ok {
		return model.FetchWindow{From: wm.UTC(), To: to}, nil
	}
	if f.cfg.BackfillStart.IsZero() {
		return model.FetchWindow{}, fmt.Errorf("series %s is empty and no backfill start is configured", key)
	}
	return model.FetchWindow{From: f.cfg.BackfillStart.UTC(), To: to}, nil
}

// FetchNext returns the bars from the watermark to now. An empty window
// returns nil without contacting the provider. Provider errors come back as
// *TransientError; an *auth.AuthFailure is returned as is.
func (f *Fetcher) FetchNext(ctx context.Context, key model.Key) ([]model.Bar, error) {
	w, err := f.Window(ctx, key)
	if err != nil {
		return nil, err
	}
	if w.Empty(key.Resolution.Step()) {
		f.logger.Debug("fetch window empty, skipping", "key", key.String(), "window", w.String())
		return nil, nil
	}

	snaps, err := f.fetch(ctx, key, w)
	if err != nil {
		return nil, err
	}

	bars := make([]model.Bar, 0, len(snaps))
	var dropped int
	for _, snap := range snaps {
		b, err := f.cfg.Mapping.Apply(snap)
		if err != nil {
			dropped++
			f.logger.Debug("dropping price point", "key", key.String(), "error", err)
			continue
		}
		bars = append(bars, b)
	}
	if dropped > 0 {
		f.logger.Warn("dropped price points without the mapped view",
			"key", key.String(),
			"view", string(f.cfg.Mapping.Prices),
			"dropped", dropped,
			"kept", len(bars),
		)
	}

	f.logger.Debug("fetched bars", "key", key.String(), "window", w.String(), "bars", len(bars))
	return bars, nil
}

// fetch calls the provider, re-authenticating and retrying once if the
// session was rejected.
func (f *Fetcher) fetch(ctx context.Context, key model.Key, w model.FetchWindow) ([]api.PriceSnapshot, error) {
	q := api.PriceQuery{
		Epic:       key.Instrument,
		Resolution: string(key.Resolution),
		From:       w.From,
		To:         w.To,
	}

	s, err := f.sessions.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}

	snaps, err := f.source.FetchPrices(ctx, s, q)
	if errors.Is(err, api.ErrUnauthorized) {
		f.logger.Info("session rejected, re-authenticating", "key", key.String(), "error", err)
		f.sessions.Invalidate(s)

		s, err = f.sessions.EnsureSession(ctx)
		if err != nil {
			return nil, err
		}
		snaps, err = f.source.FetchPrices(ctx, s, q)
	}
	if err != nil {
		return nil, &TransientError{Key: key, Window: w, Err: err}
	}
	return snaps, nil
}
