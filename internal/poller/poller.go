package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/barfeed/internal/auth"
	"github.com/rickgao/barfeed/internal/dedup"
	"github.com/rickgao/barfeed/internal/fetch"
	"github.com/rickgao/barfeed/internal/metrics"
	"github.com/rickgao/barfeed/internal/model"
	"github.com/rickgao/barfeed/internal/store"
)

// BarFetcher returns the bars a series is missing.
type BarFetcher interface {
	FetchNext(ctx context.Context, key model.Key) ([]model.Bar, error)
}

// Sink receives the bars that changed in a cycle.
type Sink interface {
	Write(ctx context.Context, key model.Key, bars []model.Bar) error
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(ctx context.Context, key model.Key, bars []model.Bar) error

func (f SinkFunc) Write(ctx context.Context, key model.Key, bars []model.Bar) error {
	return f(ctx, key, bars)
}

// Gate reports whether a key should be polled at t.
type Gate interface {
	Open(key model.Key, t time.Time) bool
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Pause between cycles (default: 5m)
	Concurrency int           // Keys processed at once (default: 3)
	Timeout     time.Duration // Per-key deadline, 0 for none (default: 2m)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		Concurrency: 3,
		Timeout:     2 * time.Minute,
	}
}

// Skip reasons reported in logs and metrics.
const (
	skipEmptyBatch   = "empty_batch"
	skipUnchanged    = "unchanged"
	skipMarketClosed = "market_closed"
)

var errWatermarkRegressed = errors.New("merged series would move the watermark backwards")

// Poller runs fetch, merge and save for every key on a fixed interval.
type Poller struct {
	cfg     Config
	keys    []model.Key
	fetcher BarFetcher
	store   store.SeriesStore
	logger  *slog.Logger

	locks     *store.Locks
	sink      Sink
	gate      Gate
	metrics   *metrics.Metrics
	sleep     Sleeper
	now       func() time.Time
	maxCycles int

	mu     sync.Mutex
	status Status
	byKey  map[model.Key]*TargetStatus
}

// Option configures a Poller.
type Option func(*Poller)

// WithSink mirrors changed bars after every successful save.
func WithSink(s Sink) Option {
	return func(p *Poller) {
		p.sink = s
	}
}

// WithGate skips keys the gate reports closed.
func WithGate(g Gate) Option {
	return func(p *Poller) {
		p.gate = g
	}
}

// WithMetrics records cycle and per-key metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// WithLocks shares per-key locks with other writers of the same store.
func WithLocks(l *store.Locks) Option {
	return func(p *Poller) {
		p.locks = l
	}
}

// WithSleeper replaces the wait between cycles.
func WithSleeper(s Sleeper) Option {
	return func(p *Poller) {
		p.sleep = s
	}
}

// WithClock sets the clock used for cycle times and the gate.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

// WithMaxCycles stops Run after n cycles. Zero means run until cancelled.
func WithMaxCycles(n int) Option {
	return func(p *Poller) {
		p.maxCycles = n
	}
}

// New creates a new Poller.
func New(cfg Config, keys []model.Key, fetcher BarFetcher, st store.SeriesStore, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	p := &Poller{
		cfg:     cfg,
		keys:    append([]model.Key(nil), keys...),
		fetcher: fetcher,
		store:   st,
		logger:  logger,
		sleep:   sleepContext,
		now:     time.Now,
		byKey:   make(map[model.Key]*TargetStatus, len(keys)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.locks == nil {
		p.locks = &store.Locks{}
	}
	for _, k := range p.keys {
		p.byKey[k] = &TargetStatus{Key: k.String()}
	}
	return p
}

// Run polls immediately, then once per interval, until ctx is cancelled or
// a key hits an authentication failure. Cancellation returns nil.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		"keys", len(p.keys),
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			break
		}
		if err := p.RunOnce(ctx); err != nil {
			return err
		}
		if p.maxCycles > 0 && cycle >= p.maxCycles {
			break
		}
		if err := p.sleep(ctx, p.cfg.Interval); err != nil {
			break
		}
	}

	p.logger.Info("poller stopped")
	return nil
}

// RunOnce runs a single cycle over every key. It returns an error only for an
// authentication failure, which also cancels the keys still in flight.
func (p *Poller) RunOnce(ctx context.Context) error {
	start := time.Now()
	c := cycle{id: uuid.NewString(), time: p.now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, key := range p.keys {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return p.pollKey(gctx, c, key)
		})
	}
	err := g.Wait()

	p.mu.Lock()
	p.status.Cycles++
	p.status.LastCycleID = c.id
	p.status.LastCycle = c.time
	p.mu.Unlock()
	p.metrics.ObserveCycle(time.Since(start))

	p.logger.Info("poll cycle complete",
		"cycle_id", c.id,
		"cycle_time", c.time,
		"keys", len(p.keys),
		"duration", time.Since(start),
	)

	var af *auth.AuthFailure
	if errors.As(err, &af) {
		return err
	}
	return nil
}

// Status returns a snapshot of the per-key outcome of recent cycles.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.status
	s.Targets = make([]TargetStatus, 0, len(p.keys))
	for _, k := range p.keys {
		s.Targets = append(s.Targets, *p.byKey[k])
	}
	return s
}

type cycle struct {
	id   string
	time time.Time
}

// result is the outcome of one key in one cycle.
type result struct {
	skipped   string
	stats     dedup.Stats
	watermark time.Time
}

// pollKey processes one key. Failures are logged and swallowed except
// *auth.AuthFailure, which is returned to stop the cycle.
func (p *Poller) pollKey(ctx context.Context, c cycle, key model.Key) error {
	if ctx.Err() != nil {
		return nil
	}

	if p.gate != nil && !p.gate.Open(key, c.time) {
		p.skip(c, key, skipMarketClosed)
		return nil
	}

	unlock := p.locks.Lock(key)
	defer unlock()

	stepCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	res, err := p.step(stepCtx, key)
	if err != nil {
		return p.fail(ctx, c, key, err)
	}
	if res.skipped != "" {
		p.skip(c, key, res.skipped)
		p.recordSuccess(key, time.Time{})
		return nil
	}

	p.metrics.Merged(key.String(), res.stats.Added, res.stats.Replaced)
	p.metrics.SetWatermark(key.String(), res.watermark)
	p.recordSuccess(key, res.watermark)

	p.logger.Info("series updated",
		"key", key.String(),
		"cycle_id", c.id,
		"added", res.stats.Added,
		"replaced", res.stats.Replaced,
		"watermark", res.watermark,
	)
	return nil
}

// step runs fetch, merge and save for key under the key's lock.
func (p *Poller) step(ctx context.Context, key model.Key) (result, error) {
	incoming, err := p.fetcher.FetchNext(ctx, key)
	if err != nil {
		return result{}, err
	}
	if len(incoming) == 0 {
		return result{skipped: skipEmptyBatch}, nil
	}

	existing, err := p.store.Load(ctx, key)
	if err != nil {
		return result{}, fmt.Errorf("load %s: %w", key, err)
	}

	merged, stats, changed := dedup.MergeWithStats(existing, incoming)
	if !stats.Changed() {
		return result{skipped: skipUnchanged}, nil
	}

	oldMark, hadMark := existing.Watermark()
	newMark, _ := merged.Watermark()
	if hadMark && newMark.Before(oldMark) {
		return result{}, fmt.Errorf("save %s: %w (%s < %s)", key, errWatermarkRegressed, newMark, oldMark)
	}

	if err := p.store.Save(ctx, key, merged); err != nil {
		return result{}, err
	}

	if p.sink != nil {
		if err := p.sink.Write(ctx, key, changed); err != nil {
			p.metrics.MirrorError()
			p.logger.Warn("mirror write failed",
				"key", key.String(),
				"bars", len(changed),
				"error", err,
			)
		}
	}

	return result{stats: stats, watermark: newMark}, nil
}

func (p *Poller) fail(ctx context.Context, c cycle, key model.Key, err error) error {
	kind := fetch.Kind(err)

	var af *auth.AuthFailure
	if errors.As(err, &af) {
		p.logger.Error("authentication failed, stopping",
			"key", key.String(),
			"cycle_id", c.id,
			"cycle_time", c.time,
			"error_kind", kind,
			"error", err,
		)
		p.recordError(key, kind, err)
		return err
	}

	// The cycle itself was cancelled, not this key's step.
	if ctx.Err() != nil {
		p.logger.Debug("key abandoned on shutdown", "key", key.String(), "cycle_id", c.id)
		return nil
	}

	p.logger.Warn("key failed, skipping until next cycle",
		"key", key.String(),
		"cycle_id", c.id,
		"cycle_time", c.time,
		"error_kind", kind,
		"error", err,
	)
	p.metrics.TargetError(key.String(), kind)
	p.recordError(key, kind, err)
	return nil
}

func (p *Poller) skip(c cycle, key model.Key, reason string) {
	p.metrics.Skipped(key.String(), reason)
	p.logger.Debug("key skipped", "key", key.String(), "cycle_id", c.id, "reason", reason)
}

func (p *Poller) recordSuccess(key model.Key, watermark time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := p.byKey[key]
	ts.LastSuccess = p.now().UTC()
	if !watermark.IsZero() {
		ts.Watermark = watermark
	}
}

func (p *Poller) recordError(key model.Key, kind string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := p.byKey[key]
	ts.LastError = err.Error()
	ts.LastErrorKind = kind
	ts.LastErrorAt = p.now().UTC()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
