package poller

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/barfeed/internal/api"
	"github.com/rickgao/barfeed/internal/auth"
	"github.com/rickgao/barfeed/internal/fetch"
	"github.com/rickgao/barfeed/internal/metrics"
	"github.com/rickgao/barfeed/internal/model"
	"github.com/rickgao/barfeed/internal/store"
)

const epic = "CS.D.USCGC.TODAY.IP"

var (
	minuteKey = model.Key{Instrument: epic, Resolution: model.Minute}
	hourKey   = model.Key{Instrument: epic, Resolution: model.Hour}
	t0        = time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	quiet     = slog.New(slog.NewTextHandler(io.Discard, nil))
	testCfg   = Config{Interval: time.Hour, Concurrency: 2, Timeout: time.Second}
)

func bar(min int, close float64) model.Bar {
	return model.Bar{
		Timestamp: t0.Add(time.Duration(min) * time.Minute),
		Open:      close - 1, High: close + 1, Low: close - 2, Close: close, Volume: 10,
	}
}

// fakeFetcher replays a per-key response.
type fakeFetcher struct {
	mu    sync.Mutex
	fn    map[model.Key]func(ctx context.Context) ([]model.Bar, error)
	calls map[model.Key]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		fn:    make(map[model.Key]func(ctx context.Context) ([]model.Bar, error)),
		calls: make(map[model.Key]int),
	}
}

func (f *fakeFetcher) returns(key model.Key, bars []model.Bar, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn[key] = func(context.Context) ([]model.Bar, error) { return bars, err }
}

func (f *fakeFetcher) FetchNext(ctx context.Context, key model.Key) ([]model.Bar, error) {
	f.mu.Lock()
	f.calls[key]++
	fn := f.fn[key]
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

func (f *fakeFetcher) count(key model.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

type closedGate struct{}

func (closedGate) Open(model.Key, time.Time) bool { return false }

func newStore(t *testing.T) *store.FileStore {
	t.Helper()
	return store.NewFileStore(t.TempDir(), store.CSVCodec{}, store.WithFileLogger(quiet))
}

func TestPoller_BootstrapAndIdempotence(t *testing.T) {
	st := newStore(t)
	ff := newFakeFetcher()
	ff.returns(minuteKey, []model.Bar{bar(0, 100), bar(1, 101), bar(2, 102)}, nil)
	p := New(testCfg, []model.Key{minuteKey}, ff, st, quiet)
	ctx := context.Background()

	require.NoError(t, p.RunOnce(ctx))
	got, err := st.Load(ctx, minuteKey)
	require.NoError(t, err)
	require.Len(t, got, 3)

	before, err := os.ReadFile(st.Path(minuteKey))
	require.NoError(t, err)
	info, err := os.Stat(st.Path(minuteKey))
	require.NoError(t, err)

	// Same bars again: nothing changes and nothing is rewritten.
	require.NoError(t, p.RunOnce(ctx))
	after, err := os.ReadFile(st.Path(minuteKey))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	info2, err := os.Stat(st.Path(minuteKey))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), info2.ModTime())

	status := p.Status()
	assert.Equal(t, 2, status.Cycles)
	require.Len(t, status.Targets, 1)
	assert.Equal(t, bar(2, 0).Timestamp, status.Targets[0].Watermark)
	assert.True(t, status.Healthy())
}

func TestPoller_OverlapIncomingWins(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, minuteKey, model.Series{bar(0, 100), bar(1, 101)}))

	ff := newFakeFetcher()
	ff.returns(minuteKey, []model.Bar{bar(1, 111), bar(2, 112)}, nil)

	var mirrored []model.Bar
	sink := SinkFunc(func(ctx context.Context, key model.Key, bars []model.Bar) error {
		mirrored = append(mirrored, bars...)
		return nil
	})
	p := New(testCfg, []model.Key{minuteKey}, ff, st, quiet, WithSink(sink))

	require.NoError(t, p.RunOnce(ctx))

	got, err := st.Load(ctx, minuteKey)
	require.NoError(t, err)
	assert.Equal(t, model.Series{bar(0, 100), bar(1, 111), bar(2, 112)}, got)
	assert.Equal(t, []model.Bar{bar(1, 111), bar(2, 112)}, mirrored, "only changed bars are mirrored")
}

func TestPoller_EmptyBatchDoesNotWrite(t *testing.T) {
	st := newStore(t)
	ff := newFakeFetcher()
	p := New(testCfg, []model.Key{minuteKey}, ff, st, quiet)

	require.NoError(t, p.RunOnce(context.Background()))
	assert.Equal(t, 1, ff.count(minuteKey))
	_, err := os.Stat(st.Path(minuteKey))
	assert.True(t, errors.Is(err, os.ErrNotExist), "no file is created for an empty batch")
}

func TestPoller_FailureIsolation(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	st := newStore(t)
	require.NoError(t, st.Save(context.Background(), minuteKey, model.Series{bar(0, 100), bar(1, 101)}))
	before, err := os.ReadFile(st.Path(minuteKey))
	require.NoError(t, err)
	info, err := os.Stat(st.Path(minuteKey))
	require.NoError(t, err)

	ff := newFakeFetcher()
	unavailable := &fetch.TransientError{Key: minuteKey, Err: &api.APIError{StatusCode: 503}}
	ff.returns(minuteKey, nil, unavailable)
	ff.returns(hourKey, []model.Bar{bar(0, 100), bar(60, 101)}, nil)

	m := metrics.New()
	p := New(testCfg, []model.Key{minuteKey, hourKey}, ff, st, logger, WithMetrics(m))

	require.NoError(t, p.RunOnce(context.Background()))

	got, err := st.Load(context.Background(), hourKey)
	require.NoError(t, err)
	assert.Len(t, got, 2, "the healthy key is still processed")

	after, err := os.ReadFile(st.Path(minuteKey))
	require.NoError(t, err)
	assert.Equal(t, before, after, "the failed key's file is untouched")
	info2, err := os.Stat(st.Path(minuteKey))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), info2.ModTime())

	rec := findLog(t, &logs, "key failed, skipping until next cycle")
	assert.Equal(t, minuteKey.String(), rec["key"])
	assert.Equal(t, "unavailable", rec["error_kind"])
	assert.NotEmpty(t, rec["cycle_id"])
	assert.NotEmpty(t, rec["cycle_time"])

	status := p.Status()
	assert.False(t, status.Healthy())
	assert.Equal(t, "unavailable", status.Targets[0].LastErrorKind)
	assert.Empty(t, status.Targets[1].LastError)
}

func TestPoller_AuthFailureStopsRun(t *testing.T) {
	st := newStore(t)
	ff := newFakeFetcher()
	failure := &auth.AuthFailure{Reason: "credentials rejected", Err: errors.New("401")}
	ff.returns(minuteKey, nil, failure)

	var sleeps int
	sleeper := func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}
	p := New(testCfg, []model.Key{minuteKey}, ff, st, quiet, WithSleeper(sleeper))

	err := p.Run(context.Background())
	var af *auth.AuthFailure
	require.ErrorAs(t, err, &af)
	assert.Zero(t, sleeps)
	assert.Equal(t, "auth_failure", p.Status().Targets[0].LastErrorKind)
}

func TestPoller_RunMaxCycles(t *testing.T) {
	st := newStore(t)
	ff := newFakeFetcher()
	var slept []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	p := New(testCfg, []model.Key{minuteKey, hourKey}, ff, st, quiet,
		WithSleeper(sleeper), WithMaxCycles(3))

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 3, ff.count(minuteKey))
	assert.Equal(t, 3, ff.count(hourKey))
	assert.Equal(t, []time.Duration{time.Hour, time.Hour}, slept)
}

func TestPoller_RunCancelled(t *testing.T) {
	st := newStore(t)
	ff := newFakeFetcher()
	ctx, cancel := context.WithCancel(context.Background())

	sleeper := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	p := New(testCfg, []model.Key{minuteKey}, ff, st, quiet, WithSleeper(sleeper))

	assert.NoError(t, p.Run(ctx), "cancellation is a clean stop")
	assert.Equal(t, 1, ff.count(minuteKey))

	// Already cancelled: no cycle runs.
	assert.NoError(t, p.Run(ctx))
	assert.Equal(t, 1, ff.count(minuteKey))
}

func TestPoller_GateSkipsClosedMarket(t *testing.T) {
	st := newStore(t)
	ff := newFakeFetcher()
	ff.returns(minuteKey, []model.Bar{bar(0, 1)}, nil)
	p := New(testCfg, []model.Key{minuteKey}, ff, st, quiet, WithGate(closedGate{}))

	require.NoError(t, p.RunOnce(context.Background()))
	assert.Zero(t, ff.count(minuteKey))
}

func TestPoller_TimeoutIsPerKey(t *testing.T) {
	st := newStore(t)
	ff := newFakeFetcher()
	ff.mu.Lock()
	ff.fn[minuteKey] = func(ctx context.Context) ([]model.Bar, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ff.mu.Unlock()
	ff.returns(hourKey, []model.Bar{bar(0, 1)}, nil)

	cfg := testCfg
	cfg.Timeout = 20 * time.Millisecond
	p := New(cfg, []model.Key{minuteKey, hourKey}, ff, st, quiet)

	require.NoError(t, p.RunOnce(context.Background()))
	status := p.Status()
	assert.Equal(t, "timeout", status.Targets[0].LastErrorKind)
	assert.False(t, status.Targets[1].Watermark.IsZero())
}

func TestPoller_MirrorFailureDoesNotFailKey(t *testing.T) {
	st := newStore(t)
	ff := newFakeFetcher()
	ff.returns(minuteKey, []model.Bar{bar(0, 1)}, nil)
	sink := SinkFunc(func(context.Context, model.Key, []model.Bar) error {
		return errors.New("connection refused")
	})
	p := New(testCfg, []model.Key{minuteKey}, ff, st, quiet, WithSink(sink))

	require.NoError(t, p.RunOnce(context.Background()))
	got, err := st.Load(context.Background(), minuteKey)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Empty(t, p.Status().Targets[0].LastError)
}

func TestPoller_SharedLocksSerialiseKey(t *testing.T) {
	st := newStore(t)
	locks := &store.Locks{}
	ff := newFakeFetcher()
	ff.returns(minuteKey, []model.Bar{bar(0, 1)}, nil)
	p := New(testCfg, []model.Key{minuteKey}, ff, st, quiet, WithLocks(locks))

	unlock := locks.Lock(minuteKey)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.RunOnce(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("cycle ran while the key was locked")
	case <-time.After(30 * time.Millisecond):
	}
	unlock()
	<-done
	assert.Equal(t, 1, ff.count(minuteKey))
}

func findLog(t *testing.T, buf *bytes.Buffer, msg string) map[string]any {
	t.Helper()
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		if rec["msg"] == msg {
			return rec
		}
	}
	t.Fatalf("no log record with msg %q in:\n%s", msg, buf.String())
	return nil
}
