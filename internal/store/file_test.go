package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/barfeed/internal/model"
)

var testKey = model.Key{Instrument: "CS.D.USCGC.TODAY.IP", Resolution: model.Minute}

func sampleSeries() model.Series {
	t0 := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	return model.Series{
		{Timestamp: t0, Open: 2301.15, High: 2302.4, Low: 2300.95, Close: 2301.9, Volume: 120},
		{Timestamp: t0.Add(time.Minute), Open: 0.1 + 0.2, High: 2303.123456789, Low: 2299.000001, Close: 2302.5, Volume: 87},
		{Timestamp: t0.Add(2 * time.Minute), Open: 2302.5, High: 2302.5, Low: 2301, Close: 2301.25, Volume: 0},
	}
}

func TestFileStore_Bootstrap(t *testing.T) {
	s := NewFileStore(t.TempDir(), nil)
	ctx := context.Background()

	got, err := s.Load(ctx, testKey)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	_, ok, err := s.Watermark(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_RoundTrip(t *testing.T) {
	for _, format := range []string{"csv", "json", "parquet"} {
		t.Run(format, func(t *testing.T) {
			codec := NewCodec(format)
			require.NotNil(t, codec)

			s := NewFileStore(t.TempDir(), codec)
			ctx := context.Background()
			want := sampleSeries()

			require.NoError(t, s.Save(ctx, testKey, want))
			assert.True(t, strings.HasSuffix(s.Path(testKey), "."+format))

			got, err := s.Load(ctx, testKey)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %+v", got)

			// A second round trip is byte-identical.
			first, err := os.ReadFile(s.Path(testKey))
			require.NoError(t, err)
			require.NoError(t, s.Save(ctx, testKey, got))
			second, err := os.ReadFile(s.Path(testKey))
			require.NoError(t, err)
			assert.Equal(t, first, second)

			wm, ok, err := s.Watermark(ctx, testKey)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, wm.Equal(want[2].Timestamp))
		})
	}
}

func TestNewCodec_Unknown(t *testing.T) {
	assert.Nil(t, NewCodec("xlsx"))
	assert.IsType(t, CSVCodec{}, NewCodec(""))
}

func TestCSVCodec_Format(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSVCodec{}.Encode(&buf, sampleSeries()[:1]))

	want := "Date,Open,High,Low,Close,Volume\n2024-05-01 13:00:00,2301.15,2302.4,2300.95,2301.9,120\n"
	assert.Equal(t, want, buf.String())
}

func TestCSVCodec_DecodeLegacy(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"header only", "Date,Open,High,Low,Close,Volume\n", 0},
		{"zero bytes", "", 0},
		{"pandas floats", "Date,Open,High,Low,Close,Volume\n2024-01-02 10:00:00,1.5,2.0,1.0,1.8,100.0\n", 1},
		{"iso T", "Date,Open,High,Low,Close,Volume\n2024-01-02T10:00:00,1,2,1,1,5\n", 1},
		{"date only", "date,open,high,low,close,volume\n2024-01-02,1,2,1,1,5\n2024-01-03,1,2,1,1,5\n", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CSVCodec{}.Decode(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestCSVCodec_DecodeErrors(t *testing.T) {
	inputs := map[string]string{
		"wrong header": "Time,O,H,L,C,V\n",
		"short row":    "Date,Open,High,Low,Close,Volume\n2024-01-02 10:00:00,1,2\n",
		"bad float":    "Date,Open,High,Low,Close,Volume\n2024-01-02 10:00:00,x,2,1,1,5\n",
		"bad time":     "Date,Open,High,Low,Close,Volume\nyesterday,1,2,1,1,5\n",
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := CSVCodec{}.Decode(strings.NewReader(input))
			assert.Error(t, err)
		})
	}
}

func TestFileStore_CorruptIsQuarantined(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	var reported *CorruptError
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewFileStore(dir, nil,
		WithFileLogger(logger),
		WithFileClock(func() time.Time { return now }),
		WithCorruptHandler(func(e *CorruptError) { reported = e }),
	)
	path := s.Path(testKey)
	require.NoError(t, os.WriteFile(path, []byte("Date,Open,High,Low,Close,Volume\n2024-01-02 10:00:00,1,2\x00\x01"), 0o644))

	got, err := s.Load(context.Background(), testKey)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NotNil(t, reported)
	assert.Equal(t, testKey, reported.Key)
	assert.Equal(t, path+".corrupt-20240601T120000Z", reported.Quarantine)
	assert.FileExists(t, reported.Quarantine)
	assert.NoFileExists(t, path)

	assert.Contains(t, logs.String(), "level=ERROR")
	assert.Contains(t, logs.String(), "corrupt series file")
	assert.Contains(t, logs.String(), testKey.String())
}

func TestFileStore_UnorderedFileIsCorrupt(t *testing.T) {
	s := NewFileStore(t.TempDir(), nil, WithFileLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	input := "Date,Open,High,Low,Close,Volume\n2024-01-02 10:01:00,1,2,1,1,5\n2024-01-02 10:00:00,1,2,1,1,5\n"
	require.NoError(t, os.WriteFile(s.Path(testKey), []byte(input), 0o644))

	got, err := s.Load(context.Background(), testKey)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileStore_SaveRejectsInvalid(t *testing.T) {
	s := NewFileStore(t.TempDir(), nil)
	bad := model.Series{sampleSeries()[1], sampleSeries()[0]}

	err := s.Save(context.Background(), testKey, bad)
	assert.ErrorIs(t, err, ErrInvalidSeries)
	assert.NoFileExists(t, s.Path(testKey))
}

// failingCodec writes part of the payload and then fails.
type failingCodec struct{ CSVCodec }

func (failingCodec) Encode(w io.Writer, s model.Series) error {
	io.WriteString(w, "Date,Open,High,Low,Close,Volume\n2024-05-01 13:0")
	return errors.New("disk full")
}

func TestFileStore_CrashDuringSaveKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	good := NewFileStore(dir, nil)
	old := sampleSeries()[:2]
	require.NoError(t, good.Save(ctx, testKey, old))

	broken := NewFileStore(dir, failingCodec{})
	err := broken.Save(ctx, testKey, sampleSeries())
	require.Error(t, err)

	got, err := good.Load(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, old.Equal(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must be cleaned up")
	assert.Equal(t, filepath.Base(good.Path(testKey)), entries[0].Name())
}

func TestFileStore_WithPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data", "gold_minutely_data.csv")
	s := NewFileStore(dir, nil, WithPath(testKey, path))

	require.NoError(t, s.Save(context.Background(), testKey, sampleSeries()))
	assert.FileExists(t, path)
}

func TestFileStore_CancelledContext(t *testing.T) {
	s := NewFileStore(t.TempDir(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Load(ctx, testKey)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Save(ctx, testKey, sampleSeries()), context.Canceled)
}

func TestLocks_SerialisePerKey(t *testing.T) {
	var locks Locks
	other := model.Key{Instrument: testKey.Instrument, Resolution: model.Day}

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(testKey)
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)

	// Different keys do not block each other.
	unlock := locks.Lock(testKey)
	done := make(chan struct{})
	go func() {
		locks.Lock(other)()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
	unlock()
}
