package enrich

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/barfeed/internal/model"
	"github.com/rickgao/barfeed/internal/store"
)

var dayKey = model.Key{Instrument: "CS.D.USCGC.TODAY.IP", Resolution: model.Day}

type fakeSource struct {
	bars map[string][]model.Bar
	errs map[string]error
}

func (f fakeSource) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return f.bars[symbol], nil
}

func TestJob_Run(t *testing.T) {
	dir := t.TempDir()
	st := store.NewFileStore(dir, store.CSVCodec{}, store.WithFileLogger(quiet))
	require.NoError(t, st.Save(context.Background(), dayKey, goldSeries(1, 2, 3)))

	inds, err := LookupIndicators([]string{"OIL", "DXY"})
	require.NoError(t, err)
	src := fakeSource{
		bars: map[string][]model.Bar{
			"CL=F": {{Timestamp: day(1), Open: 70, High: 72, Low: 69, Close: 70}},
		},
		errs: map[string]error{"DX-Y.NYB": errors.New("chart api status 404")},
	}

	out := filepath.Join(dir, "out", "enhanced_gold_data.csv")
	job := NewJob(Config{
		BaseKey:    dayKey,
		Output:     out,
		Start:      day(1),
		Indicators: inds,
		Sentiment:  true,
	}, st, src, quiet)
	job.now = func() time.Time { return day(3) }

	table, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, table.HasColumn("Oil_Close"))
	assert.False(t, table.HasColumn("DXY_Close"), "unavailable indicator is left out")
	assert.False(t, table.HasColumn("Gold_DXY_Inverse"))
	assert.True(t, table.HasColumn("Gold_Oil_Ratio"))
	assert.True(t, table.HasColumn("News_Sentiment"))
	assert.Equal(t, 70.0, table.Rows[2].Values["Oil_Close"], "filled forward")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "Date,Gold_Open"))
}

func TestJob_EmptyBase(t *testing.T) {
	st := store.NewFileStore(t.TempDir(), store.CSVCodec{}, store.WithFileLogger(quiet))
	job := NewJob(Config{BaseKey: dayKey, Output: filepath.Join(t.TempDir(), "x.csv")}, st, fakeSource{}, quiet)

	_, err := job.Run(context.Background())
	assert.Error(t, err)
}
