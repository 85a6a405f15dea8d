package enrich

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/barfeed/internal/model"
)

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func goldSeries(days ...int) model.Series {
	s := make(model.Series, 0, len(days))
	for _, d := range days {
		s = append(s, model.Bar{Timestamp: day(d), Open: 2000, High: 2010, Low: 1990, Close: 2000 + float64(d), Volume: 100})
	}
	return s
}

func TestLookupIndicators(t *testing.T) {
	inds, err := LookupIndicators([]string{"oil", "TNX", "Oil"})
	require.NoError(t, err)
	require.Len(t, inds, 2)
	assert.Equal(t, "CL=F", inds[0].Symbol)
	assert.Equal(t, []string{"Oil_Open", "Oil_High", "Oil_Low", "Oil_Close", "Oil_Volume"}, inds[0].Columns())
	assert.Equal(t, "^TNX", inds[1].Symbol)

	_, err = LookupIndicators([]string{"GOLD"})
	assert.Error(t, err)
}

func TestJoin_LeftJoinAndForwardFill(t *testing.T) {
	oil, _ := LookupIndicators([]string{"OIL"})
	// Oil trades on the 2nd and 4th only; the 3rd is filled from the 2nd.
	frame := IndicatorFrame(oil[0], []model.Bar{
		{Timestamp: day(2), Open: 70, High: 72, Low: 69, Close: 71, Volume: 5},
		{Timestamp: day(4), Open: 73, High: 75, Low: 72, Close: 74, Volume: 6},
		{Timestamp: day(9), Open: 1, High: 1, Low: 1, Close: 1},
	})

	table := Join(goldSeries(1, 2, 3, 4), frame)

	require.Len(t, table.Rows, 4, "one row per gold date")
	_, ok := table.Rows[0].Values["Oil_Close"]
	assert.False(t, ok, "leading gap stays empty")
	assert.Equal(t, 71.0, table.Rows[1].Values["Oil_Close"])
	assert.Equal(t, 71.0, table.Rows[2].Values["Oil_Close"])
	assert.Equal(t, 74.0, table.Rows[3].Values["Oil_Close"])
	assert.Equal(t, 2003.0, table.Rows[2].Values[GoldClose])
}

func TestAddDerived(t *testing.T) {
	inds, err := LookupIndicators([]string{"OIL", "DXY", "TNX", "CHF"})
	require.NoError(t, err)
	bar := func(o, h, l, c float64) []model.Bar {
		return []model.Bar{{Timestamp: day(1), Open: o, High: h, Low: l, Close: c}}
	}
	table := Join(goldSeries(1),
		IndicatorFrame(inds[0], bar(70, 72, 68, 80)),
		IndicatorFrame(inds[1], bar(104, 105, 103, 104.5)),
		IndicatorFrame(inds[2], bar(4, 4.2, 3.9, 4)),
		IndicatorFrame(inds[3], bar(0.9, 0.95, 0.85, 0.9)),
	)
	AddDerived(&table)

	v := table.Rows[0].Values
	assert.InDelta(t, 2001.0/80, v["Gold_Oil_Ratio"], 1e-9)
	assert.Equal(t, -104.5, v["Gold_DXY_Inverse"])
	assert.InDelta(t, 2001.0/5, v["Gold_Yield_Spread"], 1e-9)
	assert.Equal(t, 4.0, v["Oil_Volatility"])
	assert.InDelta(t, 0.1, v["CHF_Volatility"], 1e-9)
	assert.True(t, table.HasColumn("CHF_Volatility"))
}

func TestAddDerived_OnlyWithInputs(t *testing.T) {
	table := Join(goldSeries(1, 2))
	AddDerived(&table)
	assert.Equal(t, []string{GoldOpen, GoldHigh, GoldLow, GoldClose, GoldVolume}, table.Columns)
}

func TestAddDerived_ZeroDivisorLeftEmpty(t *testing.T) {
	oil, _ := LookupIndicators([]string{"OIL"})
	table := Join(goldSeries(1), IndicatorFrame(oil[0], []model.Bar{{Timestamp: day(1)}}))
	AddDerived(&table)
	_, ok := table.Rows[0].Values["Gold_Oil_Ratio"]
	assert.False(t, ok)
}

func TestSentimentFrame(t *testing.T) {
	f := SentimentFrame(day(1).Add(15*time.Hour), day(3))
	assert.Len(t, f.ByDate, 3)
	assert.Equal(t, map[string]float64{"News_Sentiment": 0, "News_Count": 0}, f.ByDate[day(2)])
}

func TestWriteCSV(t *testing.T) {
	tnx, _ := LookupIndicators([]string{"TNX"})
	table := Join(goldSeries(1, 2), IndicatorFrame(tnx[0], []model.Bar{
		{Timestamp: day(2), Open: 4, High: 4.5, Low: 3.5, Close: 4.25},
	}))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, table))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Date,Gold_Open,Gold_High,Gold_Low,Gold_Close,Gold_Volume,TNX_Open,TNX_High,TNX_Low,TNX_Close", lines[0])
	assert.Equal(t, "2024-01-01,2000,2010,1990,2001,100,,,,", lines[1])
	assert.Equal(t, "2024-01-02,2000,2010,1990,2002,100,4,4.5,3.5,4.25", lines[2])
}
