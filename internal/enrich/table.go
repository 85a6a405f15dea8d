package enrich

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/rickgao/barfeed/internal/model"
)

// DateLayout is the Date column format.
const DateLayout = "2006-01-02"

// Base columns contributed by the gold series.
const (
	GoldOpen   = "Gold_Open"
	GoldHigh   = "Gold_High"
	GoldLow    = "Gold_Low"
	GoldClose  = "Gold_Close"
	GoldVolume = "Gold_Volume"
)

// Row is one date of the feature table. A column absent from Values has no
// value on that date.
type Row struct {
	Date   time.Time
	Values map[string]float64
}

// Table is the joined feature table, one row per gold date.
type Table struct {
	Columns []string
	Rows    []Row
}

// HasColumn reports whether col is part of the table.
func (t *Table) HasColumn(col string) bool {
	return slices.Contains(t.Columns, col)
}

// Frame is a set of columns keyed by calendar date.
type Frame struct {
	Columns []string
	ByDate  map[time.Time]map[string]float64
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IndicatorFrame converts daily bars of ind into a frame. Later bars on the
// same date win.
func IndicatorFrame(ind Indicator, bars []model.Bar) Frame {
	f := Frame{Columns: ind.Columns(), ByDate: make(map[time.Time]map[string]float64, len(bars))}
	for _, b := range bars {
		v := map[string]float64{
			ind.Prefix + "_Open":  b.Open,
			ind.Prefix + "_High":  b.High,
			ind.Prefix + "_Low":   b.Low,
			ind.Prefix + "_Close": b.Close,
		}
		if ind.Volume {
			v[ind.Prefix+"_Volume"] = b.Volume
		}
		f.ByDate[Day(b.Timestamp)] = v
	}
	return f
}

// SentimentFrame is a neutral placeholder: zero sentiment and zero articles
// for every day in [start, end].
func SentimentFrame(start, end time.Time) Frame {
	f := Frame{Columns: []string{"News_Sentiment", "News_Count"}, ByDate: make(map[time.Time]map[string]float64)}
	for d := Day(start); !d.After(Day(end)); d = d.AddDate(0, 0, 1) {
		f.ByDate[d] = map[string]float64{"News_Sentiment": 0, "News_Count": 0}
	}
	return f
}

// Join left-joins frames onto the gold series by calendar date, then
// forward-fills every column so non-trading days of an indicator carry its
// previous value. Leading gaps stay empty.
func Join(base model.Series, frames ...Frame) Table {
	t := Table{Columns: []string{GoldOpen, GoldHigh, GoldLow, GoldClose, GoldVolume}}
	for _, f := range frames {
		for _, c := range f.Columns {
			if !t.HasColumn(c) {
				t.Columns = append(t.Columns, c)
			}
		}
	}

	t.Rows = make([]Row, 0, len(base))
	for _, b := range base {
		date := Day(b.Timestamp)
		vals := map[string]float64{
			GoldOpen:   b.Open,
			GoldHigh:   b.High,
			GoldLow:    b.Low,
			GoldClose:  b.Close,
			GoldVolume: b.Volume,
		}
		for _, f := range frames {
			for c, v := range f.ByDate[date] {
				vals[c] = v
			}
		}
		t.Rows = append(t.Rows, Row{Date: date, Values: vals})
	}

	slices.SortStableFunc(t.Rows, func(a, b Row) int { return a.Date.Compare(b.Date) })
	forwardFill(&t)
	return t
}

func forwardFill(t *Table) {
	last := make(map[string]float64, len(t.Columns))
	for _, r := range t.Rows {
		for _, c := range t.Columns {
			if v, ok := r.Values[c]; ok {
				last[c] = v
			} else if v, ok := last[c]; ok {
				r.Values[c] = v
			}
		}
	}
}

// derived describes one computed column and the columns it needs.
type derived struct {
	name   string
	inputs []string
	fn     func(v map[string]float64) (float64, bool)
}

var derivedColumns = []derived{
	{"Gold_Oil_Ratio", []string{GoldClose, "Oil_Close"}, func(v map[string]float64) (float64, bool) {
		if v["Oil_Close"] == 0 {
			return 0, false
		}
		return v[GoldClose] / v["Oil_Close"], true
	}},
	{"Gold_DXY_Inverse", []string{"DXY_Close"}, func(v map[string]float64) (float64, bool) {
		return -v["DXY_Close"], true
	}},
	{"Gold_Yield_Spread", []string{GoldClose, "TNX_Close"}, func(v map[string]float64) (float64, bool) {
		if v["TNX_Close"] == -1 {
			return 0, false
		}
		return v[GoldClose] / (v["TNX_Close"] + 1), true
	}},
	{"Oil_Volatility", []string{"Oil_High", "Oil_Low"}, func(v map[string]float64) (float64, bool) {
		return v["Oil_High"] - v["Oil_Low"], true
	}},
	{"CHF_Volatility", []string{"CHF_High", "CHF_Low"}, func(v map[string]float64) (float64, bool) {
		return v["CHF_High"] - v["CHF_Low"], true
	}},
}

// AddDerived appends ratio and volatility columns whose inputs are part of
// the table. A row missing an input, or dividing by zero, gets no value.
func AddDerived(t *Table) {
	for _, d := range derivedColumns {
		present := true
		for _, in := range d.inputs {
			if !t.HasColumn(in) {
				present = false
				break
			}
		}
		if !present {
			continue
		}

		t.Columns = append(t.Columns, d.name)
		for _, r := range t.Rows {
			complete := true
			for _, in := range d.inputs {
				if _, ok := r.Values[in]; !ok {
					complete = false
					break
				}
			}
			if !complete {
				continue
			}
			if v, ok := d.fn(r.Values); ok {
				r.Values[d.name] = v
			}
		}
	}
}

// WriteCSV writes the table with a leading Date column. Missing values are
// empty cells.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"Date"}, t.Columns...)); err != nil {
		return err
	}

	rec := make([]string, len(t.Columns)+1)
	for _, r := range t.Rows {
		rec[0] = r.Date.Format(DateLayout)
		for i, c := range t.Columns {
			if v, ok := r.Values[c]; ok {
				rec[i+1] = strconv.FormatFloat(v, 'f', -1, 64)
			} else {
				rec[i+1] = ""
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %s: %w", r.Date.Format(DateLayout), err)
		}
	}
	cw.Flush()
	return cw.Error()
}
