package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/barfeed/internal/model"
)

// Codec serialises a series to one file format.
type Codec interface {
	Encode(w io.Writer, s model.Series) error
	Decode(r io.Reader) (model.Series, error)
	Extension() string
}

// NewCodec returns the codec for format (csv, json, parquet).
// Returns nil if the format is not supported.
func NewCodec(format string) Codec {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "csv":
		return CSVCodec{}
	case "json":
		return JSONCodec{}
	case "parquet":
		return ParquetCodec{}
	default:
		return nil
	}
}

// CSVHeader is the header row of persisted CSV files.
var CSVHeader = []string{"Date", "Open", "High", "Low", "Close", "Volume"}

// TimeLayout is the timestamp format written to CSV files.
const TimeLayout = "2006-01-02 15:04:05"

var readLayouts = []string{
	TimeLayout,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// CSVCodec reads and writes Date,Open,High,Low,Close,Volume files.
type CSVCodec struct{}

func (CSVCodec) Extension() string { return "csv" }

func (CSVCodec) Encode(w io.Writer, s model.Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, b := range s {
		if err := cw.Write([]string{
			b.Timestamp.UTC().Format(TimeLayout),
			floatStr(b.Open),
			floatStr(b.High),
			floatStr(b.Low),
			floatStr(b.Close),
			floatStr(b.Volume),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (CSVCodec) Decode(r io.Reader) (model.Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(CSVHeader)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return model.Series{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, name := range CSVHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), name) {
			return nil, fmt.Errorf("unexpected header column %d: %q, want %q", i, header[i], name)
		}
	}

	s := model.Series{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		s = append(s, b)
	}
	return s, nil
}

func parseRecord(rec []string) (model.Bar, error) {
	ts, err := ParseTime(rec[0])
	if err != nil {
		return model.Bar{}, err
	}
	var vals [5]float64
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("column %s: %w", CSVHeader[i+1], err)
		}
		vals[i] = v
	}
	return model.Bar{
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// ParseTime parses a naive timestamp as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range readLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func floatStr(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
