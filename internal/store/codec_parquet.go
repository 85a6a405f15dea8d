package store

import (
	"bytes"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/rickgao/barfeed/internal/model"
)

// parquetBar is the on-disk row; timestamps are Unix milliseconds.
type parquetBar struct {
	Timestamp int64   `parquet:"t"`
	Open      float64 `parquet:"o"`
	High      float64 `parquet:"h"`
	Low       float64 `parquet:"l"`
	Close     float64 `parquet:"c"`
	Volume    float64 `parquet:"v"`
}

// ParquetCodec stores a series as a single parquet file.
type ParquetCodec struct{}

func (ParquetCodec) Extension() string { return "parquet" }

func (ParquetCodec) Encode(w io.Writer, s model.Series) error {
	rows := make([]parquetBar, len(s))
	for i, b := range s {
		rows[i] = parquetBar{
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	return parquet.Write(w, rows)
}

func (ParquetCodec) Decode(r io.Reader) (model.Series, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return model.Series{}, nil
	}
	rows, err := parquet.Read[parquetBar](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	s := make(model.Series, len(rows))
	for i, r := range rows {
		s[i] = model.Bar{
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		}
	}
	return s, nil
}
