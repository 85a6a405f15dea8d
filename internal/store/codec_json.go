package store

import (
	"encoding/json"
	"io"

	"github.com/rickgao/barfeed/internal/model"
)

// JSONCodec stores a series as an indented JSON array.
type JSONCodec struct{}

func (JSONCodec) Extension() string { return "json" }

func (JSONCodec) Encode(w io.Writer, s model.Series) error {
	if s == nil {
		s = model.Series{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func (JSONCodec) Decode(r io.Reader) (model.Series, error) {
	var s model.Series
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		if err == io.EOF {
			return model.Series{}, nil
		}
		return nil, err
	}
	for i := range s {
		s[i].Timestamp = s[i].Timestamp.UTC()
	}
	if s == nil {
		s = model.Series{}
	}
	return s, nil
}
