package enrich

import (
	"fmt"
	"strings"
)

// Indicator is a macro series joined onto the gold dates.
type Indicator struct {
	Name   string // Configuration name
	Symbol string // Yahoo Finance ticker
	Prefix string // Column prefix in the output table
	Volume bool   // Whether a <Prefix>_Volume column is emitted
}

// Columns returns the output columns the indicator contributes.
func (i Indicator) Columns() []string {
	cols := []string{i.Prefix + "_Open", i.Prefix + "_High", i.Prefix + "_Low", i.Prefix + "_Close"}
	if i.Volume {
		cols = append(cols, i.Prefix+"_Volume")
	}
	return cols
}

var known = map[string]Indicator{
	"OIL": {Name: "OIL", Symbol: "CL=F", Prefix: "Oil", Volume: true},
	"CHF": {Name: "CHF", Symbol: "CHF=X", Prefix: "CHF"},
	"DXY": {Name: "DXY", Symbol: "DX-Y.NYB", Prefix: "DXY"},
	"TNX": {Name: "TNX", Symbol: "^TNX", Prefix: "TNX"},
}

// LookupIndicators resolves configured names, case-insensitively, in order.
func LookupIndicators(names []string) ([]Indicator, error) {
	out := make([]Indicator, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		key := strings.ToUpper(strings.TrimSpace(n))
		ind, ok := known[key]
		if !ok {
			return nil, fmt.Errorf("unknown indicator %q", n)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ind)
	}
	return out, nil
}
