package dedup

import (
	"fmt"
	"slices"

	"github.com/rickgao/barfeed/internal/model"
)

// InvariantViolation is raised (via panic) when merge output is not a valid
// series. It indicates a bug, never bad input.
type InvariantViolation struct {
	Err error
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("merge invariant violated: %v", e.Err)
}

func (e *InvariantViolation) Unwrap() error { return e.Err }

// Stats describes what a merge changed.
type Stats struct {
	Added     int // New timestamps
	Replaced  int // Existing timestamps whose bar changed
	Unchanged int // Existing timestamps re-delivered with identical values
}

// Changed reports whether the merge altered the series.
func (s Stats) Changed() bool {
	return s.Added > 0 || s.Replaced > 0
}

// Merge returns existing with incoming folded in. Neither argument is modified.
func Merge(existing model.Series, incoming []model.Bar) model.Series {
	merged, _, _ := MergeWithStats(existing, incoming)
	return merged
}

// MergeWithStats is Merge plus a summary and the bars that were added or
// replaced, in timestamp order.
func MergeWithStats(existing model.Series, incoming []model.Bar) (model.Series, Stats, []model.Bar) {
	var stats Stats
	if len(incoming) == 0 {
		out := existing.Clone()
		if out == nil {
			out = model.Series{}
		}
		verify(out)
		return out, stats, nil
	}

	batch := uniqueFirst(incoming)

	index := make(map[int64]int, len(existing))
	for i, b := range existing {
		index[b.Timestamp.UnixNano()] = i
	}

	out := make(model.Series, 0, len(existing)+len(batch))
	out = append(out, existing...)

	var changed []model.Bar
	for _, b := range batch {
		if i, ok := index[b.Timestamp.UnixNano()]; ok {
			if sameBar(out[i], b) {
				stats.Unchanged++
				continue
			}
			out[i] = b
			stats.Replaced++
			changed = append(changed, b)
			continue
		}
		out = append(out, b)
		stats.Added++
		changed = append(changed, b)
	}

	slices.SortStableFunc(out, compareBars)
	slices.SortFunc(changed, compareBars)

	verify(out)
	return out, stats, changed
}

// uniqueFirst normalises timestamps to UTC and drops later duplicates.
func uniqueFirst(bars []model.Bar) []model.Bar {
	seen := make(map[int64]struct{}, len(bars))
	out := make([]model.Bar, 0, len(bars))
	for _, b := range bars {
		b.Timestamp = b.Timestamp.UTC()
		k := b.Timestamp.UnixNano()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, b)
	}
	return out
}

func sameBar(a, b model.Bar) bool {
	return a.Timestamp.Equal(b.Timestamp) &&
		a.Open == b.Open && a.High == b.High && a.Low == b.Low &&
		a.Close == b.Close && a.Volume == b.Volume
}

func compareBars(a, b model.Bar) int {
	return a.Timestamp.Compare(b.Timestamp)
}

// verify checks ordering only; bar contents are validated by the producer.
func verify(s model.Series) {
	for i := 1; i < len(s); i++ {
		if !s[i-1].Timestamp.Before(s[i].Timestamp) {
			panic(&InvariantViolation{Err: &model.OrderError{
				Index:     i,
				Previous:  s[i-1].Timestamp,
				Timestamp: s[i].Timestamp,
			}})
		}
	}
}
