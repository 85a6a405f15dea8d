package model

import (
	"errors"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Identity
// -----------------------------------------------------------------------------

// Key identifies one persisted series.
type Key struct {
	Instrument string     // Provider instrument identifier (e.g., "CS.D.USCGC.TODAY.IP")
	Resolution Resolution // Bar period
}

func (k Key) String() string {
	return k.Instrument + "/" + string(k.Resolution)
}

// -----------------------------------------------------------------------------
// Bars
// -----------------------------------------------------------------------------

// Bar is one OHLCV observation for a fixed time bucket.
type Bar struct {
	Timestamp time.Time `json:"timestamp"` // Bucket start (UTC)
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate checks the per-bar invariants.
func (b Bar) Validate() error {
	if b.Timestamp.IsZero() {
		return errors.New("bar timestamp is zero")
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s: negative volume %v", b.Timestamp.Format(time.RFC3339), b.Volume)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Series
// -----------------------------------------------------------------------------

// Series is an ordered sequence of bars for one Key.
// Timestamps are unique and strictly increasing.
type Series []Bar

// OrderError reports the first position where a series breaks its ordering.
type OrderError struct {
	Index     int
	Previous  time.Time
	Timestamp time.Time
}

func (e *OrderError) Error() string {
	if e.Previous.Equal(e.Timestamp) {
		return fmt.Sprintf("duplicate timestamp %s at index %d", e.Timestamp.Format(time.RFC3339), e.Index)
	}
	return fmt.Sprintf("timestamp %s at index %d is before %s",
		e.Timestamp.Format(time.RFC3339), e.Index, e.Previous.Format(time.RFC3339))
}

// Check verifies strict ascending order and per-bar validity.
func (s Series) Check() error {
	for i, b := range s {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
		if i > 0 && !s[i-1].Timestamp.Before(b.Timestamp) {
			return &OrderError{Index: i, Previous: s[i-1].Timestamp, Timestamp: b.Timestamp}
		}
	}
	return nil
}

// Watermark returns the timestamp of the last bar.
func (s Series) Watermark() (time.Time, bool) {
	if len(s) == 0 {
		return time.Time{}, false
	}
	return s[len(s)-1].Timestamp, true
}

// Last returns the final bar.
func (s Series) Last() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[len(s)-1], true
}

// Clone returns an independent copy.
func (s Series) Clone() Series {
	if s == nil {
		return nil
	}
	out := make(Series, len(s))
	copy(out, s)
	return out
}

// Equal reports whether both series hold identical bars.
func (s Series) Equal(o Series) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !s[i].Timestamp.Equal(o[i].Timestamp) ||
			s[i].Open != o[i].Open ||
			s[i].High != o[i].High ||
			s[i].Low != o[i].Low ||
			s[i].Close != o[i].Close ||
			s[i].Volume != o[i].Volume {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Fetch window
// -----------------------------------------------------------------------------

// FetchWindow is the time range requested from the provider.
type FetchWindow struct {
	From time.Time
	To   time.Time
}

// Empty reports whether the window cannot contain a complete new bar of the
// given step.
func (w FetchWindow) Empty(step time.Duration) bool {
	return w.To.Sub(w.From) < step
}

func (w FetchWindow) String() string {
	return w.From.Format(time.RFC3339) + ".." + w.To.Format(time.RFC3339)
}
