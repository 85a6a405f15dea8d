package model

import (
	"fmt"
	"strings"
	"time"
)

// Resolution is the bar period of a series.
type Resolution string

const (
	Minute Resolution = "MINUTE"
	Hour   Resolution = "HOUR"
	Day    Resolution = "DAY"
)

// ParseResolution accepts the canonical names and the short aliases used in
// file names and configs (1Min, 1h, 1D).
func ParseResolution(s string) (Resolution, error) {
	switch strings.TrimSpace(s) {
	case "MINUTE", "minute", "1Min", "1min", "1m", "1M":
		return Minute, nil
	case "HOUR", "hour", "1h", "1H":
		return Hour, nil
	case "DAY", "day", "1D", "1d":
		return Day, nil
	default:
		return "", fmt.Errorf("unknown resolution %q", s)
	}
}

// Step returns the duration of one bar.
func (r Resolution) Step() time.Duration {
	switch r {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Short returns the compact alias used in file names.
func (r Resolution) Short() string {
	switch r {
	case Minute:
		return "1min"
	case Hour:
		return "1h"
	case Day:
		return "1d"
	default:
		return strings.ToLower(string(r))
	}
}

// Intraday reports whether bars are shorter than a trading day.
func (r Resolution) Intraday() bool {
	return r == Minute || r == Hour
}

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	return r.Step() > 0
}
