// Package schedule decides whether a target is worth polling right now,
// based on the trading calendar of the instrument's venue.
package schedule

import (
	"log/slog"
	"strings"
	"time"

	"github.com/scmhub/calendar"

	"github.com/rickgao/barfeed/internal/model"
)

// Gate answers "is the market open" for intraday targets.
// A nil Gate or an empty MIC is always open.
type Gate struct {
	mic string
	cal *calendar.Calendar
	loc *time.Location
}

// NewGate loads the calendar for an ISO 10383 MIC (e.g. "xnys").
// Unknown MICs fall back to a Monday-Friday rule.
func NewGate(mic string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	mic = strings.ToLower(strings.TrimSpace(mic))
	if mic == "" {
		return &Gate{}
	}

	cal := calendar.GetCalendar(mic)
	if cal == nil {
		logger.Warn("unknown trading calendar, using weekday fallback", "mic", mic)
		return &Gate{mic: mic, loc: time.UTC}
	}
	return &Gate{mic: mic, cal: cal, loc: cal.Loc}
}

// MIC returns the configured venue code.
func (g *Gate) MIC() string {
	if g == nil {
		return ""
	}
	return g.mic
}

// Open reports whether key should be polled at t. Daily targets are always
// polled. Intraday targets are polled while the market is open and for one
// more step after it closes, so the closing bar is finalised.
func (g *Gate) Open(key model.Key, t time.Time) bool {
	if g == nil || g.mic == "" || !key.Resolution.Intraday() {
		return true
	}
	return g.openAt(t) || g.openAt(t.Add(-key.Resolution.Step()))
}

func (g *Gate) openAt(t time.Time) bool {
	if g.loc != nil {
		t = t.In(g.loc)
	}
	if g.cal == nil {
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return g.cal.IsOpen(t)
}
