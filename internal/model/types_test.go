package model

import (
	"errors"
	"testing"
	"time"
)

func ts(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in      string
		want    Resolution
		wantErr bool
	}{
		{"MINUTE", Minute, false},
		{"1Min", Minute, false},
		{"1h", Hour, false},
		{"HOUR", Hour, false},
		{"1D", Day, false},
		{"day", Day, false},
		{"5Min", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseResolution(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseResolution(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseResolution(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolutionStep(t *testing.T) {
	if got := Minute.Step(); got != time.Minute {
		t.Errorf("Minute.Step() = %v, want 1m", got)
	}
	if got := Day.Step(); got != 24*time.Hour {
		t.Errorf("Day.Step() = %v, want 24h", got)
	}
	if Resolution("WEEK").Valid() {
		t.Error("WEEK should not be valid")
	}
	if Day.Intraday() {
		t.Error("Day should not be intraday")
	}
}

func TestKeyString(t *testing.T) {
	k := Key{Instrument: "CS.D.USCGC.TODAY.IP", Resolution: Hour}
	if got := k.String(); got != "CS.D.USCGC.TODAY.IP/HOUR" {
		t.Errorf("String() = %q", got)
	}
}

func TestSeriesCheck(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if err := Series(nil).Check(); err != nil {
			t.Errorf("Check() = %v, want nil", err)
		}
	})

	t.Run("ordered", func(t *testing.T) {
		s := Series{{Timestamp: ts("2024-01-01 10:00")}, {Timestamp: ts("2024-01-01 10:01")}}
		if err := s.Check(); err != nil {
			t.Errorf("Check() = %v, want nil", err)
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		s := Series{{Timestamp: ts("2024-01-01 10:00")}, {Timestamp: ts("2024-01-01 10:00")}}
		var oe *OrderError
		if err := s.Check(); !errors.As(err, &oe) {
			t.Fatalf("Check() = %v, want OrderError", err)
		}
		if oe.Index != 1 {
			t.Errorf("Index = %d, want 1", oe.Index)
		}
	})

	t.Run("descending", func(t *testing.T) {
		s := Series{{Timestamp: ts("2024-01-01 10:05")}, {Timestamp: ts("2024-01-01 10:00")}}
		if err := s.Check(); err == nil {
			t.Error("Check() = nil, want error")
		}
	})

	t.Run("negative volume", func(t *testing.T) {
		s := Series{{Timestamp: ts("2024-01-01 10:00"), Volume: -1}}
		if err := s.Check(); err == nil {
			t.Error("Check() = nil, want error")
		}
	})
}

func TestSeriesWatermark(t *testing.T) {
	if _, ok := Series(nil).Watermark(); ok {
		t.Error("empty series should have no watermark")
	}

	s := Series{{Timestamp: ts("2024-01-01 10:00")}, {Timestamp: ts("2024-01-01 10:01"), Close: 2}}
	wm, ok := s.Watermark()
	if !ok || !wm.Equal(ts("2024-01-01 10:01")) {
		t.Errorf("Watermark() = %v, %v", wm, ok)
	}
	last, _ := s.Last()
	if last.Close != 2 {
		t.Errorf("Last().Close = %v, want 2", last.Close)
	}
}

func TestSeriesCloneEqual(t *testing.T) {
	s := Series{{Timestamp: ts("2024-01-01 10:00"), Close: 1}}
	c := s.Clone()
	if !s.Equal(c) {
		t.Fatal("clone should equal original")
	}
	c[0].Close = 5
	if s[0].Close != 1 {
		t.Error("mutating clone changed original")
	}
	if s.Equal(c) {
		t.Error("Equal() = true after mutation")
	}
}

func TestFetchWindowEmpty(t *testing.T) {
	from := ts("2024-01-01 10:00")
	tests := []struct {
		name string
		to   time.Time
		step time.Duration
		want bool
	}{
		{"same instant", from, time.Minute, true},
		{"less than a step", from.Add(30 * time.Second), time.Minute, true},
		{"exactly one step", from.Add(time.Minute), time.Minute, false},
		{"hour window for day", from.Add(time.Hour), 24 * time.Hour, true},
		{"reversed", from.Add(-time.Hour), time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := FetchWindow{From: from, To: tt.to}
			if got := w.Empty(tt.step); got != tt.want {
				t.Errorf("Empty() = %v, want %v", got, tt.want)
			}
		})
	}
}
