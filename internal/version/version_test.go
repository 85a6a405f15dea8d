package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	defer func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	}()

	Version = "0.4.0"
	Commit = "9f1c2ab"
	BuildTime = "2024-05-01T12:00:00Z"

	want := "0.4.0 (9f1c2ab) built 2024-05-01T12:00:00Z"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestDefaultValues(t *testing.T) {
	// ldflags may override these in release builds
	if Version == "" || Commit == "" || BuildTime == "" {
		t.Errorf("build variables must not be empty: %q", String())
	}
	if !strings.Contains(String(), " built ") {
		t.Errorf("String() = %q, should contain ' built '", String())
	}
}
