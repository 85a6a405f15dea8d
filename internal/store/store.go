package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rickgao/barfeed/internal/model"
)

// SeriesStore loads and atomically replaces persisted series.
type SeriesStore interface {
	// Load returns the persisted series, or an empty series if none exists.
	Load(ctx context.Context, key model.Key) (model.Series, error)

	// Watermark returns the timestamp of the last persisted bar.
	Watermark(ctx context.Context, key model.Key) (time.Time, bool, error)

	// Save atomically replaces the persisted series.
	Save(ctx context.Context, key model.Key, s model.Series) error
}

// ErrInvalidSeries is returned by Save for a series that breaks ordering or
// bar invariants.
var ErrInvalidSeries = errors.New("invalid series")

// CorruptError describes persisted state that could not be decoded.
type CorruptError struct {
	Key        model.Key
	Path       string
	Quarantine string // Where the bad file was moved, if it was
	Err        error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt series %s at %s: %v", e.Key, e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

func checkSave(key model.Key, s model.Series) error {
	if err := s.Check(); err != nil {
		return fmt.Errorf("%w for %s: %w", ErrInvalidSeries, key, err)
	}
	return nil
}

// Locks hands out one mutex per key. The zero value is ready to use.
type Locks struct {
	mu    sync.Mutex
	locks map[model.Key]*sync.Mutex
}

// Lock acquires the mutex for key and returns its release function.
func (l *Locks) Lock(key model.Key) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[model.Key]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
