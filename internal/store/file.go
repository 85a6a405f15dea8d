package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rickgao/barfeed/internal/model"
)

// FileStore keeps one file per key in a directory.
type FileStore struct {
	dir       string
	codec     Codec
	paths     map[model.Key]string
	logger    *slog.Logger
	now       func() time.Time
	onCorrupt func(*CorruptError)
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithPath pins the file used for key instead of the derived name.
func WithPath(key model.Key, path string) FileOption {
	return func(s *FileStore) {
		s.paths[key] = path
	}
}

// WithFileLogger sets the logger.
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// WithCorruptHandler registers a callback invoked for every quarantined file.
func WithCorruptHandler(fn func(*CorruptError)) FileOption {
	return func(s *FileStore) {
		s.onCorrupt = fn
	}
}

// WithFileClock sets the clock used to name quarantined files.
func WithFileClock(now func() time.Time) FileOption {
	return func(s *FileStore) {
		s.now = now
	}
}

// NewFileStore creates a FileStore rooted at dir. A nil codec means CSV.
func NewFileStore(dir string, codec Codec, opts ...FileOption) *FileStore {
	if codec == nil {
		codec = CSVCodec{}
	}
	s := &FileStore{
		dir:    dir,
		codec:  codec,
		paths:  make(map[model.Key]string),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the file backing key.
func (s *FileStore) Path(key model.Key) string {
	if p, ok := s.paths[key]; ok {
		return p
	}
	name := sanitize(key.Instrument) + "_" + key.Resolution.Short() + "." + s.codec.Extension()
	return filepath.Join(s.dir, name)
}

// Load implements SeriesStore.
func (s *FileStore) Load(ctx context.Context, key model.Key) (model.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(key)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.Series{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	series, err := s.codec.Decode(f)
	if err == nil {
		err = series.Check()
	}
	if err != nil {
		f.Close()
		s.quarantine(key, path, err)
		return model.Series{}, nil
	}
	return series, nil
}

// Watermark implements SeriesStore.
func (s *FileStore) Watermark(ctx context.Context, key model.Key) (time.Time, bool, error) {
	series, err := s.Load(ctx, key)
	if err != nil {
		return time.Time{}, false, err
	}
	wm, ok := series.Watermark()
	return wm, ok, nil
}

// Save implements SeriesStore.
func (s *FileStore) Save(ctx context.Context, key model.Key, series model.Series) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkSave(key, series); err != nil {
		return err
	}

	path := s.Path(key)
	if err := WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return s.codec.Encode(w, series)
	}); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// quarantine moves an undecodable file aside so the next save starts clean
// while the bad bytes stay available for inspection.
func (s *FileStore) quarantine(key model.Key, path string, cause error) {
	cerr := &CorruptError{Key: key, Path: path, Err: cause}

	dest := path + ".corrupt-" + s.now().UTC().Format("20060102T150405Z")
	if err := os.Rename(path, dest); err != nil {
		s.logger.Error("failed to quarantine corrupt series file",
			"key", key.String(),
			"path", path,
			"error", err,
		)
	} else {
		cerr.Quarantine = dest
	}

	s.logger.Error("corrupt series file, treating as empty",
		"key", key.String(),
		"path", path,
		"quarantine", cerr.Quarantine,
		"error", cause,
	)

	if s.onCorrupt != nil {
		s.onCorrupt(cerr)
	}
}

func sanitize(instrument string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, instrument)
}
