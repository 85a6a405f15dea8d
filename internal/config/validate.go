package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/rickgao/barfeed/internal/fetch"
	"github.com/rickgao/barfeed/internal/logging"
	"github.com/rickgao/barfeed/internal/model"
	"github.com/rickgao/barfeed/internal/store"
)

// Validate checks that all required fields are set and values are valid.
// Missing login credentials are not rejected here; the session manager
// reports them as an authentication failure.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if u, err := url.Parse(c.API.RestURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.rest_url %q is not an absolute URL", c.API.RestURL)
	}
	if c.API.APIKey == "" {
		return errors.New("api.api_key is required (or set IG_API_KEY)")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}
	if c.API.PageSize < 1 {
		return errors.New("api.page_size must be >= 1")
	}

	if c.Auth.MaxAttempts < 1 {
		return errors.New("auth.max_attempts must be >= 1")
	}

	if c.Instrument.Epic == "" {
		return errors.New("instrument.epic is required")
	}
	if _, err := c.BackfillTime(); err != nil {
		return fmt.Errorf("instrument.backfill_start: %w", err)
	}

	if len(c.Series) == 0 {
		return errors.New("series must list at least one resolution")
	}
	resolutions := make(map[model.Resolution]bool, len(c.Series))
	paths := make(map[string]bool, len(c.Series))
	for i, s := range c.Series {
		res, err := model.ParseResolution(s.Resolution)
		if err != nil {
			return fmt.Errorf("series[%d].resolution: %w", i, err)
		}
		if resolutions[res] {
			return fmt.Errorf("series[%d].resolution %s is listed twice", i, res)
		}
		resolutions[res] = true
		if s.Path != "" {
			if paths[s.Path] {
				return fmt.Errorf("series[%d].path %q is shared with another series", i, s.Path)
			}
			paths[s.Path] = true
		}
	}

	switch c.Storage.Backend {
	case "file":
		if store.NewCodec(c.Storage.Format) == nil {
			return fmt.Errorf("storage.format must be csv, json or parquet, got %q", c.Storage.Format)
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend must be file or sqlite, got %q", c.Storage.Backend)
	}

	if _, err := fetch.ParseMapping(c.Mapping.Prices, c.Mapping.Volume); err != nil {
		return fmt.Errorf("mapping: %w", err)
	}

	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be > 0")
	}
	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}
	if c.Poller.Timeout < 0 {
		return errors.New("poller.timeout must be >= 0")
	}

	if c.Mirror.Enabled {
		if err := c.Mirror.Timescale.validate("mirror.timescale"); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if f := c.Logging.Format; f != "text" && f != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", f)
	}
	if !logging.KnownLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
