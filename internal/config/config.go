package config

import (
	"errors"
	"time"

	"github.com/rickgao/barfeed/internal/model"
	"github.com/rickgao/barfeed/internal/store"
)

// Config is the root configuration for an ingestor instance.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	API        APIConfig        `yaml:"api"`
	Auth       AuthConfig       `yaml:"auth"`
	Instrument InstrumentConfig `yaml:"instrument"`
	Series     []SeriesConfig   `yaml:"series"`
	Storage    StorageConfig    `yaml:"storage"`
	Mapping    MappingConfig    `yaml:"mapping"`
	Poller     PollerConfig     `yaml:"poller"`
	Calendar   CalendarConfig   `yaml:"calendar"`
	Mirror     MirrorConfig     `yaml:"mirror"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
	Enrich     EnrichConfig     `yaml:"enrich"`
}

// InstanceConfig identifies this ingestor.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds IG REST API settings.
type APIConfig struct {
	RestURL     string        `yaml:"rest_url"`
	APIKey      string        `yaml:"api_key"`      // X-IG-API-KEY header
	Identifier  string        `yaml:"identifier"`   // Login username
	Password    string        `yaml:"password"`
	AccountType string        `yaml:"account_type"` // demo or live, selects the default rest_url
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	PageSize    int           `yaml:"page_size"`
}

// AuthConfig holds login retry settings.
type AuthConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// InstrumentConfig names the instrument every series belongs to.
type InstrumentConfig struct {
	Epic          string `yaml:"epic"`
	BackfillStart string `yaml:"backfill_start"` // First timestamp requested for an empty series
}

// SeriesConfig is one resolution to keep up to date.
type SeriesConfig struct {
	Resolution string `yaml:"resolution"`
	Path       string `yaml:"path"` // Explicit file path; derived from storage.dir when empty
}

// StorageConfig selects where series are persisted.
type StorageConfig struct {
	Backend    string `yaml:"backend"` // file or sqlite
	Format     string `yaml:"format"`  // csv, json or parquet (file backend)
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// MappingConfig selects which provider fields become bar values.
type MappingConfig struct {
	Prices string `yaml:"prices"` // bid, ask or last
	Volume string `yaml:"volume"` // lastTradedVolume or none
}

// PollerConfig holds poll loop settings.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"` // Per-target step deadline
}

// CalendarConfig holds the optional trading-calendar gate.
type CalendarConfig struct {
	MIC string `yaml:"mic"` // Market identifier code; empty disables the gate
}

// MirrorConfig holds the optional TimescaleDB mirror.
type MirrorConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Timescale  DBConfig `yaml:"timescale"`
	MaxRetries int      `yaml:"max_retries"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus and health endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// EnrichConfig holds the enrichment job settings.
type EnrichConfig struct {
	Input      string   `yaml:"input"` // Daily series file; defaults to the configured day series
	Output     string   `yaml:"output"`
	Start      string   `yaml:"start"`
	Indicators []string `yaml:"indicators"`
	Sentiment  bool     `yaml:"sentiment"`
	ChartURL   string   `yaml:"chart_url"`
}

// Keys returns the series keys in configuration order.
func (c *Config) Keys() ([]model.Key, error) {
	keys := make([]model.Key, 0, len(c.Series))
	for _, s := range c.Series {
		res, err := model.ParseResolution(s.Resolution)
		if err != nil {
			return nil, err
		}
		keys = append(keys, model.Key{Instrument: c.Instrument.Epic, Resolution: res})
	}
	return keys, nil
}

// BackfillTime parses instrument.backfill_start.
func (c *Config) BackfillTime() (time.Time, error) {
	if c.Instrument.BackfillStart == "" {
		return time.Time{}, errors.New("backfill start is required")
	}
	return store.ParseTime(c.Instrument.BackfillStart)
}

// EnrichStart parses enrich.start.
func (c *Config) EnrichStart() (time.Time, error) {
	return store.ParseTime(c.Enrich.Start)
}
