package config

import (
	"strings"
	"time"

	"github.com/rickgao/barfeed/internal/fetch"
)

// Default values for optional configuration fields.
const (
	DefaultInstanceID      = "barfeed"
	DefaultRestURL         = "https://api.ig.com/gateway/deal"
	DefaultDemoRestURL     = "https://demo-api.ig.com/gateway/deal"
	DefaultAPITimeout      = 30 * time.Second
	DefaultMaxRetries      = 3
	DefaultPageSize        = 1000
	DefaultLoginAttempts   = 5
	DefaultLoginBackoff    = 1 * time.Second
	DefaultLoginMaxBackoff = 30 * time.Second
	DefaultEpic            = "CS.D.USCGC.TODAY.IP"
	DefaultBackfillStart   = "2024-01-01"
	DefaultStorageBackend  = "file"
	DefaultStorageFormat   = "csv"
	DefaultStorageDir      = "data"
	DefaultPollInterval    = 5 * time.Minute
	DefaultPollConcurrency = 3
	DefaultPollTimeout     = 2 * time.Minute
	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultMaxConns        = 4
	DefaultMinConns        = 1
	DefaultMirrorRetries   = 3
	DefaultMetricsPort     = 9090
	DefaultMetricsPath     = "/metrics"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultEnrichOutput    = "enhanced_gold_data.csv"
	DefaultEnrichStart     = "2009-01-01"
)

// DefaultResolutions are polled when no series are configured.
var DefaultResolutions = []string{"MINUTE", "HOUR", "DAY"}

// DefaultIndicators are joined by the enrichment job when none are configured.
var DefaultIndicators = []string{"OIL", "CHF", "DXY", "TNX"}

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
		if strings.EqualFold(c.API.AccountType, "demo") {
			c.API.RestURL = DefaultDemoRestURL
		}
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.PageSize == 0 {
		c.API.PageSize = DefaultPageSize
	}

	// Auth defaults
	if c.Auth.MaxAttempts == 0 {
		c.Auth.MaxAttempts = DefaultLoginAttempts
	}
	if c.Auth.InitialBackoff == 0 {
		c.Auth.InitialBackoff = DefaultLoginBackoff
	}
	if c.Auth.MaxBackoff == 0 {
		c.Auth.MaxBackoff = DefaultLoginMaxBackoff
	}

	if c.Instrument.Epic == "" {
		c.Instrument.Epic = DefaultEpic
	}
	if c.Instrument.BackfillStart == "" {
		c.Instrument.BackfillStart = DefaultBackfillStart
	}
	if len(c.Series) == 0 {
		for _, r := range DefaultResolutions {
			c.Series = append(c.Series, SeriesConfig{Resolution: r})
		}
	}

	// Storage defaults
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultStorageBackend
	}
	if c.Storage.Format == "" {
		c.Storage.Format = DefaultStorageFormat
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = DefaultStorageDir
	}

	// Mapping defaults
	def := fetch.DefaultMapping()
	if c.Mapping.Prices == "" {
		c.Mapping.Prices = string(def.Prices)
	}
	if c.Mapping.Volume == "" {
		c.Mapping.Volume = string(def.Volume)
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	// Mirror defaults
	applyDBDefaults(&c.Mirror.Timescale)
	if c.Mirror.MaxRetries == 0 {
		c.Mirror.MaxRetries = DefaultMirrorRetries
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Enrich defaults
	if c.Enrich.Output == "" {
		c.Enrich.Output = DefaultEnrichOutput
	}
	if c.Enrich.Start == "" {
		c.Enrich.Start = DefaultEnrichStart
	}
	if len(c.Enrich.Indicators) == 0 {
		c.Enrich.Indicators = append([]string(nil), DefaultIndicators...)
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
