// Package app builds the components shared by the commands from a loaded
// configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickgao/barfeed/internal/api"
	"github.com/rickgao/barfeed/internal/auth"
	"github.com/rickgao/barfeed/internal/config"
	"github.com/rickgao/barfeed/internal/model"
	"github.com/rickgao/barfeed/internal/store"
)

// OpenedStore is a series store plus its release function.
type OpenedStore struct {
	store.SeriesStore
	Close func() error
}

// OpenStore opens the configured backend. onCorrupt is called for every
// quarantined file of the file backend and may be nil.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, onCorrupt func(*store.CorruptError)) (*OpenedStore, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		s, err := store.OpenSQLite(ctx, cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return &OpenedStore{SeriesStore: s, Close: s.Close}, nil

	case "file":
		codec := store.NewCodec(cfg.Storage.Format)
		if codec == nil {
			return nil, fmt.Errorf("unsupported storage format %q", cfg.Storage.Format)
		}
		opts := []store.FileOption{store.WithFileLogger(logger)}
		if onCorrupt != nil {
			opts = append(opts, store.WithCorruptHandler(onCorrupt))
		}
		for _, s := range cfg.Series {
			if s.Path == "" {
				continue
			}
			res, err := model.ParseResolution(s.Resolution)
			if err != nil {
				return nil, err
			}
			opts = append(opts, store.WithPath(model.Key{Instrument: cfg.Instrument.Epic, Resolution: res}, s.Path))
		}
		return &OpenedStore{
			SeriesStore: store.NewFileStore(cfg.Storage.Dir, codec, opts...),
			Close:       func() error { return nil },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

// NewClient creates the IG REST client.
func NewClient(cfg *config.Config, logger *slog.Logger) *api.Client {
	return api.NewClient(
		cfg.API.RestURL,
		cfg.API.APIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, config.DefaultLoginBackoff),
		api.WithPageSize(cfg.API.PageSize),
	)
}

// NewSessions creates the session manager for client.
func NewSessions(cfg *config.Config, client *api.Client, logger *slog.Logger) *auth.Manager {
	return auth.NewManager(
		auth.Config{
			MaxAttempts:    cfg.Auth.MaxAttempts,
			InitialBackoff: cfg.Auth.InitialBackoff,
			MaxBackoff:     cfg.Auth.MaxBackoff,
		},
		client,
		auth.Credentials{Identifier: cfg.API.Identifier, Password: cfg.API.Password},
		logger,
	)
}
