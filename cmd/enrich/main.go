// Command enrich writes the daily gold series joined with macro indicators
// (oil, Swiss franc, dollar index, 10-year yield) and derived features.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rickgao/barfeed/internal/app"
	"github.com/rickgao/barfeed/internal/config"
	"github.com/rickgao/barfeed/internal/enrich"
	"github.com/rickgao/barfeed/internal/logging"
	"github.com/rickgao/barfeed/internal/model"
	"github.com/rickgao/barfeed/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/ingestor.yaml", "path to config file")
	output := flag.String("output", "", "output CSV (overrides enrich.output)")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	if *output != "" {
		cfg.Enrich.Output = *output
	}
	start, err := cfg.EnrichStart()
	if err != nil {
		logger.Error("invalid enrich.start", "error", err)
		return 1
	}
	indicators, err := enrich.LookupIndicators(cfg.Enrich.Indicators)
	if err != nil {
		logger.Error("invalid enrich.indicators", "error", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var base store.SeriesStore
	if cfg.Enrich.Input != "" {
		codec := store.NewCodec(strings.TrimPrefix(filepath.Ext(cfg.Enrich.Input), "."))
		if codec == nil {
			codec = store.CSVCodec{}
		}
		key := model.Key{Instrument: cfg.Instrument.Epic, Resolution: model.Day}
		base = store.NewFileStore("", codec, store.WithFileLogger(logger), store.WithPath(key, cfg.Enrich.Input))
	} else {
		st, err := app.OpenStore(ctx, cfg, logger, nil)
		if err != nil {
			logger.Error("failed to open store", "error", err)
			return 1
		}
		defer st.Close()
		base = st
	}

	job := enrich.NewJob(enrich.Config{
		BaseKey:    model.Key{Instrument: cfg.Instrument.Epic, Resolution: model.Day},
		Output:     cfg.Enrich.Output,
		Start:      start,
		Indicators: indicators,
		Sentiment:  cfg.Enrich.Sentiment,
	}, base, enrich.NewYahooSource(cfg.Enrich.ChartURL, enrich.WithYahooLogger(logger)), logger)

	if _, err := job.Run(ctx); err != nil {
		logger.Error("enrichment failed", "error", err)
		return 1
	}
	return 0
}
