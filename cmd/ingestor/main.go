package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/barfeed/internal/app"
	"github.com/rickgao/barfeed/internal/auth"
	"github.com/rickgao/barfeed/internal/config"
	"github.com/rickgao/barfeed/internal/database"
	"github.com/rickgao/barfeed/internal/fetch"
	"github.com/rickgao/barfeed/internal/logging"
	"github.com/rickgao/barfeed/internal/metrics"
	"github.com/rickgao/barfeed/internal/poller"
	"github.com/rickgao/barfeed/internal/schedule"
	"github.com/rickgao/barfeed/internal/store"
	"github.com/rickgao/barfeed/internal/version"
	"github.com/rickgao/barfeed/internal/writer"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/ingestor.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single cycle and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return 0
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		return 1
	}

	// Set up structured logging
	logger := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format).With("instance_id", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting ingestor",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"epic", cfg.Instrument.Epic,
		"api_url", cfg.API.RestURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	m := metrics.New()

	st, err := app.OpenStore(ctx, cfg, logger, func(e *store.CorruptError) {
		m.Corrupt(e.Key.String())
	})
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return 1
	}
	defer st.Close()

	keys, err := cfg.Keys()
	if err != nil {
		logger.Error("invalid series", "error", err)
		return 1
	}
	backfill, err := cfg.BackfillTime()
	if err != nil {
		logger.Error("invalid backfill start", "error", err)
		return 1
	}
	mapping, err := fetch.ParseMapping(cfg.Mapping.Prices, cfg.Mapping.Volume)
	if err != nil {
		logger.Error("invalid mapping", "error", err)
		return 1
	}

	// Create API client and session manager
	client := app.NewClient(cfg, logger)
	sessions := app.NewSessions(cfg, client, logger)
	defer func() {
		logoutCtx, logoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer logoutCancel()
		sessions.Close(logoutCtx)
	}()

	fetcher := fetch.New(fetch.Config{BackfillStart: backfill, Mapping: mapping}, client, sessions, st, logger)

	opts := []poller.Option{
		poller.WithMetrics(m),
		poller.WithGate(schedule.NewGate(cfg.Calendar.MIC, logger)),
	}
	if *once {
		opts = append(opts, poller.WithMaxCycles(1))
	}

	// Connect the optional database mirror
	var pool *pgxpool.Pool
	if cfg.Mirror.Enabled {
		ts := cfg.Mirror.Timescale
		logger.Info("connecting to mirror database",
			"host", ts.Host,
			"port", ts.Port,
			"database", ts.Name,
		)
		pool, err = database.Connect(ctx, ts, cfg.Instance.ID)
		if err != nil {
			logger.Error("failed to connect to mirror database", "error", err)
			return 1
		}
		defer pool.Close()

		wcfg := writer.DefaultConfig()
		wcfg.MaxRetries = cfg.Mirror.MaxRetries
		bw := writer.NewBarWriter(wcfg, pool, logger)
		if err := bw.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare mirror schema", "error", err)
			return 1
		}
		opts = append(opts, poller.WithSink(bw))
		logger.Info("mirror database connected")
	}

	p := poller.New(poller.Config{
		Interval:    cfg.Poller.Interval,
		Concurrency: cfg.Poller.Concurrency,
		Timeout:     cfg.Poller.Timeout,
	}, keys, fetcher, st, logger, opts...)

	// Start health server
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createHealthHandler(cfg, p, sessions, pool, m),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		healthServer.Shutdown(shutdownCtx)
	}()

	logger.Info("ingestor running",
		"keys", len(keys),
		"interval", cfg.Poller.Interval,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	err = p.Run(ctx)
	var af *auth.AuthFailure
	if errors.As(err, &af) {
		logger.Error("ingestor stopped: authentication failed", "reason", af.Reason, "error", af.Err)
		return 1
	}
	if err != nil {
		logger.Error("ingestor stopped", "error", err)
		return 1
	}

	logger.Info("ingestor stopped")
	return 0
}

// createHealthHandler creates the HTTP handler for health checks and metrics.
func createHealthHandler(cfg *config.Config, p *poller.Poller, sessions *auth.Manager, pool *pgxpool.Pool, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := p.Status()
		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		state := sessions.State()
		health.Components["session"] = state.String()
		if state == auth.Failed {
			health.Status = "unhealthy"
		}

		health.Components["poller"] = status
		if !status.Healthy() && health.Status == "healthy" {
			health.Status = "degraded"
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				if health.Status == "healthy" {
					health.Status = "degraded"
				}
				health.Components["mirror"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["mirror"] = "connected"
			}
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.Handle(cfg.Metrics.Path, m.Handler())

	return mux
}
