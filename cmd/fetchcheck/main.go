// Command fetchcheck logs in with the configured credentials, fetches the
// most recent bars of one resolution and prints them. Nothing is persisted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rickgao/barfeed/internal/api"
	"github.com/rickgao/barfeed/internal/app"
	"github.com/rickgao/barfeed/internal/config"
	"github.com/rickgao/barfeed/internal/fetch"
	"github.com/rickgao/barfeed/internal/logging"
	"github.com/rickgao/barfeed/internal/model"
	"github.com/rickgao/barfeed/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/ingestor.yaml", "path to config file")
	resolution := flag.String("resolution", "MINUTE", "resolution to fetch (MINUTE, HOUR, DAY)")
	count := flag.Int("bars", 10, "number of most recent bars to request")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	res, err := model.ParseResolution(*resolution)
	if err != nil {
		logger.Error("invalid resolution", "error", err)
		return 1
	}
	mapping, err := fetch.ParseMapping(cfg.Mapping.Prices, cfg.Mapping.Volume)
	if err != nil {
		logger.Error("invalid mapping", "error", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := app.NewClient(cfg, logger)
	sessions := app.NewSessions(cfg, client, logger)
	defer sessions.Close(context.Background())

	s, err := sessions.EnsureSession(ctx)
	if err != nil {
		logger.Error("login failed", "error", err)
		return 1
	}

	to := time.Now().UTC().Truncate(time.Second)
	q := api.PriceQuery{
		Epic:       cfg.Instrument.Epic,
		Resolution: string(res),
		From:       to.Add(-time.Duration(*count) * res.Step()),
		To:         to,
	}
	snaps, err := client.FetchPrices(ctx, s, q)
	if err != nil {
		logger.Error("fetch failed", "error", err, "kind", fetch.Kind(err))
		return 1
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Date\tOpen\tHigh\tLow\tClose\tVolume")
	var dropped int
	for _, snap := range snaps {
		b, err := mapping.Apply(snap)
		if err != nil {
			dropped++
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			b.Timestamp.Format(store.TimeLayout),
			num(b.Open), num(b.High), num(b.Low), num(b.Close), num(b.Volume))
	}
	tw.Flush()

	logger.Info("fetch check complete",
		"epic", q.Epic,
		"resolution", q.Resolution,
		"rows", len(snaps),
		"dropped", dropped,
	)
	return 0
}

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
