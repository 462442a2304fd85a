// meter_collector stores the live feed of a meter reader in SQLite.
// Depends on the meterreader API being online.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/NotCoffee418/obis_meter_reader/pkg/aggregator"
	"github.com/NotCoffee418/obis_meter_reader/pkg/collector"
	"github.com/NotCoffee418/obis_meter_reader/pkg/config"
	"github.com/NotCoffee418/obis_meter_reader/pkg/livefeed"
	"github.com/NotCoffee418/obis_meter_reader/pkg/logging"
	"github.com/NotCoffee418/obis_meter_reader/pkg/pathing"
	"github.com/NotCoffee418/obis_meter_reader/pkg/readingdb"
)

func main() {
	var (
		configPath string
		logLevel   string
		readerHost string
	)
	app := &cli.App{
		Name:  "meter_collector",
		Usage: "store the readings of a meterreader live feed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "collector configuration file",
				Destination: &configPath,
				Value:       pathing.GetCollectorConfigPath(),
			},
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "log level",
				Destination: &logLevel,
				Value:       "info",
			},
			&cli.StringFlag{
				Name:        "reader-host",
				Usage:       "overrides reader_host of the configuration",
				Destination: &readerHost,
				EnvVars:     []string{"METER_READER_HOST"},
			},
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, configPath, logLevel, readerHost)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(parent context.Context, configPath, logLevel, readerHost string) error {
	log, err := logging.New(os.Stderr, logLevel)
	if err != nil {
		return err
	}

	if configPath == pathing.GetCollectorConfigPath() {
		if err := pathing.EnsureDirs(); err != nil {
			return err
		}
	}
	cfg, err := config.LoadCollectorConfigFrom(configPath)
	if err != nil {
		return fmt.Errorf("failed to load collector config: %w", err)
	}
	config.ActiveCollectorConfig = cfg
	if readerHost != "" {
		cfg.ReaderHost = readerHost
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = pathing.GetReadingDbPath()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return err
	}

	store, err := readingdb.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go aggregator.Run(ctx, store, cfg.RetentionDays, log.With().Str("component", "aggregator").Logger())

	c := collector.New(store, log)
	feedURL := livefeed.FeedURL(cfg.ReaderHost, cfg.TLSEnabled)
	log.Info().Str("url", feedURL).Str("database", cfg.DatabasePath).Msg("starting meter collector")

	err = livefeed.Watch(ctx, feedURL, c.Handle, log.With().Str("component", "livefeed").Logger())
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("shutting down")
		return nil
	}
	return err
}
