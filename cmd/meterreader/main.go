// meterreader reads the configured meters and serves their readings over
// HTTP, a websocket live feed and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/NotCoffee418/obis_meter_reader/pkg/api"
	"github.com/NotCoffee418/obis_meter_reader/pkg/config"
	"github.com/NotCoffee418/obis_meter_reader/pkg/livefeed"
	"github.com/NotCoffee418/obis_meter_reader/pkg/logging"
	"github.com/NotCoffee418/obis_meter_reader/pkg/meter"
	"github.com/NotCoffee418/obis_meter_reader/pkg/metrics"
	"github.com/NotCoffee418/obis_meter_reader/pkg/pathing"
	"github.com/NotCoffee418/obis_meter_reader/pkg/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		configPath string
		logLevel   string
	)
	app := &cli.App{
		Name:  "meterreader",
		Usage: "read IEC 62056-21 and SML meters over local or RFC 2217 serial ports",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "reader configuration file",
				Destination: &configPath,
				Value:       pathing.GetReaderConfigPath(),
			},
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "overrides log_level of the configuration",
				Destination: &logLevel,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "read the configured devices and serve the API",
				Action: func(c *cli.Context) error {
					return serve(c.Context, configPath, logLevel)
				},
			},
			{
				Name:  "ports",
				Usage: "list local serial ports",
				Action: func(c *cli.Context) error {
					return listPorts(c.App.Writer)
				},
			},
			{
				Name:      "signature",
				Usage:     "print the signature of an RFC 2217 server",
				ArgsUsage: "rfc2217://host:port",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "how long to wait for the answer",
						Value: 5 * time.Second,
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("expected one port uri", 2)
					}
					log, err := logging.New(c.App.ErrWriter, logLevel)
					if err != nil {
						return err
					}
					sig, err := remoteSignature(c.Context, c.Args().First(), c.Duration("timeout"), log)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, sig)
					return nil
				},
			},
			{
				Name:      "decode",
				Usage:     "decode a captured SML file or IEC 62056-21 telegram",
				ArgsUsage: "<capture file>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "hex",
						Usage: "the capture is a hex dump",
					},
					&cli.StringFlag{
						Name:  "conformity",
						Usage: "conformity policy applied to the values",
						Value: "none",
					},
					&cli.StringSliceFlag{
						Name:  "negate",
						Usage: "negation spec <obis>:<bit>:<0|1>[:status], repeatable",
					},
					&cli.BoolFlag{
						Name:  "trace",
						Usage: "print the SML message trace",
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("expected one capture file", 2)
					}
					b, err := os.ReadFile(c.Args().First())
					if err != nil {
						return err
					}
					return decodeCapture(c.App.Writer, b, decodeOptions{
						hex:        c.Bool("hex"),
						conformity: c.String("conformity"),
						negate:     c.StringSlice("negate"),
						trace:      c.Bool("trace"),
					})
				},
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(parent context.Context, configPath, logLevel string) error {
	if configPath == pathing.GetReaderConfigPath() {
		if err := pathing.EnsureDirs(); err != nil {
			return err
		}
	}
	cfg, err := config.LoadReaderConfigFrom(configPath)
	if err != nil {
		return fmt.Errorf("failed to load reader config: %w", err)
	}
	config.ActiveReaderConfig = cfg

	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	log, err := logging.New(os.Stderr, logLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(reg)

	var manager *meter.Manager
	hub := livefeed.NewHub(func() []*livefeed.Message {
		return livefeed.SnapshotOf(manager.Devices())
	}, log.With().Str("component", "livefeed").Logger())
	manager = meter.NewManager(meter.Listeners{hub, recorder}, transport.NewResolver(log), log)

	for _, d := range cfg.Devices {
		if _, err := manager.Add(ctx, d.MeterConfig()); err != nil {
			// the device stays listed with its configuration error
			log.Error().Err(err).Str("device", d.ID).Msg("device not started")
		}
	}

	addr := net.JoinHostPort(cfg.ListenAddress, strconv.Itoa(cfg.ListenPort))
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(manager, hub, recorder.Handler(), log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Int("devices", len(cfg.Devices)).Msg("starting OBIS meter reader API")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		stop()
		manager.Close()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	manager.Close()
	return nil
}

func listPorts(w io.Writer) error {
	ports := transport.ListPorts()
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		if !p.IsUSB {
			fmt.Fprintln(w, p.Name)
			continue
		}
		fmt.Fprintf(w, "%s\tUSB %s:%s", p.Name, p.VID, p.PID)
		if p.SerialNumber != "" {
			fmt.Fprintf(w, " serial=%s", p.SerialNumber)
		}
		if p.Product != "" {
			fmt.Fprintf(w, " %s", p.Product)
		}
		fmt.Fprintln(w)
	}
	return nil
}
