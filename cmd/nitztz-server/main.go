// Package main implements the nitztz server: one state machine per radio
// slot, fed over HTTP, delivering suggestions to the time detection authority.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/config"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/device"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/metrics"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitztz"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/server"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/sink"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/tzlookup"
)

var (
	configPath = flag.String("config", "", "YAML config file (or set "+config.EnvConfig+")")
	listen     = flag.String("listen", "", "Listen address, overrides the config (or set "+config.EnvListen+")")
	sinkURL    = flag.String("sink-url", "", "Time detection authority base URL (or set "+config.EnvSinkURL+")")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	version    = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("nitzTZ Server v1.0.0")
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	path := *configPath
	if path == "" {
		path = os.Getenv(config.EnvConfig)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	cfg.ApplyEnv(os.Getenv)
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *sinkURL != "" {
		cfg.Sink.URL = *sinkURL
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLookup(cfg config.Config, logger *slog.Logger) (*tzlookup.Lookup, error) {
	opts := []tzlookup.Option{tzlookup.WithLogger(logger)}
	if cfg.CountryTable != "" {
		f, err := os.Open(cfg.CountryTable)
		if err != nil {
			return nil, fmt.Errorf("opening country table: %w", err)
		}
		defer func() { _ = f.Close() }() //nolint:errcheck // read-only file
		opts = append(opts, tzlookup.WithTable(io.Reader(f)))
	}
	return tzlookup.New(opts...)
}

// newSink builds the suggestion sink. The HTTP sink, when configured, is
// returned as well so its delivery loop can be started.
func newSink(cfg config.Config, logger *slog.Logger) (nitztz.Sink, *sink.HTTP, error) {
	var out nitztz.Sink = sink.NewLog(logger)
	var h *sink.HTTP
	if cfg.Sink.URL != "" {
		var err error
		h, err = sink.NewHTTP(cfg.Sink.URL, logger,
			sink.WithTimeout(cfg.Sink.Timeout),
			sink.WithRetry(cfg.Sink.Attempts, cfg.Sink.Delay),
		)
		if err != nil {
			return nil, nil, err
		}
		out = sink.Multi{h, out}
	}
	if cfg.Sink.Dedup {
		out = sink.NewDedup(out)
	}
	return out, h, nil
}

func run(logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("Server configuration",
		"listen", cfg.Listen,
		"slots", cfg.Slots,
		"sink_url", cfg.Sink.URL,
		"dedup", cfg.Sink.Dedup,
		"ignore_nitz", cfg.NITZ.Ignore,
		"update_spacing_millis", cfg.NITZ.UpdateSpacingMillis,
		"update_diff_millis", cfg.NITZ.UpdateDiffMillis)

	lookup, err := newLookup(cfg, logger)
	if err != nil {
		return err
	}
	out, authority, err := newSink(cfg, logger)
	if err != nil {
		return err
	}
	m := metrics.New()

	slots := make([]server.Slot, 0, cfg.Slots)
	for i := range cfg.Slots {
		dev := device.NewClocked(nil)
		dev.SetIgnoreNITZ(cfg.NITZ.Ignore)
		dev.SetThresholds(cfg.NITZ.UpdateSpacingMillis, cfg.NITZ.UpdateDiffMillis)
		machine := nitztz.New(i, dev, out,
			nitztz.WithLogger(logger),
			nitztz.WithLookup(lookup),
			nitztz.WithObserver(m),
		)
		slots = append(slots, server.Slot{Actor: nitztz.NewActor(machine, 64), Device: dev})
	}

	api := server.New(slots,
		server.WithLogger(logger),
		server.WithMetrics(m),
		server.WithRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
	)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	for _, sl := range slots {
		g.Go(func() error { return sl.Actor.Run(ctx) })
	}
	g.Go(func() error { return api.Maintain(ctx) })
	if authority != nil {
		g.Go(func() error { return authority.Run(ctx) })
	}
	g.Go(func() error {
		logger.Info("Server starting", "listen", cfg.Listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
