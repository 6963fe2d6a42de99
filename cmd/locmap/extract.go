package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/locmap/internal/config"
	"github.com/Sternrassler/locmap/pkg/cache"
	"github.com/Sternrassler/locmap/pkg/driver"
	"github.com/Sternrassler/locmap/pkg/logging"
	"github.com/Sternrassler/locmap/pkg/metrics"
	"github.com/Sternrassler/locmap/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newExtractCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract URL [URL...]",
		Short: "Extract locations from one or more page URLs",
		Long: `Runs one extraction per URL on the same map. Each run follows nextUrl
pointers until the service stops returning one or 10 pages were requested.

Examples:
  # Poll a local extraction service
  locmap extract https://shop.example/stores

  # Use the WebSocket event channel and export the pins
  locmap extract --transport push --geojson pins.json https://shop.example/stores`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyExtractFlags(cmd, cfg); err != nil {
				return err
			}
			return runExtract(cmd, cfg, args)
		},
	}

	f := cmd.Flags()
	f.String("transport", "", "transport to the extraction service: poll or push (overrides config)")
	f.String("server", "", "extraction service base URL (overrides config)")
	f.String("geojson", "", "write the final pins as GeoJSON to this file")
	f.String("redis", "", "Redis address for the page cache (poll only)")
	f.String("metrics-addr", "", "serve /metrics, /health and /ready on this address")
	f.Int("max-pages", 0, "page requests per URL, at most 10 (0=use config)")

	return cmd
}

// applyExtractFlags copies changed flags over the loaded configuration.
func applyExtractFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("transport") {
		cfg.Transport.Kind, _ = f.GetString("transport")
	}
	if f.Changed("server") {
		cfg.Transport.Server, _ = f.GetString("server")
	}
	if f.Changed("redis") {
		cfg.Redis.Addr, _ = f.GetString("redis")
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = f.GetString("metrics-addr")
	}
	if f.Changed("max-pages") {
		cfg.MaxPages, _ = f.GetInt("max-pages")
	}
	return cfg.Validate()
}

func runExtract(cmd *cobra.Command, cfg *config.Config, urls []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.NewLogger("cli")

	var redisClient *redis.Client
	tcfg := cfg.TransportSettings()
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, page cache disabled")
		} else {
			tcfg.Cache = cache.NewManager(redisClient)
			logger.Info().Str("addr", cfg.Redis.Addr).Msg("Page cache enabled")
		}
	}

	tr, err := transport.New(tcfg)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		var ready metrics.ReadyFunc
		if redisClient != nil {
			ready = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		}
		srv, err := metrics.Listen(cfg.Metrics.Addr, ready)
		if err != nil {
			return err
		}

		metricsCtx, stopMetrics := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := srv.Serve(metricsCtx); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			stopMetrics()
			<-done
		}()
	}

	view := newTerminalView(cmd.OutOrStdout())
	d, err := driver.New(driver.Config{
		Transport: tr,
		View:      view,
		MaxPages:  cfg.MaxPages,
	})
	if err != nil {
		return err
	}

	failed := 0
	for _, u := range urls {
		err := d.Submit(ctx, u)
		view.PrintAddresses()
		if err != nil {
			failed++
			logger.Debug().Err(err).Str("url", u).Msg("Run failed")
		}
		if ctx.Err() != nil {
			break
		}
	}

	if path, _ := cmd.Flags().GetString("geojson"); path != "" {
		if err := writeGeoJSON(d, path); err != nil {
			return err
		}
		logger.Info().Str("file", path).Msg("GeoJSON written")
	}

	if ctx.Err() != nil {
		return fmt.Errorf("interrupted: %w", ctx.Err())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d extractions failed", failed, len(urls))
	}
	return nil
}

// writeGeoJSON writes the map's current pin layer. A run without any pin writes an empty collection.
func writeGeoJSON(d *driver.Driver, path string) error {
	m := d.Map()
	if m == nil {
		if err := os.WriteFile(path, []byte(`{"type":"FeatureCollection","features":[]}`+"\n"), 0o644); err != nil {
			return fmt.Errorf("write geojson: %w", err)
		}
		return nil
	}

	data, err := m.GeoJSON()
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write geojson: %w", err)
	}
	return nil
}
