package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fogmesh/fogmesh/pkg/config"
	"github.com/fogmesh/fogmesh/pkg/hermes"
	"github.com/fogmesh/fogmesh/pkg/lethe"
	"github.com/fogmesh/fogmesh/pkg/olympus"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator",
	Long:  `Starts the heartbeat monitor, seeds the fleet file if one is configured and serves /metrics and /healthz.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "Address to listen on (overrides listen_addr)")
	serveCmd.Flags().String("fleet", "", "Fleet seed file (overrides fleet_file)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.ListenAddr = listen
	}
	if fleet, _ := cmd.Flags().GetString("fleet"); fleet != "" {
		cfg.FleetFile = fleet
	}

	logger := hermes.NewSlogAdapterWithLevel(os.Stdout, cfg.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := hermes.NewPrometheusMetrics(reg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := newCache(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	coord, err := newCoordinator(cfg, cache, logger, metrics)
	if err != nil {
		return err
	}
	if cfg.FleetFile != "" {
		if err := seedFleet(ctx, coord, cfg.FleetFile); err != nil {
			return err
		}
	}
	if err := coord.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newMux(coord, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "Coordinator listening", map[string]any{"address": cfg.ListenAddr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "Shutdown signal received, gracefully shutting down", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = coord.Stop(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newCache builds the hybrid cache. An unreachable store degrades to the
// local tier instead of failing startup. A disabled cache returns nil.
func newCache(ctx context.Context, cfg *config.Config, logger hermes.Logger, metrics hermes.Metrics) (*lethe.HybridCache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}

	var store lethe.Store
	if cfg.Cache.URL != "" {
		rs, err := lethe.NewRedisStore(cfg.Cache.URL)
		if err != nil {
			logger.Error(ctx, "Cache store unavailable, using local tier only", map[string]any{"error": err.Error()})
		} else {
			store = rs
		}
	}

	return lethe.New(store, lethe.Options{
		DefaultTTL:  cfg.Cache.DefaultTTL,
		LRUCapacity: cfg.Cache.LRUCapacity,
		KeyPrefix:   cfg.Cache.KeyPrefix,
		Logger:      logger,
		Metrics:     metrics,
	})
}

func newCoordinator(cfg *config.Config, cache *lethe.HybridCache, logger hermes.Logger, metrics hermes.Metrics) (*olympus.Coordinator, error) {
	opts, err := olympus.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return olympus.New(opts, cache, logger, metrics)
}

func seedFleet(ctx context.Context, coord *olympus.Coordinator, path string) error {
	fleet, err := olympus.LoadFleet(path)
	if err != nil {
		return err
	}
	if _, err := coord.RegisterNodes(ctx, fleet.Nodes); err != nil {
		return fmt.Errorf("failed to seed fleet: %w", err)
	}
	_, err = coord.WarmCache(ctx)
	return err
}

func newMux(coord *olympus.Coordinator, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := coord.HealthCheck(r.Context())

		code := http.StatusOK
		if h.Status == olympus.HealthUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(h)
	})
	return mux
}
