package main

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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coldroute/internal/auditlog"
	"coldroute/internal/buildinfo"
	"coldroute/internal/config"
	"coldroute/internal/distance"
	"coldroute/internal/feed"
	"coldroute/internal/metrics"
	"coldroute/internal/redispatch"
	"coldroute/internal/store"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "dispatchd",
		Short:   "Cold-chain dispatch decision engine",
		Version: buildinfo.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config (defaults apply when empty)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg := config.Default()
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store: Postgres when DATABASE_URL is set, in-memory otherwise.
	var st store.Store
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err := store.NewPostgres(dsn)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		st = pg
		log.Info("store: postgres")
	} else {
		st = store.NewMemory()
		log.Info("store: memory")
	}

	// Event feed: Redis pub/sub when REDIS_URL is set.
	var broker feed.Broker
	if url := os.Getenv("REDIS_URL"); url != "" {
		rb, err := feed.NewRedis(url)
		if err != nil {
			return fmt.Errorf("redis broker: %w", err)
		}
		broker = rb
		log.Info("feed: redis")
	} else {
		broker = feed.NewMemory()
		log.Info("feed: memory")
	}

	metrics.RegisterDefault()

	// Outcome log: fire-and-forget publisher drained into the store.
	audit := auditlog.NewPublisher(256, log)
	auditWorker := auditlog.NewWorker(audit, st, log)
	auditWorker.Start()
	defer auditWorker.Stop()

	provider := distance.NewCache(distance.NewHaversine(cfg.Optimization.SpeedKph))
	coord := redispatch.NewCoordinator(st, broker, provider, cfg, audit, log)

	partition := os.Getenv("FLEET_PARTITION")
	if partition == "" {
		partition = "default"
	}
	go func() {
		if err := coord.Run(ctx, partition); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("coordinator stopped", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "build": buildinfo.Info()})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("dispatchd listening", zap.String("addr", addr), zap.String("partition", partition))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
