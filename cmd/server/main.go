package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cinderlog/cinder/internal/alerting"
	"github.com/cinderlog/cinder/internal/api"
	"github.com/cinderlog/cinder/internal/api/health"
	"github.com/cinderlog/cinder/internal/cache"
	"github.com/cinderlog/cinder/internal/enrich"
	"github.com/cinderlog/cinder/internal/ingest"
	"github.com/cinderlog/cinder/internal/metrics"
	"github.com/cinderlog/cinder/internal/models"
	"github.com/cinderlog/cinder/internal/notifier"
	"github.com/cinderlog/cinder/internal/publish"
	"github.com/cinderlog/cinder/internal/storage"
	"github.com/cinderlog/cinder/internal/tailer"
	"github.com/cinderlog/cinder/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "cinder-server",
	Short: "Cinder Server - Log ingestion and alerting server",
	Long: `Cinder Server ingests application logs, enriches them with
severity and category heuristics, and raises alerts when the stream
crosses fixed operational thresholds.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cinder-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	// Pick up a .env file for local development, if present.
	_ = godotenv.Load()

	var cfg *Config

	// Load configuration from file if provided
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// Override with CLI flags and environment
	if httpAddr != "" {
		cfg.Server.Address = httpAddr
	}
	cfg.Server.Verbose = verbose
	cfg.Verbose = verbose
	cfg.applyEnvOverrides()

	// Auto-create data directory for the embedded backend
	if cfg.Store.Backend == storage.BackendSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0750); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}

	// Initialize the system of record
	store, err := storage.New(cfg.Store.toStorage())
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	if err := store.Open(); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	log.Printf("store initialized (backend: %s)", cfg.Store.Backend)

	// Read-side cache, best effort and optional
	var readCache cache.Cache
	if !cfg.Cache.Disabled() {
		readCache, err = cache.New(cfg.Cache.toCache())
		if err != nil {
			return fmt.Errorf("create cache: %w", err)
		}
		defer readCache.Close()
		log.Printf("cache initialized (backend: %s)", cfg.Cache.Backend)
	} else {
		log.Printf("cache disabled")
	}

	// Alerting: store, notification channels, evaluator
	alerts := alerting.NewStore()

	dispatcher := notifier.NewDispatcher(notifier.DispatcherConfig{
		RatePerSecond: cfg.Alerting.NotifyPerSecond,
		Burst:         cfg.Alerting.NotifyBurst,
		MinSeverity:   models.ParseSeverity(cfg.Alerting.MinSeverity),
	})
	defer dispatcher.Close()

	if cfg.Alerting.WebhookURL != "" {
		webhook, err := notifier.NewWebhookNotifier(notifier.WebhookConfig{
			URL:     cfg.Alerting.WebhookURL,
			Timeout: cfg.Alerting.WebhookTimeout,
		})
		if err != nil {
			return fmt.Errorf("create webhook notifier: %w", err)
		}
		dispatcher.Register(webhook)
	} else {
		dispatcher.Register(notifier.NewLogNotifier())
	}

	evaluator := alerting.NewEvaluator(store, alerts, dispatcher)

	// Downstream publishing, optional
	var queue *publish.Queue
	ingestOpts := &ingest.Options{
		Cache:           readCache,
		Evaluator:       evaluator,
		SideCallTimeout: cfg.Ingest.SideCallTimeout,
		MaxBatchLines:   cfg.Ingest.MaxBatchLines,
	}
	if cfg.Publish.Enabled {
		kafkaPublisher, err := publish.NewKafkaPublisher(cfg.Publish.Brokers, cfg.Publish.Topic)
		if err != nil {
			return fmt.Errorf("create kafka publisher: %w", err)
		}
		defer kafkaPublisher.Close()

		queue = publish.NewQueue(kafkaPublisher, &publish.QueueConfig{
			BatchSize:     cfg.Publish.BatchSize,
			FlushInterval: cfg.Publish.FlushInterval,
			MaxSize:       cfg.Publish.QueueSize,
		})
		defer queue.Close()

		ingestOpts.Publisher = queue
		log.Printf("publishing to kafka topic %q via %v", cfg.Publish.Topic, cfg.Publish.Brokers)
	}

	coordinator := ingest.New(store, enrich.New(), ingestOpts)

	// API server
	srv, err := api.New(&cfg.Server, api.Deps{
		Coordinator: coordinator,
		Store:       store,
		Cache:       readCache,
		Alerts:      alerts,
		Evaluator:   evaluator,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	srv.RegisterHealthChecker(health.NewStoreChecker(store, cfg.Store.Backend))
	if readCache != nil {
		srv.RegisterHealthChecker(health.NewCacheChecker(readCache))
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	// File followers feed the coordinator like any other ingest source
	if len(cfg.Tail) > 0 {
		manager, err := tailer.NewManager(coordinator, cfg.Tail)
		if err != nil {
			return fmt.Errorf("create tailer manager: %w", err)
		}
		if err := manager.Start(ctx); err != nil {
			return fmt.Errorf("start tailers: %w", err)
		}
		defer manager.Stop()
		log.Printf("following %d files", manager.Len())
	}

	log.Printf("starting cinder-server %s", config.Version)
	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(ctx)
	})

	if cfg.Metrics.Enabled {
		metricsSrv := metrics.NewServer(cfg.Metrics.Address)
		g.Go(func() error {
			return metricsSrv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		sweepLoop(ctx, evaluator, cfg.Alerting.SweepInterval)
		return nil
	})

	if cfg.Retention.MaxAge > 0 {
		g.Go(func() error {
			retentionLoop(ctx, store, cfg.Retention.MaxAge, cfg.Retention.SweepInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run server: %w", err)
	}

	log.Printf("server stopped")
	return nil
}

// sweepLoop runs rule sweeps until the context is canceled.
func sweepLoop(ctx context.Context, evaluator *alerting.Evaluator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := evaluator.Sweep(ctx); err != nil {
				log.Printf("alert sweep: %v", err)
			}
		}
	}
}

// retentionLoop prunes entries older than maxAge until the context is
// canceled.
func retentionLoop(ctx context.Context, store storage.LogStore, maxAge, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := store.DeleteBefore(ctx, time.Now().Add(-maxAge))
			if err != nil {
				log.Printf("retention sweep: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("retention sweep removed %d entries older than %s", deleted, maxAge)
			}
		}
	}
}
