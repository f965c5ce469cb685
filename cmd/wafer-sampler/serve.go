package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/metrolab/wafersample/pkg/api"
	"github.com/metrolab/wafersample/pkg/emitter"
	"github.com/metrolab/wafersample/pkg/repository"
	"github.com/metrolab/wafersample/pkg/rules"
	"github.com/metrolab/wafersample/pkg/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Args:  cobra.NoArgs,
	Short: "Run the sampling engine HTTP server",
	Long:  `Starts the HTTP API backed by the configured storage backend.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (overrides config)")
	serveCmd.Flags().String("storage", "", "storage backend: memory or sqlite (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	listenAddr, _ := cmd.Flags().GetString("listen")
	storageBackend, _ := cmd.Flags().GetString("storage")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}
	if storageBackend != "" {
		cfg.Storage.Backend = storageBackend
	}

	logger := newLogger(cfg)

	var store *repository.Store
	switch cfg.Storage.Backend {
	case "memory":
		store = repository.NewMemoryStore()
	case "sqlite":
		var closeStore func() error
		store, closeStore, err = repository.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("opening sqlite store at %s: %w", cfg.Storage.Path, err)
		}
		defer closeStore()
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	svc, err := service.New(store, rules.Builtin(), emitter.Builtin(), logger, service.Options{
		Limits: service.Limits{
			MaxUploadBytes: cfg.Limits.MaxUploadBytes,
			MaxDies:        cfg.Limits.MaxDies,
		},
		Timeouts: service.Timeouts{
			Upload:   cfg.Timeouts.Upload,
			Parse:    cfg.Timeouts.Parse,
			Simulate: cfg.Timeouts.Simulate,
			Validate: cfg.Timeouts.Validate,
		},
		CacheSize: cfg.Cache.CompiledStrategies,
	})
	if err != nil {
		return fmt.Errorf("assembling service: %w", err)
	}

	srv := api.New(svc, logger, cfg.Server, service.Limits{
		MaxUploadBytes: cfg.Limits.MaxUploadBytes,
		MaxDies:        cfg.Limits.MaxDies,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting wafer sampler",
		"backend", cfg.Storage.Backend, "addr", cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
