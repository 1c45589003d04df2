package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inodb/vrs-registry/internal/annotate"
	"github.com/inodb/vrs-registry/internal/config"
	"github.com/inodb/vrs-registry/internal/httpapi"
	"github.com/inodb/vrs-registry/internal/jobs"
	"github.com/inodb/vrs-registry/internal/registry"
	"github.com/inodb/vrs-registry/internal/storage"
	"github.com/inodb/vrs-registry/internal/storage/factory"
	"github.com/inodb/vrs-registry/internal/translate"
)

func newServeCmd() *cobra.Command {
	var dev bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registry HTTP server",
		Long:  "Serve the registry API. All settings come from ANYVAR_* environment variables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), dev)
		},
	}
	cmd.Flags().BoolVar(&dev, "dev", false, "Use human-readable development logging")
	return cmd
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runServe(ctx context.Context, dev bool) error {
	logger, err := newLogger(dev)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg := config.Load()
	opts := cfg.StorageOptions()
	opts.Logger = logger

	store, err := factory.Open(ctx, cfg.StorageURI, opts)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	translator := translate.NewRESTTranslator(cfg.TranslatorURL)
	translator.SetLogger(logger)

	reg := registry.New(store, translator, nil)
	reg.SetLogger(logger)
	ann := annotate.NewAnnotator(store, translator)
	ann.SetLogger(logger)

	queue, err := newQueue(cfg, opts, logger)
	if err != nil {
		return err
	}
	if queue != nil {
		defer queue.Stop()
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpapi.NewServer(cfg, reg, ann, translator, queue, logger).Router(),
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("serving", zap.String("addr", cfg.ListenAddr),
			zap.String("storage", cfg.StorageURI))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newQueue builds the async run queue when a work directory is
// configured. Redis is used for run state when available so results
// survive restarts.
func newQueue(cfg *config.Config, opts storage.Options, logger *zap.Logger) (*jobs.Queue, error) {
	if cfg.AsyncWorkDir == "" {
		return nil, nil
	}
	var backend jobs.Backend
	if cfg.QueueURL != "" {
		rb, err := jobs.NewRedisBackend(cfg.QueueURL, 0)
		if err != nil {
			return nil, fmt.Errorf("connect job backend: %w", err)
		}
		backend = rb
	} else {
		backend = jobs.NewMemoryBackend()
	}
	provider := func(ctx context.Context) (storage.Store, error) {
		return factory.Open(ctx, cfg.StorageURI, opts)
	}
	return jobs.NewQueue(backend, provider, jobs.Options{Logger: logger}), nil
}
