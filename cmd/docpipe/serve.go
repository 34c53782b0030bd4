package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/http"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/http/handlers"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload gateway API, plus an embedded worker pool when WORKER_ENABLED is set",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := setupRuntime(ctx, cfg, logger)
	defer rt.Close()

	gateway := service.NewGateway(rt.repo, rt.blobs, newExtractor(cfg), rt.producer, rt.cache, service.GatewayConfig{
		MaxImageBytes:      cfg.MaxImageBytes,
		MaxPDFBytes:        cfg.MaxPDFBytes,
		MaxPDFPages:        cfg.MaxPDFPages,
		EnqueueMaxAttempts: cfg.EnqueueMaxAttempts,
		EnqueueBackoff:     time.Duration(cfg.EnqueueBackoffMS) * time.Millisecond,
	}, logger)
	documents := service.NewDocumentsService(rt.repo, rt.cache, logger)

	maxUpload := cfg.MaxPDFBytes
	if cfg.MaxImageBytes > maxUpload {
		maxUpload = cfg.MaxImageBytes
	}
	api := handlers.NewAPI(gateway, documents, newScaler(cfg, rt.backlog), maxUpload, logger)

	handler := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		Revocations:    rt.keys,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	var workers sync.WaitGroup
	if cfg.WorkerEnabled {
		pool := newPool(cfg, rt, logger)
		workers.Add(1)
		go func() {
			defer workers.Done()
			pool.Run(ctx)
		}()
		logger.Info().Int("workers", cfg.WorkerConcurrency).Msg("embedded worker pool started")
	} else {
		logger.Info().Msg("worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.ExtractionTimeoutMS)*time.Millisecond + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("api listening")
		errChan <- server.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			serveErr = err
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	workers.Wait()
	return serveErr
}
