// Command orchestrator runs the orchestrator node (§2): the HTTP
// surface callers and the front-end talk to, and the exclusive writer
// of Deck, Project, Prompt, and Template rows.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halbzeit-ai/deckreview/internal/config"
	"github.com/halbzeit-ai/deckreview/internal/dbstore"
	"github.com/halbzeit-ai/deckreview/internal/logger"
	"github.com/halbzeit-ai/deckreview/internal/orchestrator"
	"github.com/halbzeit-ai/deckreview/internal/redisclient"
	"github.com/halbzeit-ai/deckreview/internal/storage"
)

func main() {
	cfg := config.LoadOrchestrator()
	log := logger.New(cfg.Env, "orchestrator")

	log.Info().Str("env", cfg.Env).Msg("deckreview orchestrator starting")

	if err := dbstore.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	ctx := context.Background()
	store, err := dbstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer store.Close()

	var batches *orchestrator.BatchTracker
	rdb, err := redisclient.New(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed — batch progress tracking disabled")
		batches = orchestrator.NewBatchTracker(nil)
	} else if err := redisclient.Ping(rdb); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — batch progress tracking disabled")
		batches = orchestrator.NewBatchTracker(nil)
	} else {
		log.Info().Msg("redis connected")
		batches = orchestrator.NewBatchTracker(rdb)
	}

	layout := storage.New(cfg.SharedFSMountPath)
	workerClient := orchestrator.NewWorkerClient(cfg.GPUBaseURL(), log)
	dispatcher := orchestrator.NewDispatcher(store, workerClient, log)

	handlers := orchestrator.NewHandlers(store, layout, dispatcher, workerClient, batches, log)
	router := orchestrator.NewRouter(handlers, cfg.CallbackSharedSecret, cfg.MaxBodyBytes, log)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("orchestrator listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("orchestrator stopped gracefully")
	}
}
