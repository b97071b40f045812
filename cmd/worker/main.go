// Command worker runs the GPU worker node (§2): owns model execution,
// writes VisualAnalysisCache and ClassificationRecord rows directly,
// and reports every Deck-row change to the orchestrator over the
// internal callback API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halbzeit-ai/deckreview/internal/callback"
	"github.com/halbzeit-ai/deckreview/internal/config"
	"github.com/halbzeit-ai/deckreview/internal/dbstore"
	"github.com/halbzeit-ai/deckreview/internal/jobqueue"
	"github.com/halbzeit-ai/deckreview/internal/logger"
	"github.com/halbzeit-ai/deckreview/internal/modelrt"
	"github.com/halbzeit-ai/deckreview/internal/pipeline"
	"github.com/halbzeit-ai/deckreview/internal/redisclient"
	"github.com/halbzeit-ai/deckreview/internal/registry"
	"github.com/halbzeit-ai/deckreview/internal/storage"
	"github.com/halbzeit-ai/deckreview/internal/worker"
)

func main() {
	cfg := config.LoadWorker()
	log := logger.New(cfg.Env, "worker")

	log.Info().Str("env", cfg.Env).Msg("deckreview worker starting")

	ctx := context.Background()
	store, err := dbstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer store.Close()

	seeds, err := dbstore.DefaultTemplateSeeds()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse bundled template seeds")
	}
	if cfg.TemplateSeedPath != "" {
		extra, err := dbstore.LoadTemplateSeedFile(cfg.TemplateSeedPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.TemplateSeedPath).Msg("failed to load TEMPLATE_SEED_PATH")
		}
		seeds = append(seeds, extra...)
	}
	if err := store.SeedTemplates(ctx, seeds); err != nil {
		log.Warn().Err(err).Msg("template seeding failed — continuing with whatever templates already exist")
	}

	redisC, err := redisclient.New(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed — distributed job lock disabled")
		redisC = nil
	} else if err := redisclient.Ping(redisC); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — distributed job lock disabled")
		redisC = nil
	} else {
		log.Info().Msg("redis connected")
	}

	layout := storage.New(cfg.SharedFSMountPath)
	adapter := modelrt.NewClient(cfg.ModelRuntimeURL, modelrt.DefaultPoolConfig(), log)
	cb := callback.New(cfg.OrchestratorURL, cfg.CallbackSharedSecret, log)
	prompts := registry.NewPromptRegistry(store)
	templates := registry.NewTemplateRegistry(store)
	exec := jobqueue.NewExecutor(redisC, log)

	runner := pipeline.NewRunner(adapter, cb, store, store, store, prompts, templates, layout, log, cfg.DefaultNumCtx)

	handlers := worker.NewHandlers(adapter, runner, cb, store, prompts, layout, exec, cfg.VisionModel, cfg.DefaultNumCtx, log)
	router := worker.NewRouter(handlers, cfg.MaxBodyBytes, log)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 25 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("worker listening")
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
		log.Info().Msg("worker stopped gracefully")
	}
}
