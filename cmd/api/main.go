package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/studyforge/studyforge/internal/ai"
	"github.com/studyforge/studyforge/internal/config"
	"github.com/studyforge/studyforge/internal/db"
	"github.com/studyforge/studyforge/internal/generation"
	"github.com/studyforge/studyforge/internal/httpapi"
	"github.com/studyforge/studyforge/internal/logger"
	"github.com/studyforge/studyforge/internal/models"
	"github.com/studyforge/studyforge/internal/storage"
	"github.com/studyforge/studyforge/internal/store/rabbitmq"
	"github.com/studyforge/studyforge/internal/store/redisstore"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	gdb := db.Connect(cfg.DBDSN)

	migrations := append([]any{&models.User{}}, generation.Models()...)
	if err := gdb.AutoMigrate(migrations...); err != nil {
		log.Fatal().Err(err).Msg("automigrate failed")
	}

	cache := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer cache.Close()

	store, err := storage.NewS3Store(storage.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("object store init failed")
	}

	repo := generation.NewRepo(gdb)

	// The dispatcher makes the fire-and-forget handoff explicit:
	// rabbit hands jobs to cmd/worker, local runs them in-process.
	var dispatcher generation.Dispatcher
	switch cfg.DispatchMode {
	case "local":
		provider, err := ai.DefaultProvider(context.Background(), ai.FactoryConfig{
			Provider:          cfg.AIProvider,
			OllamaBaseURL:     cfg.OllamaBaseURL,
			OllamaModel:       cfg.OllamaModel,
			OpenRouterBaseURL: cfg.OpenRouterBaseURL,
			OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
			OpenRouterModel:   cfg.OpenRouterModel,
			OpenRouterSiteURL: cfg.OpenRouterSiteURL,
			OpenRouterAppName: cfg.OpenRouterAppName,
		})
		if err != nil {
			log.Fatal().Err(err).Str("provider", cfg.AIProvider).Msg("unknown ai provider")
		}
		worker := generation.NewWorker(repo, store, provider, ai.Options{
			MaxOutputTokens: cfg.GenMaxOutputTokens,
			Temperature:     cfg.GenTemperature,
			TopP:            cfg.GenTopP,
		}, log)
		dispatcher = generation.NewLocalDispatcher(worker, log)
	default:
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbit connect failed")
		}
		defer pub.Close()
		dispatcher = pub
	}

	genSvc := generation.NewService(repo, store, dispatcher, log)

	router := httpapi.NewRouter(gdb, cfg, cache, genSvc)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("api started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("api shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}
