package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/studyforge/studyforge/internal/ai"
	"github.com/studyforge/studyforge/internal/config"
	"github.com/studyforge/studyforge/internal/db"
	"github.com/studyforge/studyforge/internal/generation"
	"github.com/studyforge/studyforge/internal/logger"
	"github.com/studyforge/studyforge/internal/storage"
	"github.com/studyforge/studyforge/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	gdb := db.Connect(cfg.DBDSN)
	repo := generation.NewRepo(gdb)

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

	concurrency := workerConcurrency()

	consumer, msgs, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, concurrency)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit connect failed")
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("queue", cfg.RabbitQueue).Int("concurrency", concurrency).Msg("worker started")

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m rabbitmq.JobMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" || !m.Kind.Valid() {
					log.Error().Err(err).Int("worker", workerID).Msg("bad message")
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := worker.Process(ctx, m.Kind, m.JobID); err != nil {
					log.Error().Err(err).
						Int("worker", workerID).
						Str("kind", string(m.Kind)).
						Str("job_id", m.JobID).
						Dur("cost", time.Since(start)).
						Msg("job failed")
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Error().Err(err).Int("worker", workerID).Str("job_id", m.JobID).Msg("ack failed")
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn().Msg("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}
