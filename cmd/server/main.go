// Command server hosts the HTTP search API. With the default memory backend
// it runs the whole pipeline in one binary; with SCOUT_BACKEND=postgres it
// records jobs in Postgres and dispatches discovery to asynq workers.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"affiliatescout/internal/api"
	"affiliatescout/internal/archive"
	"affiliatescout/internal/config"
	"affiliatescout/internal/database"
	"affiliatescout/internal/discovery"
	"affiliatescout/internal/pipeline"
	"affiliatescout/internal/queue"
	"affiliatescout/internal/repository"
	"affiliatescout/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		svc      api.JobService
		exporter api.Exporter
	)
	switch cfg.Backend {
	case "postgres":
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("connect database: %v", err)
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool, cfg.CreditBudget); err != nil {
			log.Fatalf("ensure schema: %v", err)
		}
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		svc = queue.NewDispatcher(repository.New(pool), client)
		if store, err := archive.New(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.ArchiveBucket, cfg.S3UseSSL); err != nil {
			// Exports stay unavailable; searching is unaffected.
			log.Printf("result archive unavailable: %v", err)
		} else {
			exporter = store
		}
	case "memory":
		jobs := store.NewMemoryStore(cfg.CreditBudget, cfg.JobRetention)
		provider := &discovery.Synthetic{Latency: cfg.StageLatency}
		runner := pipeline.New(jobs, provider, cfg.WorkerCount, cfg.SearchTimeout)
		runner.Start(ctx)
		svc = pipeline.NewService(jobs, runner)
	default:
		log.Fatalf("unknown backend %q (want memory or postgres)", cfg.Backend)
	}

	server := api.New(cfg.Address, svc, exporter)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}
	log.Println("server stopped")
}
