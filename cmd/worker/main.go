// Command worker consumes discovery tasks from asynq and runs searches
// against the Postgres job store, archiving finished result sets to object
// storage.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"affiliatescout/internal/archive"
	"affiliatescout/internal/config"
	"affiliatescout/internal/database"
	"affiliatescout/internal/discovery"
	"affiliatescout/internal/queue"
	"affiliatescout/internal/repository"
	"affiliatescout/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool, cfg.CreditBudget); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	repo := repository.New(pool)

	store, err := archive.New(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.ArchiveBucket, cfg.S3UseSSL)
	if err != nil {
		// The archive is best-effort; the worker still records results in
		// Postgres without it.
		log.Printf("result archive unavailable: %v", err)
		store = nil
	}

	// Expired terminal jobs are swept here rather than in the API so a
	// fleet of servers does not race on deletes.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := repo.DeleteExpired(ctx, cfg.JobRetention); err != nil {
					log.Printf("sweep expired jobs: %v", err)
				} else if n > 0 {
					log.Printf("swept %d expired jobs", n)
				}
			}
		}
	}()

	provider := &discovery.Synthetic{Latency: cfg.StageLatency}
	processor := worker.NewProcessor(repo, provider, store, cfg.SearchTimeout)

	mux := asynq.NewServeMux()
	processor.Register(mux)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		asynq.Config{Concurrency: cfg.WorkerCount},
	)

	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	log.Printf("worker consuming %s tasks (concurrency %d)", queue.TypeDiscoverSearch, cfg.WorkerCount)
	if err := srv.Run(mux); err != nil {
		log.Fatalf("worker: %v", err)
	}
	log.Println("worker stopped")
}
