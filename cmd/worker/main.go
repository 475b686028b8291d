package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanwahyu/realcheck/internal/config"
	"github.com/bryanwahyu/realcheck/internal/infra/bootstrap"
)

// worker runs the executor pool and reclaimer against a shared database.
// The memory driver only makes sense with the api's embedded worker.
func main() {
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.Database.Driver == "memory" {
		log.Fatalf("worker needs a shared database; set database.driver to postgres or mysql")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer deps.Close()

	pool := deps.Pool(cfg)
	log.Printf("worker started workers=%d driver=%s", cfg.Queue.Workers, cfg.Database.Driver)
	if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("worker stopped: %v", err)
		os.Exit(1)
	}
	log.Println("worker stopped")
}
