package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/realcheck/internal/config"
	"github.com/bryanwahyu/realcheck/internal/infra/bootstrap"
	"github.com/bryanwahyu/realcheck/internal/infra/httpserver"
	"github.com/bryanwahyu/realcheck/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer deps.Close()
	deps.Checkers["scoring"] = middleware.PingFunc(deps.Scorer.Ping)

	svc := deps.Service(cfg)

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit.Capacity > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillRate)
	}

	// init router
	handler := httpserver.NewRouter(svc, httpserver.Options{
		APIKeys:         cfg.Server.APIKeys,
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxUploadBytes:  cfg.Upload.MaxBytes,
		DefaultPriority: cfg.Queue.DefaultPriority,
		Checkers:        deps.Checkers,
		Metrics:         deps.Metrics,
		Limiter:         limiter,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("server listening on %s driver=%s staging=%s", addr, cfg.Database.Driver, cfg.Staging.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if limiter != nil {
		g.Go(func() error {
			limiter.Cleanup(gctx, time.Minute, 10*time.Minute)
			return nil
		})
	}
	if cfg.Queue.EmbeddedWorker {
		pool := deps.Pool(cfg)
		g.Go(func() error { return pool.Run(gctx) })
	}

	// graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server error: %v", err)
	}
}
