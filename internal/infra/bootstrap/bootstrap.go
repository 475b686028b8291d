// Package bootstrap turns a Config into wired adapters shared by cmd/api and
// cmd/worker.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/bryanwahyu/realcheck/internal/application"
	appai "github.com/bryanwahyu/realcheck/internal/application/ai"
	appanalysis "github.com/bryanwahyu/realcheck/internal/application/analysis"
	"github.com/bryanwahyu/realcheck/internal/config"
	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
	"github.com/bryanwahyu/realcheck/internal/infra/ai/openai"
	"github.com/bryanwahyu/realcheck/internal/infra/db/memory"
	mysqlp "github.com/bryanwahyu/realcheck/internal/infra/db/mysql"
	"github.com/bryanwahyu/realcheck/internal/infra/db/postgres"
	"github.com/bryanwahyu/realcheck/internal/infra/scoring"
	"github.com/bryanwahyu/realcheck/internal/infra/storage"
	"github.com/bryanwahyu/realcheck/internal/middleware"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds every adapter built from config.
type Deps struct {
	Jobs     domain.JobQueue
	Results  domain.ResultRepository
	Staging  domain.ContentStore
	Scorer   *scoring.HTTPScorer
	Metrics  *middleware.Metrics
	Checkers map[string]middleware.HealthChecker

	db *sql.DB
}

// Open connects the store and staging backends, creating schema when needed.
func Open(ctx context.Context, cfg *config.Config) (*Deps, error) {
	d := &Deps{
		Scorer:   scoring.NewHTTPScorer(cfg.Scoring.URL),
		Metrics:  middleware.NewMetrics(),
		Checkers: map[string]middleware.HealthChecker{},
	}

	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		d.db = db
		d.Jobs, d.Results = postgres.NewJobRepository(db), postgres.NewResultRepository(db)
		d.Checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, fmt.Errorf("mysql connect: %w", err)
		}
		if err := mysqlp.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		d.db = db
		d.Jobs, d.Results = mysqlp.NewJobRepository(db), mysqlp.NewResultRepository(db)
		d.Checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
	default:
		store := memory.NewStore()
		d.Jobs, d.Results = store.Jobs(), store.Results()
		d.Checkers["database"] = middleware.PingFunc(store.Ping)
		log.Printf("using in-memory store; state is lost on restart")
	}

	var staging interface {
		domain.ContentStore
		pinger
	}
	switch cfg.Staging.Driver {
	case "minio":
		st, err := storage.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("minio init: %w", err)
		}
		staging = st
	default:
		st, err := storage.NewFileStore(cfg.Staging.Dir)
		if err != nil {
			d.Close()
			return nil, err
		}
		staging = st
	}
	d.Staging = staging
	d.Checkers["staging"] = middleware.PingFunc(staging.Ping)
	return d, nil
}

// Service builds the gate / read-side service.
func (d *Deps) Service(cfg *config.Config) *appanalysis.Service {
	return &appanalysis.Service{
		Jobs:       d.Jobs,
		Results:    d.Results,
		Staging:    d.Staging,
		Clock:      application.SystemClock{},
		Metrics:    d.Metrics,
		MaxRetries: cfg.Queue.MaxRetries,
	}
}

// Pool builds executor, reclaimer and worker pool.
func (d *Deps) Pool(cfg *config.Config) *appanalysis.Pool {
	narrator := appai.NewService(openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL), cfg.OpenAI.Timeout)
	clock := application.SystemClock{}
	return &appanalysis.Pool{
		Executor: &appanalysis.Executor{
			Jobs:         d.Jobs,
			Results:      d.Results,
			Staging:      d.Staging,
			Scorer:       d.Scorer,
			Narrator:     narrator,
			Clock:        clock,
			Metrics:      d.Metrics,
			ScoreTimeout: cfg.Scoring.Timeout,
		},
		Reclaimer: &appanalysis.Reclaimer{
			Jobs:     d.Jobs,
			Clock:    clock,
			Metrics:  d.Metrics,
			Timeout:  cfg.Queue.ProcessingTimeout,
			Interval: cfg.Queue.ReclaimInterval,
		},
		Workers: cfg.Queue.Workers,
		Poll:    cfg.Queue.PollInterval,
	}
}

func (d *Deps) Close() {
	if d.db != nil {
		d.db.Close()
	}
}
