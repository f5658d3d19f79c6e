// Package app wires the services shared by the API and the worker.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/fieldsync/internal/config"
	"github.com/jwalitptl/fieldsync/internal/repository"
	"github.com/jwalitptl/fieldsync/internal/repository/postgres"
	redisrepo "github.com/jwalitptl/fieldsync/internal/repository/redis"
	"github.com/jwalitptl/fieldsync/internal/repository/sqlite"
	"github.com/jwalitptl/fieldsync/internal/service/catalog"
	"github.com/jwalitptl/fieldsync/internal/service/draft"
	"github.com/jwalitptl/fieldsync/internal/service/submission"
	"github.com/jwalitptl/fieldsync/internal/service/syncer"
	"github.com/jwalitptl/fieldsync/pkg/logger"
	"github.com/jwalitptl/fieldsync/pkg/messaging"
	redisbroker "github.com/jwalitptl/fieldsync/pkg/messaging/redis"
	"github.com/jwalitptl/fieldsync/pkg/metrics"
	"github.com/jwalitptl/fieldsync/pkg/storage/spaces"
)

type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	DB          *sqlx.DB
	Store       *postgres.Client
	Uploader    *spaces.Uploader
	Drafts      repository.DraftStore
	Queue       *draft.Queue
	Pipeline    *submission.Pipeline
	Submissions *submission.Service
	Catalog     *catalog.Service
	Coordinator *syncer.Coordinator

	redis  *goredis.Client
	broker messaging.Broker
}

func NewLogger(cfg config.LoggingConfig) *logger.Logger {
	l := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Pretty:     cfg.Pretty,
	})
	log.Logger = l.ZL
	return l
}

// New builds every shared component. Nothing here requires the database or
// the bucket to be reachable; both are only dialled on use.
func New(ctx context.Context, cfg *config.Config, l *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: l, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(cfg.Metrics.Namespace, a.Registry)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.Store = postgres.NewClient(db, cfg.Database, postgres.WithMetrics(a.Metrics), postgres.WithLogger(l))

	s3Client, err := spaces.NewClient(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Uploader = spaces.NewUploader(s3Client, cfg.Storage, spaces.WithMetrics(a.Metrics), spaces.WithLogger(l))

	if cfg.Drafts.Backend == "redis" || cfg.Sync.PublishEvents {
		a.redis, err = redisrepo.NewClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	switch cfg.Drafts.Backend {
	case "redis":
		a.Drafts = redisrepo.NewDraftStore(a.redis, cfg.Drafts.KeyPrefix)
	case "sqlite":
		gdb, err := sqlite.Open(cfg.Drafts.SQLitePath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Drafts = sqlite.NewDraftStore(gdb)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown drafts backend %q", cfg.Drafts.Backend)
	}

	a.broker = messaging.Nop{}
	if a.redis != nil {
		a.broker = redisbroker.NewRedisBroker(a.redis, l)
	}
	events := messaging.Broker(messaging.Nop{})
	if cfg.Sync.PublishEvents {
		events = a.broker
	}

	submissions := postgres.NewSubmissionRepository(a.Store)
	a.Queue = draft.NewQueue(a.Drafts, draft.WithMetrics(a.Metrics), draft.WithLogger(l))
	a.Pipeline = submission.NewPipeline(a.Uploader, submissions, l)
	a.Submissions = submission.NewService(a.Pipeline, submissions, a.Queue, a.Metrics, l,
		submission.WithDirectBudget(cfg.Sync.SubmitBudget),
		submission.WithDraftWriteTimeout(cfg.Sync.DraftWriteTimeout),
	)
	a.Catalog = catalog.NewService(postgres.NewCatalogRepository(a.Store), cfg.Catalog.CacheTTL, catalog.WithLogger(l))
	a.Coordinator = syncer.NewCoordinator(a.Queue, a.Pipeline,
		syncer.Config{DraftTimeout: cfg.Sync.DraftTimeout, EventsChannel: cfg.Sync.EventsChannel},
		syncer.WithBroker(events), syncer.WithMetrics(a.Metrics), syncer.WithLogger(l))

	return a, nil
}

// WatchCatalog drops cached reference data whenever a change is announced on
// catalog.changes_channel. Without Redis it only waits for ctx.
func (a *App) WatchCatalog(ctx context.Context) error {
	channel := a.Config.Catalog.ChangesChannel
	if a.redis == nil || channel == "" {
		<-ctx.Done()
		return nil
	}
	err := a.Catalog.Watch(ctx, a.broker, channel)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *App) Close() {
	if a.broker != nil {
		_ = a.broker.Close()
	}
	if a.Drafts != nil {
		if err := a.Drafts.Close(); err != nil {
			a.Logger.Error(err, "failed to close draft store")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
