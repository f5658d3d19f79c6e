package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/fieldsync/internal/app"
	"github.com/jwalitptl/fieldsync/internal/config"
	"github.com/jwalitptl/fieldsync/internal/handler/health"
	"github.com/jwalitptl/fieldsync/internal/handler/prometheus"
	"github.com/jwalitptl/fieldsync/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	l := app.NewLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, l)
	if err != nil {
		l.Fatal(err, "failed to initialise services")
	}
	defer a.Close()

	pingers := map[string]worker.Pinger{"database": a.Store, "storage": a.Uploader}
	sweeper := worker.NewSyncSweeper(a.Queue, a.Coordinator, pingers, worker.SyncSweeperConfig{
		Interval:    cfg.Sync.SweepInterval,
		PingTimeout: cfg.Sync.PingTimeout,
	}, l, a.Metrics)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	health.NewHandler(map[string]health.Pinger{"database": a.Store, "storage": a.Uploader}, cfg.Sync.PingTimeout).
		RegisterRoutes(engine.Group(""))
	engine.GET("/metrics", prometheus.New(a.Registry, a.Metrics).Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler: engine,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error(err, "health server stopped")
		}
	}()

	l.Info("worker started", "health_addr", srv.Addr)
	<-ctx.Done()
	l.Info("shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
	l.Info("worker exited")
}
