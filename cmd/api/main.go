package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/fieldsync/internal/app"
	"github.com/jwalitptl/fieldsync/internal/config"
	catalogHandler "github.com/jwalitptl/fieldsync/internal/handler/catalog"
	draftHandler "github.com/jwalitptl/fieldsync/internal/handler/draft"
	"github.com/jwalitptl/fieldsync/internal/handler/health"
	"github.com/jwalitptl/fieldsync/internal/handler/prometheus"
	submissionHandler "github.com/jwalitptl/fieldsync/internal/handler/submission"
	"github.com/jwalitptl/fieldsync/internal/middleware"
	"github.com/jwalitptl/fieldsync/internal/router"
	"github.com/jwalitptl/fieldsync/pkg/auth"
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

	jwt := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer)

	r := router.NewRouter(
		middleware.NewAuthMiddleware(jwt),
		health.NewHandler(map[string]health.Pinger{"database": a.Store, "storage": a.Uploader}, cfg.Sync.PingTimeout),
		submissionHandler.NewHandler(a.Submissions),
		draftHandler.NewHandler(a.Queue, a.Coordinator),
		catalogHandler.NewHandler(a.Catalog),
		prometheus.New(a.Registry, a.Metrics),
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			Timeout: middleware.TimeoutConfig{
				Duration: cfg.Server.RequestTimeout,
				Routes:   map[string]time.Duration{router.SyncRoute: cfg.Server.SyncTimeout},
			},
			SizeLimit:   middleware.DefaultSizeLimitConfig(),
			CORSConfig:  middleware.DefaultCORSConfig(),
			ReleaseMode: !cfg.Logging.Pretty,
		},
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := a.WatchCatalog(ctx); err != nil {
			l.Error(err, "catalog change watcher stopped")
		}
	}()

	go func() {
		l.Info("starting api server", "addr", srv.Addr, "drafts_backend", cfg.Drafts.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error(err, "server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	l.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error(err, "server forced to shutdown")
		os.Exit(1)
	}
	l.Info("server exited")
}
