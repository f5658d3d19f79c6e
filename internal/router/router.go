package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/fieldsync/internal/handler/prometheus"
	"github.com/jwalitptl/fieldsync/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine      *gin.Engine
	auth        *middleware.AuthMiddleware
	healthH     Handler
	submissionH Handler
	draftH      Handler
	catalogH    Handler
	metricsH    *prometheus.Handler
}

// SyncRoute is the draft sync endpoint, which may run far longer than other requests.
const SyncRoute = "/api/v1/drafts/sync"

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	Timeout          middleware.TimeoutConfig
	SizeLimit        middleware.SizeLimitConfig
	CORSConfig       middleware.CORSConfig
	ReleaseMode      bool
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	healthH Handler,
	submissionH Handler,
	draftH Handler,
	catalogH Handler,
	metricsH *prometheus.Handler,
	config RouterConfig,
) *Router {
	if config.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	r := &Router{
		engine:      engine,
		auth:        auth,
		healthH:     healthH,
		submissionH: submissionH,
		draftH:      draftH,
		catalogH:    catalogH,
		metricsH:    metricsH,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		metricsH.Middleware(),
		middleware.CORS(config.CORSConfig),
	)

	r.setup(config)
	return r
}

func (r *Router) setup(config RouterConfig) {
	r.engine.GET("/metrics", r.metricsH.Handler())

	api := r.engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.healthH.RegisterRoutes(api)

	protected := api.Group("")
	protected.Use(
		r.auth.Authenticate(),
		middleware.Timeout(config.Timeout),
		middleware.SizeLimit(config.SizeLimit),
	)
	if config.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		protected.Use(limiter.RateLimit())
	}

	r.submissionH.RegisterRoutes(protected)
	r.draftH.RegisterRoutes(protected)
	r.catalogH.RegisterRoutes(protected)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
