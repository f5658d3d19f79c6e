package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Logger logs one line per request. Bodies are not logged; submissions carry images.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger := log.With().
			Str("request_id", c.GetString(ContextRequestID)).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("user_agent", c.Request.UserAgent())
		if uid := c.GetString(ContextUserID); uid != "" {
			logger = logger.Str("user_id", uid)
		}
		l := logger.Logger()

		switch {
		case statusCode >= 500:
			l.Error().Msg("Server error")
		case statusCode >= 400:
			l.Warn().Msg("Client error")
		default:
			l.Info().Msg("Request processed")
		}
	}
}
