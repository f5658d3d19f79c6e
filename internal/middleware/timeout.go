package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/fieldsync/pkg/httputil"
)

type TimeoutConfig struct {
	Duration time.Duration
	// Routes overrides Duration for matched route paths, e.g. long-running syncs.
	Routes map[string]time.Duration
}

func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Duration: 60 * time.Second,
	}
}

// Timeout bounds the request context. Handlers observe the deadline through
// their context; if one returns without writing after it passed, the client
// gets a 504.
func Timeout(config TimeoutConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := config.Duration
		if override, ok := config.Routes[c.FullPath()]; ok {
			d = override
		}
		if d <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if !c.Writer.Written() && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, httputil.Response{
				Status:  "error",
				Message: "Request timeout",
				Code:    "timeout",
			})
		}
	}
}
