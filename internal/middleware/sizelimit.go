package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/fieldsync/pkg/httputil"
)

type SizeLimitConfig struct {
	MaxBodySize int64 // in bytes
}

// DefaultSizeLimitConfig allows a form with two full-resolution camera images.
func DefaultSizeLimitConfig() SizeLimitConfig {
	return SizeLimitConfig{
		MaxBodySize: 32 << 20,
	}
}

// SizeLimit rejects bodies larger than MaxBodySize.
func SizeLimit(config SizeLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > config.MaxBodySize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, httputil.Response{
				Status:  "error",
				Message: fmt.Sprintf("body size exceeds %d bytes", config.MaxBodySize),
				Code:    "too_large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.MaxBodySize)
		c.Next()
	}
}
