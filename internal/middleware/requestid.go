package middleware

import (
	"context"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderXRequestID = "X-Request-ID"
	ContextRequestID = "request_id"
)

// Field clients tag retries with their own id; anything that would not be
// safe in a log line is replaced.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// RequestID tags the request, its context and the response with an id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderXRequestID)
		if !validRequestID.MatchString(rid) {
			rid = uuid.NewString()
		}

		c.Set(ContextRequestID, rid)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), ContextRequestID, rid)) //nolint:staticcheck
		c.Header(HeaderXRequestID, rid)
		c.Next()
	}
}
