package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apperrors "github.com/jwalitptl/fieldsync/pkg/errors"
	"github.com/jwalitptl/fieldsync/pkg/httputil"
)

// Recovery turns a handler panic into a 500. A handler that already started
// its response keeps it; the panic is only logged.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("method", c.Request.Method).
				Str("path", c.FullPath()).
				Str("request_id", c.GetString(ContextRequestID)).
				Str("user_id", c.GetString(ContextUserID)).
				Msg("handler panicked")

			if c.Writer.Written() {
				c.Abort()
				return
			}
			httputil.RespondWithError(c, apperrors.Internal(fmt.Errorf("panic: %v", rec)))
			c.Abort()
		}()
		c.Next()
	}
}
