package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apperrors "github.com/jwalitptl/fieldsync/pkg/errors"
	"github.com/jwalitptl/fieldsync/pkg/httputil"
)

// ErrorHandler logs errors attached to the context. Handlers normally answer
// through httputil; an error left unanswered is answered here.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		for _, e := range c.Errors {
			event := log.Warn()
			if apperrors.CodeOf(e.Err) == apperrors.ErrInternal {
				event = log.Error()
			}
			event.
				Err(e.Err).
				Str("code", apperrors.CodeOf(e.Err).Name()).
				Str("request_id", c.GetString(ContextRequestID)).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Msg("Request error")
		}

		if !c.Writer.Written() {
			httputil.RespondWithError(c, c.Errors.Last().Err)
		}
	}
}
