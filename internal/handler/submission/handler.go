package submission

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/fieldsync/internal/middleware"
	"github.com/jwalitptl/fieldsync/internal/model"
	submissionService "github.com/jwalitptl/fieldsync/internal/service/submission"
	apperrors "github.com/jwalitptl/fieldsync/pkg/errors"
	"github.com/jwalitptl/fieldsync/pkg/httputil"
)

type Submitter interface {
	Submit(ctx context.Context, userID string, payload model.Payload, online bool) (*submissionService.Outcome, error)
}

type Handler struct {
	service Submitter
}

func NewHandler(service Submitter) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/submissions", h.Submit)
}

type submitRequest struct {
	FormType model.FormType  `json:"form_type" binding:"required"`
	Payload  json.RawMessage `json:"payload" binding:"required"`
	// Online defaults to true; the app sends false when it knows it has no signal.
	Online *bool `json:"online"`
}

// Submit answers 201 when the record was committed and 202 when it was kept as a draft.
func (h *Handler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	payload, err := model.DecodePayload(req.FormType, req.Payload)
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	online := req.Online == nil || *req.Online
	outcome, err := h.service.Submit(c.Request.Context(), middleware.UserID(c), payload, online)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	status := http.StatusCreated
	if outcome.Status == submissionService.StatusDrafted {
		status = http.StatusAccepted
	}
	httputil.RespondWithSuccess(c, status, outcome)
}
