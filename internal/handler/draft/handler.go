package draft

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/fieldsync/internal/middleware"
	"github.com/jwalitptl/fieldsync/internal/model"
	"github.com/jwalitptl/fieldsync/internal/service/syncer"
	apperrors "github.com/jwalitptl/fieldsync/pkg/errors"
	"github.com/jwalitptl/fieldsync/pkg/httputil"
)

type Queue interface {
	Load(ctx context.Context, userID string) error
	List(ctx context.Context, userID string) ([]*model.Draft, error)
	Remove(ctx context.Context, draftID, userID string) error
}

type Syncer interface {
	Sync(ctx context.Context, userID string, online bool) (*syncer.Report, error)
}

type Handler struct {
	queue  Queue
	syncer Syncer
}

func NewHandler(queue Queue, s Syncer) *Handler {
	return &Handler{queue: queue, syncer: s}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	drafts := r.Group("/drafts")
	{
		drafts.GET("", h.ListDrafts)
		drafts.DELETE("/:id", h.RemoveDraft)
		drafts.POST("/sync", h.SyncDrafts)
	}
}

// ListDrafts returns the caller's drafts oldest first, without image bytes.
func (h *Handler) ListDrafts(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	// the worker may have replayed drafts since this process last looked
	if err := h.queue.Load(ctx, userID); err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	drafts, err := h.queue.List(ctx, userID)
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}

	summaries := make([]model.DraftSummary, 0, len(drafts))
	for _, d := range drafts {
		summaries = append(summaries, d.Summary())
	}
	httputil.RespondWithSuccess(c, http.StatusOK, summaries)
}

func (h *Handler) RemoveDraft(c *gin.Context) {
	if err := h.queue.Remove(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	c.Status(http.StatusNoContent)
}

type syncRequest struct {
	Online *bool `json:"online"`
}

func (h *Handler) SyncDrafts(c *gin.Context) {
	var req syncRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
			return
		}
	}
	online := req.Online == nil || *req.Online

	report, err := h.syncer.Sync(c.Request.Context(), middleware.UserID(c), online)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrInternal {
			err = apperrors.Internal(err)
		}
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, report)
}
