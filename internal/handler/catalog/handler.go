package catalog

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/fieldsync/internal/middleware"
	"github.com/jwalitptl/fieldsync/internal/model"
	catalogService "github.com/jwalitptl/fieldsync/internal/service/catalog"
	apperrors "github.com/jwalitptl/fieldsync/pkg/errors"
	"github.com/jwalitptl/fieldsync/pkg/httputil"
)

type Catalog interface {
	Outlets(ctx context.Context, userID string) ([]*model.Outlet, error)
	Regions(ctx context.Context) ([]*model.Region, error)
	Locations(ctx context.Context, regionID int64) ([]*model.Location, error)
	SKUsGrouped(ctx context.Context) ([]catalogService.SKUGroup, error)
	POSMs(ctx context.Context) ([]*model.POSM, error)
}

type Handler struct {
	service Catalog
}

func NewHandler(service Catalog) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/outlets", h.ListOutlets)
	r.GET("/regions", h.ListRegions)
	r.GET("/locations", h.ListLocations)
	r.GET("/skus", h.ListSKUs)
	r.GET("/posms", h.ListPOSMs)
}

// ListOutlets returns outlets the caller onboarded, with a display label
// for the track forms.
func (h *Handler) ListOutlets(c *gin.Context) {
	outlets, err := h.service.Outlets(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	type outletView struct {
		*model.Outlet
		Label string `json:"label"`
	}
	views := make([]outletView, 0, len(outlets))
	for _, o := range outlets {
		views = append(views, outletView{Outlet: o, Label: o.Label()})
	}
	httputil.RespondWithSuccess(c, http.StatusOK, views)
}

func (h *Handler) ListRegions(c *gin.Context) {
	regions, err := h.service.Regions(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, regions)
}

// ListLocations returns the locations an outlet can be onboarded at,
// optionally narrowed with ?region_id=.
func (h *Handler) ListLocations(c *gin.Context) {
	var regionID int64
	if raw := c.Query("region_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httputil.RespondWithError(c, apperrors.BadRequest("region_id must be a positive integer", err))
			return
		}
		regionID = id
	}

	locations, err := h.service.Locations(c.Request.Context(), regionID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, locations)
}

func (h *Handler) ListSKUs(c *gin.Context) {
	groups, err := h.service.SKUsGrouped(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, groups)
}

func (h *Handler) ListPOSMs(c *gin.Context) {
	posms, err := h.service.POSMs(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, posms)
}
