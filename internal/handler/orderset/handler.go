package orderset

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/mdm-api/internal/middleware"
	"github.com/jwalitptl/mdm-api/internal/service/orderset"
	"github.com/jwalitptl/mdm-api/pkg/errors"
	"github.com/jwalitptl/mdm-api/pkg/httputil"
)

type Handler struct {
	service *orderset.Service
}

func NewHandler(service *orderset.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sets := r.Group("/order-sets")
	{
		sets.POST("", h.Create)
		sets.GET("", h.List)
		sets.GET("/:id", h.Get)
		sets.PUT("/:id", h.Update)
		sets.DELETE("/:id", h.Delete)
		sets.POST("/:id/usage", h.RecordUsage)
		sets.POST("/suggest", h.Suggest)
	}
}

type orderSetRequest struct {
	Name    string   `json:"name" binding:"required"`
	TestIDs []string `json:"test_ids" binding:"required,min=1"`
	Tags    []string `json:"tags"`
}

func (h *Handler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized(nil))
		return
	}

	var req orderSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("invalid request", err))
		return
	}

	set, err := h.service.Create(c.Request.Context(), userID, req.Name, req.TestIDs, req.Tags)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, set)
}

func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized(nil))
		return
	}

	sets, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, sets)
}

func (h *Handler) Get(c *gin.Context) {
	userID, id, ok := h.ids(c)
	if !ok {
		return
	}

	set, err := h.service.Get(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, set)
}

func (h *Handler) Update(c *gin.Context) {
	userID, id, ok := h.ids(c)
	if !ok {
		return
	}

	var req orderSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("invalid request", err))
		return
	}

	set, err := h.service.Update(c.Request.Context(), userID, id, req.Name, req.TestIDs, req.Tags)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, set)
}

func (h *Handler) Delete(c *gin.Context) {
	userID, id, ok := h.ids(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), userID, id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"deleted": true})
}

func (h *Handler) RecordUsage(c *gin.Context) {
	userID, id, ok := h.ids(c)
	if !ok {
		return
	}
	if _, err := h.service.Get(c.Request.Context(), userID, id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	h.service.RecordUsage(c.Request.Context(), id)
	httputil.RespondWithSuccess(c, gin.H{"recorded": true})
}

type suggestRequest struct {
	DifferentialText string `json:"differential_text" binding:"required"`
}

// Suggest returns the best-matching order set for a differential, or null
// when nothing matches.
func (h *Handler) Suggest(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized(nil))
		return
	}

	var req suggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("invalid request", err))
		return
	}

	set, err := h.service.Suggest(c.Request.Context(), userID, req.DifferentialText)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"suggestion": set})
}

func (h *Handler) ids(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized(nil))
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("invalid order set id", err))
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
}
