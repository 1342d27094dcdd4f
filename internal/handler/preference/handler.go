package preference

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/mdm-api/internal/middleware"
	"github.com/jwalitptl/mdm-api/internal/service/preference"
	"github.com/jwalitptl/mdm-api/pkg/errors"
	"github.com/jwalitptl/mdm-api/pkg/httputil"
)

type Handler struct {
	service *preference.Service
}

func NewHandler(service *preference.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	prefs := r.Group("/preferences")
	{
		prefs.GET("", h.ListKeys)
		prefs.GET("/:key", h.Get)
		prefs.PUT("/:key", h.Set)
		prefs.DELETE("/:key", h.Delete)
	}
}

func (h *Handler) ListKeys(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized(nil))
		return
	}

	keys, err := h.service.ListKeys(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, keys)
}

func (h *Handler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized(nil))
		return
	}

	value, err := h.service.Get(c.Request.Context(), userID, c.Param("key"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, value)
}

// Set stores the raw request body as the preference value. The body is the
// value, not a wrapper object.
func (h *Handler) Set(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized(nil))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("failed to read body", err))
		return
	}

	if err := h.service.Set(c.Request.Context(), userID, c.Param("key"), json.RawMessage(body)); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"saved": true})
}

func (h *Handler) Delete(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized(nil))
		return
	}

	if err := h.service.Delete(c.Request.Context(), userID, c.Param("key")); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"deleted": true})
}
