package encounter

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/mdm-api/internal/middleware"
	"github.com/jwalitptl/mdm-api/internal/model"
	"github.com/jwalitptl/mdm-api/internal/service/cdr"
	"github.com/jwalitptl/mdm-api/internal/service/encounter"
	"github.com/jwalitptl/mdm-api/internal/watch"
	"github.com/jwalitptl/mdm-api/pkg/errors"
	"github.com/jwalitptl/mdm-api/pkg/httputil"
)

type Handler struct {
	service *encounter.Service
	cdrSvc  *cdr.Service
	hub     *watch.Hub
}

func NewHandler(service *encounter.Service, cdrSvc *cdr.Service, hub *watch.Hub) *Handler {
	return &Handler{
		service: service,
		cdrSvc:  cdrSvc,
		hub:     hub,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	enc := r.Group("/encounters")
	{
		enc.POST("", h.Create)
		enc.GET("", h.List)
		enc.GET("/:id", h.Get)
		enc.GET("/:id/watch", h.Watch)
		enc.POST("/:id/differential", h.SubmitDifferential)
		enc.POST("/:id/workup", h.SubmitWorkup)
		enc.POST("/:id/finalize", h.Finalize)

		enc.GET("/:id/cdr", h.GetTracking)
		enc.POST("/:id/cdr/:cdrId/answer", h.AnswerComponent)
		enc.POST("/:id/cdr/:cdrId/dismiss", h.Dismiss)
		enc.POST("/:id/cdr/:cdrId/undismiss", h.Undismiss)
		enc.POST("/:id/cdr/:cdrId/exclude", h.ToggleExcluded)
	}
}

type createRequest struct {
	Mode           string `json:"mode" binding:"omitempty,oneof=build quick"`
	ChiefComplaint string `json:"chief_complaint" binding:"required,notblank"`
}

func (h *Handler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized(nil))
		return
	}

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("invalid request", err))
		return
	}

	enc, err := h.service.Create(c.Request.Context(), userID, model.EncounterMode(req.Mode), req.ChiefComplaint)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, h.view(enc))
}

func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized(nil))
		return
	}

	encs, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	views := make([]gin.H, 0, len(encs))
	for _, enc := range encs {
		views = append(views, h.view(enc))
	}
	httputil.RespondWithSuccess(c, views)
}

func (h *Handler) Get(c *gin.Context) {
	userID, encID, ok := h.ids(c)
	if !ok {
		return
	}

	enc, err := h.service.Get(c.Request.Context(), userID, encID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, h.view(enc))
}

type differentialRequest struct {
	Content       string  `json:"content" binding:"required,notblank"`
	TrendLocation *string `json:"trend_location"`
}

func (h *Handler) SubmitDifferential(c *gin.Context) {
	userID, encID, ok := h.ids(c)
	if !ok {
		return
	}

	var req differentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("invalid request", err))
		return
	}

	enc, err := h.service.SubmitDifferential(c.Request.Context(), userID, encID, req.Content, req.TrendLocation)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, h.view(enc))
}

type workupRequest struct {
	Content           string                      `json:"content" binding:"required,notblank"`
	SelectedTests     []string                    `json:"selected_tests"`
	TestResults       map[string]model.TestResult `json:"test_results"`
	AllUnremarkable   bool                        `json:"all_unremarkable"`
	RawLabText        string                      `json:"raw_lab_text"`
	AppliedOrderSetID *uuid.UUID                  `json:"applied_order_set_id"`
}

func (h *Handler) SubmitWorkup(c *gin.Context) {
	userID, encID, ok := h.ids(c)
	if !ok {
		return
	}

	var req workupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("invalid request", err))
		return
	}

	enc, err := h.service.SubmitWorkup(c.Request.Context(), userID, encID, encounter.WorkupInput{
		Content:           req.Content,
		SelectedTests:     req.SelectedTests,
		TestResults:       req.TestResults,
		AllUnremarkable:   req.AllUnremarkable,
		RawLabText:        req.RawLabText,
		AppliedOrderSetID: req.AppliedOrderSetID,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, h.view(enc))
}

type finalizeRequest struct {
	Content            string     `json:"content" binding:"required,notblank"`
	Treatments         []string   `json:"treatments"`
	Disposition        string     `json:"disposition"`
	FollowUps          []string   `json:"follow_ups"`
	AppliedDispoFlowID *uuid.UUID `json:"applied_dispo_flow_id"`
}

func (h *Handler) Finalize(c *gin.Context) {
	userID, encID, ok := h.ids(c)
	if !ok {
		return
	}

	var req finalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("invalid request", err))
		return
	}

	enc, resp, err := h.service.Finalize(c.Request.Context(), userID, encID, encounter.FinalizeInput{
		Content:            req.Content,
		Treatments:         req.Treatments,
		Disposition:        req.Disposition,
		FollowUps:          req.FollowUps,
		AppliedDispoFlowID: req.AppliedDispoFlowID,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, gin.H{
		"encounter":       h.view(enc),
		"document":        resp.Document,
		"quota_remaining": resp.QuotaRemaining,
	})
}

// Watch streams encounter snapshots over SSE until the client disconnects.
func (h *Handler) Watch(c *gin.Context) {
	userID, encID, ok := h.ids(c)
	if !ok {
		return
	}

	// Ownership check before opening the stream.
	enc, err := h.service.Get(c.Request.Context(), userID, encID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	sub := h.hub.Subscribe(encID)
	defer sub.Cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// Initial snapshot so the client renders without waiting for a write.
	c.SSEvent("snapshot", h.view(enc))
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, open := <-sub.C:
			if !open {
				return false
			}
			if ev.Err != nil {
				c.SSEvent("error", gin.H{"message": ev.Err.Error()})
				return true
			}
			c.SSEvent("snapshot", h.view(ev.Encounter))
			return true
		}
	})
}

func (h *Handler) GetTracking(c *gin.Context) {
	userID, encID, ok := h.ids(c)
	if !ok {
		return
	}
	if _, err := h.service.Get(c.Request.Context(), userID, encID); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	tracking, err := h.cdrSvc.Tracking(c.Request.Context(), encID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, tracking)
}

type answerRequest struct {
	ComponentID string  `json:"component_id" binding:"required,notblank"`
	Value       float64 `json:"value"`
}

func (h *Handler) AnswerComponent(c *gin.Context) {
	userID, encID, ok := h.ids(c)
	if !ok {
		return
	}
	if _, err := h.service.Get(c.Request.Context(), userID, encID); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("invalid request", err))
		return
	}

	tracking, err := h.cdrSvc.AnswerComponent(c.Request.Context(), encID, c.Param("cdrId"), req.ComponentID, req.Value)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, tracking)
}

func (h *Handler) Dismiss(c *gin.Context) {
	h.intent(c, h.cdrSvc.Dismiss)
}

func (h *Handler) Undismiss(c *gin.Context) {
	h.intent(c, h.cdrSvc.Undismiss)
}

func (h *Handler) ToggleExcluded(c *gin.Context) {
	h.intent(c, h.cdrSvc.ToggleExcluded)
}

func (h *Handler) intent(c *gin.Context, apply func(ctx context.Context, encounterID uuid.UUID, cdrID string) (map[string]*model.CDRTrackingEntry, error)) {
	userID, encID, ok := h.ids(c)
	if !ok {
		return
	}
	if _, err := h.service.Get(c.Request.Context(), userID, encID); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	tracking, err := apply(c.Request.Context(), encID, c.Param("cdrId"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, tracking)
}

func (h *Handler) ids(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized(nil))
		return uuid.Nil, uuid.Nil, false
	}
	encID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("invalid encounter id", err))
		return uuid.Nil, uuid.Nil, false
	}
	return userID, encID, true
}

// view decorates an encounter with its derived shift-window state.
func (h *Handler) view(enc *model.Encounter) gin.H {
	return gin.H{
		"encounter":    enc,
		"shift_window": h.service.ShiftStatus(enc),
	}
}
