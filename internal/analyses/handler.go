package analyses

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"audiobrand-backend/internal/artifacts"
	"audiobrand-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the analyses service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analysis/start", h.start)
	rg.POST("/analysis/:id/finalize", h.finalize)
	rg.GET("/analysis/:id/status", h.status)
	rg.GET("/analysis/:id/result", h.result)
	rg.GET("/projects/:id/analyses", h.listByProject)
}

type startRequest struct {
	ProjectID  string `json:"projectId"`
	SeedPrompt string `json:"seedPrompt"`
}

type startedResponse struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	Kind      Kind       `json:"kind"`
	StartedAt *time.Time `json:"startedAt"`
	JobID     string     `json:"jobId"`
}

func toStartedResponse(s Started) startedResponse {
	return startedResponse{
		ID:        s.Analysis.ID,
		Status:    s.Analysis.Status,
		Kind:      s.Analysis.Kind,
		StartedAt: s.Analysis.StartedAt,
		JobID:     s.Job.ID,
	}
}

func (h *Handler) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
		return
	}
	started, err := h.Svc.StartExploratory(c.Request.Context(), req.ProjectID, req.SeedPrompt)
	if err != nil {
		h.fail(c, err, "failed to start analysis")
		return
	}
	respond.JSON(c, http.StatusCreated, toStartedResponse(started))
}

func (h *Handler) finalize(c *gin.Context) {
	var req FinalizeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
			return
		}
	}
	started, err := h.Svc.Finalize(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.fail(c, err, "failed to start finalize")
		return
	}
	respond.JSON(c, http.StatusCreated, toStartedResponse(started))
}

func (h *Handler) status(c *gin.Context) {
	view, err := h.Svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to get analysis status")
		return
	}
	respond.OK(c, view)
}

type resultResponse struct {
	ID         string               `json:"id"`
	Status     Status               `json:"status"`
	Kind       Kind                 `json:"kind"`
	Response   any                  `json:"responseJson"`
	StartedAt  *time.Time           `json:"startedAt"`
	FinishedAt *time.Time           `json:"finishedAt"`
	Artifacts  []artifacts.Artifact `json:"artifacts"`
}

func (h *Handler) result(c *gin.Context) {
	res, err := h.Svc.Result(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotReady) {
		respond.Error(c, http.StatusConflict, ErrorCodeNotReady, "analysis not completed", gin.H{"status": res.Analysis.Status})
		return
	}
	if err != nil {
		h.fail(c, err, "failed to get analysis result")
		return
	}
	a := res.Analysis
	out := resultResponse{
		ID:         a.ID,
		Status:     a.Status,
		Kind:       a.Kind,
		StartedAt:  a.StartedAt,
		FinishedAt: a.FinishedAt,
		Artifacts:  res.Artifacts,
	}
	if len(a.Response) > 0 {
		out.Response = a.Response
	}
	respond.OK(c, out)
}

func (h *Handler) listByProject(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	list, err := h.Svc.ListByProject(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.fail(c, err, "failed to list analyses")
		return
	}
	out := make([]StatusView, 0, len(list))
	for _, a := range list {
		view := DeriveStatus(a)
		view.PartialResult = nil
		out = append(out, view)
	}
	respond.OK(c, out)
}

func (h *Handler) fail(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "analysis not found", nil)
	case errors.Is(err, ErrProjectNotFound):
		respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "project not found", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
	case errors.Is(err, ErrEnqueue):
		respond.Error(c, http.StatusServiceUnavailable, ErrorCodeEnqueue, "failed to queue analysis", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, fallback, nil)
	}
}
