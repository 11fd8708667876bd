package jobs

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"audiobrand-backend/internal/shared/server/respond"
)

const (
	errorCodeNotFound   = "not_found"
	errorCodeValidation = "validation_error"
	errorCodeConflict   = "conflict"
	errorCodeInternal   = "internal"
)

// Handler exposes job introspection over HTTP.
type Handler struct {
	Queue *Queue
}

// NewHandler constructs a Handler.
func NewHandler(q *Queue) *Handler {
	return &Handler{Queue: q}
}

// RegisterRoutes attaches job routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/jobs", h.list)
	rg.GET("/jobs/:id", h.status)
	rg.POST("/jobs/:id/retry", h.retry)
}

// queueFor resolves the queue from ?queue= or, failing that, the id prefix.
func queueFor(c *gin.Context, id string) (string, bool) {
	if q := strings.TrimSpace(c.Query("queue")); q != "" {
		return q, q == QueueAnalysis || q == QueueFinalize
	}
	return QueueOf(id)
}

func (h *Handler) status(c *gin.Context) {
	id := c.Param("id")
	queueName, ok := queueFor(c, id)
	if !ok {
		respond.Error(c, http.StatusBadRequest, errorCodeValidation, "queue must be analysis or finalize", nil)
		return
	}
	c.Set("jobId", id)
	st, err := h.Queue.GetStatus(c.Request.Context(), queueName, id)
	if errors.Is(err, ErrNotFound) {
		respond.Error(c, http.StatusNotFound, errorCodeNotFound, "job not found", nil)
		return
	}
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, errorCodeInternal, "failed to get job", nil)
		return
	}
	respond.OK(c, st)
}

func (h *Handler) retry(c *gin.Context) {
	id := c.Param("id")
	queueName, ok := queueFor(c, id)
	if !ok {
		respond.Error(c, http.StatusBadRequest, errorCodeValidation, "queue must be analysis or finalize", nil)
		return
	}
	c.Set("jobId", id)
	switch err := h.Queue.Retry(c.Request.Context(), queueName, id); {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, errorCodeNotFound, "job not found", nil)
		return
	case errors.Is(err, ErrNotFailed):
		respond.Error(c, http.StatusConflict, errorCodeConflict, "only failed jobs can be retried", nil)
		return
	case err != nil:
		respond.Error(c, http.StatusInternalServerError, errorCodeInternal, "failed to retry job", nil)
		return
	}
	st, err := h.Queue.GetStatus(c.Request.Context(), queueName, id)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, errorCodeInternal, "failed to get job", nil)
		return
	}
	respond.JSON(c, http.StatusAccepted, st)
}

func (h *Handler) list(c *gin.Context) {
	queueName := c.Query("queue")
	if queueName != QueueAnalysis && queueName != QueueFinalize {
		respond.Error(c, http.StatusBadRequest, errorCodeValidation, "queue must be analysis or finalize", nil)
		return
	}
	state := State(c.Query("state"))
	if state != "" && !state.Valid() {
		respond.Error(c, http.StatusBadRequest, errorCodeValidation, "invalid state", nil)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	list, err := h.Queue.List(c.Request.Context(), queueName, state, limit)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, errorCodeInternal, "failed to list jobs", nil)
		return
	}
	respond.OK(c, list)
}
