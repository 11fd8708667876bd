package chat

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"audiobrand-backend/internal/projects"
	"audiobrand-backend/internal/shared/server/respond"
	"audiobrand-backend/internal/shared/telemetry"
)

// Handler serves the SSE chat route.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches chat routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/projects/:id/chat/stream", h.stream)
}

// stream emits ack, a token event per delta, then done and a final [DONE]
// message. Failures after the first byte are reported as an error event.
func (h *Handler) stream(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	projectID := c.Param("id")
	c.Set("projectId", projectID)

	ctx := c.Request.Context()
	turn, err := h.Svc.Start(ctx, projectID, c.GetHeader("X-User-Id"), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput), errors.Is(err, projects.ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		case errors.Is(err, projects.ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "project not found", nil)
		default:
			_ = c.Error(err)
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start chat stream", nil)
		}
		return
	}
	defer turn.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	send := func(event string, data any) {
		c.SSEvent(event, data)
		c.Writer.Flush()
	}
	send("ack", gin.H{"type": "ack", "message": projects.ToMessageResponse(turn.UserMessage)})

	for {
		delta, err := turn.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.abort(c, projectID, err, send)
			return
		}
		send("token", gin.H{"type": "token", "content": delta})
	}

	// The reply is stored even if the client went away after the last delta.
	msg, err := turn.Finish(context.WithoutCancel(ctx))
	if err != nil {
		h.abort(c, projectID, err, send)
		return
	}
	send("done", gin.H{"type": "done", "message": projects.ToMessageResponse(msg)})
	send("message", "[DONE]")
}

func (h *Handler) abort(c *gin.Context, projectID string, err error, send func(string, any)) {
	_ = c.Error(err)
	telemetry.Error("chat.stream.failed", map[string]any{"project_id": projectID, "error": err.Error()})
	if c.Request.Context().Err() != nil {
		return
	}
	send("error", gin.H{"type": "error", "error": "streaming chat failed"})
}
