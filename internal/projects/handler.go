package projects

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"audiobrand-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the projects service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches project routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/projects", h.createProject)
	rg.GET("/projects/:id", h.getProject)
	rg.POST("/projects/:id/messages", h.postMessage)
	rg.GET("/projects/:id/messages", h.listMessages)
	rg.POST("/projects/:id/files/presign", h.presignUpload)
	rg.POST("/projects/:id/files", h.registerFile)
	rg.GET("/projects/:id/files", h.listFiles)
}

type createProjectRequest struct {
	BrandName    string `json:"brandName"`
	BrandWebsite string `json:"brandWebsite"`
}

func (h *Handler) createProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	p, err := h.Svc.Create(c.Request.Context(), c.GetHeader("X-User-Id"), req.BrandName, req.BrandWebsite)
	if err != nil {
		h.fail(c, err, "failed to create project")
		return
	}
	respond.JSON(c, http.StatusCreated, toProjectResponse(p))
}

func (h *Handler) getProject(c *gin.Context) {
	p, err := h.Svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to fetch project")
		return
	}
	respond.OK(c, toProjectResponse(p))
}

type postMessageRequest struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (h *Handler) postMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	msg, err := h.Svc.PostMessage(c.Request.Context(), c.Param("id"), req.Role, req.Content, c.GetHeader("X-User-Id"))
	if err != nil {
		h.fail(c, err, "failed to create message")
		return
	}
	respond.JSON(c, http.StatusCreated, ToMessageResponse(msg))
}

func (h *Handler) listMessages(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	page, err := h.Svc.ListMessages(c.Request.Context(), c.Param("id"), c.Query("cursor"), limit)
	if err != nil {
		h.fail(c, err, "failed to list messages")
		return
	}
	respond.OK(c, page)
}

type presignRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

func (h *Handler) presignUpload(c *gin.Context) {
	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	target, err := h.Svc.PresignUpload(c.Request.Context(), c.Param("id"), req.Filename, req.ContentType)
	if err != nil {
		h.fail(c, err, "failed to presign upload")
		return
	}
	respond.OK(c, target)
}

type registerFileRequest struct {
	StorageKey string `json:"storageKey"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType"`
	SizeBytes  int64  `json:"sizeBytes"`
}

func (h *Handler) registerFile(c *gin.Context) {
	var req registerFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	f, err := h.Svc.RegisterFile(c.Request.Context(), c.Param("id"), req.StorageKey, req.Filename, req.MimeType, req.SizeBytes)
	if err != nil {
		h.fail(c, err, "failed to register file")
		return
	}
	respond.JSON(c, http.StatusCreated, toFileResponse(f))
}

func (h *Handler) listFiles(c *gin.Context) {
	files, err := h.Svc.ListFiles(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to list files")
		return
	}
	out := make([]FileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, toFileResponse(f))
	}
	respond.OK(c, out)
}

func (h *Handler) fail(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "project not found", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrObjectAbsent):
		respond.Error(c, http.StatusBadRequest, "validation_error", "uploaded object not found", nil)
	case errors.Is(err, ErrPresignUnsupported):
		respond.Error(c, http.StatusNotImplemented, "not_supported", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
