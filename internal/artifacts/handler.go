package artifacts

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"audiobrand-backend/internal/shared/server/respond"
	"audiobrand-backend/internal/shared/storage/object"
)

// Handler serves artifact downloads.
type Handler struct {
	Repo  Repo
	Store object.ObjectStore
	TTL   time.Duration
}

// NewHandler constructs a Handler. A zero ttl uses object.DefaultPresignTTL.
func NewHandler(repo Repo, store object.ObjectStore, ttl time.Duration) *Handler {
	if ttl <= 0 {
		ttl = object.DefaultPresignTTL
	}
	return &Handler{Repo: repo, Store: store, TTL: ttl}
}

// RegisterRoutes attaches artifact routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/artifacts/:id/download", h.download)
}

func (h *Handler) download(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := h.Repo.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "artifact not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load artifact", nil)
		return
	}

	url, err := h.Store.PresignGet(ctx, a.StorageKey, h.TTL)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "storage_error", "failed to presign download", nil)
		return
	}
	respond.OK(c, gin.H{
		"url":       url,
		"filename":  a.Filename,
		"type":      a.Type,
		"expiresIn": int(h.TTL.Seconds()),
	})
}
