// README: Admin handlers for on-demand feed sync and demand maintenance.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"tourdispatch/internal/modules/feed"
)

type FeedSyncer interface {
	Sync(ctx context.Context) (feed.SyncResult, error)
}

type Maintainer interface {
	Maintain(ctx context.Context)
}

type AdminHandler struct {
	feed       FeedSyncer
	maintainer Maintainer
}

// NewAdminHandler accepts a nil syncer when no feed is configured.
func NewAdminHandler(syncer FeedSyncer, maintainer Maintainer) *AdminHandler {
	return &AdminHandler{feed: syncer, maintainer: maintainer}
}

func (h *AdminHandler) SyncFeed(c *gin.Context) {
	if h.feed == nil {
		writeError(c, http.StatusServiceUnavailable, "demand feed is not configured")
		return
	}
	res, err := h.feed.Sync(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		writeError(c, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *AdminHandler) Maintain(c *gin.Context) {
	h.maintainer.Maintain(c.Request.Context())
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok"})
}
