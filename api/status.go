package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatkeeper/chatkeeper/log"
	"github.com/chatkeeper/chatkeeper/state"
)

// StatusResponse summarizes the backend's runtime state.
type StatusResponse struct {
	InstanceID      string     `json:"instanceId"`
	Leader          bool       `json:"leader"`
	SessionCount    int        `json:"sessionCount"`
	ArchivedCount   int        `json:"archivedCount"`
	SkipListed      []string   `json:"skipListed"`
	LastAutoArchive *time.Time `json:"lastAutoArchive,omitempty"`
	LastAutoPurge   *time.Time `json:"lastAutoPurge,omitempty"`
}

// GetStatus handles GET /api/status
func (h *Handlers) GetStatus(c *gin.Context) {
	resp := StatusResponse{
		InstanceID:   h.elector.InstanceID(),
		Leader:       h.elector.IsLeader(),
		SessionCount: len(h.store.Sessions()),
		SkipListed:   h.engine.SkipList().IDs(),
	}

	if entries, err := h.engine.ListArchived(""); err == nil {
		resp.ArchivedCount = len(entries)
	} else {
		log.Warn().Err(err).Msg("failed to count archived sessions")
	}

	if t, err := h.db.GetMaintenanceTime(state.KeyLastAutoArchive); err == nil && !t.IsZero() {
		resp.LastAutoArchive = &t
	}
	if t, err := h.db.GetMaintenanceTime(state.KeyLastAutoPurge); err == nil && !t.IsZero() {
		resp.LastAutoPurge = &t
	}

	RespondData(c, resp)
}
