package api

import (
	"github.com/gin-gonic/gin"

	"github.com/chatkeeper/chatkeeper/log"
	"github.com/chatkeeper/chatkeeper/session"
)

// GetSessions handles GET /api/sessions — the grouped session listing as a
// flat node list ready for tree rendering.
func (h *Handlers) GetSessions(c *gin.Context) {
	sessions := h.store.Sessions()
	groups := session.GroupByWorkspace(sessions)
	RespondList(c, session.TreeNodes(groups))
}

// GetSession handles GET /api/sessions/:id
func (h *Handlers) GetSession(c *gin.Context) {
	s, err := h.store.Get(c.Param("id"))
	if err != nil {
		RespondNotFound(c, "session not found")
		return
	}
	RespondData(c, s)
}

// TriggerScan handles POST /api/scan — a full rescan of the storage root.
// The scan runs synchronously; incremental results stream out over the
// notification channel while it does.
func (h *Handlers) TriggerScan(c *gin.Context) {
	sessions, err := h.store.Refresh(c.Request.Context())
	if err != nil {
		if c.Request.Context().Err() != nil {
			return
		}
		log.Error().Err(err).Msg("scan failed")
		RespondInternalError(c, "scan failed")
		return
	}
	RespondData(c, gin.H{"sessionCount": len(sessions)})
}
