package api

import (
	"github.com/gin-gonic/gin"

	"github.com/chatkeeper/chatkeeper/archive"
	"github.com/chatkeeper/chatkeeper/log"
)

// ArchiveSession handles POST /api/sessions/:id/archive
func (h *Handlers) ArchiveSession(c *gin.Context) {
	id := c.Param("id")
	archivePath, err := h.engine.Archive(id)
	if err != nil {
		if _, getErr := h.store.Get(id); getErr != nil {
			if _, archived := h.findArchived(id); archived {
				RespondConflict(c, "session is already archived")
				return
			}
			RespondNotFound(c, "session not found")
			return
		}
		log.Error().Err(err).Str("sessionId", id).Msg("archive failed")
		RespondInternalError(c, "failed to archive session")
		return
	}
	RespondData(c, gin.H{"archivePath": archivePath})
}

type restoreRequest struct {
	DestDir string `json:"destDir"`
}

// RestoreSession handles POST /api/sessions/:id/restore. The newest archived
// generation of the session is restored; the body may carry an explicit
// destination directory.
func (h *Handlers) RestoreSession(c *gin.Context) {
	id := c.Param("id")

	var req restoreRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondBadRequest(c, "invalid request body")
			return
		}
	}

	entry, ok := h.findArchived(id)
	if !ok {
		RespondNotFound(c, "no archived transcript for session")
		return
	}

	restoredPath, err := h.engine.Restore(entry.ArchivePath, req.DestDir)
	if err != nil {
		log.Error().Err(err).Str("sessionId", id).Msg("restore failed")
		RespondInternalError(c, "failed to restore session")
		return
	}
	RespondData(c, gin.H{"restoredPath": restoredPath})
}

// DeleteSession handles DELETE /api/sessions/:id — permanent deletion of the
// session's archived transcript.
func (h *Handlers) DeleteSession(c *gin.Context) {
	id := c.Param("id")

	entry, ok := h.findArchived(id)
	if !ok {
		RespondNotFound(c, "no archived transcript for session")
		return
	}

	if err := h.engine.PermanentDelete(entry.ArchivePath); err != nil {
		log.Error().Err(err).Str("sessionId", id).Msg("permanent delete failed")
		RespondInternalError(c, "failed to delete archived session")
		return
	}
	RespondNoContent(c)
}

// findArchived returns the newest archived entry for a session id.
func (h *Handlers) findArchived(sessionID string) (archive.Entry, bool) {
	entries, err := h.engine.ListArchived("")
	if err != nil {
		log.Warn().Err(err).Msg("failed to list archive")
		return archive.Entry{}, false
	}
	// Entries are newest first
	for _, entry := range entries {
		if entry.SessionID == sessionID {
			return entry, true
		}
	}
	return archive.Entry{}, false
}

// GetArchived handles GET /api/archive with an optional ?workspace= filter.
func (h *Handlers) GetArchived(c *gin.Context) {
	entries, err := h.engine.ListArchived(c.Query("workspace"))
	if err != nil {
		log.Error().Err(err).Msg("failed to list archive")
		RespondInternalError(c, "failed to list archive")
		return
	}
	RespondList(c, entries)
}

type archiveSelectedRequest struct {
	SessionIDs []string `json:"sessionIds" binding:"required"`
}

// ArchiveSelected handles POST /api/sessions/archive-selected. Cancelling the
// request stops the run between sessions; sessions already archived stay
// archived.
func (h *Handlers) ArchiveSelected(c *gin.Context) {
	var req archiveSelectedRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.SessionIDs) == 0 {
		RespondBadRequest(c, "sessionIds is required")
		return
	}

	result, err := h.engine.ArchiveMany(c.Request.Context(), req.SessionIDs)
	if err != nil {
		log.Error().Err(err).Msg("bulk archive failed")
		RespondInternalError(c, "bulk archive failed")
		return
	}
	RespondData(c, result)
}

// ArchiveWorkspace handles POST /api/workspaces/:name/archive-all
func (h *Handlers) ArchiveWorkspace(c *gin.Context) {
	name := c.Param("name")
	result, err := h.engine.ArchiveWorkspace(c.Request.Context(), name)
	if err != nil {
		log.Error().Err(err).Str("workspace", name).Msg("workspace archive failed")
		RespondInternalError(c, "workspace archive failed")
		return
	}
	RespondData(c, result)
}

type emptyArchiveRequest struct {
	Workspace     string `json:"workspace"`
	OlderThanDays int    `json:"olderThanDays"`
}

// EmptyArchive handles POST /api/archive/empty
func (h *Handlers) EmptyArchive(c *gin.Context) {
	var req emptyArchiveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondBadRequest(c, "invalid request body")
			return
		}
	}
	if req.OlderThanDays < 0 {
		RespondBadRequest(c, "olderThanDays must not be negative")
		return
	}

	result, err := h.engine.EmptyArchive(c.Request.Context(), req.Workspace, req.OlderThanDays)
	if err != nil {
		log.Error().Err(err).Msg("empty archive failed")
		RespondInternalError(c, "empty archive failed")
		return
	}
	RespondData(c, result)
}
