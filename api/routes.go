package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *Handlers) {
	api := r.Group("/api")

	// Session routes - static routes first
	api.GET("/sessions", h.GetSessions)
	api.POST("/sessions/archive-selected", h.ArchiveSelected)
	api.GET("/sessions/:id", h.GetSession)
	api.POST("/sessions/:id/archive", h.ArchiveSession)
	api.POST("/sessions/:id/restore", h.RestoreSession)
	api.DELETE("/sessions/:id", h.DeleteSession)

	// Workspace routes
	api.POST("/workspaces/:name/archive-all", h.ArchiveWorkspace)

	// Archive routes
	api.GET("/archive", h.GetArchived)
	api.POST("/archive/empty", h.EmptyArchive)

	// Scan
	api.POST("/scan", h.TriggerScan)

	// Status
	api.GET("/status", h.GetStatus)

	// Notifications (SSE)
	api.GET("/notifications/stream", h.NotificationStream)
}
