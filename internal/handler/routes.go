package handler

import (
	"github.com/bodyback/bodyback-backend/internal/middleware"
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up all API routes
func RegisterRoutes(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, rateLimiter *middleware.RateLimiter, volumeHandler *SessionVolumeHandler, reportHandler *ReportHandler) {
	// API version 1
	api := e.Group("/api/v1")
	api.Use(authMiddleware.Authenticate())
	api.Use(middleware.RateLimitMiddleware(rateLimiter))

	// Session volume routes (protected)
	volumes := api.Group("/session-volumes")
	volumes.POST("", volumeHandler.CreateVolume)
	volumes.GET("", volumeHandler.ListVolumes)
	volumes.GET("/stats", volumeHandler.GetVolumeStats)
	volumes.GET("/period/:year/:month", volumeHandler.GetVolumesByPeriod)
	volumes.GET("/:id", volumeHandler.GetVolume)
	volumes.PUT("/:id", volumeHandler.UpdateVolume)
	volumes.DELETE("/:id", volumeHandler.DeleteVolume)
	volumes.POST("/:id/submit", volumeHandler.SubmitVolume)
	volumes.POST("/:id/read", volumeHandler.MarkVolumeRead)
	volumes.POST("/:id/approve", volumeHandler.ApproveVolume)
	volumes.POST("/:id/reject", volumeHandler.RejectVolume)
	volumes.POST("/:id/reopen", volumeHandler.ReopenVolume)
	volumes.POST("/:id/restore", volumeHandler.RestoreVolume)

	// Report routes (protected)
	reports := api.Group("/reports")
	reports.POST("/period/:year/:month", reportHandler.ExportPeriod)
}
