package handlers

import (
	"attendance-go/config"
	"attendance-go/internal/attendance"
	"attendance-go/internal/camera"
	"attendance-go/internal/gallery"
	"attendance-go/internal/sse"

	"github.com/gin-gonic/gin"
)

// APIHandler bundles the HTTP endpoints and their dependencies.
type APIHandler struct {
	cfg     *config.Config
	service *attendance.Service
	ledger  *attendance.Ledger
	gallery *gallery.Store
	camera  *camera.Source // nil when the camera is disabled
	hub     *sse.Hub
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(cfg *config.Config, service *attendance.Service, ledger *attendance.Ledger,
	store *gallery.Store, cam *camera.Source, hub *sse.Hub) *APIHandler {
	return &APIHandler{
		cfg:     cfg,
		service: service,
		ledger:  ledger,
		gallery: store,
		camera:  cam,
		hub:     hub,
	}
}

// RegisterRoutes registers all routes on the engine.
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.Index)
	router.GET("/video_feed", h.VideoFeed)

	api := router.Group("/api")
	{
		// Attendance endpoints
		api.POST("/attendance/camera", h.MarkFromCamera)
		api.POST("/attendance/upload", h.MarkFromUpload)
		api.GET("/attendance", h.ListAttendance)
		api.GET("/attendance/export", h.ExportAttendance)

		// Identity endpoints
		api.POST("/identities", h.RegisterIdentity)
		api.GET("/identities", h.ListIdentities)

		// System endpoints
		api.GET("/status", h.GetStatus)
		api.GET("/events", h.Events)
	}
}
