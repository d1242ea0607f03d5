package handlers

import (
	"fmt"
	"io"
	"net/http"

	"attendance-go/internal/attendance"
	"attendance-go/internal/camera"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// MarkFromCamera resolves an attendance attempt against the most recent
// camera frame.
func (h *APIHandler) MarkFromCamera(c *gin.Context) {
	if h.camera == nil {
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": "Camera is not enabled"})
		return
	}

	frame, err := h.camera.CurrentFrame()
	if err != nil {
		if err == camera.ErrNoFrame {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No video frame captured"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to read camera frame: %v", err)})
		return
	}

	report := h.service.TakeAttendance(c.Request.Context(), frame, "camera")
	c.JSON(reportStatusCode(report), report)
}

// MarkFromUpload resolves an attendance attempt against an uploaded
// snapshot.
func (h *APIHandler) MarkFromUpload(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded or invalid form data"})
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to read image data: %v", err)})
		return
	}

	report := h.service.TakeAttendance(c.Request.Context(), image, "upload")
	c.JSON(reportStatusCode(report), report)
}

// ListAttendance returns all ledger rows in insertion order.
func (h *APIHandler) ListAttendance(c *gin.Context) {
	records, err := h.ledger.Records()
	if err != nil {
		log.WithError(err).Error("Failed to load attendance records")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load attendance records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

// ExportAttendance streams the ledger as a CSV download.
func (h *APIHandler) ExportAttendance(c *gin.Context) {
	data, err := h.ledger.ExportCSV()
	if err != nil {
		log.WithError(err).Error("Failed to export attendance ledger")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export attendance ledger"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="attendance.csv"`)
	c.Data(http.StatusOK, "text/csv", data)
}

// reportStatusCode maps a report to an HTTP status. Unknown and
// already-marked are expected outcomes and stay 200; only a matcher or
// storage failure becomes an error status.
func reportStatusCode(report attendance.Report) int {
	if report.Status == attendance.StatusError {
		return http.StatusBadGateway
	}
	return http.StatusOK
}
