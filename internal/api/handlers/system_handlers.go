package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"attendance-go/internal/sse"
	"attendance-go/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Index serves the landing data the UI renders: who is enrolled and who
// has been marked so far.
func (h *APIHandler) Index(c *gin.Context) {
	identities, err := h.gallery.Identities()
	if err != nil {
		log.WithError(err).Error("Failed to load identities")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load identities"})
		return
	}
	records, err := h.ledger.Records()
	if err != nil {
		log.WithError(err).Error("Failed to load attendance records")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load attendance records"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"identities": identities,
		"attendance": records,
	})
}

// GetStatus reports system statistics and pipeline state.
func (h *APIHandler) GetStatus(c *gin.Context) {
	refs, err := h.gallery.List()
	if err != nil {
		log.WithError(err).Warn("Failed to enumerate gallery for status")
	}
	records, err := h.ledger.Records()
	if err != nil {
		log.WithError(err).Warn("Failed to load ledger for status")
	}

	c.JSON(http.StatusOK, gin.H{
		"system":          utils.CollectStats(),
		"enrolled":        len(refs),
		"marked":          len(records),
		"camera_enabled":  h.camera != nil,
		"recognizer_mode": h.cfg.Recognizer.Mode,
	})
}

// Events streams attendance events to the client via SSE.
func (h *APIHandler) Events(c *gin.Context) {
	client := make(sse.Client, 8)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case message, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent("attendance", string(message))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// VideoFeed streams the camera as MJPEG, one part per frame.
func (h *APIHandler) VideoFeed(c *gin.Context) {
	if h.camera == nil {
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": "Camera is not enabled"})
		return
	}

	fps := h.cfg.Camera.FPS
	if fps <= 0 {
		fps = 10
	}
	interval := time.Second / time.Duration(fps)

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		default:
		}

		frame, err := h.camera.CurrentFrame()
		if err != nil {
			time.Sleep(interval)
			return true
		}

		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
			return false
		}
		if _, err := w.Write(frame); err != nil {
			return false
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return false
		}

		time.Sleep(interval)
		return true
	})
}
