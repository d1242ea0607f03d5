package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"attendance-go/internal/gallery"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RegisterIdentity enrolls an uploaded reference image under a name.
// Re-enrolling an existing name replaces the previous reference.
func (h *APIHandler) RegisterIdentity(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing identity name"})
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image uploaded or invalid form data"})
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to read image data: %v", err)})
		return
	}

	if err := h.service.RegisterIdentity(c.Request.Context(), name, image, header.Filename); err != nil {
		if errors.Is(err, gallery.ErrInvalidName) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.WithError(err).Errorf("Failed to enroll identity '%s'", name)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enroll identity"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Identity '%s' enrolled successfully", name),
	})
}

// ListIdentities returns the enrolled identities.
func (h *APIHandler) ListIdentities(c *gin.Context) {
	identities, err := h.gallery.Identities()
	if err != nil {
		log.WithError(err).Error("Failed to load identities")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load identities"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"identities": identities, "count": len(identities)})
}
