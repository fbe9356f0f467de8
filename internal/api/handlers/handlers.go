package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/The-Promised-Neverland/vsharing/internal/models"
	"github.com/The-Promised-Neverland/vsharing/internal/service"
	"github.com/The-Promised-Neverland/vsharing/internal/store"
)

// multipartSlack covers boundaries and part headers on top of the file limit.
const multipartSlack = 1 << 20

type Handler struct {
	Service *service.Service
}

func NewHandler(s *service.Service) *Handler {
	return &Handler{Service: s}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, models.Message{
		Type:    "health_check",
		Payload: h.Service.Health(),
	})
}

func (h *Handler) Upload(c *gin.Context) {
	if limit := h.Service.MaxUploadBytes(); limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartSlack)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "message": "File too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No file uploaded"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to read upload"})
		return
	}
	defer f.Close()

	info, err := h.Service.Upload(f, fh.Filename, fh.Header.Get("Content-Type"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "fileInfo": info})
	case errors.Is(err, service.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "message": "File too large"})
	case errors.Is(err, store.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No file uploaded"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to store file"})
	}
}

func (h *Handler) HasFile(c *gin.Context) {
	hasFile, info := h.Service.HasFile(c.Param("fileId"), c.Param("clientId"))
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"hasFile":  hasFile,
		"fileInfo": info,
	})
}

// View serves the file inline with headers that discourage caching, saving
// and script execution.
func (h *Handler) View(c *gin.Context) {
	view, err := h.Service.View(c.Param("fileId"), c.Param("clientId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "File not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Error reading file"})
		return
	}
	if view.AlreadyDownloaded {
		c.JSON(http.StatusOK, gin.H{
			"success":           true,
			"alreadyDownloaded": true,
			"fileInfo":          view.Info,
		})
		return
	}
	body, err := view.Open()
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Error reading file"})
		return
	}
	defer body.Close()

	c.DataFromReader(http.StatusOK, view.Info.Size, view.Info.MimeType, body, map[string]string{
		"Content-Disposition":     "inline",
		"Content-Security-Policy": "default-src 'none'; script-src 'none';",
		"X-Content-Type-Options":  "nosniff",
		"Cache-Control":           "no-store",
		"Pragma":                  "no-cache",
	})
}
