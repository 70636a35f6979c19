package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/finkargo/tip-analytics/internal/api/middleware"
)

var (
	errEmptyUpload    = errors.New("upload is empty")
	errUploadTooLarge = errors.New("upload exceeds size limit")
)

// Upload accepts a multipart "file" field or a raw text body.
func (h *Handler) Upload(c *gin.Context) {
	tenantID := c.GetString(middleware.TenantIDKey)

	content, err := h.readContent(c)
	if err != nil {
		h.respondContentError(c, err)
		return
	}

	result := h.service.UploadTabularData(c.Request.Context(), tenantID, content)

	if h.uploads != nil {
		if err := h.uploads.RecordUpload(c.Request.Context(), tenantID, result); err != nil {
			h.logger.Warn("Failed to record upload",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
		}
	}

	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Validate(c *gin.Context) {
	content, err := h.readContent(c)
	if err != nil {
		h.respondContentError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.service.ValidateTabularData(c.Request.Context(), content))
}

func (h *Handler) ListUploads(c *gin.Context) {
	if h.uploads == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Upload log is not configured"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}

	tenantID := c.GetString(middleware.TenantIDKey)
	records, err := h.uploads.ListUploads(c.Request.Context(), tenantID, limit)
	if err != nil {
		h.logger.Error("Failed to list uploads", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list uploads"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uploads": records})
}

func (h *Handler) readContent(c *gin.Context) (string, error) {
	var r io.Reader = c.Request.Body

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		header, err := c.FormFile("file")
		if err != nil {
			return "", fmt.Errorf("file field required: %w", err)
		}
		if header.Size > h.maxUploadBytes {
			return "", errUploadTooLarge
		}
		f, err := header.Open()
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, h.maxUploadBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > h.maxUploadBytes {
		return "", errUploadTooLarge
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errEmptyUpload
	}
	return string(data), nil
}

func (h *Handler) respondContentError(c *gin.Context, err error) {
	if errors.Is(err, errUploadTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
