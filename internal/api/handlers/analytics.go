package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finkargo/tip-analytics/internal/analytics"
	"github.com/finkargo/tip-analytics/internal/api/middleware"
	"github.com/finkargo/tip-analytics/internal/core"
)

// AllResponse is the body of GET /analytics/all.
type AllResponse struct {
	analytics.AllAnalytics
	AnyError     bool `json:"any_error"`
	FallbackUsed bool `json:"fallback_used"`
}

// GetAnalytics serves one data type through the fallback chain.
func (h *Handler) GetAnalytics(c *gin.Context) {
	dataType := core.DataType(c.Param("type"))
	tenantID := c.GetString(middleware.TenantIDKey)

	res := h.service.FetchWithFallback(c.Request.Context(), tenantID, dataType)
	switch {
	case !dataType.Valid():
		c.JSON(http.StatusNotFound, res)
	case !res.Success:
		c.JSON(http.StatusServiceUnavailable, res)
	default:
		c.JSON(http.StatusOK, res)
	}
}

// GetAllAnalytics fails only when no slice could be served.
func (h *Handler) GetAllAnalytics(c *gin.Context) {
	tenantID := c.GetString(middleware.TenantIDKey)

	all, _ := h.service.GetAllAnalytics(c.Request.Context(), tenantID)
	body := AllResponse{
		AllAnalytics: all,
		AnyError:     all.AnyError(),
		FallbackUsed: all.FallbackUsed(),
	}
	if len(all.Errors) == 4 {
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.GetHealthStatus(c.Request.Context()))
}

func (h *Handler) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.service.Providers()})
}

// RemoveProvider drops a provider from the chain. Synthetic providers are the
// terminal success path for every tenant and cannot be removed over HTTP.
func (h *Handler) RemoveProvider(c *gin.Context) {
	name := c.Param("name")
	for _, p := range h.service.Providers() {
		if p.Name == name && p.Synthetic {
			c.JSON(http.StatusConflict, gin.H{"error": "Fallback provider cannot be removed"})
			return
		}
	}
	if !h.service.RemoveProvider(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Provider not found"})
		return
	}
	if h.metrics != nil {
		h.metrics.ForgetProvider(name)
	}
	c.JSON(http.StatusOK, gin.H{"removed": name, "providers": h.service.Providers()})
}
