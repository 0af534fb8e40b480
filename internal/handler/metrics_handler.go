package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ilyes-bd/presence-api/internal/service"
	"github.com/ilyes-bd/presence-api/pkg/response"
)

// MetricsHandler serves the ops surface: prometheus scrape, health
// probes and the JSON stats snapshot.
type MetricsHandler struct {
	metrics *service.MetricsService
}

func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// Prometheus serves the scrape endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health answers liveness probes. Probes get a bare payload, not the
// API envelope.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Stats serves the aggregated instrumentation snapshot.
// @Summary System stats
// @Description Aggregated request, cache and database counters
// @Tags monitor
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /system/stats [get]
func (h *MetricsHandler) Stats(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil, nil)
}
