package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ilyes-bd/presence-api/internal/service"
)

// Metrics records one HTTP observation per request. The route template is
// used as the path label so unmatched paths cannot blow up cardinality.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	if metricsSvc == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
