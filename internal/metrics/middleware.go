package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPMetricsMiddleware собирает метрики HTTP запросов API.
// Метка endpoint - шаблон маршрута (/api/v1/views/:id/...), не сырой путь.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		switch {
		case path == "/metrics":
			c.Next()
			return
		case c.IsWebsocket():
			// Длительность websocket соединения не является латентностью запроса
			c.Next()
			return
		case path == "":
			path = "unmatched"
		}

		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
