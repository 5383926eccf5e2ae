// README: Access logging and HTTP metrics.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tourdispatch/internal/metrics"
)

func Logging(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		code := strconv.Itoa(status)
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, path, code).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, path, code).Observe(elapsed.Seconds())

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
		}
		if uid := CallerUID(c); uid != "" {
			fields = append(fields, zap.String("caller", uid))
		}
		if status >= 500 {
			log.Error("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}
