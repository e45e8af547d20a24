package middleware

import (
  "time"
  "github.com/gin-gonic/gin"
  "github.com/viamet/roadwatch-backend/internal/logger"
  "github.com/viamet/roadwatch-backend/internal/requestdata"
)

// RequestLog logs one structured line per request with latency and org scope.
func RequestLog(log *logger.Logger) gin.HandlerFunc {
  requestLogger := log.With("Middleware", "RequestLog")
  return func(c *gin.Context) {
    start := time.Now()
    c.Next()
    requestLogger.Info("Request",
      "method", c.Request.Method,
      "path", c.FullPath(),
      "status", c.Writer.Status(),
      "duration_ms", time.Since(start).Milliseconds(),
      "org_id", requestdata.OrgID(c.Request.Context()),
    )
  }
}
