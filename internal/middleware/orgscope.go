package middleware

import (
  "net/http"
  "strings"
  "github.com/gin-gonic/gin"
  "github.com/google/uuid"
  "github.com/viamet/roadwatch-backend/internal/logger"
  "github.com/viamet/roadwatch-backend/internal/requestdata"
)

// OrgScopeMiddleware resolves the tenant for every request from the X-Org-ID
// header. Authentication happens upstream at the gateway; by the time a
// request reaches this service the header is trusted.
type OrgScopeMiddleware struct {
  log           *logger.Logger
  defaultOrgID  uuid.UUID
}

func NewOrgScopeMiddleware(log *logger.Logger, defaultOrgID uuid.UUID) *OrgScopeMiddleware {
  middlewareLogger := log.With("Middleware", "OrgScopeMiddleware")
  return &OrgScopeMiddleware{log: middlewareLogger, defaultOrgID: defaultOrgID}
}

func (om *OrgScopeMiddleware) RequireOrg() gin.HandlerFunc {
  return func(c *gin.Context) {
    orgID := om.defaultOrgID
    raw := strings.TrimSpace(c.GetHeader("X-Org-ID"))
    if raw != "" {
      parsed, err := uuid.Parse(raw)
      if err != nil {
        c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid X-Org-ID header"})
        return
      }
      orgID = parsed
    }
    if orgID == uuid.Nil {
      c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing org scope"})
      return
    }
    ctx := requestdata.WithRequestData(c.Request.Context(), &requestdata.RequestData{
      OrgID:     orgID,
      RequestID: c.GetHeader("X-Request-ID"),
    })
    c.Request = c.Request.WithContext(ctx)
    c.Next()
  }
}
