package server

import (
  "github.com/gin-gonic/gin"
  "github.com/gin-contrib/cors"
  "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
  "github.com/viamet/roadwatch-backend/internal/handlers"
  "github.com/viamet/roadwatch-backend/internal/logger"
  "github.com/viamet/roadwatch-backend/internal/middleware"
)

type RouterConfig struct {
  Log               *logger.Logger
  OrgMiddleware     *middleware.OrgScopeMiddleware
  RoadNetHandler    *handlers.RoadNetHandler
  TileHandler       *handlers.TileHandler
  RatingHandler     *handlers.RatingHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.Default()

  // Cors
  router.Use(cors.New(cors.Config{
    AllowOrigins: []string{
      "http://localhost:80",
      "http://localhost:3000",
      "http://localhost:5174",
    },
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Org-ID", "X-Request-ID"},
    AllowCredentials: true,
  }))
  router.Use(otelgin.Middleware("roadwatch-backend"))
  router.Use(middleware.RequestLog(cfg.Log))

// ===============
// || Public    ||
// ===============
  router.GET("/healthcheck", handlers.HealthCheck)

// ===============
// || Org scope ||
// ===============
  scoped := router.Group("/")
  scoped.Use(cfg.OrgMiddleware.RequireOrg())
  // Roads
  api := scoped.Group("/api")
  api.GET("/roads/nearest-edge", cfg.RoadNetHandler.NearestEdge)
  api.POST("/roads/geometries", cfg.RoadNetHandler.Geometries)
  api.GET("/roads/map", cfg.RoadNetHandler.MapData)
  // Ratings
  api.POST("/surveys/:id/ratings", cfg.RatingHandler.IngestSurvey)
  api.DELETE("/surveys/:id/ratings", cfg.RatingHandler.RetractSurvey)
  // Tiles
  scoped.GET("/tiles/roads/:z/:x/:y", cfg.TileHandler.Tile)

  return router
}
