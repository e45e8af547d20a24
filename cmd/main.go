package main

import (
  "context"
  "fmt"
  "os"
  "time"
  "github.com/google/uuid"
  "github.com/viamet/roadwatch-backend/internal/clients/redis"
  "github.com/viamet/roadwatch-backend/internal/config"
  "github.com/viamet/roadwatch-backend/internal/db"
  "github.com/viamet/roadwatch-backend/internal/geo"
  "github.com/viamet/roadwatch-backend/internal/geosource"
  "github.com/viamet/roadwatch-backend/internal/handlers"
  "github.com/viamet/roadwatch-backend/internal/logger"
  "github.com/viamet/roadwatch-backend/internal/middleware"
  "github.com/viamet/roadwatch-backend/internal/observability"
  "github.com/viamet/roadwatch-backend/internal/repos"
  "github.com/viamet/roadwatch-backend/internal/resolver"
  "github.com/viamet/roadwatch-backend/internal/server"
  "github.com/viamet/roadwatch-backend/internal/services"
  "github.com/viamet/roadwatch-backend/internal/utils"
  "gorm.io/gorm"
)

func main() {
  // Logger
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    fmt.Printf("Failed to init logger: %v\n", err)
    os.Exit(1)
  }
  defer log.Sync()

  // Tracing
  otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
    ServiceName: "roadwatch-backend",
    Environment: os.Getenv("APP_ENV"),
    Version:     os.Getenv("APP_VERSION"),
  })
  if otelShutdown != nil {
    defer func() {
      ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
      defer cancel()
      _ = otelShutdown(ctx)
    }()
  }

  // Env
  log.Info("Loading environment variables from main...")
  datasetConfigPath := utils.GetEnv("DATASET_CONFIG", "datasets.yaml", log)
  multilinePolicy := parseMultiLinePolicy(utils.GetEnv("GEOM_MULTILINE_POLICY", "first", log))
  resolverTTL := utils.GetEnvAsDuration("RESOLVER_CACHE_TTL", resolver.TTLForProfile(logMode), log)
  resolverMaxEntries := utils.GetEnvAsInt("RESOLVER_CACHE_MAX_ENTRIES", 10000, log)
  sourceTimeout := utils.GetEnvAsDuration("GEOM_SOURCE_TIMEOUT", 5*time.Second, log)
  defaultOrg := utils.GetEnv("DEFAULT_ORG_ID", "", log)

  // Postgres; the service still runs on the file source alone when the
  // database is unreachable.
  var gormDB *gorm.DB
  postgresService, err := db.NewPostgresService(log)
  if err != nil {
    log.Warn("Postgres init failed", "error", err)
  } else {
    if err = postgresService.AutoMigrateAll(); err != nil {
      log.Warn("Postgres auto migration failed", "error", err)
    }
    gormDB = postgresService.DB()
  }

  // Redis tile cache (optional)
  tileCache, err := redis.NewTileCache(log)
  if err != nil {
    log.Warn("Tile cache disabled", "error", err)
    tileCache = nil
  } else {
    defer tileCache.Close()
  }

  // Dataset config for the file-backed geometry source
  var datasetConfig *config.DatasetConfig
  if cfg, err := config.LoadDatasets(datasetConfigPath); err != nil {
    log.Warn("Dataset config not loaded, file source has no datasets", "path", datasetConfigPath, "error", err)
  } else {
    datasetConfig = cfg
  }

  // Geometry sources: database first, file fallback
  log.Info("Setting up geometry sources from main...")
  var sources []geosource.Source
  if gormDB != nil {
    sources = append(sources, geosource.NewDBSource(gormDB, log, multilinePolicy, sourceTimeout))
  }
  fileSource := geosource.NewFileSource(log, datasetConfig, multilinePolicy, sourceTimeout)
  sources = append(sources, fileSource)
  chain := geosource.NewChain(log, sources...)

  // Repos
  log.Info("Setting up Repos from main...")
  roadRatingRepo := repos.NewRoadRatingRepo(gormDB, log)
  roadRatingLogRepo := repos.NewRoadRatingLogRepo(gormDB, log)

  // Services
  log.Info("Setting up Services from main...")
  nearestResolver := resolver.New(log, chain, resolverTTL, resolverMaxEntries)
  ratingService := services.NewRatingService(gormDB, log, chain, roadRatingRepo, roadRatingLogRepo)
  tileService := services.NewTileService(log, chain, roadRatingRepo, tileCache)
  mapService := services.NewMapService(log, chain, roadRatingRepo)

  // Handlers
  log.Info("Setting up handlers from main...")
  roadNetHandler := handlers.NewRoadNetHandler(log, nearestResolver, chain, mapService)
  tileHandler := handlers.NewTileHandler(log, tileService)
  ratingHandler := handlers.NewRatingHandler(log, ratingService)

  // Middleware
  log.Info("Setting up middleware from main...")
  defaultOrgID := uuid.Nil
  if defaultOrg != "" {
    if parsed, err := uuid.Parse(defaultOrg); err == nil {
      defaultOrgID = parsed
    } else {
      log.Warn("Invalid DEFAULT_ORG_ID, ignoring", "value", defaultOrg)
    }
  }
  orgMiddleware := middleware.NewOrgScopeMiddleware(log, defaultOrgID)

  // Router
  log.Info("Setting up router from main...")
  router := server.NewRouter(server.RouterConfig{
    Log:            log,
    OrgMiddleware:  orgMiddleware,
    RoadNetHandler: roadNetHandler,
    TileHandler:    tileHandler,
    RatingHandler:  ratingHandler,
  })

  port := utils.GetEnv("PORT", "8080", log)
  fmt.Printf("Server listening on :%s\n", port)
  if err := router.Run(":" + port); err != nil {
    log.Warn("Server failed", "error", err)
  }
}

func parseMultiLinePolicy(raw string) geo.MultiLinePolicy {
  switch raw {
  case string(geo.MultiLineLongest):
    return geo.MultiLineLongest
  case string(geo.MultiLineAll):
    return geo.MultiLineAll
  default:
    return geo.MultiLineFirst
  }
}
