// import-roads loads every GeoPackage dataset from the dataset config into
// the road_geometry table, so the database-backed geometry source can serve
// the network without the files. Safe to re-run: rows upsert on
// (org_id, road_id).
package main

import (
  "context"
  "fmt"
  "os"
  "time"
  "github.com/viamet/roadwatch-backend/internal/config"
  "github.com/viamet/roadwatch-backend/internal/db"
  "github.com/viamet/roadwatch-backend/internal/geo"
  "github.com/viamet/roadwatch-backend/internal/geosource"
  "github.com/viamet/roadwatch-backend/internal/logger"
  "github.com/viamet/roadwatch-backend/internal/repos"
  "github.com/viamet/roadwatch-backend/internal/types"
  "github.com/viamet/roadwatch-backend/internal/utils"
)

const upsertBatchSize = 500

func main() {
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

  datasetConfigPath := utils.GetEnv("DATASET_CONFIG", "datasets.yaml", log)
  loadTimeout := utils.GetEnvAsDuration("GEOM_SOURCE_TIMEOUT", 5*time.Minute, log)

  datasetConfig, err := config.LoadDatasets(datasetConfigPath)
  if err != nil {
    log.Error("Failed to load dataset config", "path", datasetConfigPath, "error", err)
    os.Exit(1)
  }

  postgresService, err := db.NewPostgresService(log)
  if err != nil {
    log.Error("Postgres init failed", "error", err)
    os.Exit(1)
  }
  if err := postgresService.AutoMigrateAll(); err != nil {
    log.Error("Postgres auto migration failed", "error", err)
    os.Exit(1)
  }

  roadGeometryRepo := repos.NewRoadGeometryRepo(postgresService.DB(), log)
  fileSource := geosource.NewFileSource(log, datasetConfig, geo.MultiLineAll, loadTimeout)

  // The file source index already decodes and deduplicates every feature;
  // a world bounding box drains it per org.
  world := geo.BBox{MinLng: -180, MinLat: -90, MaxLng: 180, MaxLat: 90}
  ctx := context.Background()
  for orgID := range datasetConfig.ByOrg() {
    features, err := fileSource.QueryBBox(ctx, orgID, world, 0)
    if err != nil {
      log.Error("Failed to load datasets for org", "org_id", orgID, "error", err)
      os.Exit(1)
    }

    imported := 0
    batch := make([]*types.RoadGeometry, 0, upsertBatchSize)
    flush := func() error {
      if len(batch) == 0 {
        return nil
      }
      if err := roadGeometryRepo.UpsertBatch(ctx, nil, batch); err != nil {
        return err
      }
      imported += len(batch)
      batch = batch[:0]
      return nil
    }

    for _, f := range features {
      batch = append(batch, &types.RoadGeometry{
        OrgID:     orgID,
        RoadID:    f.RoadID,
        Name:      f.Name,
        RoadClass: f.RoadClass,
        Geom:      geo.EncodeEWKB(f.Geometry, 4326),
      })
      if len(batch) >= upsertBatchSize {
        if err := flush(); err != nil {
          log.Error("Upsert batch failed", "org_id", orgID, "error", err)
          os.Exit(1)
        }
      }
    }
    if err := flush(); err != nil {
      log.Error("Upsert batch failed", "org_id", orgID, "error", err)
      os.Exit(1)
    }

    total, err := roadGeometryRepo.CountByOrg(ctx, nil, orgID)
    if err != nil {
      log.Warn("Count after import failed", "org_id", orgID, "error", err)
    }
    log.Info("Imported road geometries", "org_id", orgID, "imported", imported, "total_rows", total)
  }
}
