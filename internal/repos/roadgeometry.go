package repos

import (
  "context"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "gorm.io/gorm/clause"
  "github.com/viamet/roadwatch-backend/internal/logger"
  "github.com/viamet/roadwatch-backend/internal/types"
)

type RoadGeometryRepo interface {
  UpsertBatch(ctx context.Context, tx *gorm.DB, rows []*types.RoadGeometry) error
  GetByRoadIDs(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, roadIDs []string) ([]*types.RoadGeometry, error)
  CountByOrg(ctx context.Context, tx *gorm.DB, orgID uuid.UUID) (int64, error)
}

type roadGeometryRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewRoadGeometryRepo(db *gorm.DB, baseLog *logger.Logger) RoadGeometryRepo {
  repoLog := baseLog.With("repo", "RoadGeometryRepo")
  return &roadGeometryRepo{db: db, log: repoLog}
}

func (rr *roadGeometryRepo) UpsertBatch(ctx context.Context, tx *gorm.DB, rows []*types.RoadGeometry) error {
  transaction := tx
  if transaction == nil {
    transaction = rr.db
  }

  if len(rows) == 0 {
    return nil
  }

  return transaction.WithContext(ctx).
    Clauses(clause.OnConflict{
      Columns:   []clause.Column{{Name: "org_id"}, {Name: "road_id"}},
      DoUpdates: clause.AssignmentColumns([]string{"name", "road_class", "geom", "updated_at"}),
    }).
    Create(&rows).Error
}

func (rr *roadGeometryRepo) GetByRoadIDs(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, roadIDs []string) ([]*types.RoadGeometry, error) {
  transaction := tx
  if transaction == nil {
    transaction = rr.db
  }

  var results []*types.RoadGeometry
  if len(roadIDs) == 0 {
    return results, nil
  }

  if err := transaction.WithContext(ctx).
    Where("org_id = ? AND road_id IN ?", orgID, roadIDs).
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (rr *roadGeometryRepo) CountByOrg(ctx context.Context, tx *gorm.DB, orgID uuid.UUID) (int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = rr.db
  }

  var count int64
  if err := transaction.WithContext(ctx).
    Model(&types.RoadGeometry{}).
    Where("org_id = ?", orgID).
    Count(&count).Error; err != nil {
    return 0, err
  }
  return count, nil
}
