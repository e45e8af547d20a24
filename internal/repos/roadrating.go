package repos

import (
  "context"
  "errors"
  "time"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "github.com/viamet/roadwatch-backend/internal/logger"
  "github.com/viamet/roadwatch-backend/internal/segment"
  "github.com/viamet/roadwatch-backend/internal/types"
)

type RoadRatingRepo interface {
  Upsert(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, key segment.Ref, eiri float64, sampleCount int64) error
  DeleteByKey(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, key segment.Ref) error
  GetByKey(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, key segment.Ref) (*types.RoadRating, error)
  GetByRoadIDs(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, roadIDs []string) ([]*types.RoadRating, error)
  EdgeAverages(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, roadIDs []string) (map[string]float64, error)
}

type roadRatingRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewRoadRatingRepo(db *gorm.DB, baseLog *logger.Logger) RoadRatingRepo {
  repoLog := baseLog.With("repo", "RoadRatingRepo")
  return &roadRatingRepo{db: db, log: repoLog}
}

// Upsert is a read-modify-write rather than ON CONFLICT because the unique
// key includes a nullable segment_index, and Postgres treats NULLs in a
// unique index as distinct. Callers serialize writes per key.
func (rr *roadRatingRepo) Upsert(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, key segment.Ref, eiri float64, sampleCount int64) error {
  transaction := tx
  if transaction == nil {
    transaction = rr.db
  }

  existing, err := rr.GetByKey(ctx, transaction, orgID, key)
  if err != nil {
    return err
  }
  if existing != nil {
    return keyScope(transaction.WithContext(ctx).Model(&types.RoadRating{}), orgID, key).
      Updates(map[string]interface{}{
        "eiri":         eiri,
        "sample_count": sampleCount,
        "updated_at":   time.Now().UTC(),
      }).Error
  }

  row := &types.RoadRating{
    OrgID:        orgID,
    RoadID:       key.RoadID,
    SegmentIndex: key.Index,
    Eiri:         eiri,
    SampleCount:  int(sampleCount),
  }
  return transaction.WithContext(ctx).Create(row).Error
}

func (rr *roadRatingRepo) DeleteByKey(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, key segment.Ref) error {
  transaction := tx
  if transaction == nil {
    transaction = rr.db
  }

  return keyScope(transaction.WithContext(ctx), orgID, key).
    Delete(&types.RoadRating{}).Error
}

func (rr *roadRatingRepo) GetByKey(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, key segment.Ref) (*types.RoadRating, error) {
  transaction := tx
  if transaction == nil {
    transaction = rr.db
  }

  var row types.RoadRating
  err := keyScope(transaction.WithContext(ctx), orgID, key).First(&row).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, nil
  }
  if err != nil {
    return nil, err
  }
  return &row, nil
}

func (rr *roadRatingRepo) GetByRoadIDs(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, roadIDs []string) ([]*types.RoadRating, error) {
  transaction := tx
  if transaction == nil {
    transaction = rr.db
  }

  var results []*types.RoadRating
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

// EdgeAverages collapses per-segment rows to one value per road for map and
// tile rendering.
func (rr *roadRatingRepo) EdgeAverages(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, roadIDs []string) (map[string]float64, error) {
  transaction := tx
  if transaction == nil {
    transaction = rr.db
  }

  out := make(map[string]float64, len(roadIDs))
  if len(roadIDs) == 0 {
    return out, nil
  }

  var rows []struct {
    RoadID string
    Mean   float64
  }
  if err := transaction.WithContext(ctx).
    Model(&types.RoadRating{}).
    Select("road_id, AVG(eiri) AS mean").
    Where("org_id = ? AND road_id IN ?", orgID, roadIDs).
    Group("road_id").
    Find(&rows).Error; err != nil {
    return nil, err
  }
  for _, row := range rows {
    out[row.RoadID] = row.Mean
  }
  return out, nil
}
