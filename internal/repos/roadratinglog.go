package repos

import (
  "context"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "github.com/viamet/roadwatch-backend/internal/logger"
  "github.com/viamet/roadwatch-backend/internal/segment"
  "github.com/viamet/roadwatch-backend/internal/types"
)

type RoadRatingLogRepo interface {
  Create(ctx context.Context, tx *gorm.DB, rows []*types.RoadRatingLog) error
  KeysBySurvey(ctx context.Context, tx *gorm.DB, orgID, surveyID uuid.UUID) ([]segment.Ref, error)
  DeleteBySurvey(ctx context.Context, tx *gorm.DB, orgID, surveyID uuid.UUID) (int64, error)
  AggregateForKey(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, key segment.Ref) (float64, int64, error)
}

type roadRatingLogRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewRoadRatingLogRepo(db *gorm.DB, baseLog *logger.Logger) RoadRatingLogRepo {
  repoLog := baseLog.With("repo", "RoadRatingLogRepo")
  return &roadRatingLogRepo{db: db, log: repoLog}
}

func keyScope(q *gorm.DB, orgID uuid.UUID, key segment.Ref) *gorm.DB {
  q = q.Where("org_id = ? AND road_id = ?", orgID, key.RoadID)
  if key.Index == nil {
    return q.Where("segment_index IS NULL")
  }
  return q.Where("segment_index = ?", *key.Index)
}

func (rr *roadRatingLogRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.RoadRatingLog) error {
  transaction := tx
  if transaction == nil {
    transaction = rr.db
  }

  if len(rows) == 0 {
    return nil
  }

  return transaction.WithContext(ctx).Create(&rows).Error
}

func (rr *roadRatingLogRepo) KeysBySurvey(ctx context.Context, tx *gorm.DB, orgID, surveyID uuid.UUID) ([]segment.Ref, error) {
  transaction := tx
  if transaction == nil {
    transaction = rr.db
  }

  var rows []struct {
    RoadID       string
    SegmentIndex *int
  }
  if err := transaction.WithContext(ctx).
    Model(&types.RoadRatingLog{}).
    Distinct("road_id", "segment_index").
    Where("org_id = ? AND survey_id = ?", orgID, surveyID).
    Find(&rows).Error; err != nil {
    return nil, err
  }

  keys := make([]segment.Ref, 0, len(rows))
  for _, row := range rows {
    keys = append(keys, segment.Ref{RoadID: row.RoadID, Index: row.SegmentIndex})
  }
  return keys, nil
}

func (rr *roadRatingLogRepo) DeleteBySurvey(ctx context.Context, tx *gorm.DB, orgID, surveyID uuid.UUID) (int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = rr.db
  }

  res := transaction.WithContext(ctx).
    Where("org_id = ? AND survey_id = ?", orgID, surveyID).
    Delete(&types.RoadRatingLog{})
  if res.Error != nil {
    return 0, res.Error
  }
  return res.RowsAffected, nil
}

func (rr *roadRatingLogRepo) AggregateForKey(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, key segment.Ref) (float64, int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = rr.db
  }

  var row struct {
    Mean  *float64
    Count int64
  }
  q := transaction.WithContext(ctx).
    Model(&types.RoadRatingLog{}).
    Select("AVG(eiri) AS mean, COUNT(*) AS count")
  if err := keyScope(q, orgID, key).Scan(&row).Error; err != nil {
    return 0, 0, err
  }
  if row.Mean == nil {
    return 0, 0, nil
  }
  return *row.Mean, row.Count, nil
}
