package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// RoadRatingLog is the append-only history behind RoadRating. Rows are only
// ever removed when their originating survey is retracted; everything else is
// insert-and-read.
type RoadRatingLog struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OrgID         uuid.UUID      `gorm:"type:uuid;not null;index:idx_road_rating_log_key,priority:1" json:"org_id"`
	RoadID        string         `gorm:"column:road_id;not null;index:idx_road_rating_log_key,priority:2" json:"road_id"`
	SegmentIndex  *int           `gorm:"column:segment_index;index:idx_road_rating_log_key,priority:3" json:"segment_index,omitempty"`
	Eiri          float64        `gorm:"column:eiri;not null" json:"eiri"`
	ContributorID uuid.UUID      `gorm:"type:uuid;not null;index" json:"contributor_id"`
	SurveyID      *uuid.UUID     `gorm:"type:uuid;index:idx_road_rating_log_survey" json:"survey_id,omitempty"`
	ProjectID     *uuid.UUID     `gorm:"type:uuid;index" json:"project_id,omitempty"`
	SourceBatchID *uuid.UUID     `gorm:"type:uuid;index" json:"source_batch_id,omitempty"`
	AnomalyCount  int            `gorm:"column:anomaly_count;not null;default:0" json:"anomaly_count"`
	Details       datatypes.JSON `gorm:"column:details" json:"details,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (RoadRatingLog) TableName() string { return "road_rating_log" }
