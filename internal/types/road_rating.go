package types

import (
	"time"

	"github.com/google/uuid"
)

// RoadRating is the current rolling eIRI for one rating key: a road edge, or
// one 50 m segment of it when SegmentIndex is set. The row is always the mean
// of the live RoadRatingLog rows sharing the key and is deleted outright when
// the last of them goes away.
type RoadRating struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OrgID        uuid.UUID `gorm:"type:uuid;not null;index:idx_road_rating_key,unique,priority:1" json:"org_id"`
	RoadID       string    `gorm:"column:road_id;not null;index:idx_road_rating_key,unique,priority:2" json:"road_id"`
	SegmentIndex *int      `gorm:"column:segment_index;index:idx_road_rating_key,unique,priority:3" json:"segment_index,omitempty"`
	Eiri         float64   `gorm:"column:eiri;not null" json:"eiri"`
	SampleCount  int       `gorm:"column:sample_count;not null;default:0" json:"sample_count"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (RoadRating) TableName() string { return "road_rating" }
