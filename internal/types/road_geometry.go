package types

import (
	"time"

	"github.com/google/uuid"
)

// RoadGeometry mirrors one road edge from the source vector dataset. Rows are
// written by the dataset importer and read by the spatial queries; the engine
// itself never mutates them. Geom holds EWKB for a geometry(LineString,4326)
// column; the raw bytes round-trip through ST_AsBinary/ST_GeomFromWKB.
type RoadGeometry struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OrgID     uuid.UUID `gorm:"type:uuid;not null;index:idx_road_geometry_org_road,unique,priority:1" json:"org_id"`
	RoadID    string    `gorm:"column:road_id;not null;index:idx_road_geometry_org_road,unique,priority:2" json:"road_id"`
	Name      *string   `gorm:"column:name" json:"name,omitempty"`
	RoadClass *string   `gorm:"column:road_class;index" json:"road_class,omitempty"`
	Geom      []byte    `gorm:"column:geom;type:geometry(LineString,4326)" json:"-"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (RoadGeometry) TableName() string { return "road_geometry" }
