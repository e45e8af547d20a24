package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/viamet/roadwatch-backend/internal/colorscale"
	"github.com/viamet/roadwatch-backend/internal/geo"
	"github.com/viamet/roadwatch-backend/internal/geosource"
	"github.com/viamet/roadwatch-backend/internal/logger"
	"github.com/viamet/roadwatch-backend/internal/repos"
)

// MapRow is one road edge in a map viewport response: geometry plus the
// current rating and its display color. Eiri is nil for unrated roads.
type MapRow struct {
	RoadID    string          `json:"road_id"`
	Name      *string         `json:"name,omitempty"`
	RoadClass *string         `json:"road_class,omitempty"`
	Eiri      *float64        `json:"eiri"`
	Geometry  json.RawMessage `json:"geometry"`
	Color     string          `json:"color"`
}

type MapService interface {
	MapData(ctx context.Context, orgID uuid.UUID, bbox geo.BBox) ([]MapRow, error)
}

type mapService struct {
	log     *logger.Logger
	source  geosource.Source
	ratings repos.RoadRatingRepo
}

func NewMapService(baseLog *logger.Logger, source geosource.Source, ratings repos.RoadRatingRepo) MapService {
	return &mapService{
		log:     baseLog.With("service", "MapService"),
		source:  source,
		ratings: ratings,
	}
}

func (ms *mapService) MapData(ctx context.Context, orgID uuid.UUID, bbox geo.BBox) ([]MapRow, error) {
	if bbox.MinLng > bbox.MaxLng || bbox.MinLat > bbox.MaxLat {
		return nil, fmt.Errorf("inverted bounding box")
	}

	features, err := ms.source.QueryBBox(ctx, orgID, bbox, 0)
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return []MapRow{}, nil
	}

	roadIDs := make([]string, 0, len(features))
	for _, f := range features {
		roadIDs = append(roadIDs, f.RoadID)
	}
	averages, err := ms.ratings.EdgeAverages(ctx, nil, orgID, roadIDs)
	if err != nil {
		return nil, err
	}

	rows := make([]MapRow, 0, len(features))
	for _, f := range features {
		row := MapRow{
			RoadID:    f.RoadID,
			Name:      f.Name,
			RoadClass: f.RoadClass,
			Geometry:  f.Geometry.GeoJSON(),
			Color:     colorscale.NeutralHex,
		}
		if eiri, ok := averages[f.RoadID]; ok {
			v := eiri
			row.Eiri = &v
			row.Color = colorscale.ColorFor(eiri)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
