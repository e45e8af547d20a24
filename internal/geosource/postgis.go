package geosource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/viamet/roadwatch-backend/internal/geo"
	"github.com/viamet/roadwatch-backend/internal/logger"
)

// DBSource answers geometry queries from the road_geometry table using
// PostGIS operators, so the spatial work happens next to the GiST index.
// Every query runs under a timeout; timeouts and connection errors surface
// as ErrSourceUnavailable so the chain can fall back to the file source.
type DBSource struct {
	log          *logger.Logger
	db           *gorm.DB
	policy       geo.MultiLinePolicy
	queryTimeout time.Duration
}

func NewDBSource(db *gorm.DB, baseLog *logger.Logger, policy geo.MultiLinePolicy, queryTimeout time.Duration) *DBSource {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &DBSource{
		log:          baseLog.With("service", "DBGeometrySource"),
		db:           db,
		policy:       policy,
		queryTimeout: queryTimeout,
	}
}

func (ds *DBSource) unavailable(op string, err error) error {
	ds.log.Warn("PostGIS query failed", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, op, err)
}

func (ds *DBSource) FindNearest(ctx context.Context, p geo.Point, radiusMeters float64, orgID uuid.UUID) (*NearestRoad, error) {
	if ds.db == nil {
		return nil, ErrSourceUnavailable
	}
	if radiusMeters > maxSearchRadiusMeters {
		radiusMeters = maxSearchRadiusMeters
	}
	ctx, cancel := context.WithTimeout(ctx, ds.queryTimeout)
	defer cancel()

	var row struct {
		RoadID string
		Name   sql.NullString
		Wkb    []byte
		Dist   float64
	}
	err := ds.db.WithContext(ctx).Raw(`
		SELECT road_id,
		       name,
		       ST_AsBinary(geom) AS wkb,
		       ST_DistanceSphere(geom, ST_SetSRID(ST_MakePoint(?, ?), 4326)) AS dist
		FROM road_geometry
		WHERE org_id = ?
		  AND ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography, ?)
		ORDER BY geom <-> ST_SetSRID(ST_MakePoint(?, ?), 4326)
		LIMIT 1
	`, p.Lng, p.Lat, orgID, p.Lng, p.Lat, radiusMeters, p.Lng, p.Lat).Scan(&row).Error
	if err != nil {
		return nil, ds.unavailable("find nearest", err)
	}
	if row.RoadID == "" {
		return nil, nil
	}

	line, err := geo.DecodeWKB(row.Wkb, ds.policy)
	if err != nil {
		return nil, ds.unavailable("decode nearest geometry", err)
	}
	res := &NearestRoad{RoadID: row.RoadID, DistanceMeters: row.Dist, Geometry: line}
	if row.Name.Valid {
		n := row.Name.String
		res.Name = &n
	}
	return res, nil
}

func (ds *DBSource) Geometries(ctx context.Context, orgID uuid.UUID, roadIDs []string) (map[string]geo.LineString, error) {
	if ds.db == nil {
		return nil, ErrSourceUnavailable
	}
	out := make(map[string]geo.LineString, len(roadIDs))
	if len(roadIDs) == 0 {
		return out, nil
	}
	ctx, cancel := context.WithTimeout(ctx, ds.queryTimeout)
	defer cancel()

	rows, err := ds.db.WithContext(ctx).Raw(`
		SELECT road_id, ST_AsBinary(geom)
		FROM road_geometry
		WHERE org_id = ? AND road_id IN ?
	`, orgID, roadIDs).Rows()
	if err != nil {
		return nil, ds.unavailable("load geometries", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roadID string
		var blob []byte
		if err := rows.Scan(&roadID, &blob); err != nil {
			return nil, ds.unavailable("scan geometry", err)
		}
		line, err := geo.DecodeWKB(blob, ds.policy)
		if err != nil {
			// Best effort: a feature that fails to decode is omitted.
			var decodeErr *geo.DecodeError
			if errors.As(err, &decodeErr) {
				ds.log.Warn("Skipping undecodable geometry", "road_id", roadID, "error", err)
				continue
			}
			return nil, ds.unavailable("decode geometry", err)
		}
		out[roadID] = line
	}
	if err := rows.Err(); err != nil {
		return nil, ds.unavailable("iterate geometries", err)
	}
	return out, nil
}

func (ds *DBSource) QueryBBox(ctx context.Context, orgID uuid.UUID, bbox geo.BBox, simplifyToleranceDeg float64) ([]RoadFeature, error) {
	if ds.db == nil {
		return nil, ErrSourceUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, ds.queryTimeout)
	defer cancel()

	rows, err := ds.db.WithContext(ctx).Raw(`
		SELECT road_id,
		       name,
		       road_class,
		       ST_AsBinary(
		         CASE WHEN ?::float > 0
		              THEN ST_SimplifyPreserveTopology(geom, ?)
		              ELSE geom
		         END
		       )
		FROM road_geometry
		WHERE org_id = ?
		  AND geom && ST_MakeEnvelope(?, ?, ?, ?, 4326)
	`, simplifyToleranceDeg, simplifyToleranceDeg, orgID,
		bbox.MinLng, bbox.MinLat, bbox.MaxLng, bbox.MaxLat).Rows()
	if err != nil {
		return nil, ds.unavailable("bbox query", err)
	}
	defer rows.Close()

	var out []RoadFeature
	for rows.Next() {
		var roadID string
		var name, class sql.NullString
		var blob []byte
		if err := rows.Scan(&roadID, &name, &class, &blob); err != nil {
			return nil, ds.unavailable("scan bbox row", err)
		}
		line, err := geo.DecodeWKB(blob, ds.policy)
		if err != nil {
			var decodeErr *geo.DecodeError
			if errors.As(err, &decodeErr) {
				ds.log.Warn("Skipping undecodable geometry", "road_id", roadID, "error", err)
				continue
			}
			return nil, ds.unavailable("decode bbox geometry", err)
		}
		f := RoadFeature{RoadID: roadID, Geometry: line}
		if name.Valid {
			n := name.String
			f.Name = &n
		}
		if class.Valid {
			c := class.String
			f.RoadClass = &c
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, ds.unavailable("iterate bbox rows", err)
	}
	return out, nil
}
