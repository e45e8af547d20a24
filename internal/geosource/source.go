// Package geosource exposes the road network geometry behind one read
// contract with two interchangeable backends: a PostGIS-backed store and a
// GeoPackage file loader with an in-memory spatial index. A Chain tries them
// in priority order and treats backend failure as "try the next one".
package geosource

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/viamet/roadwatch-backend/internal/geo"
	"github.com/viamet/roadwatch-backend/internal/logger"
)

// ErrSourceUnavailable marks a backend that cannot answer right now (missing
// file, connection failure, query timeout). Callers fall back to the next
// source; only when every source fails does the error reach a handler.
var ErrSourceUnavailable = errors.New("geometry source unavailable")

// NearestRoad is the answer to a nearest-edge query.
type NearestRoad struct {
	RoadID         string
	Name           *string
	DistanceMeters float64
	Geometry       geo.LineString
}

// RoadFeature is one edge returned by a bounding-box query.
type RoadFeature struct {
	RoadID    string
	Name      *string
	RoadClass *string
	Geometry  geo.LineString
}

type Source interface {
	// FindNearest returns the closest edge within radiusMeters of the point,
	// or (nil, nil) when nothing is in range.
	FindNearest(ctx context.Context, p geo.Point, radiusMeters float64, orgID uuid.UUID) (*NearestRoad, error)
	// Geometries resolves road ids to line geometry, best effort: ids it
	// cannot resolve are simply absent from the result.
	Geometries(ctx context.Context, orgID uuid.UUID, roadIDs []string) (map[string]geo.LineString, error)
	// QueryBBox streams every edge intersecting the box, optionally
	// simplified with the given tolerance in degrees.
	QueryBBox(ctx context.Context, orgID uuid.UUID, bbox geo.BBox, simplifyToleranceDeg float64) ([]RoadFeature, error)
}

// Chain is a Source that tries each backend in order, falling through on
// ErrSourceUnavailable (or any error, logged) until one answers.
type Chain struct {
	log     *logger.Logger
	sources []Source
}

func NewChain(baseLog *logger.Logger, sources ...Source) *Chain {
	return &Chain{log: baseLog.With("service", "GeometrySourceChain"), sources: sources}
}

func (c *Chain) FindNearest(ctx context.Context, p geo.Point, radiusMeters float64, orgID uuid.UUID) (*NearestRoad, error) {
	var lastErr error = ErrSourceUnavailable
	for _, s := range c.sources {
		res, err := s.FindNearest(ctx, p, radiusMeters, orgID)
		if err == nil {
			return res, nil
		}
		c.log.Warn("Geometry source failed for FindNearest, trying next", "error", err)
		lastErr = err
	}
	return nil, lastErr
}

func (c *Chain) Geometries(ctx context.Context, orgID uuid.UUID, roadIDs []string) (map[string]geo.LineString, error) {
	var lastErr error = ErrSourceUnavailable
	for _, s := range c.sources {
		res, err := s.Geometries(ctx, orgID, roadIDs)
		if err == nil {
			return res, nil
		}
		c.log.Warn("Geometry source failed for Geometries, trying next", "error", err)
		lastErr = err
	}
	return nil, lastErr
}

func (c *Chain) QueryBBox(ctx context.Context, orgID uuid.UUID, bbox geo.BBox, simplifyToleranceDeg float64) ([]RoadFeature, error) {
	var lastErr error = ErrSourceUnavailable
	for _, s := range c.sources {
		res, err := s.QueryBBox(ctx, orgID, bbox, simplifyToleranceDeg)
		if err == nil {
			return res, nil
		}
		c.log.Warn("Geometry source failed for QueryBBox, trying next", "error", err)
		lastErr = err
	}
	return nil, lastErr
}
