// Package resolver turns a map click into the nearest road edge, caching
// answers so repeated clicks in the same spot cost one spatial query.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/viamet/roadwatch-backend/internal/geo"
	"github.com/viamet/roadwatch-backend/internal/geosource"
	"github.com/viamet/roadwatch-backend/internal/logger"
)

// NearestEdgeResolver sits on top of a geometry source chain and memoizes
// lookups. Coordinates are rounded to 4 decimals (~11 m) before keying, so
// GPS jitter inside that cell shares one cache slot.
type NearestEdgeResolver struct {
	log    *logger.Logger
	source geosource.Source
	cache  *resultCache
	group  singleflight.Group
}

// TTLForProfile picks the default cache lifetime for a deployment profile:
// long in production, short in development so freshly edited datasets show
// up without a restart.
func TTLForProfile(mode string) time.Duration {
	if mode == "production" {
		return 10 * time.Minute
	}
	return time.Minute
}

func New(baseLog *logger.Logger, source geosource.Source, ttl time.Duration, maxEntries int) *NearestEdgeResolver {
	return &NearestEdgeResolver{
		log:    baseLog.With("service", "NearestEdgeResolver"),
		source: source,
		cache:  newResultCache(ttl, maxEntries),
	}
}

func (r *NearestEdgeResolver) Resolve(ctx context.Context, lat, lng, radiusMeters float64, orgID uuid.UUID) (*geosource.NearestRoad, error) {
	p := geo.Point{Lng: lng, Lat: lat}
	if !p.Valid() {
		return nil, fmt.Errorf("invalid coordinates (%f, %f)", lat, lng)
	}
	if radiusMeters <= 0 {
		radiusMeters = 100
	}

	key := fmt.Sprintf("%.4f:%.4f:%.0f:%s", lat, lng, radiusMeters, orgID)
	if res, ok := r.cache.get(key); ok {
		return res, nil
	}

	// Concurrent misses on the same key collapse to one spatial query.
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if res, ok := r.cache.get(key); ok {
			return res, nil
		}
		res, err := r.source.FindNearest(ctx, p, radiusMeters, orgID)
		if err != nil {
			return nil, err
		}
		r.cache.put(key, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*geosource.NearestRoad), nil
}

// InvalidateCache clears every memoized answer; called after a dataset
// reload so stale edges do not linger for a TTL.
func (r *NearestEdgeResolver) InvalidateCache() {
	r.cache.invalidate()
}
