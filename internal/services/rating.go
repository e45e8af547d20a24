package services

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/viamet/roadwatch-backend/internal/geo"
	"github.com/viamet/roadwatch-backend/internal/geosource"
	"github.com/viamet/roadwatch-backend/internal/logger"
	"github.com/viamet/roadwatch-backend/internal/repos"
	"github.com/viamet/roadwatch-backend/internal/segment"
	"github.com/viamet/roadwatch-backend/internal/types"
)

// pointAttributionToleranceMeters is how close a reading must be to a segment
// to count against it. Kept below the segment boundary slack so one reading
// does not land on both sides of a cut.
const pointAttributionToleranceMeters = 3.0

// Measurement is one geotagged roughness reading from a completed survey.
// Point is optional: without it the value is spread over every segment of the
// edge.
type Measurement struct {
	RoadID string     `json:"road_id"`
	Value  float64    `json:"value"`
	Point  *geo.Point `json:"point,omitempty"`
}

type IngestResult struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
	Keys     int `json:"keys"`
}

type RetractResult struct {
	EntriesDeleted int64 `json:"entries_deleted"`
	KeysRecomputed int   `json:"keys_recomputed"`
	KeysRemoved    int   `json:"keys_removed"`
}

type RatingService interface {
	IngestSurvey(ctx context.Context, orgID, surveyID uuid.UUID, projectID *uuid.UUID, contributorID uuid.UUID, measurements []Measurement) (*IngestResult, error)
	RetractSurvey(ctx context.Context, orgID, surveyID uuid.UUID) (*RetractResult, error)
}

type ratingService struct {
	db       *gorm.DB
	log      *logger.Logger
	source   geosource.Source
	ratings  repos.RoadRatingRepo
	logs     repos.RoadRatingLogRepo
	keyLocks *keyedMutex
}

func NewRatingService(
	db *gorm.DB,
	baseLog *logger.Logger,
	source geosource.Source,
	ratings repos.RoadRatingRepo,
	logs repos.RoadRatingLogRepo,
) RatingService {
	return &ratingService{
		db:       db,
		log:      baseLog.With("service", "RatingService"),
		source:   source,
		ratings:  ratings,
		logs:     logs,
		keyLocks: newKeyedMutex(),
	}
}

// IngestSurvey applies one survey's readings as a single atomic unit: the
// history rows and the recomputed aggregates commit together or not at all.
// Writes for the same (org, road) serialize through a keyed mutex on top of
// the transaction so concurrent ingests cannot interleave the
// read-history/write-aggregate cycle for a shared key.
func (rs *ratingService) IngestSurvey(ctx context.Context, orgID, surveyID uuid.UUID, projectID *uuid.UUID, contributorID uuid.UUID, measurements []Measurement) (*IngestResult, error) {
	valid, dropped := rs.validate(measurements)
	result := &IngestResult{Dropped: dropped}
	if len(valid) == 0 {
		rs.log.Warn("Survey had no usable measurements", "survey_id", surveyID, "dropped", dropped)
		return result, nil
	}
	result.Accepted = len(valid)

	byRoad := make(map[string][]Measurement)
	for _, m := range valid {
		byRoad[m.RoadID] = append(byRoad[m.RoadID], m)
	}
	roadIDs := make([]string, 0, len(byRoad))
	for roadID := range byRoad {
		roadIDs = append(roadIDs, roadID)
	}
	sort.Strings(roadIDs)

	// Best effort: edges whose geometry cannot be resolved fall back to a
	// whole-edge key rather than failing the batch.
	geoms, err := rs.source.Geometries(ctx, orgID, roadIDs)
	if err != nil {
		rs.log.Warn("Geometry lookup failed, ingesting without segmentation", "error", err)
		geoms = nil
	}

	keyValues := rs.attribute(byRoad, roadIDs, geoms)
	keys := sortedKeys(keyValues)
	result.Keys = len(keys)

	release := rs.keyLocks.lockRoads(orgID, roadIDs)
	defer release()

	err = rs.inTx(ctx, func(tx *gorm.DB) error {
		rows := make([]*types.RoadRatingLog, 0, len(keys))
		for _, key := range keys {
			agg := keyValues[key.Key()]
			details, _ := json.Marshal(map[string]interface{}{
				"batch_samples": agg.count,
				"dropped":       dropped,
			})
			rows = append(rows, &types.RoadRatingLog{
				OrgID:         orgID,
				RoadID:        key.RoadID,
				SegmentIndex:  key.Index,
				Eiri:          agg.mean(),
				ContributorID: contributorID,
				SurveyID:      &surveyID,
				ProjectID:     projectID,
				AnomalyCount:  dropped,
				Details:       datatypes.JSON(details),
			})
		}
		if err := rs.logs.Create(ctx, tx, rows); err != nil {
			return err
		}
		return rs.recomputeKeys(ctx, tx, orgID, keys, nil)
	})
	if err != nil {
		return nil, err
	}

	rs.log.Info("Ingested survey ratings",
		"survey_id", surveyID,
		"accepted", result.Accepted,
		"dropped", result.Dropped,
		"keys", result.Keys)
	return result, nil
}

// RetractSurvey deletes the survey's history rows and brings every affected
// CurrentRating back in line with what remains, in one transaction. A key
// with no surviving history loses its rating row entirely.
func (rs *ratingService) RetractSurvey(ctx context.Context, orgID, surveyID uuid.UUID) (*RetractResult, error) {
	keys, err := rs.logs.KeysBySurvey(ctx, nil, orgID, surveyID)
	if err != nil {
		return nil, err
	}
	result := &RetractResult{}
	if len(keys) == 0 {
		return result, nil
	}

	roadIDs := make([]string, 0, len(keys))
	for _, key := range keys {
		roadIDs = append(roadIDs, key.RoadID)
	}
	release := rs.keyLocks.lockRoads(orgID, roadIDs)
	defer release()

	err = rs.inTx(ctx, func(tx *gorm.DB) error {
		// Re-read under the locks: rows written for this survey between the
		// first read and lock acquisition must be recomputed too, not just
		// deleted.
		keys, err = rs.logs.KeysBySurvey(ctx, tx, orgID, surveyID)
		if err != nil {
			return err
		}
		deleted, err := rs.logs.DeleteBySurvey(ctx, tx, orgID, surveyID)
		if err != nil {
			return err
		}
		result.EntriesDeleted = deleted
		return rs.recomputeKeys(ctx, tx, orgID, keys, result)
	})
	if err != nil {
		return nil, err
	}

	rs.log.Info("Retracted survey ratings",
		"survey_id", surveyID,
		"entries_deleted", result.EntriesDeleted,
		"keys_recomputed", result.KeysRecomputed,
		"keys_removed", result.KeysRemoved)
	return result, nil
}

// recomputeKeys re-derives CurrentRating from the full live history for each
// key: mean over all rows, or row removal when none remain.
func (rs *ratingService) recomputeKeys(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, keys []segment.Ref, result *RetractResult) error {
	for _, key := range keys {
		mean, count, err := rs.logs.AggregateForKey(ctx, tx, orgID, key)
		if err != nil {
			return err
		}
		if count == 0 {
			if err := rs.ratings.DeleteByKey(ctx, tx, orgID, key); err != nil {
				return err
			}
			if result != nil {
				result.KeysRemoved++
			}
			continue
		}
		if err := rs.ratings.Upsert(ctx, tx, orgID, key, mean, count); err != nil {
			return err
		}
		if result != nil {
			result.KeysRecomputed++
		}
	}
	return nil
}

func (rs *ratingService) validate(measurements []Measurement) ([]Measurement, int) {
	valid := make([]Measurement, 0, len(measurements))
	dropped := 0
	for _, m := range measurements {
		if m.RoadID == "" || math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
			rs.log.Warn("Dropping malformed measurement", "road_id", m.RoadID, "value", m.Value)
			dropped++
			continue
		}
		if m.Point != nil && !m.Point.Valid() {
			rs.log.Warn("Dropping measurement with out-of-range point",
				"road_id", m.RoadID, "lat", m.Point.Lat, "lng", m.Point.Lng)
			dropped++
			continue
		}
		valid = append(valid, m)
	}
	return valid, dropped
}

type keyAccum struct {
	ref   segment.Ref
	sum   float64
	count int
}

func (a *keyAccum) mean() float64 {
	return a.sum / float64(a.count)
}

// attribute turns road-grouped measurements into per-segment-key batch
// averages. Edges without usable geometry collapse to a whole-edge key; a
// reading without a point spreads over every segment of its edge.
func (rs *ratingService) attribute(byRoad map[string][]Measurement, roadIDs []string, geoms map[string]geo.LineString) map[string]*keyAccum {
	out := make(map[string]*keyAccum)
	add := func(ref segment.Ref, value float64) {
		k := ref.Key()
		acc, ok := out[k]
		if !ok {
			acc = &keyAccum{ref: ref}
			out[k] = acc
		}
		acc.sum += value
		acc.count++
	}

	for _, roadID := range roadIDs {
		line, ok := geoms[roadID]
		if !ok || len(line) < 2 {
			whole := segment.WholeEdge(roadID)
			for _, m := range byRoad[roadID] {
				add(whole, m.Value)
			}
			continue
		}

		segments := segment.Split(roadID, line)
		for _, m := range byRoad[roadID] {
			if m.Point == nil {
				for _, s := range segments {
					add(s.Ref, m.Value)
				}
				continue
			}
			for _, idx := range segment.ForPoint(*m.Point, segments, pointAttributionToleranceMeters) {
				add(segments[idx].Ref, m.Value)
			}
		}
	}
	return out
}

func sortedKeys(keyValues map[string]*keyAccum) []segment.Ref {
	keys := make([]segment.Ref, 0, len(keyValues))
	for _, acc := range keyValues {
		keys = append(keys, acc.ref)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Key() < keys[j].Key() })
	return keys
}

func (rs *ratingService) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if rs.db == nil {
		return fn(nil)
	}
	return rs.db.WithContext(ctx).Transaction(fn)
}

// keyedMutex serializes rating writes per (org, road). Entries are
// refcounted so the map does not grow with the road network.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// lockRoads acquires the locks for every distinct road in sorted order, which
// keeps concurrent multi-road ingests deadlock free. The returned release
// must be called exactly once.
func (k *keyedMutex) lockRoads(orgID uuid.UUID, roadIDs []string) func() {
	seen := make(map[string]struct{}, len(roadIDs))
	keys := make([]string, 0, len(roadIDs))
	for _, roadID := range roadIDs {
		key := orgID.String() + "/" + roadID
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		k.acquire(key)
	}
	return func() {
		// Release in reverse acquisition order.
		for i := len(keys) - 1; i >= 0; i-- {
			k.release(keys[i])
		}
	}
}

func (k *keyedMutex) acquire(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()
	l.mu.Lock()
}

func (k *keyedMutex) release(key string) {
	k.mu.Lock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	l.mu.Unlock()
}
