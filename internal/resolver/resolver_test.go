package resolver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/viamet/roadwatch-backend/internal/geo"
	"github.com/viamet/roadwatch-backend/internal/geosource"
	"github.com/viamet/roadwatch-backend/internal/logger"
)

type countingSource struct {
	result *geosource.NearestRoad
	err    error
	calls  int
}

func (s *countingSource) FindNearest(ctx context.Context, p geo.Point, radiusMeters float64, orgID uuid.UUID) (*geosource.NearestRoad, error) {
	s.calls++
	return s.result, s.err
}

func (s *countingSource) Geometries(ctx context.Context, orgID uuid.UUID, roadIDs []string) (map[string]geo.LineString, error) {
	return nil, nil
}

func (s *countingSource) QueryBBox(ctx context.Context, orgID uuid.UUID, bbox geo.BBox, simplifyToleranceDeg float64) ([]geosource.RoadFeature, error) {
	return nil, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger init: %v", err)
	}
	return log
}

func TestResolve_CachesHits(t *testing.T) {
	src := &countingSource{result: &geosource.NearestRoad{RoadID: "r1"}}
	r := New(testLogger(t), src, time.Minute, 100)
	orgID := uuid.New()

	for i := 0; i < 3; i++ {
		res, err := r.Resolve(context.Background(), 41.39001, 2.15001, 100, orgID)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if res == nil || res.RoadID != "r1" {
			t.Fatalf("unexpected result %+v", res)
		}
	}
	if src.calls != 1 {
		t.Fatalf("expected one source query, got %d", src.calls)
	}
}

func TestResolve_CachesMisses(t *testing.T) {
	src := &countingSource{result: nil}
	r := New(testLogger(t), src, time.Minute, 100)
	orgID := uuid.New()

	for i := 0; i < 2; i++ {
		res, err := r.Resolve(context.Background(), 41.39, 2.15, 100, orgID)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if res != nil {
			t.Fatalf("expected a miss")
		}
	}
	if src.calls != 1 {
		t.Fatalf("a cached miss must not re-query, got %d calls", src.calls)
	}
}

func TestResolve_RoundingSharesCacheSlot(t *testing.T) {
	src := &countingSource{result: &geosource.NearestRoad{RoadID: "r1"}}
	r := New(testLogger(t), src, time.Minute, 100)
	orgID := uuid.New()

	// Both coordinates round to the same 4-decimal cell.
	if _, err := r.Resolve(context.Background(), 41.390010, 2.150020, 100, orgID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := r.Resolve(context.Background(), 41.390049, 2.149960, 100, orgID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("nearby points should share a slot, got %d calls", src.calls)
	}

	// A different radius is a different question.
	if _, err := r.Resolve(context.Background(), 41.390010, 2.150020, 250, orgID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("different radius must query again, got %d calls", src.calls)
	}
}

func TestResolve_ErrorsAreNotCached(t *testing.T) {
	src := &countingSource{err: geosource.ErrSourceUnavailable}
	r := New(testLogger(t), src, time.Minute, 100)
	orgID := uuid.New()

	if _, err := r.Resolve(context.Background(), 41.39, 2.15, 100, orgID); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := r.Resolve(context.Background(), 41.39, 2.15, 100, orgID); err == nil {
		t.Fatalf("expected error")
	}
	if src.calls != 2 {
		t.Fatalf("errors must not be cached, got %d calls", src.calls)
	}
}

func TestResolve_RejectsInvalidCoordinates(t *testing.T) {
	src := &countingSource{}
	r := New(testLogger(t), src, time.Minute, 100)
	if _, err := r.Resolve(context.Background(), 91, 0, 100, uuid.New()); err == nil {
		t.Fatalf("latitude 91 must be rejected")
	}
	if src.calls != 0 {
		t.Fatalf("invalid input must not reach the source")
	}
}

func TestCache_TTLAndBound(t *testing.T) {
	c := newResultCache(10*time.Millisecond, 5)
	c.put("a", &geosource.NearestRoad{RoadID: "a"})
	if _, ok := c.get("a"); !ok {
		t.Fatalf("fresh entry should hit")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.get("a"); ok {
		t.Fatalf("expired entry should miss")
	}

	for i := 0; i < 20; i++ {
		c.put(fmt.Sprintf("k%d", i), nil)
	}
	if c.size() > 5 {
		t.Fatalf("cache exceeded bound: %d", c.size())
	}
}

func TestInvalidateCache(t *testing.T) {
	src := &countingSource{result: &geosource.NearestRoad{RoadID: "r1"}}
	r := New(testLogger(t), src, time.Minute, 100)
	orgID := uuid.New()

	if _, err := r.Resolve(context.Background(), 41.39, 2.15, 100, orgID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	r.InvalidateCache()
	if _, err := r.Resolve(context.Background(), 41.39, 2.15, 100, orgID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("invalidate should force a re-query, got %d calls", src.calls)
	}
}

type blockingSource struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	result  *geosource.NearestRoad
}

func (s *blockingSource) FindNearest(ctx context.Context, p geo.Point, radiusMeters float64, orgID uuid.UUID) (*geosource.NearestRoad, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	<-s.release
	return s.result, nil
}

func (s *blockingSource) Geometries(ctx context.Context, orgID uuid.UUID, roadIDs []string) (map[string]geo.LineString, error) {
	return nil, nil
}

func (s *blockingSource) QueryBBox(ctx context.Context, orgID uuid.UUID, bbox geo.BBox, simplifyToleranceDeg float64) ([]geosource.RoadFeature, error) {
	return nil, nil
}

func TestResolve_ConcurrentMissesShareOneQuery(t *testing.T) {
	src := &blockingSource{
		release: make(chan struct{}),
		result:  &geosource.NearestRoad{RoadID: "r1"},
	}
	r := New(testLogger(t), src, time.Minute, 100)
	orgID := uuid.New()

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), 41.39, 2.15, 100, orgID)
			if err != nil {
				errs <- err
				return
			}
			if res == nil || res.RoadID != "r1" {
				errs <- fmt.Errorf("unexpected result %+v", res)
			}
		}()
	}
	close(src.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("resolve: %v", err)
	}
	// Either a caller shared the in-flight query or it hit the cache the
	// first caller filled; the source must only have been asked once.
	if src.calls != 1 {
		t.Fatalf("concurrent misses must collapse to one query, got %d", src.calls)
	}
}

func TestTTLForProfile(t *testing.T) {
	if TTLForProfile("production") != 10*time.Minute {
		t.Fatalf("production TTL = %s", TTLForProfile("production"))
	}
	if TTLForProfile("development") != time.Minute {
		t.Fatalf("development TTL = %s", TTLForProfile("development"))
	}
	if TTLForProfile("") != time.Minute {
		t.Fatalf("unknown profile must use the short TTL")
	}
}
