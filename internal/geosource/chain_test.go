package geosource

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/viamet/roadwatch-backend/internal/geo"
	"github.com/viamet/roadwatch-backend/internal/logger"
)

type stubSource struct {
	nearest *NearestRoad
	geoms   map[string]geo.LineString
	feats   []RoadFeature
	err     error
	calls   int
}

func (s *stubSource) FindNearest(ctx context.Context, p geo.Point, radiusMeters float64, orgID uuid.UUID) (*NearestRoad, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.nearest, nil
}

func (s *stubSource) Geometries(ctx context.Context, orgID uuid.UUID, roadIDs []string) (map[string]geo.LineString, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.geoms, nil
}

func (s *stubSource) QueryBBox(ctx context.Context, orgID uuid.UUID, bbox geo.BBox, simplifyToleranceDeg float64) ([]RoadFeature, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.feats, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger init: %v", err)
	}
	return log
}

func TestChain_PrimaryAnswers(t *testing.T) {
	primary := &stubSource{nearest: &NearestRoad{RoadID: "r1", DistanceMeters: 12}}
	fallback := &stubSource{nearest: &NearestRoad{RoadID: "r2"}}
	chain := NewChain(testLogger(t), primary, fallback)

	res, err := chain.FindNearest(context.Background(), geo.Point{}, 100, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RoadID != "r1" {
		t.Fatalf("expected primary answer, got %s", res.RoadID)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback should not have been asked")
	}
}

func TestChain_FallsBackOnUnavailable(t *testing.T) {
	primary := &stubSource{err: ErrSourceUnavailable}
	fallback := &stubSource{nearest: &NearestRoad{RoadID: "r2"}}
	chain := NewChain(testLogger(t), primary, fallback)

	res, err := chain.FindNearest(context.Background(), geo.Point{}, 100, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RoadID != "r2" {
		t.Fatalf("expected fallback answer, got %s", res.RoadID)
	}
}

func TestChain_NoneMissIsNotAnError(t *testing.T) {
	// The primary answering "nothing in range" is a real answer; the chain
	// must not keep probing.
	primary := &stubSource{}
	fallback := &stubSource{nearest: &NearestRoad{RoadID: "r2"}}
	chain := NewChain(testLogger(t), primary, fallback)

	res, err := chain.FindNearest(context.Background(), geo.Point{}, 100, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected a miss, got %+v", res)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback should not have been asked after a clean miss")
	}
}

func TestChain_AllUnavailable(t *testing.T) {
	chain := NewChain(testLogger(t), &stubSource{err: ErrSourceUnavailable}, &stubSource{err: ErrSourceUnavailable})
	_, err := chain.QueryBBox(context.Background(), uuid.New(), geo.BBox{}, 0)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestUnavailableKeepsCauseInChain(t *testing.T) {
	ds := &DBSource{log: testLogger(t)}
	err := ds.unavailable("bbox query", context.DeadlineExceeded)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("sentinel lost: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("callers match on the context error to degrade gracefully; lost in %v", err)
	}
}
