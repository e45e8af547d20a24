package services

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/viamet/roadwatch-backend/internal/colorscale"
	"github.com/viamet/roadwatch-backend/internal/geo"
	"github.com/viamet/roadwatch-backend/internal/geosource"
	"github.com/viamet/roadwatch-backend/internal/segment"
)

type bboxSource struct {
	features []geosource.RoadFeature
	calls    int
	block    bool
}

func (s *bboxSource) FindNearest(ctx context.Context, p geo.Point, radiusMeters float64, orgID uuid.UUID) (*geosource.NearestRoad, error) {
	return nil, nil
}

func (s *bboxSource) Geometries(ctx context.Context, orgID uuid.UUID, roadIDs []string) (map[string]geo.LineString, error) {
	return nil, nil
}

func (s *bboxSource) QueryBBox(ctx context.Context, orgID uuid.UUID, bbox geo.BBox, simplifyToleranceDeg float64) ([]geosource.RoadFeature, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		// Same wrapping as the production sources: the sentinel first, the
		// context error as a second wrapped cause.
		return nil, fmt.Errorf("%w: bbox query: %w", geosource.ErrSourceUnavailable, ctx.Err())
	}
	var out []geosource.RoadFeature
	for _, f := range s.features {
		if f.Geometry.BBox().Intersects(bbox) {
			out = append(out, f)
		}
	}
	return out, nil
}

type memTileCache struct {
	entries map[string][]byte
}

func (c *memTileCache) Get(ctx context.Context, key string) ([]byte, bool) {
	v, ok := c.entries[key]
	return v, ok
}

func (c *memTileCache) Set(ctx context.Context, key string, tile []byte) {
	c.entries[key] = tile
}

func (c *memTileCache) InvalidateOrg(ctx context.Context, orgID string) error {
	for k := range c.entries {
		delete(c.entries, k)
	}
	return nil
}

func (c *memTileCache) Close() error { return nil }

func TestTileBBox(t *testing.T) {
	world := TileBBox(0, 0, 0)
	if math.Abs(world.MinLng+180) > 1e-9 || math.Abs(world.MaxLng-180) > 1e-9 {
		t.Fatalf("z0 tile must span all longitudes, got %+v", world)
	}
	if math.Abs(world.MaxLat-85.0511) > 0.001 || math.Abs(world.MinLat+85.0511) > 0.001 {
		t.Fatalf("z0 tile must span the mercator latitude range, got %+v", world)
	}

	nw := TileBBox(1, 0, 0)
	if nw.MinLng != -180 || nw.MaxLng != 0 {
		t.Fatalf("z1 northwest tile longitudes wrong: %+v", nw)
	}
	if nw.MinLat != 0 || nw.MaxLat < 85 {
		t.Fatalf("z1 northwest tile latitudes wrong: %+v", nw)
	}

	// Tiles in a row tile the longitude range without gaps.
	a, b := TileBBox(10, 511, 340), TileBBox(10, 512, 340)
	if math.Abs(a.MaxLng-b.MinLng) > 1e-9 {
		t.Fatalf("adjacent tiles must share an edge: %f vs %f", a.MaxLng, b.MinLng)
	}
}

func TestSimplifyToleranceForZoom(t *testing.T) {
	if SimplifyToleranceForZoom(15) != 0 || SimplifyToleranceForZoom(18) != 0 {
		t.Fatalf("high zoom must not simplify")
	}
	if SimplifyToleranceForZoom(5) <= SimplifyToleranceForZoom(10) {
		t.Fatalf("lower zoom must simplify more aggressively")
	}
}

func TestProjectToTile_CenterLandsMidTile(t *testing.T) {
	bbox := TileBBox(12, 2048, 1500)
	center := bbox.Center()
	pts := projectToTile(geo.LineString{center, center}, 12, 2048, 1500, tileExtent)
	if len(pts) != 2 {
		t.Fatalf("expected 2 projected points")
	}
	mid := int32(tileExtent / 2)
	if pts[0].X < mid-8 || pts[0].X > mid+8 || pts[0].Y < mid-8 || pts[0].Y > mid+8 {
		t.Fatalf("bbox center should project near tile center, got %+v", pts[0])
	}
}

// tileFor returns tile coordinates containing the point at the given zoom.
func tileFor(p geo.Point, z int) (int, int) {
	n := float64(int(1) << uint(z))
	x := int((p.Lng + 180) / 360 * n)
	latRad := p.Lat * math.Pi / 180
	y := int((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n)
	return x, y
}

func TestRenderTile_EmptyIsNilNotError(t *testing.T) {
	svc := NewTileService(testLogger(t), &bboxSource{}, newMemRatingRepo(), nil)
	tile, err := svc.RenderTile(context.Background(), 14, 100, 100, uuid.New())
	if err != nil {
		t.Fatalf("empty tile must not error: %v", err)
	}
	if tile != nil {
		t.Fatalf("empty tile must be nil, got %d bytes", len(tile))
	}
}

func TestRenderTile_EncodesFeatures(t *testing.T) {
	start := geo.Point{Lng: 2.15, Lat: 41.39}
	src := &bboxSource{features: []geosource.RoadFeature{
		{RoadID: "r1", Geometry: northLine(start, 500)},
	}}
	ratings := newMemRatingRepo()
	orgID := uuid.New()
	if err := ratings.Upsert(context.Background(), nil, orgID, segment.WholeEdge("r1"), 4.2, 3); err != nil {
		t.Fatalf("seed rating: %v", err)
	}
	svc := NewTileService(testLogger(t), src, ratings, nil)

	x, y := tileFor(start, 14)
	tile, err := svc.RenderTile(context.Background(), 14, x, y, orgID)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(tile) == 0 {
		t.Fatalf("expected tile bytes")
	}
	if !bytes.Contains(tile, []byte("road_id")) || !bytes.Contains(tile, []byte("r1")) {
		t.Fatalf("tile must carry the road id tag")
	}
	if !bytes.Contains(tile, []byte(colorscale.ColorFor(4.2))) {
		t.Fatalf("tile must carry the rating color")
	}
}

func TestRenderTile_UnratedRoadIsNeutral(t *testing.T) {
	start := geo.Point{Lng: 2.15, Lat: 41.39}
	src := &bboxSource{features: []geosource.RoadFeature{
		{RoadID: "r1", Geometry: northLine(start, 500)},
	}}
	svc := NewTileService(testLogger(t), src, newMemRatingRepo(), nil)

	x, y := tileFor(start, 14)
	tile, err := svc.RenderTile(context.Background(), 14, x, y, uuid.New())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.Contains(tile, []byte(colorscale.NeutralHex)) {
		t.Fatalf("unrated road must render neutral")
	}
}

func TestRenderTile_CacheSkipsSecondQuery(t *testing.T) {
	start := geo.Point{Lng: 2.15, Lat: 41.39}
	src := &bboxSource{features: []geosource.RoadFeature{
		{RoadID: "r1", Geometry: northLine(start, 500)},
	}}
	cache := &memTileCache{entries: make(map[string][]byte)}
	svc := NewTileService(testLogger(t), src, newMemRatingRepo(), cache)
	orgID := uuid.New()

	x, y := tileFor(start, 14)
	first, err := svc.RenderTile(context.Background(), 14, x, y, orgID)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := svc.RenderTile(context.Background(), 14, x, y, orgID)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("second render must come from cache, got %d queries", src.calls)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("cached tile differs from rendered tile")
	}
}

func TestRenderTile_TimeoutIsEmptyTile(t *testing.T) {
	svc := &tileService{
		log:           testLogger(t).With("service", "TileService"),
		source:        &bboxSource{block: true},
		ratings:       newMemRatingRepo(),
		renderTimeout: 20 * time.Millisecond,
	}
	tile, err := svc.RenderTile(context.Background(), 14, 100, 100, uuid.New())
	if err != nil {
		t.Fatalf("timeout must degrade to empty tile, got %v", err)
	}
	if tile != nil {
		t.Fatalf("expected nil tile on timeout")
	}
}

func TestRenderTile_RejectsBadCoordinates(t *testing.T) {
	svc := NewTileService(testLogger(t), &bboxSource{}, newMemRatingRepo(), nil)
	if _, err := svc.RenderTile(context.Background(), 3, 100, 0, uuid.New()); err == nil {
		t.Fatalf("x out of range for zoom must be rejected")
	}
	if _, err := svc.RenderTile(context.Background(), -1, 0, 0, uuid.New()); err == nil {
		t.Fatalf("negative zoom must be rejected")
	}
}

func TestRenderTilePNG(t *testing.T) {
	start := geo.Point{Lng: 2.15, Lat: 41.39}
	src := &bboxSource{features: []geosource.RoadFeature{
		{RoadID: "r1", Geometry: northLine(start, 500)},
	}}
	svc := NewTileService(testLogger(t), src, newMemRatingRepo(), nil)

	x, y := tileFor(start, 14)
	img, err := svc.RenderTilePNG(context.Background(), 14, x, y, uuid.New())
	if err != nil {
		t.Fatalf("render png: %v", err)
	}
	if len(img) < 8 || !bytes.HasPrefix(img, []byte("\x89PNG")) {
		t.Fatalf("expected a PNG, got %d bytes", len(img))
	}
}

func TestMapData(t *testing.T) {
	start := geo.Point{Lng: 2.15, Lat: 41.39}
	src := &bboxSource{features: []geosource.RoadFeature{
		{RoadID: "rated", Geometry: northLine(start, 500)},
		{RoadID: "unrated", Geometry: northLine(geo.Point{Lng: 2.16, Lat: 41.39}, 500)},
	}}
	ratings := newMemRatingRepo()
	orgID := uuid.New()
	if err := ratings.Upsert(context.Background(), nil, orgID, segment.WholeEdge("rated"), 3.0, 1); err != nil {
		t.Fatalf("seed rating: %v", err)
	}
	svc := NewMapService(testLogger(t), src, ratings)

	rows, err := svc.MapData(context.Background(), orgID, geo.BBox{MinLng: 2.1, MinLat: 41.3, MaxLng: 2.2, MaxLat: 41.5})
	if err != nil {
		t.Fatalf("map data: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	byID := make(map[string]MapRow)
	for _, row := range rows {
		byID[row.RoadID] = row
	}
	rated := byID["rated"]
	if rated.Eiri == nil || *rated.Eiri != 3.0 || rated.Color != colorscale.ColorFor(3.0) {
		t.Fatalf("rated row wrong: %+v", rated)
	}
	unrated := byID["unrated"]
	if unrated.Eiri != nil || unrated.Color != colorscale.NeutralHex {
		t.Fatalf("unrated row wrong: %+v", unrated)
	}
	if !bytes.Contains(unrated.Geometry, []byte("LineString")) {
		t.Fatalf("geometry must be GeoJSON")
	}

	if _, err := svc.MapData(context.Background(), orgID, geo.BBox{MinLng: 1, MinLat: 1, MaxLng: 0, MaxLat: 0}); err == nil {
		t.Fatalf("inverted bbox must be rejected")
	}
}
