package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fogleman/gg"
	"github.com/google/uuid"

	"github.com/viamet/roadwatch-backend/internal/clients/redis"
	"github.com/viamet/roadwatch-backend/internal/colorscale"
	"github.com/viamet/roadwatch-backend/internal/geo"
	"github.com/viamet/roadwatch-backend/internal/geosource"
	"github.com/viamet/roadwatch-backend/internal/logger"
	"github.com/viamet/roadwatch-backend/internal/mvt"
	"github.com/viamet/roadwatch-backend/internal/repos"
)

const (
	tileExtent           = 4096
	pngTileSize          = 256
	defaultRenderTimeout = 2 * time.Second
)

// TileService renders slippy-map tiles of the road network colored by
// current rating. An empty tile is (nil, nil), never an error; a render
// timeout degrades to an empty tile as well.
type TileService interface {
	RenderTile(ctx context.Context, z, x, y int, orgID uuid.UUID) ([]byte, error)
	RenderTilePNG(ctx context.Context, z, x, y int, orgID uuid.UUID) ([]byte, error)
}

type tileService struct {
	log           *logger.Logger
	source        geosource.Source
	ratings       repos.RoadRatingRepo
	cache         redis.TileCache
	renderTimeout time.Duration
}

func NewTileService(baseLog *logger.Logger, source geosource.Source, ratings repos.RoadRatingRepo, cache redis.TileCache) TileService {
	return &tileService{
		log:           baseLog.With("service", "TileService"),
		source:        source,
		ratings:       ratings,
		cache:         cache,
		renderTimeout: defaultRenderTimeout,
	}
}

func (ts *tileService) RenderTile(ctx context.Context, z, x, y int, orgID uuid.UUID) ([]byte, error) {
	if !validTile(z, x, y) {
		return nil, fmt.Errorf("invalid tile coordinates %d/%d/%d", z, x, y)
	}

	cacheKey := fmt.Sprintf("tile:%s:%d:%d:%d", orgID, z, x, y)
	if ts.cache != nil {
		if tile, ok := ts.cache.Get(ctx, cacheKey); ok {
			return tile, nil
		}
	}

	features, err := ts.queryTile(ctx, z, x, y, orgID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			ts.log.Warn("Tile render timed out", "z", z, "x", x, "y", y)
			return nil, nil
		}
		return nil, err
	}
	if len(features) == 0 {
		return nil, nil
	}

	averages, err := ts.edgeAverages(ctx, orgID, features)
	if err != nil {
		return nil, err
	}

	layer := mvt.NewLayer("roads", tileExtent)
	for i, f := range features {
		line := projectToTile(f.Geometry, z, x, y, tileExtent)
		if len(line) < 2 {
			continue
		}
		feat := layer.AddFeature(uint64(i+1), mvt.GeomLineString).SetLines([][]mvt.Pt{line})
		feat.TagString("road_id", f.RoadID)
		if f.Name != nil {
			feat.TagString("name", *f.Name)
		}
		if f.RoadClass != nil {
			feat.TagString("road_class", *f.RoadClass)
		}
		if eiri, ok := averages[f.RoadID]; ok {
			feat.TagDouble("eiri", eiri)
			feat.TagString("color", colorscale.ColorFor(eiri))
		} else {
			feat.TagDouble("eiri", 0)
			feat.TagString("color", colorscale.NeutralHex)
		}
	}
	tile := mvt.EncodeTile(layer)
	if tile == nil {
		return nil, nil
	}

	if ts.cache != nil {
		ts.cache.Set(ctx, cacheKey, tile)
	}
	return tile, nil
}

// RenderTilePNG draws the same data as a raster image for debugging tile
// content without a vector-tile client.
func (ts *tileService) RenderTilePNG(ctx context.Context, z, x, y int, orgID uuid.UUID) ([]byte, error) {
	if !validTile(z, x, y) {
		return nil, fmt.Errorf("invalid tile coordinates %d/%d/%d", z, x, y)
	}

	features, err := ts.queryTile(ctx, z, x, y, orgID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	if len(features) == 0 {
		return nil, nil
	}

	averages, err := ts.edgeAverages(ctx, orgID, features)
	if err != nil {
		return nil, err
	}

	dc := gg.NewContext(pngTileSize, pngTileSize)
	dc.SetRGBA(0, 0, 0, 0)
	dc.Clear()
	dc.SetLineWidth(lineWidthForZoom(z))
	for _, f := range features {
		line := projectToTile(f.Geometry, z, x, y, pngTileSize)
		if len(line) < 2 {
			continue
		}
		if eiri, ok := averages[f.RoadID]; ok {
			r, g, b := colorscale.RGBA(eiri)
			dc.SetRGB(r, g, b)
		} else {
			dc.SetRGB(0.62, 0.62, 0.62)
		}
		dc.MoveTo(float64(line[0].X), float64(line[0].Y))
		for _, p := range line[1:] {
			dc.LineTo(float64(p.X), float64(p.Y))
		}
		dc.Stroke()
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (ts *tileService) queryTile(ctx context.Context, z, x, y int, orgID uuid.UUID) ([]geosource.RoadFeature, error) {
	ctx, cancel := context.WithTimeout(ctx, ts.renderTimeout)
	defer cancel()

	bbox := TileBBox(z, x, y)
	// Pad so lines clipped at the tile edge still draw across the seam.
	padded := bbox.Pad(tilePadMeters(z, bbox))
	return ts.source.QueryBBox(ctx, orgID, padded, SimplifyToleranceForZoom(z))
}

func (ts *tileService) edgeAverages(ctx context.Context, orgID uuid.UUID, features []geosource.RoadFeature) (map[string]float64, error) {
	roadIDs := make([]string, 0, len(features))
	for _, f := range features {
		roadIDs = append(roadIDs, f.RoadID)
	}
	if ts.ratings == nil {
		return map[string]float64{}, nil
	}
	return ts.ratings.EdgeAverages(ctx, nil, orgID, roadIDs)
}

func validTile(z, x, y int) bool {
	if z < 0 || z > 22 {
		return false
	}
	n := 1 << uint(z)
	return x >= 0 && x < n && y >= 0 && y < n
}

// TileBBox converts slippy-map tile coordinates to a lng/lat bounding box.
func TileBBox(z, x, y int) geo.BBox {
	n := float64(int(1) << uint(z))
	minLng := float64(x)/n*360 - 180
	maxLng := float64(x+1)/n*360 - 180
	maxLat := tileLat(float64(y), n)
	minLat := tileLat(float64(y+1), n)
	return geo.BBox{MinLng: minLng, MinLat: minLat, MaxLng: maxLng, MaxLat: maxLat}
}

func tileLat(y, n float64) float64 {
	rad := math.Atan(math.Sinh(math.Pi * (1 - 2*y/n)))
	return rad * 180 / math.Pi
}

// SimplifyToleranceForZoom trades geometric detail for size at low zooms.
// From zoom 15 up the geometry passes through untouched.
func SimplifyToleranceForZoom(z int) float64 {
	if z >= 15 {
		return 0
	}
	// Roughly two tile pixels in degrees at this zoom.
	return 360 / float64(int(1)<<uint(z)) / tileExtent * 8
}

func tilePadMeters(z int, bbox geo.BBox) float64 {
	widthMeters := geo.Haversine(
		geo.Point{Lng: bbox.MinLng, Lat: bbox.Center().Lat},
		geo.Point{Lng: bbox.MaxLng, Lat: bbox.Center().Lat},
	)
	return widthMeters * 0.05
}

// projectToTile maps lng/lat vertices into tile-local web mercator
// coordinates with the given extent.
func projectToTile(line geo.LineString, z, x, y int, extent int) []mvt.Pt {
	n := float64(int(1) << uint(z))
	out := make([]mvt.Pt, 0, len(line))
	for _, p := range line {
		worldX := (p.Lng + 180) / 360
		latRad := p.Lat * math.Pi / 180
		worldY := (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2
		px := (worldX*n - float64(x)) * float64(extent)
		py := (worldY*n - float64(y)) * float64(extent)
		out = append(out, mvt.Pt{X: int32(math.Round(px)), Y: int32(math.Round(py))})
	}
	return out
}

func lineWidthForZoom(z int) float64 {
	switch {
	case z >= 15:
		return 3
	case z >= 12:
		return 2
	default:
		return 1
	}
}
