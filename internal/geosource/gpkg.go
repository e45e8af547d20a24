package geosource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/viamet/roadwatch-backend/internal/config"
	"github.com/viamet/roadwatch-backend/internal/geo"
	"github.com/viamet/roadwatch-backend/internal/logger"
)

const (
	// Stop the exact-distance pass once something this close turns up. Not
	// globally optimal, but GPS noise dwarfs the difference.
	nearestEarlyExitMeters = 5.0
	// Exact nearest-point-on-line is O(vertices); keep the candidate set
	// bounded and pre-sorted by approximate distance.
	maxNearestCandidates = 200
	// Radius cap keeps the degree-space search box sane near the poles and
	// the antimeridian.
	maxSearchRadiusMeters = 100_000.0
)

// FileSource serves geometry from GeoPackage files listed in the dataset
// config. Each org's files load once into an immutable in-memory grid index;
// rebuilds swap the index pointer atomically so readers never see a partial
// build.
type FileSource struct {
	log         *logger.Logger
	policy      geo.MultiLinePolicy
	byOrg       map[uuid.UUID][]config.Dataset
	loadTimeout time.Duration

	mu    sync.Mutex
	state atomic.Pointer[map[uuid.UUID]*gridIndex]
	group singleflight.Group
}

func NewFileSource(baseLog *logger.Logger, cfg *config.DatasetConfig, policy geo.MultiLinePolicy, loadTimeout time.Duration) *FileSource {
	byOrg := map[uuid.UUID][]config.Dataset{}
	if cfg != nil {
		byOrg = cfg.ByOrg()
	}
	if loadTimeout <= 0 {
		loadTimeout = 60 * time.Second
	}
	return &FileSource{
		log:         baseLog.With("service", "FileGeometrySource"),
		policy:      policy,
		byOrg:       byOrg,
		loadTimeout: loadTimeout,
	}
}

func (fs *FileSource) FindNearest(ctx context.Context, p geo.Point, radiusMeters float64, orgID uuid.UUID) (*NearestRoad, error) {
	idx, err := fs.indexFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if radiusMeters > maxSearchRadiusMeters {
		radiusMeters = maxSearchRadiusMeters
	}

	var best *NearestRoad
	for _, i := range idx.candidatesNear(p, radiusMeters, maxNearestCandidates) {
		f := idx.features[i]
		d := geo.DistanceToLine(p, f.Line)
		if d > radiusMeters {
			continue
		}
		if best == nil || d < best.DistanceMeters {
			best = &NearestRoad{
				RoadID:         f.RoadID,
				Name:           f.Name,
				DistanceMeters: d,
				Geometry:       f.Line,
			}
		}
		if d <= nearestEarlyExitMeters {
			break
		}
	}
	return best, nil
}

func (fs *FileSource) Geometries(ctx context.Context, orgID uuid.UUID, roadIDs []string) (map[string]geo.LineString, error) {
	idx, err := fs.indexFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]geo.LineString, len(roadIDs))
	for _, id := range roadIDs {
		if i, ok := idx.byRoadID[id]; ok {
			out[id] = idx.features[i].Line
		}
	}
	return out, nil
}

func (fs *FileSource) QueryBBox(ctx context.Context, orgID uuid.UUID, bbox geo.BBox, simplifyToleranceDeg float64) ([]RoadFeature, error) {
	idx, err := fs.indexFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	ids := idx.query(bbox)
	out := make([]RoadFeature, 0, len(ids))
	for _, i := range ids {
		f := idx.features[i]
		line := f.Line
		if simplifyToleranceDeg > 0 {
			line = geo.Simplify(line, simplifyToleranceDeg)
		}
		out = append(out, RoadFeature{
			RoadID:    f.RoadID,
			Name:      f.Name,
			RoadClass: f.RoadClass,
			Geometry:  line,
		})
	}
	return out, nil
}

// Invalidate drops the org's index so the next query rebuilds from disk.
func (fs *FileSource) Invalidate(orgID uuid.UUID) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	old := fs.state.Load()
	if old == nil {
		return
	}
	next := make(map[uuid.UUID]*gridIndex, len(*old))
	for k, v := range *old {
		if k != orgID {
			next[k] = v
		}
	}
	fs.state.Store(&next)
}

func (fs *FileSource) indexFor(ctx context.Context, orgID uuid.UUID) (*gridIndex, error) {
	if m := fs.state.Load(); m != nil {
		if idx, ok := (*m)[orgID]; ok {
			return idx, nil
		}
	}
	datasets := fs.byOrg[orgID]
	if len(datasets) == 0 {
		return nil, fmt.Errorf("%w: no dataset configured for org %s", ErrSourceUnavailable, orgID)
	}

	// Builds are one-time-but-blocking; singleflight collapses concurrent
	// requests into one load, and waiters still honor their own deadline.
	ch := fs.group.DoChan(orgID.String(), func() (interface{}, error) {
		buildCtx, cancel := context.WithTimeout(context.Background(), fs.loadTimeout)
		defer cancel()
		started := time.Now()
		feats, err := fs.loadDatasets(buildCtx, datasets)
		if err != nil {
			return nil, err
		}
		idx := buildGridIndex(feats, 0)
		fs.swapIn(orgID, idx)
		fs.log.Info("Built spatial index", "org_id", orgID, "features", len(feats), "took", time.Since(started).String())
		return idx, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: index build timed out: %w", ErrSourceUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, res.Err)
		}
		return res.Val.(*gridIndex), nil
	}
}

func (fs *FileSource) swapIn(orgID uuid.UUID, idx *gridIndex) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	next := make(map[uuid.UUID]*gridIndex)
	if old := fs.state.Load(); old != nil {
		for k, v := range *old {
			next[k] = v
		}
	}
	next[orgID] = idx
	fs.state.Store(&next)
}

func (fs *FileSource) loadDatasets(ctx context.Context, datasets []config.Dataset) ([]feature, error) {
	results := make([][]feature, len(datasets))
	g, ctx := errgroup.WithContext(ctx)
	for i, ds := range datasets {
		g.Go(func() error {
			feats, err := fs.loadFile(ctx, ds)
			if err != nil {
				return fmt.Errorf("load %s: %w", ds.File, err)
			}
			results[i] = feats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var all []feature
	for _, feats := range results {
		all = append(all, feats...)
	}
	return all, nil
}

func (fs *FileSource) loadFile(ctx context.Context, ds config.Dataset) ([]feature, error) {
	gdb, err := gorm.Open(sqlite.Open("file:"+ds.File+"?mode=ro"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open geopackage: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()

	table, geomCol, err := fs.resolveLayer(ctx, gdb, ds)
	if err != nil {
		return nil, err
	}
	idCol := ds.IDColumn
	if idCol == "" {
		idCol = "fid"
	}
	nameExpr := "NULL"
	if ds.NameColumn != "" {
		nameExpr = quoteIdent(ds.NameColumn)
	}
	classExpr := "NULL"
	if ds.ClassColumn != "" {
		classExpr = quoteIdent(ds.ClassColumn)
	}

	query := fmt.Sprintf(
		`SELECT CAST(%s AS TEXT), %s, %s, %s FROM %s`,
		quoteIdent(idCol), nameExpr, classExpr, quoteIdent(geomCol), quoteIdent(table),
	)
	rows, err := gdb.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return nil, fmt.Errorf("read feature table %s: %w", table, err)
	}
	defer rows.Close()

	var feats []feature
	skipped := 0
	for rows.Next() {
		var roadID string
		var name, class sql.NullString
		var blob []byte
		if err := rows.Scan(&roadID, &name, &class, &blob); err != nil {
			return nil, err
		}
		lines, err := geo.DecodeGPKG(blob, fs.policy)
		if err != nil {
			var decodeErr *geo.DecodeError
			if errors.As(err, &decodeErr) {
				skipped++
				continue
			}
			return nil, err
		}
		for partIdx, line := range lines {
			id := roadID
			if partIdx > 0 {
				id = fmt.Sprintf("%s_p%d", roadID, partIdx)
			}
			f := feature{RoadID: id, Line: line, BBox: line.BBox()}
			if name.Valid {
				n := name.String
				f.Name = &n
			}
			if class.Valid {
				c := class.String
				f.RoadClass = &c
			}
			feats = append(feats, f)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		fs.log.Warn("Skipped undecodable features", "file", ds.File, "skipped", skipped)
	}
	return feats, nil
}

// resolveLayer finds the feature table and its geometry column, preferring
// explicit config and falling back to the gpkg_contents catalog.
func (fs *FileSource) resolveLayer(ctx context.Context, gdb *gorm.DB, ds config.Dataset) (string, string, error) {
	table := ds.Table
	if table == "" {
		err := gdb.WithContext(ctx).
			Raw(`SELECT table_name FROM gpkg_contents WHERE data_type = 'features' LIMIT 1`).
			Scan(&table).Error
		if err != nil || table == "" {
			return "", "", fmt.Errorf("no feature table in %s: %v", ds.File, err)
		}
	}
	geomCol := ""
	err := gdb.WithContext(ctx).
		Raw(`SELECT column_name FROM gpkg_geometry_columns WHERE table_name = ?`, table).
		Scan(&geomCol).Error
	if err != nil || geomCol == "" {
		geomCol = "geom"
	}
	return table, geomCol, nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
