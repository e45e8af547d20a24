package handlers

import (
  "fmt"
  "net/http"
  "strconv"
  "github.com/gin-gonic/gin"
  "github.com/viamet/roadwatch-backend/internal/geo"
  "github.com/viamet/roadwatch-backend/internal/geosource"
  "github.com/viamet/roadwatch-backend/internal/logger"
  "github.com/viamet/roadwatch-backend/internal/requestdata"
  "github.com/viamet/roadwatch-backend/internal/resolver"
  "github.com/viamet/roadwatch-backend/internal/services"
)

type RoadNetHandler struct {
  log             *logger.Logger
  resolver        *resolver.NearestEdgeResolver
  source          geosource.Source
  mapService      services.MapService
}

func NewRoadNetHandler(log *logger.Logger, nearestResolver *resolver.NearestEdgeResolver, source geosource.Source, mapService services.MapService) *RoadNetHandler {
  return &RoadNetHandler{
    log:        log.With("Handler", "RoadNetHandler"),
    resolver:   nearestResolver,
    source:     source,
    mapService: mapService,
  }
}

// NearestEdge answers a map click: the closest road edge within the radius,
// as a GeoJSON Feature, or a null feature when nothing is in range.
func (rh *RoadNetHandler) NearestEdge(c *gin.Context) {
  lat, err := strconv.ParseFloat(c.Query("lat"), 64)
  if err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid lat"))
    return
  }
  lng, err := strconv.ParseFloat(c.Query("lng"), 64)
  if err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid lng"))
    return
  }
  radius := 100.0
  if raw := c.Query("radius"); raw != "" {
    radius, err = strconv.ParseFloat(raw, 64)
    if err != nil || radius <= 0 {
      RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid radius"))
      return
    }
  }

  orgID := requestdata.OrgID(c.Request.Context())
  res, err := rh.resolver.Resolve(c.Request.Context(), lat, lng, radius, orgID)
  if err != nil {
    RespondError(c, http.StatusServiceUnavailable, "source_unavailable", err)
    return
  }
  if res == nil {
    RespondOK(c, gin.H{"edge_id": nil, "json": nil})
    return
  }

  properties := gin.H{
    "road_id":         res.RoadID,
    "distance_meters": res.DistanceMeters,
  }
  if res.Name != nil {
    properties["name"] = *res.Name
  }
  RespondOK(c, gin.H{
    "edge_id": res.RoadID,
    "json": gin.H{
      "type":       "Feature",
      "geometry":   res.Geometry.GeoJSON(),
      "properties": properties,
    },
  })
}

type geometriesRequest struct {
  RoadIDs       []string      `json:"road_ids"`
}

// Geometries resolves road ids to line geometry in bulk. Unknown ids are
// absent from the result rather than errors.
func (rh *RoadNetHandler) Geometries(c *gin.Context) {
  var req geometriesRequest
  if err := c.ShouldBindJSON(&req); err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", err)
    return
  }
  if len(req.RoadIDs) == 0 {
    RespondOK(c, gin.H{"geometries": gin.H{}})
    return
  }

  orgID := requestdata.OrgID(c.Request.Context())
  geoms, err := rh.source.Geometries(c.Request.Context(), orgID, req.RoadIDs)
  if err != nil {
    RespondError(c, http.StatusServiceUnavailable, "source_unavailable", err)
    return
  }

  out := make(map[string]interface{}, len(geoms))
  for roadID, line := range geoms {
    out[roadID] = line.GeoJSON()
  }
  RespondOK(c, gin.H{"geometries": out})
}

// MapData returns every edge in the viewport with its rating and color.
func (rh *RoadNetHandler) MapData(c *gin.Context) {
  bbox, err := parseBBoxQuery(c)
  if err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", err)
    return
  }

  orgID := requestdata.OrgID(c.Request.Context())
  rows, err := rh.mapService.MapData(c.Request.Context(), orgID, bbox)
  if err != nil {
    RespondError(c, http.StatusServiceUnavailable, "source_unavailable", err)
    return
  }
  RespondOK(c, rows)
}

func parseBBoxQuery(c *gin.Context) (geo.BBox, error) {
  var bbox geo.BBox
  var err error
  if bbox.MinLng, err = strconv.ParseFloat(c.Query("min_lon"), 64); err != nil {
    return bbox, fmt.Errorf("invalid min_lon")
  }
  if bbox.MinLat, err = strconv.ParseFloat(c.Query("min_lat"), 64); err != nil {
    return bbox, fmt.Errorf("invalid min_lat")
  }
  if bbox.MaxLng, err = strconv.ParseFloat(c.Query("max_lon"), 64); err != nil {
    return bbox, fmt.Errorf("invalid max_lon")
  }
  if bbox.MaxLat, err = strconv.ParseFloat(c.Query("max_lat"), 64); err != nil {
    return bbox, fmt.Errorf("invalid max_lat")
  }
  if bbox.MinLng > bbox.MaxLng || bbox.MinLat > bbox.MaxLat {
    return bbox, fmt.Errorf("inverted bounding box")
  }
  return bbox, nil
}
