package handlers

import (
  "fmt"
  "net/http"
  "strconv"
  "strings"
  "github.com/gin-gonic/gin"
  "github.com/viamet/roadwatch-backend/internal/logger"
  "github.com/viamet/roadwatch-backend/internal/requestdata"
  "github.com/viamet/roadwatch-backend/internal/services"
)

type TileHandler struct {
  log             *logger.Logger
  tileService     services.TileService
}

func NewTileHandler(log *logger.Logger, tileService services.TileService) *TileHandler {
  return &TileHandler{
    log:         log.With("Handler", "TileHandler"),
    tileService: tileService,
  }
}

// Tile serves /tiles/roads/:z/:x/:y where y carries a ".pbf" or ".png"
// suffix. Empty tiles are 204, not errors, so map clients keep panning.
func (th *TileHandler) Tile(c *gin.Context) {
  z, err := strconv.Atoi(c.Param("z"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid z"))
    return
  }
  x, err := strconv.Atoi(c.Param("x"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid x"))
    return
  }
  yRaw := c.Param("y")
  format := "pbf"
  if strings.HasSuffix(yRaw, ".png") {
    format = "png"
    yRaw = strings.TrimSuffix(yRaw, ".png")
  } else {
    yRaw = strings.TrimSuffix(yRaw, ".pbf")
  }
  y, err := strconv.Atoi(yRaw)
  if err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid y"))
    return
  }

  orgID := requestdata.OrgID(c.Request.Context())
  switch format {
  case "png":
    img, err := th.tileService.RenderTilePNG(c.Request.Context(), z, x, y, orgID)
    if err != nil {
      RespondError(c, http.StatusBadRequest, "render_failed", err)
      return
    }
    if img == nil {
      c.Status(http.StatusNoContent)
      return
    }
    c.Data(http.StatusOK, "image/png", img)
  default:
    tile, err := th.tileService.RenderTile(c.Request.Context(), z, x, y, orgID)
    if err != nil {
      RespondError(c, http.StatusBadRequest, "render_failed", err)
      return
    }
    if tile == nil {
      c.Status(http.StatusNoContent)
      return
    }
    c.Data(http.StatusOK, "application/x-protobuf", tile)
  }
}
