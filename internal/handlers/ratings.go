package handlers

import (
  "fmt"
  "net/http"
  "github.com/gin-gonic/gin"
  "github.com/google/uuid"
  "github.com/viamet/roadwatch-backend/internal/geo"
  "github.com/viamet/roadwatch-backend/internal/logger"
  "github.com/viamet/roadwatch-backend/internal/requestdata"
  "github.com/viamet/roadwatch-backend/internal/services"
)

type RatingHandler struct {
  log               *logger.Logger
  ratingService     services.RatingService
}

func NewRatingHandler(log *logger.Logger, ratingService services.RatingService) *RatingHandler {
  return &RatingHandler{
    log:           log.With("Handler", "RatingHandler"),
    ratingService: ratingService,
  }
}

type measurementInput struct {
  RoadID        string        `json:"road_id"`
  Value         float64       `json:"value"`
  Point         *struct {
    Lat         float64       `json:"lat"`
    Lng         float64       `json:"lng"`
  }                           `json:"point,omitempty"`
}

type ingestRequest struct {
  ContributorID uuid.UUID           `json:"contributor_id"`
  ProjectID     *uuid.UUID          `json:"project_id,omitempty"`
  Measurements  []measurementInput  `json:"measurements"`
}

// IngestSurvey applies a completed survey's measurements to the rating
// history and rolling averages.
func (rh *RatingHandler) IngestSurvey(c *gin.Context) {
  surveyID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid survey id"))
    return
  }
  var req ingestRequest
  if err := c.ShouldBindJSON(&req); err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", err)
    return
  }
  if req.ContributorID == uuid.Nil {
    RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("contributor_id required"))
    return
  }
  if len(req.Measurements) == 0 {
    RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("measurements required"))
    return
  }

  measurements := make([]services.Measurement, 0, len(req.Measurements))
  for _, m := range req.Measurements {
    converted := services.Measurement{RoadID: m.RoadID, Value: m.Value}
    if m.Point != nil {
      converted.Point = &geo.Point{Lng: m.Point.Lng, Lat: m.Point.Lat}
    }
    measurements = append(measurements, converted)
  }

  orgID := requestdata.OrgID(c.Request.Context())
  result, err := rh.ratingService.IngestSurvey(c.Request.Context(), orgID, surveyID, req.ProjectID, req.ContributorID, measurements)
  if err != nil {
    RespondError(c, http.StatusInternalServerError, "ingest_failed", err)
    return
  }
  RespondOK(c, result)
}

// RetractSurvey reverses a survey's ratings, deleting its history rows and
// recomputing every touched aggregate.
func (rh *RatingHandler) RetractSurvey(c *gin.Context) {
  surveyID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid survey id"))
    return
  }

  orgID := requestdata.OrgID(c.Request.Context())
  result, err := rh.ratingService.RetractSurvey(c.Request.Context(), orgID, surveyID)
  if err != nil {
    RespondError(c, http.StatusInternalServerError, "retract_failed", err)
    return
  }
  RespondOK(c, result)
}
