package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/scenewatch/internal/ingest"
	"github.com/your-org/scenewatch/internal/models"
	"github.com/your-org/scenewatch/pkg/dto"
)

// ObservationHandler is the one-shot submission path for devices that
// cannot hold an open ingestion connection. It runs the same pipeline as a
// session message: lookup-or-create with incident assignment, persist,
// schedule, broadcast.
type ObservationHandler struct {
	manager *ingest.Manager
}

func NewObservationHandler(manager *ingest.Manager) *ObservationHandler {
	return &ObservationHandler{manager: manager}
}

func (h *ObservationHandler) Submit(c *gin.Context) {
	var req dto.SubmitObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	now := time.Now().UTC()
	startedAt := now
	if req.Timestamp != nil {
		startedAt = req.Timestamp.UTC()
	}

	st, _, err := h.manager.InitStream(ctx, req.StreamID, *req.Latitude, *req.Longitude, startedAt)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream initialization failed"})
		return
	}

	obs := &models.Observation{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Type:      req.ObsType,
		Scenario:  req.Scenario,
		Data:      req.Data,
	}
	if req.Timestamp != nil {
		obs.Timestamp = req.Timestamp.UTC()
	}

	if err := h.manager.RecordObservation(ctx, st, obs, "oneshot"); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "observation not recorded"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"observation_id": obs.ID,
		"stream_id":      st.ID,
		"incident_id":    st.IncidentID,
	})
}
