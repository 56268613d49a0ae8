package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/scenewatch/internal/models"
	"github.com/your-org/scenewatch/internal/storage"
	"github.com/your-org/scenewatch/pkg/dto"
)

// Broadcaster is the sink for stream status change announcements.
type Broadcaster interface {
	Publish(ev dto.Event)
}

type StreamHandler struct {
	db        *storage.PostgresStore
	artifacts *storage.MinIOStore
	hub       Broadcaster
}

func NewStreamHandler(db *storage.PostgresStore, artifacts *storage.MinIOStore, hub Broadcaster) *StreamHandler {
	return &StreamHandler{db: db, artifacts: artifacts, hub: hub}
}

func (h *StreamHandler) List(c *gin.Context) {
	streams, err := h.db.ListStreams(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.StreamResponse, 0, len(streams))
	for i := range streams {
		resp = append(resp, dto.FromStream(&streams[i]))
	}
	c.JSON(http.StatusOK, dto.StreamListResponse{Streams: resp, Total: len(resp)})
}

func (h *StreamHandler) Get(c *gin.Context) {
	st, err := h.db.GetStream(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.FromStream(st))
}

func (h *StreamHandler) Observations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	observations, err := h.db.ListObservations(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.ObservationResponse, 0, len(observations))
	for i := range observations {
		resp = append(resp, dto.FromObservation(&observations[i]))
	}
	c.JSON(http.StatusOK, dto.ObservationListResponse{Observations: resp, Total: len(resp)})
}

// RegisterArtifact attaches a recording URL to an ended stream, moving it
// to the recorded status.
func (h *StreamHandler) RegisterArtifact(c *gin.Context) {
	var req dto.RegisterArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	st, err := h.db.GetStream(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.UpdateStreamArtifact(c.Request.Context(), id, req.ArtifactURL); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "artifact registration requires an ended stream, current status: " + string(st.Status),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.hub.Publish(dto.StreamStatusChangedEvent{
		StreamID:   id,
		Status:     string(models.StreamStatusRecorded),
		IncidentID: st.IncidentID,
	})

	updated, err := h.db.GetStream(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.FromStream(updated))
}

// ObservationPayload serves the full payload of one observation, fetching
// it from object storage when it was archived out of the inline row.
func (h *StreamHandler) ObservationPayload(c *gin.Context) {
	obsID, err := uuid.Parse(c.Param("obs_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid observation id"})
		return
	}

	obs, err := h.db.GetObservation(c.Request.Context(), obsID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "observation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if obs.StreamID != c.Param("id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "observation not found"})
		return
	}

	if obs.PayloadKey == "" {
		c.Data(http.StatusOK, "application/json", obs.Data)
		return
	}

	data, err := h.artifacts.GetObject(c.Request.Context(), obs.PayloadKey)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "fetch archived payload: " + err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (h *StreamHandler) Timeline(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	events, err := h.db.ListTimelineEvents(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.TimelineEventResponse, 0, len(events))
	for i := range events {
		resp = append(resp, dto.FromTimelineEvent(&events[i]))
	}
	c.JSON(http.StatusOK, dto.TimelineListResponse{Events: resp, Total: len(resp)})
}
