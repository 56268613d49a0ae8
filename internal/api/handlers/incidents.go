package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/scenewatch/internal/models"
	"github.com/your-org/scenewatch/internal/storage"
	"github.com/your-org/scenewatch/pkg/dto"
)

type IncidentHandler struct {
	db *storage.PostgresStore
}

func NewIncidentHandler(db *storage.PostgresStore) *IncidentHandler {
	return &IncidentHandler{db: db}
}

func (h *IncidentHandler) List(c *gin.Context) {
	incidents, err := h.db.ListIncidents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.IncidentResponse, 0, len(incidents))
	for i := range incidents {
		resp = append(resp, dto.FromIncident(&incidents[i]))
	}
	c.JSON(http.StatusOK, dto.IncidentListResponse{Incidents: resp, Total: len(resp)})
}

func (h *IncidentHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident id"})
		return
	}

	inc, err := h.db.GetIncident(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.FromIncident(inc))
}

func (h *IncidentHandler) Streams(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident id"})
		return
	}

	streams, err := h.db.ListIncidentStreams(c.Request.Context(), id)
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

func (h *IncidentHandler) UpdateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident id"})
		return
	}

	var req dto.UpdateIncidentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inc, err := h.db.GetIncident(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	to := models.IncidentStatus(req.Status)
	if !models.ValidTransition(inc.Status, to) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "invalid status transition from " + string(inc.Status) + " to " + req.Status,
		})
		return
	}

	if err := h.db.UpdateIncidentStatus(c.Request.Context(), id, to); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status, "incident_id": id})
}
