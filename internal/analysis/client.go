// Package analysis invokes the external timeline-analysis service and
// turns its output into persisted timeline events.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/scenewatch/internal/config"
	"github.com/your-org/scenewatch/internal/models"
)

// Request is the payload sent to the analysis service.
type Request struct {
	StreamID     string               `json:"stream_id"`
	Observations []models.Observation `json:"observations"`
	PriorState   string               `json:"prior_state,omitempty"`
}

// ResponseEvent is one derived state change returned by the service.
type ResponseEvent struct {
	Timestamp    time.Time       `json:"timestamp"`
	Description  string          `json:"description"`
	FromState    json.RawMessage `json:"from_state,omitempty"`
	ToState      json.RawMessage `json:"to_state,omitempty"`
	Confidence   float64         `json:"confidence"`
	SourceObsIDs []uuid.UUID     `json:"source_observation_ids,omitempty"`
}

// Response is the analysis service's answer for one batch.
type Response struct {
	Events       []ResponseEvent `json:"events"`
	UpdatedState string          `json:"updated_state"`
}

// Service is the analysis collaborator seam.
type Service interface {
	Analyze(ctx context.Context, req Request) (*Response, error)
}

// Client calls the analysis service over HTTP.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func NewClient(cfg config.AnalysisConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpc:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Analyze(ctx context.Context, req Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call analysis service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("analysis service returned %d: %s", resp.StatusCode, body)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}
	return &out, nil
}
