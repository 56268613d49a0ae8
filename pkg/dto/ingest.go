package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Device → server message types.
const (
	MessageInit        = "init"
	MessageObservation = "observation"
	MessageStreamEnded = "streamEnded"
)

// Server → device reply types.
const (
	ReplyReady = "ready"
	ReplyAck   = "ack"
	ReplyError = "error"
)

// Error codes carried on ReplyError messages.
const (
	CodeValidation    = "validation"
	CodeProtocolState = "protocol_state"
	CodeNotFound      = "not_found"
	CodeInternal      = "internal"
)

// DeviceMessage is the envelope for every message a field device sends over
// its ingestion connection. Which fields are required depends on Type.
type DeviceMessage struct {
	Type      string          `json:"type"`
	StreamID  string          `json:"stream_id,omitempty"`
	Latitude  *float64        `json:"latitude,omitempty"`
	Longitude *float64        `json:"longitude,omitempty"`
	ObsType   string          `json:"obs_type,omitempty"`
	Scenario  string          `json:"scenario,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// ServerReply is the envelope for acknowledgments and error signals sent
// back to the device.
type ServerReply struct {
	Type          string     `json:"type"`
	StreamID      string     `json:"stream_id,omitempty"`
	IncidentID    *uuid.UUID `json:"incident_id,omitempty"`
	Created       *bool      `json:"created,omitempty"`
	ObservationID *uuid.UUID `json:"observation_id,omitempty"`
	Code          string     `json:"code,omitempty"`
	Message       string     `json:"message,omitempty"`
}

func AckReply(observationID uuid.UUID) ServerReply {
	return ServerReply{Type: ReplyAck, ObservationID: &observationID}
}

func ErrorReply(code, message string) ServerReply {
	return ServerReply{Type: ReplyError, Code: code, Message: message}
}
