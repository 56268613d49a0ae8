package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Event type tags as they appear on the wire.
const (
	EventConnected           = "connected"
	EventCurrentState        = "currentState"
	EventKeepalive           = "keepalive"
	EventNewStream           = "newStream"
	EventObservationReceived = "observationReceived"
	EventTimelineEvent       = "timelineEvent"
	EventStateUpdated        = "stateUpdated"
	EventStreamStatusChanged = "streamStatusChanged"
)

// Event is one broadcast message. The concrete types in this file form the
// closed set of everything the hub may deliver; adding a kind means adding
// a type here, so transports switch exhaustively rather than inspecting
// string-keyed maps.
type Event interface {
	// EventType returns the wire tag.
	EventType() string
	// Topic returns the incident this event is scoped to, or nil for an
	// unscoped event delivered to every observer.
	Topic() *uuid.UUID
}

// Envelope wraps an Event for JSON transport.
type Envelope struct {
	Type string `json:"type"`
	Data Event  `json:"data,omitempty"`
}

func Wrap(ev Event) Envelope {
	return Envelope{Type: ev.EventType(), Data: ev}
}

type ConnectedEvent struct {
	ClientID   string     `json:"client_id"`
	IncidentID *uuid.UUID `json:"incident_id,omitempty"`
}

func (e ConnectedEvent) EventType() string { return EventConnected }
func (e ConnectedEvent) Topic() *uuid.UUID { return nil }

type CurrentStateEvent struct {
	IncidentID uuid.UUID       `json:"incident_id"`
	State      json.RawMessage `json:"state"`
}

func (e CurrentStateEvent) EventType() string { return EventCurrentState }
func (e CurrentStateEvent) Topic() *uuid.UUID { return &e.IncidentID }

type KeepaliveEvent struct{}

func (e KeepaliveEvent) EventType() string { return EventKeepalive }
func (e KeepaliveEvent) Topic() *uuid.UUID { return nil }

type NewStreamEvent struct {
	Stream     StreamResponse `json:"stream"`
	IncidentID uuid.UUID      `json:"incident_id"`
}

func (e NewStreamEvent) EventType() string { return EventNewStream }

// Topic is nil: new streams are announced to every observer so global
// dashboards see incidents forming.
func (e NewStreamEvent) Topic() *uuid.UUID { return nil }

type ObservationReceivedEvent struct {
	Observation ObservationResponse `json:"observation"`
	IncidentID  *uuid.UUID          `json:"incident_id,omitempty"`
}

func (e ObservationReceivedEvent) EventType() string { return EventObservationReceived }
func (e ObservationReceivedEvent) Topic() *uuid.UUID { return nil }

type TimelineEventEvent struct {
	Event      TimelineEventResponse `json:"event"`
	IncidentID *uuid.UUID            `json:"incident_id,omitempty"`
}

func (e TimelineEventEvent) EventType() string { return EventTimelineEvent }
func (e TimelineEventEvent) Topic() *uuid.UUID { return e.IncidentID }

type StateUpdatedEvent struct {
	StreamID   string     `json:"stream_id"`
	State      string     `json:"state"`
	IncidentID *uuid.UUID `json:"incident_id,omitempty"`
}

func (e StateUpdatedEvent) EventType() string { return EventStateUpdated }
func (e StateUpdatedEvent) Topic() *uuid.UUID { return e.IncidentID }

type StreamStatusChangedEvent struct {
	StreamID   string     `json:"stream_id"`
	Status     string     `json:"status"`
	IncidentID *uuid.UUID `json:"incident_id,omitempty"`
}

func (e StreamStatusChangedEvent) EventType() string { return EventStreamStatusChanged }
func (e StreamStatusChangedEvent) Topic() *uuid.UUID { return nil }
