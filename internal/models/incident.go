package models

import (
	"time"

	"github.com/google/uuid"
)

type IncidentStatus string

const (
	IncidentStatusActive   IncidentStatus = "active"
	IncidentStatusResolved IncidentStatus = "resolved"
	IncidentStatusArchived IncidentStatus = "archived"
)

// ValidTransition reports whether an incident may move from one status to
// another. Incidents are never deleted, only archived.
func ValidTransition(from, to IncidentStatus) bool {
	switch from {
	case IncidentStatusActive:
		return to == IncidentStatusResolved || to == IncidentStatusArchived
	case IncidentStatusResolved:
		return to == IncidentStatusArchived
	default:
		return false
	}
}

// Incident is a clustered real-world event anchored at the location of the
// first stream that opened it.
type Incident struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	Status    IncidentStatus `json:"status" db:"status"`
	Latitude  float64        `json:"latitude" db:"latitude"`
	Longitude float64        `json:"longitude" db:"longitude"`
	OpenedAt  time.Time      `json:"opened_at" db:"opened_at"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}
