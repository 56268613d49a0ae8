package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to IncidentStatus
		want     bool
	}{
		{IncidentStatusActive, IncidentStatusResolved, true},
		{IncidentStatusActive, IncidentStatusArchived, true},
		{IncidentStatusResolved, IncidentStatusArchived, true},
		{IncidentStatusResolved, IncidentStatusActive, false},
		{IncidentStatusArchived, IncidentStatusActive, false},
		{IncidentStatusArchived, IncidentStatusResolved, false},
		{IncidentStatusActive, IncidentStatusActive, false},
		{IncidentStatus("bogus"), IncidentStatusArchived, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ValidTransition(c.from, c.to),
			"%s -> %s", c.from, c.to)
	}
}
