package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActivityTypeName_IsKnown(t *testing.T) {
	for _, name := range KnownActivityTypes {
		assert.Truef(t, name.IsKnown(), "%s should be known", name)
	}
	assert.False(t, ActivityTypeName("TICKET_BURNED").IsKnown())
	assert.False(t, ActivityTypeName("").IsKnown())
}

func TestActivityTypeName_String(t *testing.T) {
	assert.Equal(t, "EVENT_CREATED", ActivityEventCreated.String())
}
