package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHeatID(t *testing.T) {
	assert.Equal(t, "my_event_r1_h2", NormalizeHeatID(" My Event_R1_H2 "))
	assert.Equal(t, "open_juniors", NormalizeHeatID("Open   Juniors"))
	assert.Equal(t, "already_normal", NormalizeHeatID("already_normal"))
	assert.Equal(t, "", NormalizeHeatID("   "))
}

func TestHeatID(t *testing.T) {
	assert.Equal(t, "pipe_masters_open_r1_h2", HeatID("Pipe Masters", "Open", 1, 2))
}
