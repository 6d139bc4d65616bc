package placeholder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAcceptedForms(t *testing.T) {
	tests := []struct {
		in   string
		want SlotRef
	}{
		{"R1-H2-P3", SlotRef{1, 2, 3}},
		{"r1-h2-p3", SlotRef{1, 2, 3}},
		{"R 1 - H 2 (P 3)", SlotRef{1, 2, 3}},
		{"R2 - H3 (P1)", SlotRef{2, 3, 1}},
		{"R1-H2-3", SlotRef{1, 2, 3}},
		{"R1-H2 P3", SlotRef{1, 2, 3}},
		{"  R12-H34-P5  ", SlotRef{12, 34, 5}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestParseRejectsUnknownForms(t *testing.T) {
	for _, in := range []string{
		"",
		"winner of heat 2",
		"R1-P3",
		"H2-R1-P3",
		"R0-H1-P1",
		"R1-H0-P1",
		"R1-H1-P0",
		"R1H1P1",
		"round 1 heat 2 pos 3",
	} {
		_, err := Parse(in)
		require.Error(t, err, "input %q", in)
		assert.True(t, errors.Is(err, ErrUnresolvable), "input %q", in)
	}
}

func TestSlotRefString(t *testing.T) {
	assert.Equal(t, "R2-H3-P1", SlotRef{2, 3, 1}.String())
}
