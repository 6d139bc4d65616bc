// Package placeholder parses slot placeholder strings of the form
// "winner of round R, heat H, position P" used in not-yet-populated
// downstream heats.
package placeholder

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnresolvable marks a string that matches none of the accepted surface
// forms. Callers surface these for operator review instead of guessing.
var ErrUnresolvable = errors.New("placeholder: unresolvable reference")

// SlotRef is the parsed source reference of a placeholder.
type SlotRef struct {
	Round    int
	Heat     int
	Position int
}

// String renders the canonical surface form.
func (r SlotRef) String() string {
	return fmt.Sprintf("R%d-H%d-P%d", r.Round, r.Heat, r.Position)
}

// Three accepted surface forms, all case-insensitive:
//
//	R{round}-H{heat}-P{position}            canonical
//	R {round} - H {heat} (P {position})     display form with spacing/parens
//	R{round}-H{heat}-{position}             loose, also "R1-H2 P3"
var forms = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^r\s*(\d+)\s*-\s*h\s*(\d+)\s*-\s*p\s*(\d+)$`),
	regexp.MustCompile(`(?i)^r\s*(\d+)\s*-\s*h\s*(\d+)\s*\(\s*p\s*(\d+)\s*\)$`),
	regexp.MustCompile(`(?i)^r\s*(\d+)\s*-\s*h\s*(\d+)[\s-]+p?\s*(\d+)$`),
}

// Parse resolves a placeholder string into its source reference. Anything
// outside the three accepted forms returns ErrUnresolvable.
func Parse(s string) (SlotRef, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return SlotRef{}, fmt.Errorf("%w: empty string", ErrUnresolvable)
	}
	for _, re := range forms {
		m := re.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		round, _ := strconv.Atoi(m[1])
		heat, _ := strconv.Atoi(m[2])
		pos, _ := strconv.Atoi(m[3])
		if round == 0 || heat == 0 || pos == 0 {
			return SlotRef{}, fmt.Errorf("%w: %q", ErrUnresolvable, s)
		}
		return SlotRef{Round: round, Heat: heat, Position: pos}, nil
	}
	return SlotRef{}, fmt.Errorf("%w: %q", ErrUnresolvable, s)
}
