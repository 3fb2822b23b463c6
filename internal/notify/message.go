package notify

import (
	"fmt"
	"strings"
)

// BuildMessage renders a summary into the channel-neutral title + lines
// shape dispatchers consume. Quantities are intentionally omitted.
func BuildMessage(s Summary) (title string, lines []string) {
	title = fmt.Sprintf("New delivery %s (%s)", s.Delivery, s.ShiftLabel)

	lines = append(lines, fmt.Sprintf("Facility: %s", s.FacilityID))
	lines = append(lines, fmt.Sprintf("Shift: %s", s.ShiftLabel))
	if !s.FirstSeen.IsZero() {
		lines = append(lines, fmt.Sprintf("First seen: %s", s.FirstSeen.Format("2006-01-02 15:04:05")))
	}
	lines = append(lines, fmt.Sprintf("Delivery: %s", s.Delivery))
	if len(s.Locations) > 0 {
		lines = append(lines, fmt.Sprintf("Locations: %s", strings.Join(s.Locations, ", ")))
	}
	for _, item := range s.Items {
		lines = append(lines, fmt.Sprintf("Item: %s", item))
	}
	return title, lines
}
