package channel

import (
	"time"

	"atcwatch/internal/detector"
	"atcwatch/internal/event"
)

// Baseline serves interactively connected viewers. It is stateless from
// the watcher's perspective: a viewer only ever needs "events detected
// after my session started", answered by timestamp comparison against the
// committed log, not by the notified-flag mechanism.
type Baseline struct {
	start time.Time
}

func NewBaseline(sessionStart time.Time) *Baseline {
	return &Baseline{start: sessionStart}
}

// EventsSince returns committed log entries detected after the viewer's
// session start, in detection order.
func (b *Baseline) EventsSince(entries []event.LogEntry) []event.LogEntry {
	return detector.Recent(entries, b.start)
}
