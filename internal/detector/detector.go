// Package detector separates genuinely new receiving events from rows the
// watcher has already seen, and maintains the rolling event log.
package detector

import (
	"time"

	"atcwatch/internal/event"
	"atcwatch/pkg/logx"
)

type Detector struct {
	retention time.Duration
	log       logx.Logger

	now func() time.Time
}

func New(retention time.Duration, log logx.Logger) *Detector {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Detector{retention: retention, log: log, now: time.Now}
}

// SetClock overrides the time source (tests only).
func (d *Detector) SetClock(now func() time.Time) { d.now = now }

// Apply filters rows against the seen set, appends new events to the log,
// registers their identities, and prunes the log by retention. It mutates
// seen and returns the new events in input order plus the updated log.
//
// The seen set is never pruned here: log retention must not cause an old
// container to be re-notified.
func (d *Detector) Apply(rows []event.Raw, seen map[event.Identity]time.Time, entries []event.LogEntry) (newEvents []event.LogEntry, updated []event.LogEntry) {
	now := d.now()

	for _, row := range rows {
		id := row.Identity()
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = now
		e := event.LogEntry{Raw: row, DetectedAt: now}
		newEvents = append(newEvents, e)
		entries = append(entries, e)
	}

	updated = pruneByDetection(entries, now.Add(-d.retention))

	if len(newEvents) > 0 && !d.log.IsZero() {
		d.log.Info("new events detected",
			logx.Int("count", len(newEvents)),
			logx.Int("log_size", len(updated)),
		)
	}
	return newEvents, updated
}

// Recent returns log entries detected at or after since, preserving
// insertion (detection) order.
func Recent(entries []event.LogEntry, since time.Time) []event.LogEntry {
	// Entries are in detection order, so scan back for the boundary.
	i := len(entries)
	for i > 0 && !entries[i-1].DetectedAt.Before(since) {
		i--
	}
	return entries[i:]
}

func pruneByDetection(entries []event.LogEntry, cutoff time.Time) []event.LogEntry {
	i := 0
	for i < len(entries) && entries[i].DetectedAt.Before(cutoff) {
		i++
	}
	if i == 0 {
		return entries
	}
	return append([]event.LogEntry(nil), entries[i:]...)
}
