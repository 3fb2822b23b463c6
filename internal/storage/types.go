package storage

import (
	"errors"
	"time"

	"atcwatch/internal/event"
	"atcwatch/internal/governor"
	"atcwatch/internal/notify"
)

// ErrDisabled marks storage drivers compiled out of this build.
var ErrDisabled = errors.New("storage driver disabled")

// SchemaVersion is stamped into every persisted surface so the read-only
// web layer can detect incompatible records.
const SchemaVersion = 2

// Config configures storage.
//
// Driver values:
//   - "file": one JSON file per surface, atomic replace (default)
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// StatusRecord is the safety/status surface consumed by the dashboard.
// It is write-only from the watcher's side.
type StatusRecord struct {
	SchemaVersion int       `json:"schema_version"`
	FacilityID    string    `json:"facility_id"`
	State         string    `json:"state"`
	LastPollStart time.Time `json:"last_poll_start,omitempty"`
	LastPollEnd   time.Time `json:"last_poll_end,omitempty"`
	LastTickMS    int64     `json:"last_tick_ms,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	NewEvents     int       `json:"new_events"`
	TotalEvents   int       `json:"total_events"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store is the persistence API used by the scheduler loop. All writes
// replace the surface atomically; readers never observe partial state.
type Store interface {
	LoadEventLog() ([]event.LogEntry, error)
	SaveEventLog(entries []event.LogEntry) error

	// Seen identities map to the time they were first recorded.
	LoadSeen() (map[event.Identity]time.Time, error)
	SaveSeen(seen map[event.Identity]time.Time) error

	LoadNotifyState() (*notify.State, error)
	SaveNotifyState(st *notify.State) error

	LoadSafetyState() (*governor.Persisted, error)
	SaveSafetyState(st *governor.Persisted) error

	SaveStatus(st StatusRecord) error
	LoadStatus() (*StatusRecord, error)

	Close() error
}
