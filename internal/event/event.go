// Package event defines the manual-receiving event model shared by the
// detector, aggregator, and persisted surfaces.
package event

import (
	"strings"
	"time"
)

// Identity is the canonical dedupe key for a receiving event.
//
// Site decision: the container ID is the unique identifier for a case, so
// dedupe/identity is container-level, not a composite key.
type Identity string

// Raw is one facility-scoped row as returned by the upstream query.
// Produced fresh on every poll; not retained verbatim beyond the log.
type Raw struct {
	ContainerID    string    `json:"container_id"`
	ReceivedAt     time.Time `json:"received_at"`
	LocationID     string    `json:"location_id"`
	ItemNbr        string    `json:"item_nbr"`
	ItemDesc       string    `json:"item_desc,omitempty"`
	VendorName     string    `json:"vendor_name,omitempty"`
	DeliveryNumber string    `json:"delivery_number"`
	ShiftLabel     string    `json:"shift_label"`
	CaseQty        float64   `json:"case_qty"`
}

func (r Raw) Identity() Identity {
	return Identity(strings.TrimSpace(r.ContainerID))
}

// LogEntry is a Raw plus the moment the watcher first detected it.
// Entries are append-only and pruned by DetectedAt on each write.
type LogEntry struct {
	Raw
	DetectedAt time.Time `json:"detected_at"`
}

// DeliveryKey identifies a logical shipment; multiple log entries may
// share one key.
type DeliveryKey string

func (r Raw) Delivery() DeliveryKey {
	return DeliveryKey(strings.TrimSpace(r.DeliveryNumber))
}
