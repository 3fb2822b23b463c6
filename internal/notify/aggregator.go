// Package notify groups newly detected events into delivery-level
// notifications, deduplicates per channel, and enforces per-channel hourly
// send ceilings.
package notify

import (
	"sort"
	"strings"
	"time"

	"atcwatch/internal/event"
	"atcwatch/pkg/logx"
)

// ChannelPolicy is the per-channel slice of config the aggregator needs.
// A shift missing from DestinationsByShift is intentionally never notified
// on that channel.
type ChannelPolicy struct {
	Name                string
	DestinationsByShift map[string]string
	MaxSendsPerHour     int
	MaxItems            int
}

// Intent is one decided notification: the aggregator has already marked the
// delivery as notified on the channel and consumed rate budget, so a
// dispatch failure downstream must not be retried within the tick.
type Intent struct {
	Channel     string
	Destination string
	Delivery    event.DeliveryKey
	Summary     Summary
}

// Summary carries the message content policy: facility, shift, first-seen,
// delivery, non-overflow locations, and a capped item list by descriptive
// name. Quantity counts are deliberately absent.
type Summary struct {
	FacilityID string
	ShiftLabel string
	FirstSeen  time.Time
	Delivery   event.DeliveryKey
	Locations  []string
	Items      []string
}

type Aggregator struct {
	facilityID string
	overflow   map[string]bool // lowercased location IDs
	log        logx.Logger

	now func() time.Time
}

func NewAggregator(facilityID string, overflowLocations []string, log logx.Logger) *Aggregator {
	ov := make(map[string]bool, len(overflowLocations))
	for _, loc := range overflowLocations {
		loc = strings.ToLower(strings.TrimSpace(loc))
		if loc != "" {
			ov[loc] = true
		}
	}
	return &Aggregator{facilityID: facilityID, overflow: ov, log: log, now: time.Now}
}

// SetClock overrides the time source (tests only).
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

// Decide groups this tick's new events by delivery and produces intents for
// every (delivery, channel) pair that is eligible, unnotified, and under
// the channel's rate ceiling. st is mutated: first-seen records are created
// and notified flags/buckets advance for every returned intent.
func (a *Aggregator) Decide(newEvents []event.LogEntry, st *State, channels []ChannelPolicy) []Intent {
	st.normalize()

	groups := groupByDelivery(newEvents)
	if len(groups) == 0 {
		return nil
	}

	// Stable processing order keeps rate-ceiling behavior deterministic.
	keys := make([]event.DeliveryKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	now := a.now()
	var intents []Intent
	for _, key := range keys {
		evs := groups[key]

		rec := st.Deliveries[key]
		if rec == nil {
			rec = &DeliveryRecord{FirstSeen: earliestDetection(evs)}
			st.Deliveries[key] = rec
		}
		if rec.NotifiedAt == nil {
			rec.NotifiedAt = map[string]time.Time{}
		}

		if a.allOverflow(evs) {
			// A delivery composed entirely of overflow-location events does
			// not trigger its first notification.
			continue
		}

		summary := a.summarize(key, rec.FirstSeen, evs)
		shift := summary.ShiftLabel

		for _, ch := range channels {
			if _, done := rec.NotifiedAt[ch.Name]; done {
				continue
			}
			dst := strings.TrimSpace(ch.DestinationsByShift[shift])
			if dst == "" {
				continue
			}
			if !st.allow(ch.Name, now, ch.MaxSendsPerHour) {
				if !a.log.IsZero() {
					a.log.Warn("send suppressed by rate ceiling",
						logx.String("channel", ch.Name),
						logx.String("delivery", string(key)),
						logx.Int("ceiling", ch.MaxSendsPerHour),
					)
				}
				continue
			}
			rec.NotifiedAt[ch.Name] = now

			s := summary
			if ch.MaxItems > 0 && len(s.Items) > ch.MaxItems {
				s.Items = s.Items[:ch.MaxItems]
			}
			intents = append(intents, Intent{
				Channel:     ch.Name,
				Destination: dst,
				Delivery:    key,
				Summary:     s,
			})
		}
	}
	return intents
}

func groupByDelivery(entries []event.LogEntry) map[event.DeliveryKey][]event.LogEntry {
	out := map[event.DeliveryKey][]event.LogEntry{}
	for _, e := range entries {
		key := e.Delivery()
		if key == "" {
			continue
		}
		out[key] = append(out[key], e)
	}
	return out
}

func earliestDetection(entries []event.LogEntry) time.Time {
	var first time.Time
	for _, e := range entries {
		if first.IsZero() || e.DetectedAt.Before(first) {
			first = e.DetectedAt
		}
	}
	return first
}

func (a *Aggregator) isOverflow(locationID string) bool {
	return a.overflow[strings.ToLower(strings.TrimSpace(locationID))]
}

func (a *Aggregator) allOverflow(entries []event.LogEntry) bool {
	for _, e := range entries {
		if !a.isOverflow(e.LocationID) {
			return false
		}
	}
	return len(entries) > 0
}

// summarize builds the delivery summary from this tick's events. The shift
// label comes from the first event, matching how rows are grouped upstream.
func (a *Aggregator) summarize(key event.DeliveryKey, firstSeen time.Time, entries []event.LogEntry) Summary {
	shift := strings.TrimSpace(entries[0].ShiftLabel)
	if shift == "" {
		shift = "Off Shift"
	}

	// Locations ranked by event count, overflow excluded.
	locCounts := map[string]int{}
	for _, e := range entries {
		loc := strings.TrimSpace(e.LocationID)
		if loc == "" || a.isOverflow(loc) {
			continue
		}
		locCounts[loc]++
	}
	locs := make([]string, 0, len(locCounts))
	for loc := range locCounts {
		locs = append(locs, loc)
	}
	sort.Slice(locs, func(i, j int) bool {
		if locCounts[locs[i]] != locCounts[locs[j]] {
			return locCounts[locs[i]] > locCounts[locs[j]]
		}
		return locs[i] < locs[j]
	})

	// Items by descriptive name, deduplicated, most events first.
	itemCounts := map[string]int{}
	for _, e := range entries {
		name := strings.TrimSpace(e.ItemDesc)
		if name == "" {
			name = strings.TrimSpace(e.ItemNbr)
		}
		if name == "" {
			continue
		}
		itemCounts[name]++
	}
	items := make([]string, 0, len(itemCounts))
	for it := range itemCounts {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		if itemCounts[items[i]] != itemCounts[items[j]] {
			return itemCounts[items[i]] > itemCounts[items[j]]
		}
		return items[i] < items[j]
	})

	return Summary{
		FacilityID: a.facilityID,
		ShiftLabel: shift,
		FirstSeen:  firstSeen,
		Delivery:   key,
		Locations:  locs,
		Items:      items,
	}
}
