package notify

import (
	"time"

	"atcwatch/internal/event"
)

// DeliveryRecord tracks notification progress for one delivery.
// FirstSeen is set on first observation and never updated; a channel entry
// in NotifiedAt means that channel has been notified (at most once).
type DeliveryRecord struct {
	FirstSeen  time.Time            `json:"first_seen"`
	NotifiedAt map[string]time.Time `json:"notified_at,omitempty"`
}

// RateBucket counts sends in a fixed clock-hour bucket. The counter resets
// when the bucket boundary is crossed; over-ceiling sends are suppressed,
// never queued.
type RateBucket struct {
	BucketStart time.Time `json:"bucket_start"`
	Count       int       `json:"count"`
}

// State is the delivery-notification surface persisted between ticks.
type State struct {
	SchemaVersion int                                   `json:"schema_version"`
	Deliveries    map[event.DeliveryKey]*DeliveryRecord `json:"deliveries"`
	Buckets       map[string]*RateBucket                `json:"buckets,omitempty"`
}

func NewState() *State {
	return &State{
		SchemaVersion: 1,
		Deliveries:    map[event.DeliveryKey]*DeliveryRecord{},
		Buckets:       map[string]*RateBucket{},
	}
}

// Clone deep-copies the state so a tick can be aborted (persistence
// failure) without leaving half-applied marks in memory.
func (s *State) Clone() *State {
	cp := NewState()
	if s == nil {
		return cp
	}
	cp.SchemaVersion = s.SchemaVersion
	for k, rec := range s.Deliveries {
		if rec == nil {
			continue
		}
		nrec := &DeliveryRecord{FirstSeen: rec.FirstSeen}
		if rec.NotifiedAt != nil {
			nrec.NotifiedAt = make(map[string]time.Time, len(rec.NotifiedAt))
			for ch, at := range rec.NotifiedAt {
				nrec.NotifiedAt[ch] = at
			}
		}
		cp.Deliveries[k] = nrec
	}
	for ch, b := range s.Buckets {
		if b == nil {
			continue
		}
		nb := *b
		cp.Buckets[ch] = &nb
	}
	return cp
}

func (s *State) normalize() {
	if s.Deliveries == nil {
		s.Deliveries = map[event.DeliveryKey]*DeliveryRecord{}
	}
	if s.Buckets == nil {
		s.Buckets = map[string]*RateBucket{}
	}
}

// Prune drops delivery records older than retention so the surface does not
// grow forever. Records without a first-seen time are kept.
func (s *State) Prune(now time.Time, retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := now.Add(-retention)
	for k, rec := range s.Deliveries {
		if rec == nil {
			delete(s.Deliveries, k)
			continue
		}
		if !rec.FirstSeen.IsZero() && rec.FirstSeen.Before(cutoff) {
			delete(s.Deliveries, k)
		}
	}
}

// allow reports whether one more send fits in the channel's current hour
// bucket, incrementing the counter when it does.
func (s *State) allow(channel string, now time.Time, ceiling int) bool {
	s.normalize()
	hour := now.Truncate(time.Hour)
	b := s.Buckets[channel]
	if b == nil || !b.BucketStart.Equal(hour) {
		b = &RateBucket{BucketStart: hour}
		s.Buckets[channel] = b
	}
	if ceiling > 0 && b.Count >= ceiling {
		return false
	}
	b.Count++
	return true
}
