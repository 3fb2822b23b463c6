// Package upstream fetches raw receiving rows from the analytical
// warehouse. The literal query text lives in an operator-supplied SQL
// template file, outside this repo.
package upstream

import (
	"context"
	"time"

	"atcwatch/internal/event"
)

// Fetcher is the boundary the scheduler polls through. Any non-nil error is
// a transient fetch failure for circuit-breaker purposes regardless of
// cause (auth, timeout, malformed response).
type Fetcher interface {
	Fetch(ctx context.Context, facilityID string, start, end time.Time) ([]event.Raw, error)
}
