// Package channel implements the outbound notification dispatchers. The
// aggregator depends only on the Dispatcher interface, never on a concrete
// channel.
package channel

import (
	"context"

	"atcwatch/internal/notify"
)

// Payload is the channel-neutral notification content.
type Payload struct {
	Title       string
	Lines       []string
	Destination string
	Summary     notify.Summary
}

// Dispatcher sends one payload. A send failure is logged by the caller but
// never retried within the tick: the delivery's notified flag stays set to
// avoid duplicate sends on transient errors.
type Dispatcher interface {
	Name() string
	Send(ctx context.Context, p Payload) error
}

// FromIntent builds the payload for an aggregator decision.
func FromIntent(in notify.Intent) Payload {
	title, lines := notify.BuildMessage(in.Summary)
	return Payload{
		Title:       title,
		Lines:       lines,
		Destination: in.Destination,
		Summary:     in.Summary,
	}
}
