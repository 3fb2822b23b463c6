package notify

import (
	"strings"
	"testing"
	"time"

	"atcwatch/internal/event"
	"atcwatch/pkg/logx"
)

var testShifts = map[string]string{
	"Shift A1": "https://example.invalid/hook-a1",
	"Shift A2": "https://example.invalid/hook-a2",
}

func entry(container, delivery, location, shift string, detected time.Time) event.LogEntry {
	return event.LogEntry{
		Raw: event.Raw{
			ContainerID:    container,
			DeliveryNumber: delivery,
			LocationID:     location,
			ItemNbr:        "8881",
			ItemDesc:       "canned beans",
			ShiftLabel:     shift,
		},
		DetectedAt: detected,
	}
}

func testAgg(overflow ...string) (*Aggregator, *time.Time) {
	a := NewAggregator("FAC1", overflow, logx.Nop())
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	a.SetClock(func() time.Time { return now })
	return a, &now
}

func webhookPolicy(maxPerHour int) []ChannelPolicy {
	return []ChannelPolicy{{
		Name:                "webhook",
		DestinationsByShift: testShifts,
		MaxSendsPerHour:     maxPerHour,
		MaxItems:            5,
	}}
}

func TestDeliveryNotifiedAtMostOnceAcrossTicks(t *testing.T) {
	a, now := testAgg()
	st := NewState()

	tick1 := []event.LogEntry{entry("C1", "D100", "R10", "Shift A1", *now)}
	intents := a.Decide(tick1, st, webhookPolicy(10))
	if len(intents) != 1 {
		t.Fatalf("tick 1: want 1 intent, got %d", len(intents))
	}
	if intents[0].Destination != testShifts["Shift A1"] {
		t.Fatalf("wrong destination: %s", intents[0].Destination)
	}

	// Same delivery arrives split across a later tick.
	*now = now.Add(15 * time.Minute)
	tick2 := []event.LogEntry{entry("C2", "D100", "R11", "Shift A1", *now)}
	if intents := a.Decide(tick2, st, webhookPolicy(10)); len(intents) != 0 {
		t.Fatalf("tick 2: delivery already notified, got %d intents", len(intents))
	}
}

func TestFirstSeenIsEarliestAndNeverUpdated(t *testing.T) {
	a, now := testAgg()
	st := NewState()

	first := now.Add(-10 * time.Minute)
	evs := []event.LogEntry{
		entry("C2", "D100", "R11", "Shift A1", *now),
		entry("C1", "D100", "R10", "Shift A1", first),
	}
	intents := a.Decide(evs, st, webhookPolicy(10))
	if len(intents) != 1 || !intents[0].Summary.FirstSeen.Equal(first) {
		t.Fatalf("first seen should be earliest detection, got %+v", intents)
	}

	*now = now.Add(time.Hour)
	a.Decide([]event.LogEntry{entry("C3", "D100", "R12", "Shift A1", *now)}, st, webhookPolicy(10))
	if got := st.Deliveries["D100"].FirstSeen; !got.Equal(first) {
		t.Fatalf("first seen mutated: %v", got)
	}
}

func TestRateCeilingSuppressesThenNextBucketRetries(t *testing.T) {
	a, now := testAgg()
	st := NewState()

	tick := []event.LogEntry{
		entry("C1", "D100", "R10", "Shift A1", *now),
		entry("C2", "D200", "R11", "Shift A1", *now),
	}
	intents := a.Decide(tick, st, webhookPolicy(1))
	if len(intents) != 1 {
		t.Fatalf("ceiling 1: want 1 intent, got %d", len(intents))
	}
	suppressed := event.DeliveryKey("D200")
	if intents[0].Delivery == suppressed {
		suppressed = "D100"
	}
	if _, notified := st.Deliveries[suppressed].NotifiedAt["webhook"]; notified {
		t.Fatalf("suppressed delivery must keep its flag unset")
	}
	if st.Buckets["webhook"].Count != 1 {
		t.Fatalf("bucket counter exceeded ceiling: %d", st.Buckets["webhook"].Count)
	}

	// Next hour: the suppressed delivery produces new events again and the
	// fresh bucket lets it through.
	*now = now.Add(time.Hour).Truncate(time.Hour).Add(time.Minute)
	again := []event.LogEntry{entry("C3", string(suppressed), "R12", "Shift A1", *now)}
	intents = a.Decide(again, st, webhookPolicy(1))
	if len(intents) != 1 || intents[0].Delivery != suppressed {
		t.Fatalf("next bucket should retry suppressed delivery, got %+v", intents)
	}
}

func TestAllOverflowDeliverySuppressed(t *testing.T) {
	a, now := testAgg("EOF")
	st := NewState()

	// Mixed-case overflow-only events: no notification.
	evs := []event.LogEntry{
		entry("C1", "D200", "EOF", "Shift A1", *now),
		entry("C2", "D200", "eof", "Shift A1", *now),
	}
	if intents := a.Decide(evs, st, webhookPolicy(10)); len(intents) != 0 {
		t.Fatalf("all-overflow delivery must not notify, got %d intents", len(intents))
	}

	// One non-overflow event makes the delivery eligible; the location
	// list excludes the overflow code.
	*now = now.Add(5 * time.Minute)
	more := []event.LogEntry{
		entry("C3", "D200", "R12", "Shift A1", *now),
		entry("C4", "D200", "EOF", "Shift A1", *now),
	}
	intents := a.Decide(more, st, webhookPolicy(10))
	if len(intents) != 1 {
		t.Fatalf("want 1 intent after non-overflow event, got %d", len(intents))
	}
	locs := intents[0].Summary.Locations
	if len(locs) != 1 || locs[0] != "R12" {
		t.Fatalf("location list must exclude overflow codes, got %v", locs)
	}
}

func TestShiftWithoutDestinationIsSilent(t *testing.T) {
	a, now := testAgg()
	st := NewState()

	evs := []event.LogEntry{entry("C1", "D300", "R10", "Off Shift", *now)}
	if intents := a.Decide(evs, st, webhookPolicy(10)); len(intents) != 0 {
		t.Fatalf("shift without destination must be silent, got %d intents", len(intents))
	}
	// The flag stays unset: eligibility is re-evaluated on later ticks.
	if _, notified := st.Deliveries["D300"].NotifiedAt["webhook"]; notified {
		t.Fatalf("silent delivery must not be marked notified")
	}
}

func TestChannelsDecideIndependently(t *testing.T) {
	a, now := testAgg()
	st := NewState()

	policies := []ChannelPolicy{
		{Name: "webhook", DestinationsByShift: testShifts, MaxSendsPerHour: 10, MaxItems: 5},
		{Name: "outbox", DestinationsByShift: map[string]string{"Shift A1": "outbox"}, MaxSendsPerHour: 1, MaxItems: 5},
	}

	evs := []event.LogEntry{entry("C1", "D100", "R10", "Shift A1", *now)}
	intents := a.Decide(evs, st, policies)
	if len(intents) != 2 {
		t.Fatalf("want one intent per channel, got %d", len(intents))
	}

	// Second delivery: outbox bucket is exhausted, webhook still sends.
	evs = []event.LogEntry{entry("C2", "D101", "R10", "Shift A1", *now)}
	intents = a.Decide(evs, st, policies)
	if len(intents) != 1 || intents[0].Channel != "webhook" {
		t.Fatalf("want webhook-only on second delivery, got %+v", intents)
	}
}

func TestSummaryCapsItemsAndOmitsQuantities(t *testing.T) {
	a, now := testAgg()
	st := NewState()

	var evs []event.LogEntry
	names := []string{"alpha", "bravo", "charlie", "delta"}
	for i, n := range names {
		e := entry("C"+n, "D500", "R10", "Shift A1", *now)
		e.ItemDesc = n
		e.CaseQty = float64(i + 1)
		evs = append(evs, e)
	}
	policies := webhookPolicy(10)
	policies[0].MaxItems = 2

	intents := a.Decide(evs, st, policies)
	if len(intents) != 1 {
		t.Fatalf("want 1 intent, got %d", len(intents))
	}
	if got := intents[0].Summary.Items; len(got) != 2 {
		t.Fatalf("items not capped: %v", got)
	}

	title, lines := BuildMessage(intents[0].Summary)
	if title == "" {
		t.Fatalf("empty title")
	}
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, word := range []string{"qty", "cases", "quantity"} {
			if strings.Contains(lower, word) {
				t.Fatalf("message must not carry quantity counts: %q", line)
			}
		}
	}
}
