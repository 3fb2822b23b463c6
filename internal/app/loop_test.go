package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"atcwatch/internal/channel"
	"atcwatch/internal/config"
	"atcwatch/internal/detector"
	"atcwatch/internal/event"
	"atcwatch/internal/governor"
	"atcwatch/internal/notify"
	"atcwatch/internal/storage"
	"atcwatch/internal/upstream"
	"atcwatch/pkg/logx"
)

type fakeFetcher struct {
	rows []event.Raw
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, facilityID string, start, end time.Time) ([]event.Raw, error) {
	return f.rows, f.err
}

type captureDispatcher struct {
	mu   sync.Mutex
	sent []channel.Payload
	err  error
}

func (c *captureDispatcher) Name() string { return "webhook" }

func (c *captureDispatcher) Send(ctx context.Context, p channel.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, p)
	return nil
}

// failingStore wraps a real store and fails one save surface.
type failingStore struct {
	storage.Store
	failNotify bool
}

func (f *failingStore) SaveNotifyState(st *notify.State) error {
	if f.failNotify {
		return errors.New("disk full")
	}
	return f.Store.SaveNotifyState(st)
}

func testApp(t *testing.T) (*App, *fakeFetcher, *captureDispatcher, string) {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "state.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Monitoring: config.MonitoringConfig{FacilityID: "6094"},
		Safety:     config.SafetyConfig{KillSwitchFile: "STOP_ATC.txt"},
		Channels: map[string]config.ChannelConfig{
			config.ChannelWebhook: {
				Enabled:             true,
				DestinationsByShift: map[string]string{"Shift A1": "https://example.invalid/hook"},
			},
		},
		Outbox: config.OutboxConfig{Dir: filepath.Join(dir, "outbox")},
	}
	config.ApplyDefaults(cfg)

	fetcher := &fakeFetcher{}
	capture := &captureDispatcher{}

	a := &App{
		cfg:     cfg,
		log:     logx.Nop(),
		store:   store,
		fetcher: fetcher,
		gov: governor.New(governor.Config{
			KillSwitchFile:   cfg.Safety.KillSwitchFile,
			WorkDir:          dir,
			MaxPollsPerHour:  cfg.Safety.RateLimit.MaxPollsPerHour,
			FailureThreshold: cfg.Safety.CircuitBreaker.FailureThreshold,
		}, logx.Nop()),
		det:         detector.New(7*24*time.Hour, logx.Nop()),
		agg:         notify.NewAggregator("6094", nil, logx.Nop()),
		dispatchers: map[string]channel.Dispatcher{config.ChannelWebhook: capture},
		seen:        map[event.Identity]time.Time{},
		notifyState: notify.NewState(),
		now:         time.Now,
	}
	return a, fetcher, capture, dir
}

func row(container, delivery string) event.Raw {
	return event.Raw{
		ContainerID:    container,
		DeliveryNumber: delivery,
		LocationID:     "R10",
		ShiftLabel:     "Shift A1",
		ItemDesc:       "canned beans",
	}
}

func TestTickDetectsDispatchesAndPersists(t *testing.T) {
	a, fetcher, capture, _ := testApp(t)
	fetcher.rows = []event.Raw{row("C1", "D100")}

	if err := a.tick(context.Background(), a.now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(capture.sent) != 1 {
		t.Fatalf("want 1 dispatch, got %d", len(capture.sent))
	}
	if len(a.entries) != 1 || len(a.seen) != 1 {
		t.Fatalf("in-memory state not swapped: entries=%d seen=%d", len(a.entries), len(a.seen))
	}

	// Persisted surfaces reflect the tick.
	entries, err := a.store.LoadEventLog()
	if err != nil || len(entries) != 1 {
		t.Fatalf("persisted log: %v %v", entries, err)
	}
	status, err := a.store.LoadStatus()
	if err != nil || status.NewEvents != 1 || status.State != string(governor.StateRunning) {
		t.Fatalf("status: %+v %v", status, err)
	}
}

func TestTickReFetchIsIdempotent(t *testing.T) {
	a, fetcher, capture, _ := testApp(t)
	fetcher.rows = []event.Raw{row("C1", "D100")}

	if err := a.tick(context.Background(), a.now()); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	// The overlapping window returns the same row on the next tick.
	if err := a.tick(context.Background(), a.now()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if len(capture.sent) != 1 {
		t.Fatalf("re-fetched row must not re-notify, got %d dispatches", len(capture.sent))
	}
	if len(a.entries) != 1 {
		t.Fatalf("re-fetched row must not re-enter the log: %d", len(a.entries))
	}
}

func TestTickKillSwitchStopsLoop(t *testing.T) {
	a, fetcher, capture, dir := testApp(t)
	fetcher.rows = []event.Raw{row("C1", "D100")}

	marker := filepath.Join(dir, "STOP_ATC.txt")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	err := a.tick(context.Background(), a.now())
	if !errors.Is(err, ErrKillSwitch) {
		t.Fatalf("want ErrKillSwitch, got %v", err)
	}
	if len(capture.sent) != 0 {
		t.Fatalf("no fetch or dispatch may happen under the kill switch")
	}
	status, err := a.store.LoadStatus()
	if err != nil || status.State != string(governor.StateStoppedKill) {
		t.Fatalf("status: %+v %v", status, err)
	}
}

func TestTickFetchFailureCountsTowardBreaker(t *testing.T) {
	a, fetcher, capture, _ := testApp(t)
	fetcher.err = errors.New("bq: quota exceeded")

	for i := 0; i < 3; i++ {
		if err := a.tick(context.Background(), a.now()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	if len(capture.sent) != 0 {
		t.Fatalf("failed fetches must not dispatch")
	}
	if got := a.gov.State(); got != governor.StatePausedCircuit {
		t.Fatalf("breaker should be open after threshold, state=%s", got)
	}
	// The fourth tick is gated off without reaching the fetcher.
	fetcher.err = nil
	fetcher.rows = []event.Raw{row("C1", "D100")}
	if err := a.tick(context.Background(), a.now()); err != nil {
		t.Fatalf("gated tick: %v", err)
	}
	if len(a.entries) != 0 {
		t.Fatalf("gated tick must not fetch")
	}
}

func TestTickPersistFailureAbortsBeforeDispatch(t *testing.T) {
	a, fetcher, capture, _ := testApp(t)
	fetcher.rows = []event.Raw{row("C1", "D100")}
	a.store = &failingStore{Store: a.store, failNotify: true}

	if err := a.tick(context.Background(), a.now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(capture.sent) != 0 {
		t.Fatalf("persist failure must abort before dispatch")
	}
	if len(a.entries) != 0 || len(a.seen) != 0 {
		t.Fatalf("aborted tick must not swap in-memory state")
	}

	// Storage recovers: the same row is re-detected and notified once.
	a.store.(*failingStore).failNotify = false
	if err := a.tick(context.Background(), a.now()); err != nil {
		t.Fatalf("recovery tick: %v", err)
	}
	if len(capture.sent) != 1 {
		t.Fatalf("recovered tick should notify exactly once, got %d", len(capture.sent))
	}
}

var _ upstream.Fetcher = (*fakeFetcher)(nil)
