package governor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"atcwatch/pkg/logx"
)

func testGov(t *testing.T, cfg Config) (*Governor, *time.Time) {
	t.Helper()
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	if cfg.KillSwitchFile == "" {
		cfg.KillSwitchFile = "STOP_ATC.txt"
	}
	g := New(cfg, logx.Nop())
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })
	return g, &now
}

func TestBreakerOpensAfterThresholdAndClosesOnSuccess(t *testing.T) {
	g, now := testGov(t, Config{FailureThreshold: 3, BackoffBase: 10 * time.Minute, BackoffMax: time.Hour})

	for i := 0; i < 2; i++ {
		g.RecordFailure(errors.New("boom"))
		if d := g.Gate(); !d.Allow {
			t.Fatalf("gate denied after %d failures: %+v", i+1, d)
		}
	}

	g.RecordFailure(errors.New("boom"))
	d := g.Gate()
	if d.Allow || d.State != StatePausedCircuit {
		t.Fatalf("expected circuit open, got %+v", d)
	}

	// Before open-until passes, still denied.
	*now = now.Add(5 * time.Minute)
	if d := g.Gate(); d.Allow {
		t.Fatalf("expected denial while breaker open, got %+v", d)
	}

	// After open-until, exactly one probe is allowed.
	*now = now.Add(6 * time.Minute)
	d = g.Gate()
	if !d.Allow || !d.Probe {
		t.Fatalf("expected probe after open period, got %+v", d)
	}

	g.RecordSuccess()
	if st := g.Snapshot(); st.ConsecutiveFailures != 0 || st.State != StateRunning {
		t.Fatalf("expected reset after success, got %+v", st)
	}
}

func TestBreakerProbeFailureReopensLonger(t *testing.T) {
	g, now := testGov(t, Config{FailureThreshold: 3, BackoffBase: 10 * time.Minute, BackoffMax: 2 * time.Hour})

	for i := 0; i < 3; i++ {
		g.RecordFailure(errors.New("boom"))
	}
	first := g.Snapshot().BreakerOpenUntil
	if first.Sub(*now) != 10*time.Minute {
		t.Fatalf("first open period = %v, want 10m", first.Sub(*now))
	}

	*now = first.Add(time.Second)
	if d := g.Gate(); !d.Probe {
		t.Fatalf("expected probe, got %+v", d)
	}
	g.RecordFailure(errors.New("still down"))
	second := g.Snapshot().BreakerOpenUntil
	if got := second.Sub(*now); got != 20*time.Minute {
		t.Fatalf("second open period = %v, want 20m", got)
	}
}

func TestBackoffBoundedAbove(t *testing.T) {
	g, _ := testGov(t, Config{FailureThreshold: 1, BackoffBase: 10 * time.Minute, BackoffMax: 30 * time.Minute})
	prev := time.Duration(0)
	for step := 0; step < 6; step++ {
		d := g.backoff(step)
		if d < prev {
			t.Fatalf("backoff shrank at step %d: %v < %v", step, d, prev)
		}
		if d > 30*time.Minute {
			t.Fatalf("backoff exceeded max at step %d: %v", step, d)
		}
		prev = d
	}
}

func TestRateLimitThirteenthSkippedThenNextHourProceeds(t *testing.T) {
	g, now := testGov(t, Config{MaxPollsPerHour: 12})

	for i := 0; i < 12; i++ {
		d := g.Gate()
		if !d.Allow {
			t.Fatalf("attempt %d denied: %+v", i+1, d)
		}
		g.RecordAttempt()
		*now = now.Add(time.Minute)
	}

	d := g.Gate()
	if d.Allow || d.State != StatePausedRateLimit {
		t.Fatalf("13th attempt should be rate limited, got %+v", d)
	}

	// First attempt of the window falls out after an hour.
	*now = now.Add(50 * time.Minute)
	d = g.Gate()
	if !d.Allow {
		t.Fatalf("next hour's attempt should proceed, got %+v", d)
	}
	if g.State() != StateRunning {
		t.Fatalf("expected RUNNING after window rollover, got %s", g.State())
	}
}

func TestKillSwitchHighestPriority(t *testing.T) {
	dir := t.TempDir()
	g, _ := testGov(t, Config{WorkDir: dir, MaxPollsPerHour: 1})

	if err := os.WriteFile(filepath.Join(dir, "STOP_ATC.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	d := g.Gate()
	if d.Allow || d.State != StateStoppedKill {
		t.Fatalf("expected kill switch stop, got %+v", d)
	}
}

func TestSnapshotRestoreKeepsBackoff(t *testing.T) {
	g, now := testGov(t, Config{FailureThreshold: 1, BackoffBase: 10 * time.Minute, BackoffMax: time.Hour})
	g.RecordFailure(errors.New("x"))
	snap := g.Snapshot()

	g2, _ := testGov(t, Config{FailureThreshold: 1, BackoffBase: 10 * time.Minute, BackoffMax: time.Hour})
	g2.SetClock(func() time.Time { return *now })
	g2.Restore(snap)

	if d := g2.Gate(); d.Allow {
		t.Fatalf("restored breaker should still be open, got %+v", d)
	}
	if g2.Snapshot().BreakerStep != snap.BreakerStep {
		t.Fatalf("breaker step lost on restore")
	}
}
