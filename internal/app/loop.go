package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"atcwatch/internal/channel"
	"atcwatch/internal/event"
	"atcwatch/internal/governor"
	"atcwatch/internal/notify"
	"atcwatch/internal/storage"
	"atcwatch/pkg/logx"
)

// ErrKillSwitch reports the operator's file-based stop request. It is a
// graceful, intentional shutdown, not an error condition.
var ErrKillSwitch = errors.New("kill switch marker present")

// minSleep is the floor between tick starts: a long-running tick never
// compresses the next sleep below this.
const minSleep = 5 * time.Second

// Run executes the polling loop until ctx is cancelled or the kill switch
// stops the process. No second tick begins before the previous tick's
// persistence completes.
func (a *App) Run(ctx context.Context) error {
	updates := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(updates)
	go func() {
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	a.startMaintenance(ctx)
	defer a.stopMaintenance()

	// Best-effort: no-ops outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("watcher started",
		logx.String("facility", a.cfg.Monitoring.FacilityID),
		logx.Int("interval_minutes", a.cfg.Monitoring.PollingIntervalMinutes),
	)

	for {
		select {
		case cfg := <-updates:
			if cfg != nil {
				a.applyConfig(cfg)
			}
		default:
		}

		tickStart := a.now()
		stop := a.tick(ctx, tickStart)
		_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		if stop != nil {
			return stop
		}

		interval := time.Duration(a.cfg.Monitoring.PollingIntervalMinutes) * time.Minute
		sleep := time.Until(tickStart.Add(interval))
		if sleep < minSleep {
			sleep = minSleep
		}

		select {
		case <-ctx.Done():
			a.log.Info("watcher stopping (context cancelled)")
			return nil
		case <-time.After(sleep):
		}
	}
}

// tick runs one gate→fetch→dedupe→aggregate→persist→dispatch cycle. A
// non-nil return stops the loop (kill switch only).
func (a *App) tick(ctx context.Context, tickStart time.Time) error {
	decision := a.gov.Gate()

	if decision.State == governor.StateStoppedKill {
		a.persistSafety()
		a.writeStatus(tickStart, time.Time{}, 0, 0, decision.Reason)
		a.log.Info("kill switch detected; stopping",
			logx.String("marker", a.cfg.Safety.KillSwitchFile),
		)
		return ErrKillSwitch
	}

	if !decision.Allow {
		a.persistSafety()
		a.writeStatus(tickStart, time.Time{}, 0, 0, decision.Reason)
		a.log.Warn("tick skipped",
			logx.String("state", string(decision.State)),
			logx.String("reason", decision.Reason),
			logx.Time("resume_at", decision.ResumeAt),
		)
		return nil
	}

	if decision.Probe {
		a.log.Info("circuit breaker probe")
	}

	a.gov.RecordAttempt()

	window := time.Duration(a.cfg.Monitoring.QueryWindowMinutes) * time.Minute
	end := a.now()
	rows, err := a.fetcher.Fetch(ctx, a.cfg.Monitoring.FacilityID, end.Add(-window), end)
	if err != nil {
		a.gov.RecordFailure(err)
		a.persistSafety()
		a.writeStatus(tickStart, a.now(), 0, len(a.entries), err.Error())
		a.log.Error("fetch failed", logx.Err(err))
		return nil
	}
	a.gov.RecordSuccess()

	// Work on copies so a persistence failure aborts the tick without
	// leaving unsaved marks in memory; the next tick re-detects.
	seen := cloneSeen(a.seen)
	newEvents, entries := a.det.Apply(rows, seen, a.entries)
	nst := a.notifyState.Clone()
	nst.Prune(a.now(), 2*time.Duration(a.cfg.Monitoring.LogRetentionDays)*24*time.Hour)
	intents := a.agg.Decide(newEvents, nst, a.policies())

	if err := a.persistPipeline(entries, seen, nst); err != nil {
		// Abort before dispatch: never send what we could not record.
		a.persistSafety()
		a.writeStatus(tickStart, a.now(), 0, len(a.entries), fmt.Sprintf("persist: %v", err))
		a.log.Error("state persist failed; tick aborted", logx.Err(err))
		return nil
	}
	a.entries = entries
	a.seen = seen
	a.notifyState = nst

	a.dispatch(ctx, intents)

	a.persistSafety()
	a.writeStatus(tickStart, a.now(), len(newEvents), len(entries), "")
	if len(newEvents) > 0 {
		a.log.Info("tick complete",
			logx.Int("rows", len(rows)),
			logx.Int("new_events", len(newEvents)),
			logx.Int("notifications", len(intents)),
		)
	} else {
		a.log.Debug("tick complete; no new events", logx.Int("rows", len(rows)))
	}
	return nil
}

func (a *App) persistPipeline(entries []event.LogEntry, seen map[event.Identity]time.Time, nst *notify.State) error {
	if err := a.store.SaveEventLog(entries); err != nil {
		return err
	}
	if err := a.store.SaveSeen(seen); err != nil {
		return err
	}
	return a.store.SaveNotifyState(nst)
}

// dispatch fires every intent exactly once. Failures are logged, not
// retried: the notified flag is already committed, so a retry here could
// double-send on a transient error.
func (a *App) dispatch(ctx context.Context, intents []notify.Intent) {
	for _, in := range intents {
		d, ok := a.dispatchers[in.Channel]
		if !ok {
			a.configError("channel."+in.Channel, errors.New("no dispatcher for channel"))
			continue
		}
		payload := channel.FromIntent(in)
		if err := d.Send(ctx, payload); err != nil {
			a.log.Error("dispatch failed",
				logx.String("channel", in.Channel),
				logx.String("delivery", string(in.Delivery)),
				logx.Err(err),
			)
			continue
		}
		a.log.Info("notification sent",
			logx.String("channel", in.Channel),
			logx.String("delivery", string(in.Delivery)),
			logx.String("shift", in.Summary.ShiftLabel),
		)
	}
}

func (a *App) persistSafety() {
	st := a.gov.Snapshot()
	if err := a.store.SaveSafetyState(&st); err != nil {
		a.log.Error("safety state persist failed", logx.Err(err))
	}
}

func (a *App) writeStatus(start, end time.Time, newEvents, totalEvents int, lastErr string) {
	rec := storage.StatusRecord{
		FacilityID:    a.cfg.Monitoring.FacilityID,
		State:         string(a.gov.State()),
		LastPollStart: start,
		LastPollEnd:   end,
		LastError:     lastErr,
		NewEvents:     newEvents,
		TotalEvents:   totalEvents,
		UpdatedAt:     a.now(),
	}
	if !start.IsZero() && !end.IsZero() {
		rec.LastTickMS = end.Sub(start).Milliseconds()
	}
	if err := a.store.SaveStatus(rec); err != nil {
		a.log.Error("status persist failed", logx.Err(err))
	}
}

func cloneSeen(in map[event.Identity]time.Time) map[event.Identity]time.Time {
	out := make(map[event.Identity]time.Time, len(in)+16)
	for k, v := range in {
		out[k] = v
	}
	return out
}
