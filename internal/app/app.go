// Package app wires the watcher together and runs the polling loop.
package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

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

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log      logx.Logger
	logClose func() error

	store   storage.Store
	fetcher upstream.Fetcher
	gov     *governor.Governor
	det     *detector.Detector
	agg     *notify.Aggregator

	dispatchers map[string]channel.Dispatcher
	outbox      *channel.Outbox

	// State owned by the scheduler loop (single writer). Mutated copies are
	// swapped in only after a successful persist.
	entries     []event.LogEntry
	seen        map[event.Identity]time.Time
	notifyState *notify.State

	// misconfigured channels already reported, to log once per occurrence
	cfgErrOnce sync.Map

	maintCron *cron.Cron

	sessionStart time.Time
	now          func() time.Time
}

// New loads config, opens storage, restores persisted state, and builds
// the pipeline.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log, logClose := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console == nil || *cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logClose()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	workDir, _ := os.Getwd()
	gov := governor.New(governor.Config{
		KillSwitchFile:   cfg.Safety.KillSwitchFile,
		WorkDir:          workDir,
		MaxPollsPerHour:  cfg.Safety.RateLimit.MaxPollsPerHour,
		FailureThreshold: cfg.Safety.CircuitBreaker.FailureThreshold,
		BackoffBase:      cfg.Safety.CircuitBreaker.BackoffBaseDuration(),
		BackoffMax:       cfg.Safety.CircuitBreaker.BackoffMaxDuration(),
	}, log.With(logx.String("comp", "governor")))

	a := &App{
		cfgm:         cfgm,
		cfg:          cfg,
		log:          log,
		logClose:     logClose,
		store:        store,
		gov:          gov,
		sessionStart: time.Now(),
		now:          time.Now,
	}

	a.det = detector.New(
		time.Duration(cfg.Monitoring.LogRetentionDays)*24*time.Hour,
		log.With(logx.String("comp", "detector")),
	)
	a.agg = notify.NewAggregator(
		cfg.Monitoring.FacilityID,
		cfg.Monitoring.OverflowLocations,
		log.With(logx.String("comp", "aggregator")),
	)
	a.fetcher = upstream.NewBQClient(upstream.BQConfig{
		BqPath:      cfg.Upstream.BqPath,
		SQLTemplate: cfg.Upstream.SQLTemplate,
		Project:     cfg.Upstream.Project,
		Timeout:     cfg.Upstream.TimeoutDuration(),
	}, log.With(logx.String("comp", "upstream")))

	if err := a.restoreState(); err != nil {
		_ = store.Close()
		_ = logClose()
		return nil, err
	}
	a.buildDispatchers()
	return a, nil
}

// SetFetcher swaps the upstream client (tests only).
func (a *App) SetFetcher(f upstream.Fetcher) { a.fetcher = f }

func (a *App) restoreState() error {
	entries, err := a.store.LoadEventLog()
	if err != nil {
		return fmt.Errorf("load event log: %w", err)
	}
	seen, err := a.store.LoadSeen()
	if err != nil {
		return fmt.Errorf("load seen set: %w", err)
	}
	if seen == nil {
		seen = map[event.Identity]time.Time{}
	}
	nst, err := a.store.LoadNotifyState()
	if err != nil {
		return fmt.Errorf("load notify state: %w", err)
	}
	sst, err := a.store.LoadSafetyState()
	if err != nil {
		return fmt.Errorf("load safety state: %w", err)
	}

	a.entries = entries
	a.seen = seen
	a.notifyState = nst
	if sst != nil {
		a.gov.Restore(*sst)
	}
	return nil
}

func (a *App) buildDispatchers() {
	a.dispatchers = map[string]channel.Dispatcher{}

	for name, ch := range a.cfg.Channels {
		if !ch.Enabled {
			continue
		}
		switch name {
		case config.ChannelWebhook:
			a.dispatchers[name] = channel.NewWebhook(a.log.With(logx.String("comp", "webhook")))
		case config.ChannelOutbox:
			ob := channel.NewOutbox(a.cfg.Outbox.Dir, a.log.With(logx.String("comp", "outbox")))
			a.dispatchers[name] = ob
			a.outbox = ob
		case config.ChannelTelegram:
			tg, err := channel.NewTelegram(ch.Token, a.log.With(logx.String("comp", "telegram")))
			if err != nil {
				a.configError("channel."+name, err)
				continue
			}
			a.dispatchers[name] = tg
		}
	}

	// The outbox sweeper runs even when the outbox channel is disabled, so
	// old audit artifacts never pile up after a config change.
	if a.outbox == nil {
		a.outbox = channel.NewOutbox(a.cfg.Outbox.Dir, a.log.With(logx.String("comp", "outbox")))
	}
}

// policies returns the aggregator view of every channel that both is
// enabled and has a working dispatcher.
func (a *App) policies() []notify.ChannelPolicy {
	names := []string{config.ChannelWebhook, config.ChannelOutbox, config.ChannelTelegram}
	var out []notify.ChannelPolicy
	for _, name := range names {
		ch, ok := a.cfg.Channels[name]
		if !ok || !ch.Enabled {
			continue
		}
		if _, ok := a.dispatchers[name]; !ok {
			continue
		}
		out = append(out, notify.ChannelPolicy{
			Name:                name,
			DestinationsByShift: ch.DestinationsByShift,
			MaxSendsPerHour:     ch.MaxSendsPerHour,
			MaxItems:            ch.MaxItems,
		})
	}
	return out
}

// configError logs a configuration problem once per key; the affected
// channel or delivery is skipped and the process continues.
func (a *App) configError(key string, err error) {
	if _, loaded := a.cfgErrOnce.LoadOrStore(key+": "+err.Error(), true); loaded {
		return
	}
	a.log.Error("configuration error", logx.String("key", key), logx.Err(err))
}

// applyConfig adopts a hot-reloaded config between ticks. Channel rosters
// and safety ceilings change without a restart; storage and logging
// settings require one.
func (a *App) applyConfig(cfg *config.Config) {
	a.cfg = cfg
	a.agg = notify.NewAggregator(
		cfg.Monitoring.FacilityID,
		cfg.Monitoring.OverflowLocations,
		a.log.With(logx.String("comp", "aggregator")),
	)
	a.det = detector.New(
		time.Duration(cfg.Monitoring.LogRetentionDays)*24*time.Hour,
		a.log.With(logx.String("comp", "detector")),
	)
	a.buildDispatchers()
	a.log.Info("config applied", logx.String("path", a.cfgm.Path()))
}

// EventsSince serves session-baseline viewers from the committed log.
func (a *App) EventsSince(sessionStart time.Time) []event.LogEntry {
	return channel.NewBaseline(sessionStart).EventsSince(a.entries)
}

func (a *App) Close(ctx context.Context) error {
	_ = ctx
	var first error
	if a.store != nil {
		first = a.store.Close()
	}
	if a.logClose != nil {
		if err := a.logClose(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
