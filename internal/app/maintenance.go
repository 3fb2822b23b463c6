package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"atcwatch/pkg/logx"
)

// startMaintenance schedules the daily outbox sweep. Housekeeping runs off
// the tick loop so a slow filesystem never delays polling.
func (a *App) startMaintenance(ctx context.Context) {
	_ = ctx
	c := cron.New()
	_, err := c.AddFunc("0 3 * * *", func() {
		retention := time.Duration(a.cfg.Outbox.RetentionDays) * 24 * time.Hour
		removed, err := a.outbox.Sweep(retention)
		if err != nil {
			a.log.Warn("outbox sweep failed", logx.Err(err))
			return
		}
		if removed > 0 {
			a.log.Info("outbox sweep", logx.Int("removed", removed))
		}
	})
	if err != nil {
		a.log.Warn("maintenance schedule invalid", logx.Err(err))
		return
	}
	c.Start()
	a.maintCron = c
}

func (a *App) stopMaintenance() {
	if a.maintCron != nil {
		<-a.maintCron.Stop().Done()
		a.maintCron = nil
	}
}
