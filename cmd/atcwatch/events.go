package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"atcwatch/internal/channel"
	"atcwatch/internal/config"
	"atcwatch/internal/storage"
	"atcwatch/pkg/logx"
)

func newEventsCmd(cfgPath *string) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print committed events detected within the given window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
			if err != nil {
				return err
			}
			store, err := storage.Open(storage.Config{
				Driver:      cfg.Storage.Driver,
				Path:        cfg.Storage.Path,
				BusyTimeout: busyTimeout,
			}, logx.Nop())
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.LoadEventLog()
			if err != nil {
				return err
			}
			baseline := channel.NewBaseline(time.Now().Add(-since))
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(baseline.EventsSince(entries))
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to list detected events")
	return cmd
}
