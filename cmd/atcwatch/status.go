package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"atcwatch/internal/config"
	"atcwatch/internal/storage"
	"atcwatch/pkg/logx"
)

func newStatusCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the last persisted status record",
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

			st, err := store.LoadStatus()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}
