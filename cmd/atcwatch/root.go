package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "atcwatch",
		Short:         "Manual-receiving event watcher and delivery notifier",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./atcwatch.yaml", "path to config file (yaml or json)")

	root.AddCommand(
		newRunCmd(&cfgPath),
		newStatusCmd(&cfgPath),
		newEventsCmd(&cfgPath),
		newSendTestCmd(&cfgPath),
	)
	return root
}
