package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"atcwatch/internal/app"
)

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the polling loop until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			err = a.Run(ctx)
			if errors.Is(err, app.ErrKillSwitch) {
				// Operator stop; remove the marker and restart to resume.
				return nil
			}
			return err
		},
	}
}
