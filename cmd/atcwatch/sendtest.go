package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"atcwatch/internal/channel"
	"atcwatch/internal/config"
	"atcwatch/internal/event"
	"atcwatch/internal/notify"
	"atcwatch/pkg/logx"
)

// send-test pushes a synthetic delivery message through one channel so a
// new destination can be verified without waiting for a real event.
func newSendTestCmd(cfgPath *string) *cobra.Command {
	var (
		channelName string
		shift       string
	)

	cmd := &cobra.Command{
		Use:   "send-test",
		Short: "Send a test notification through one channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			log := logx.NewConsole(cfg.Logging.Level)

			ch, ok := cfg.Channels[channelName]
			if !ok || !ch.Enabled {
				return fmt.Errorf("channel %q is not enabled", channelName)
			}
			dst := strings.TrimSpace(ch.DestinationsByShift[shift])
			if dst == "" {
				return fmt.Errorf("channel %q has no destination for shift %q", channelName, shift)
			}

			var d channel.Dispatcher
			switch channelName {
			case config.ChannelWebhook:
				d = channel.NewWebhook(log)
			case config.ChannelOutbox:
				d = channel.NewOutbox(cfg.Outbox.Dir, log)
			case config.ChannelTelegram:
				d, err = channel.NewTelegram(ch.Token, log)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown channel %q", channelName)
			}

			summary := notify.Summary{
				FacilityID: cfg.Monitoring.FacilityID,
				ShiftLabel: shift,
				FirstSeen:  time.Now(),
				Delivery:   event.DeliveryKey("TEST-0000"),
				Locations:  []string{"R01"},
				Items:      []string{"test item (ignore)"},
			}
			title, lines := notify.BuildMessage(summary)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := d.Send(ctx, channel.Payload{
				Title:       "[TEST] " + title,
				Lines:       lines,
				Destination: dst,
				Summary:     summary,
			}); err != nil {
				return err
			}
			fmt.Println("test notification sent via", channelName)
			return nil
		},
	}

	cmd.Flags().StringVar(&channelName, "channel", config.ChannelWebhook, "channel to test (webhook|outbox|telegram)")
	cmd.Flags().StringVar(&shift, "shift", "Shift A1", "shift label to resolve the destination")
	return cmd
}
