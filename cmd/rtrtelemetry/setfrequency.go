package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
	"github.com/nerrad567/rtr-telemetry/internal/transport"
)

func newSetFrequencyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-frequency <device> <hz>",
		Short: "Publish a frequency update on the CONTROL channel",
		Long: `Publish one rtr_frequency_update message for the scheduler.

The message goes to the CONTROL producer endpoint and is relayed by the
broker. The scheduler applies it if the device exists and the frequency is
positive; otherwise it is logged and ignored.`,
		Example: "  rtrtelemetry set-frequency 0x100 5",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := telemetry.ParseDeviceID(args[0])
			if err != nil {
				return err
			}
			hz, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid frequency %q: %w", args[1], err)
			}
			return runSetFrequency(cmd, opts, telemetry.NewFrequencyUpdate(id, hz, time.Now()))
		},
	}
}

func runSetFrequency(cmd *cobra.Command, opts *rootOptions, msg telemetry.ControlMessage) error {
	cfg, log, err := opts.loadConfig("ctl")
	if err != nil {
		return err
	}

	payload, err := telemetry.EncodeControl(msg)
	if err != nil {
		return err
	}

	client, conn, ep, err := connectMQTT(cfg, "ctl", log)
	if err != nil {
		return err
	}
	defer closeMQTT(client, log)

	topic := ep.Producer(transport.ChannelControl, msg.DeviceID)
	if err := conn.Publish(topic, payload); err != nil {
		return fmt.Errorf("publishing control: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "sent %s: %s -> %g Hz (msg_id %s)\n",
		telemetry.ControlTypeFrequencyUpdate, msg.DeviceID, msg.FrequencyHz, msg.MessageID)
	return nil
}
