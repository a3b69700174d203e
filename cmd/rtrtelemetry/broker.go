package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/rtr-telemetry/internal/broker"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/metrics"
)

func newBrokerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "broker",
		Short: "Relay producer endpoints onto canonical endpoints",
		Long: `Run the transport broker.

Every message published on a producer endpoint ({prefix}/in/{channel}/...)
is republished unchanged on the matching canonical endpoint
({prefix}/{channel}/...). Nothing is buffered: consumers that attach late
see only what is published after they attach.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBroker(cmd, opts)
		},
	}
}

func runBroker(cmd *cobra.Command, opts *rootOptions) error {
	cfg, log, err := opts.loadConfig("broker")
	if err != nil {
		return err
	}

	client, conn, ep, err := connectMQTT(cfg, "broker", log)
	if err != nil {
		return err
	}
	defer closeMQTT(client, log)

	reg := metrics.New()
	relay, err := broker.New(broker.Config{
		Conn:      conn,
		Endpoints: ep,
		Metrics:   reg,
		Logger:    log.Component("broker"),
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return relay.Run(ctx) })
	g.Go(func() error { return metrics.Serve(ctx, cfg.Metrics.Listen, reg) })

	err = g.Wait()
	log.Info("broker stopped")
	return err
}
