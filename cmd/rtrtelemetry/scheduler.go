package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/rtr-telemetry/internal/bus"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/clock"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/config"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/logging"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/metrics"
	"github.com/nerrad567/rtr-telemetry/internal/layout"
	"github.com/nerrad567/rtr-telemetry/internal/scheduler"
	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
)

func newSchedulerCommand(opts *rootOptions) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Poll devices with remote-transmission requests",
		Long: `Run the RTR scheduler.

Each device in the layout is sent a remote-transmission request at its
configured frequency. Observed frames are published on the DATA channel;
frequency updates arrive on the CONTROL channel.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduler(cmd, opts, source)
		},
	}

	cmd.Flags().StringVar(&source, "bus", "", "override bus.source (simulated|socketcan)")
	return cmd
}

func runScheduler(cmd *cobra.Command, opts *rootOptions, source string) error {
	cfg, log, err := opts.loadConfig("scheduler")
	if err != nil {
		return err
	}
	if source != "" {
		cfg.Bus.Source = source
	}

	layouts, err := loadLayouts(cfg, log)
	if err != nil {
		return err
	}

	reg := metrics.New()
	collab, err := openBus(cfg, layouts, reg, log.Component("bus"))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := collab.Close(); closeErr != nil {
			log.Error("error closing bus", "error", closeErr)
		}
	}()

	client, conn, ep, err := connectMQTT(cfg, "scheduler", log)
	if err != nil {
		return err
	}
	defer closeMQTT(client, log)

	sched, err := scheduler.New(scheduler.Config{
		Layouts:   layouts,
		Bus:       collab,
		Conn:      conn,
		Endpoints: ep,
		Metrics:   reg,
		Logger:    log.Component("scheduler"),
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return metrics.Serve(ctx, cfg.Metrics.Listen, reg) })

	err = g.Wait()
	log.Info("scheduler stopped")
	return err
}

// openBus returns the collaborator named by bus.source.
func openBus(cfg *config.Config, layouts *layout.Registry, reg *metrics.Registry, log *logging.Logger) (bus.Collaborator, error) {
	switch cfg.Bus.Source {
	case config.BusSourceSimulated:
		sim, err := bus.NewSimulator(bus.SimulatorConfig{
			Layouts:       layouts,
			ResponseDelay: cfg.GetResponseDelay(),
			DropRate:      cfg.Bus.Simulation.DropRate,
			Seed:          cfg.Bus.Simulation.Seed,
			Clock:         clock.Real(),
			Metrics:       reg,
			Logger:        log,
		})
		if err != nil {
			return nil, fmt.Errorf("starting simulated bus: %w", err)
		}
		log.Info("simulated bus ready",
			"response_delay", cfg.GetResponseDelay(),
			"drop_rate", cfg.Bus.Simulation.DropRate,
		)
		return sim, nil

	case config.BusSourceSocketCAN:
		lengths := make(map[telemetry.DeviceID]int, layouts.Len())
		for _, e := range layouts.Entries() {
			lengths[e.DeviceID] = e.PayloadLength
		}
		sc, err := bus.OpenSocketCAN(bus.SocketCANConfig{
			Interface:      cfg.Bus.Interface,
			Bitrate:        cfg.Bus.Bitrate,
			RequestLengths: lengths,
			Clock:          clock.Real(),
			Metrics:        reg,
			Logger:         log,
		})
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", cfg.Bus.Interface, err)
		}
		return sc, nil

	default:
		return nil, fmt.Errorf("unknown bus source %q", cfg.Bus.Source)
	}
}
