package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/rtr-telemetry/migrations"

	"github.com/nerrad567/rtr-telemetry/internal/api"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/config"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/database"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/influxdb"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/logging"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/metrics"
	"github.com/nerrad567/rtr-telemetry/internal/store"
)

func newStoreCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "store",
		Short: "Decode, buffer and log samples; serve the read API",
		Long: `Run the backend store.

Frames from the DATA channel are decoded against the device layout,
pushed into per-field ring buffers and appended to the durable sample log
(CSV or SQLite). The HTTP API serves snapshots, device listings, a
WebSocket live feed, Prometheus metrics and frequency changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStore(cmd, opts)
		},
	}
}

func runStore(cmd *cobra.Command, opts *rootOptions) error {
	cfg, log, err := opts.loadConfig("store")
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	layouts, err := loadLayouts(cfg, log)
	if err != nil {
		return err
	}

	reg := metrics.New()

	sampleLog, err := openSampleLog(cmd, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := sampleLog.Close(); closeErr != nil {
			log.Error("error closing sample log", "error", closeErr)
		}
	}()

	var mirror store.Mirror
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			reg.DurableWriteFailed()
			log.Error("InfluxDB write error", "error", err)
		})
		mirror = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	client, conn, ep, err := connectMQTT(cfg, "store", log)
	if err != nil {
		return err
	}
	defer closeMQTT(client, log)

	st, err := store.New(store.Config{
		Layouts:        layouts,
		Conn:           conn,
		Endpoints:      ep,
		Log:            sampleLog,
		Mirror:         mirror,
		BufferCapacity: cfg.Store.BufferCapacity,
		QueueSize:      cfg.Transport.QueueSize,
		Metrics:        reg,
		Logger:         log.Component("store"),
	})
	if err != nil {
		return err
	}

	srv, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.Component("api"),
		Backend: st,
		Metrics: reg,
		MQTT:    client,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return st.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	err = g.Wait()
	log.Info("store stopped")
	return err
}

// openSampleLog opens the durable log named by store.log.format.
func openSampleLog(cmd *cobra.Command, cfg *config.Config, log *logging.Logger) (store.SampleLog, error) {
	switch cfg.Store.Log.Format {
	case config.LogFormatCSV:
		l, err := store.OpenCSVLog(cfg.Store.Log.Path, cfg.Store.Log.Truncate)
		if err != nil {
			return nil, fmt.Errorf("opening sample log: %w", err)
		}
		log.Info("sample log opened", "format", "csv", "path", cfg.Store.Log.Path)
		return l, nil

	case config.LogFormatSQLite:
		db, err := database.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if err := db.Migrate(cmd.Context()); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		log.Info("sample log opened", "format", "sqlite", "path", db.Path())
		return &sqliteSampleLog{SQLiteLog: store.NewSQLiteLog(db), db: db}, nil

	default:
		return nil, fmt.Errorf("unknown sample log format %q", cfg.Store.Log.Format)
	}
}

// sqliteSampleLog closes the database along with the log.
type sqliteSampleLog struct {
	*store.SQLiteLog
	db *database.DB
}

func (l *sqliteSampleLog) Close() error {
	return errors.Join(l.SQLiteLog.Close(), l.db.Close())
}
