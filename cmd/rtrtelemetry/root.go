package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/config"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/logging"
	"github.com/nerrad567/rtr-telemetry/internal/layout"
)

// defaultConfigPath is used when neither --config nor RTRTELEMETRY_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "rtrtelemetry",
		Short:         "Periodic CAN telemetry acquisition",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", configPathFromEnv(), "path to config.yaml")

	cmd.AddCommand(newBrokerCommand(opts))
	cmd.AddCommand(newSchedulerCommand(opts))
	cmd.AddCommand(newStoreCommand(opts))
	cmd.AddCommand(newSnapshotCommand(opts))
	cmd.AddCommand(newSetFrequencyCommand(opts))

	return cmd
}

func configPathFromEnv() string {
	if p := os.Getenv("RTRTELEMETRY_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// loadConfig reads the configuration and builds the process logger,
// tagged with the process role.
func (o *rootOptions) loadConfig(role string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version).With("role", role)
	log.Info("configuration loaded",
		"path", o.configPath,
		"node", cfg.Node.ID,
		"commit", commit,
	)
	return cfg, log, nil
}

// loadLayouts parses the device layout document named in cfg.
func loadLayouts(cfg *config.Config, log *logging.Logger) (*layout.Registry, error) {
	reg, err := layout.Load(cfg.Layout.Path)
	if err != nil {
		return nil, fmt.Errorf("loading layout: %w", err)
	}
	log.Info("device layout loaded", "path", cfg.Layout.Path, "devices", reg.Len())
	return reg, nil
}
