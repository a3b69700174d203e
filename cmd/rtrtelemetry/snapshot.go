package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/config"
	"github.com/nerrad567/rtr-telemetry/internal/store"
	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
)

const snapshotTimeout = 10 * time.Second

type snapshotOptions struct {
	apiURL string
	limit  int
	format string
}

func newSnapshotCommand(opts *rootOptions) *cobra.Command {
	so := &snapshotOptions{}

	cmd := &cobra.Command{
		Use:   "snapshot <device>",
		Short: "Print the buffered values of one device",
		Long: `Fetch a device snapshot from a running store.

The device is given as "0x100" or decimal. The API address defaults to
api.host and api.port from the configuration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd, opts, so, args[0])
		},
	}

	cmd.Flags().StringVar(&so.apiURL, "api", "", "store API base URL (default from config)")
	cmd.Flags().IntVarP(&so.limit, "limit", "n", 10, "newest values per field (0 for all)")
	cmd.Flags().StringVar(&so.format, "format", "text", "output format (text|json)")
	return cmd
}

func runSnapshot(cmd *cobra.Command, opts *rootOptions, so *snapshotOptions, device string) error {
	id, err := telemetry.ParseDeviceID(device)
	if err != nil {
		return err
	}
	if so.format != "text" && so.format != "json" {
		return fmt.Errorf("invalid format %q: must be text or json", so.format)
	}

	base := so.apiURL
	if base == "" {
		// Config only; logging would interleave with the output.
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		base = fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port)
	}

	snap, raw, err := fetchSnapshot(cmd.Context(), base, id, so.limit)
	if err != nil {
		return err
	}

	if so.format == "json" {
		_, err = cmd.OutOrStdout().Write(raw)
		return err
	}
	return printSnapshot(cmd.OutOrStdout(), snap)
}

func fetchSnapshot(ctx context.Context, base string, id telemetry.DeviceID, limit int) (store.DeviceSnapshot, []byte, error) {
	u, err := url.Parse(base)
	if err != nil {
		return store.DeviceSnapshot{}, nil, fmt.Errorf("invalid API URL: %w", err)
	}
	u = u.JoinPath("api", "v1", "devices", id.String(), "snapshot")
	if limit > 0 {
		u.RawQuery = url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return store.DeviceSnapshot{}, nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return store.DeviceSnapshot{}, nil, fmt.Errorf("requesting snapshot: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return store.DeviceSnapshot{}, nil, fmt.Errorf("reading snapshot: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return store.DeviceSnapshot{}, nil, fmt.Errorf("snapshot %s: %s: %s", id, resp.Status, apiErr.Message)
	}

	var snap store.DeviceSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return store.DeviceSnapshot{}, nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, raw, nil
}

// printSnapshot writes one row per timestamp with a column per field.
func printSnapshot(w io.Writer, snap store.DeviceSnapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "device %s\n", snap.DeviceID)
	if len(snap.Fields) == 0 {
		return tw.Flush()
	}

	fmt.Fprint(tw, "timestamp")
	for _, f := range snap.Fields {
		fmt.Fprintf(tw, "\t%s", f.Name)
	}
	fmt.Fprintln(tw)

	rows := len(snap.Fields[0].Timestamps)
	for i := range rows {
		fmt.Fprint(tw, snap.Fields[0].Timestamps[i].Format(time.RFC3339Nano))
		for _, f := range snap.Fields {
			if i < len(f.Values) {
				fmt.Fprintf(tw, "\t%v", f.Values[i])
			} else {
				fmt.Fprint(tw, "\t-")
			}
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
