package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/vitrea-gateway/internal/catalog"
	"github.com/nerrad567/vitrea-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/vitrea-gateway/internal/vbox"
)

// Probe command and flags
var (
	probeHost    string
	probePort    int
	probeTimeout time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that a VBox is reachable and runs supported firmware",
	Long: `Open a short session to a VBox, authenticate and read its firmware version.
The result is printed as JSON. The command fails when the controller is not
usable by the gateway.

Without --host the gateway address from the configuration is probed.`,
	Example: `  # Probe the configured VBox
  vitreagw probe

  # Probe another controller
  vitreagw probe --host 192.168.1.40 --port 11501 --timeout 3s`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeHost, "host", "", "VBox host (default: gateway.host from config)")
	probeCmd.Flags().IntVar(&probePort, "port", 0, "VBox port (default: gateway.port from config, or 11501)")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 5*time.Second, "Overall probe timeout")
}

func runProbe(cmd *cobra.Command, _ []string) error {
	host, port := probeHost, probePort
	if host == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		host = cfg.Gateway.Host
		if port == 0 {
			port = cfg.Gateway.Port
		}
	}
	if port == 0 {
		port = vbox.DefaultPort
	}

	res := vbox.ValidateAvailability(cmd.Context(), host, port, vbox.ProbeOptions{Timeout: probeTimeout})
	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.Supported {
		return fmt.Errorf("vbox at %s:%d is not usable: %s", host, port, res.Reason)
	}
	return nil
}

// Discover command and flags
var (
	discoverSave    bool
	discoverTimeout time.Duration
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Read the VBox object database and print it as JSON",
	Long: `Connect to the configured VBox, read every floor, room, key, air
conditioner and scenario, and print the catalog nested by floor and room.

With --save the catalog also replaces the one stored in the database, which
the service uses when gateway.skip_discovery is set.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverSave, "save", false, "Store the catalog in the database")
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 2*time.Minute, "Overall discovery timeout")
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Logs go to stderr so stdout stays valid JSON.
	log := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging, version)

	ctx, cancel := context.WithTimeout(cmd.Context(), discoverTimeout)
	defer cancel()

	controller := vbox.NewController(controllerConfig(cfg.Gateway), vbox.ControllerOptions{
		Logger: log.Component("vbox"),
	})
	defer controller.Close()

	log.Info("reading VBox database", "host", cfg.Gateway.Host, "port", cfg.Gateway.Port)
	cat, err := controller.ReadDatabase(ctx)
	if err != nil {
		return fmt.Errorf("reading VBox database: %w", err)
	}

	snap, err := cat.Snapshot()
	if err != nil {
		return fmt.Errorf("building catalog: %w", err)
	}

	if discoverSave {
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := catalog.NewSQLiteStore(db).Save(ctx, cat); err != nil {
			return fmt.Errorf("storing catalog: %w", err)
		}
		log.Info("catalog stored", "path", cfg.Database.Path)
	}

	return writeJSON(cmd.OutOrStdout(), snap)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vitreagw %s (commit %s, built %s)\n", version, commit, date)
	},
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
