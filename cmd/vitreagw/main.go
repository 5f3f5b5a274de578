// Vitreagw - Vitrea VBox gateway
//
// This is the main entry point for the Vitrea gateway service. It keeps a
// session open to a Vitrea VBox home-automation controller and exposes it as:
//   - Retained device state and command topics on MQTT
//   - A REST and WebSocket API
//   - Optional state history in InfluxDB
//
// Usage:
//
//	vitreagw [run] [--config path]
//	vitreagw probe --host 192.168.1.23
//	vitreagw discover --save
//	vitreagw version
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/vitrea-gateway/migrations"

	"github.com/nerrad567/vitrea-gateway/internal/api"
	"github.com/nerrad567/vitrea-gateway/internal/bridges/vitrea"
	"github.com/nerrad567/vitrea-gateway/internal/catalog"
	"github.com/nerrad567/vitrea-gateway/internal/infrastructure/config"
	"github.com/nerrad567/vitrea-gateway/internal/infrastructure/database"
	"github.com/nerrad567/vitrea-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/vitrea-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/vitrea-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/vitrea-gateway/internal/statestore"
	"github.com/nerrad567/vitrea-gateway/internal/vbox"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configPath is the --config flag shared by every command.
var configPath string

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vitreagw",
	Short: "Vitrea VBox gateway",
	Long: `Vitreagw connects to a Vitrea VBox controller, reads its object database
and bridges device state and commands to MQTT and a REST/WebSocket API.

Without a subcommand it runs the gateway service.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gateway service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the YAML config file (default $VITREAGW_CONFIG or "+defaultConfigPath+")")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(versionCmd)
}

// run is the actual service logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup sequence: one block per component
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting vitreagw",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)
	catalogs := catalog.NewSQLiteStore(db)

	// Connect to the VBox
	controller := vbox.NewController(controllerConfig(cfg.Gateway), vbox.ControllerOptions{
		Logger: log.Component("vbox"),
	})
	defer func() {
		log.Info("closing VBox session")
		if closeErr := controller.Close(); closeErr != nil {
			log.Error("error closing VBox session", "error", closeErr)
		}
	}()
	if err := connectGateway(ctx, controller, catalogs, cfg.Gateway, log); err != nil {
		return err
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var recorder vitrea.EventRecorder
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
			log.Error("InfluxDB write error", "error", err)
		})
		recorder = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Open the last-known state store (optional)
	var states vitrea.StateStore
	if cfg.StateStore.Enabled {
		store, openErr := statestore.Open(cfg.StateStore.Path)
		if openErr != nil {
			return fmt.Errorf("opening state store: %w", openErr)
		}
		defer func() {
			log.Info("closing state store")
			if closeErr := store.Close(); closeErr != nil {
				log.Error("error closing state store", "error", closeErr)
			}
		}()
		states = store
		log.Info("state store opened", "path", cfg.StateStore.Path)
	}

	bridge, err := vitrea.NewBridge(vitrea.BridgeOptions{
		Version:        version,
		Address:        fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		HealthInterval: cfg.Gateway.HealthInterval,
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Gateway:        controller,
		Logger:         log.Component("bridge"),
		Recorder:       recorder,
		States:         states,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()
	log.Info("bridge started")

	// Start the HTTP API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log.Component("api"),
			Gateway:     controller,
			Bridge:      bridge,
			GatewayHost: cfg.Gateway.Host,
			GatewayPort: cfg.Gateway.Port,
			Version:     version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API, bridge, state
	// store, InfluxDB, MQTT, VBox session, database.
	return nil
}

// loadConfig reads the configuration named by --config, $VITREAGW_CONFIG or
// the default path. A missing default file falls back to defaults and
// environment overrides.
func loadConfig() (*config.Config, error) {
	path := getConfigPath()
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// getConfigPath returns the configuration file path.
// The --config flag wins over VITREAGW_CONFIG, which wins over the default.
func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if path := os.Getenv("VITREAGW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens the SQLite database and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// controllerConfig converts the gateway section into controller settings.
// Zero values keep the protocol defaults.
func controllerConfig(g config.GatewayConfig) vbox.ControllerConfig {
	return vbox.ControllerConfig{
		Connection: vbox.ConnectionConfig{
			Host:              g.Host,
			Port:              g.Port,
			DialTimeout:       g.DialTimeout,
			KeepAliveInterval: g.KeepAliveInterval,
			LivenessTimeout:   g.LivenessTimeout,
			ReconnectMaxDelay: g.ReconnectMaxDelay,
			ReconnectAttempts: g.ReconnectAttempts,
		},
		CommandTimeout:   g.CommandTimeout,
		DiscoveryTimeout: g.DiscoveryTimeout,
	}
}

// catalogStore is the part of *catalog.SQLiteStore used at startup.
type catalogStore interface {
	Save(ctx context.Context, cat *vbox.Catalog) error
	Load(ctx context.Context) (*vbox.Catalog, error)
}

// connectGateway opens the VBox session and makes sure a catalog is in use.
//
// With skip_discovery the stored catalog is installed before connecting;
// if none was stored, discovery runs anyway. A fresh discovery is saved.
// If discovery is incomplete the stored catalog is used when there is one
// and the service continues either way. A loaded catalog rejects commands
// for objects it does not list; while only a partial catalog is in use,
// device IDs are not checked against it.
func connectGateway(ctx context.Context, c *vbox.Controller, store catalogStore, g config.GatewayConfig, log *logging.Logger) error {
	skip := false
	if g.SkipDiscovery {
		cat, err := store.Load(ctx)
		switch {
		case err == nil:
			c.UseCatalog(cat)
			skip = true
			log.Info("using stored catalog", "counts", cat.Progress())
		case errors.Is(err, catalog.ErrNoCatalog):
			log.Warn("no stored catalog, running discovery")
		default:
			return fmt.Errorf("loading stored catalog: %w", err)
		}
	}

	log.Info("connecting to VBox", "host", g.Host, "port", g.Port, "discovery", !skip)
	err := c.Connect(ctx, vbox.ConnectOptions{SkipDiscovery: skip, Watchdog: g.Watchdog})
	switch {
	case err == nil:
	case errors.Is(err, vbox.ErrDiscoveryIncomplete):
		log.Warn("discovery incomplete, falling back to stored catalog", "error", err)
		cat, loadErr := store.Load(ctx)
		if loadErr != nil {
			log.Warn("no usable stored catalog", "error", loadErr)
			return nil
		}
		c.UseCatalog(cat)
		return nil
	default:
		return fmt.Errorf("connecting to VBox: %w", err)
	}
	log.Info("VBox connected", "state", c.Connection().State().String())

	if !skip {
		if err := store.Save(ctx, c.Catalog()); err != nil {
			log.Warn("failed to store catalog", "error", err)
		} else {
			log.Info("catalog stored", "counts", c.Catalog().Progress())
		}
	}
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	// The VBox session reports through the bridge's health topic; a
	// reconnecting session is degraded, not fatal.
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The primary difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements vitrea.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements vitrea.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements vitrea.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements vitrea.MQTTClient.
// The MQTT client lifecycle is owned by run's defer chain, so this is a no-op.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {}
