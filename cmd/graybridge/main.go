// Gray Logic Bridges - Device Protocol Adapters
//
// This is the main entry point for the Gray Logic Bridges daemon. It links
// devices that speak vendor protocols onto the Gray Logic MQTT bus:
//   - OpenWrt routers (ubus JSON-RPC) for wireless client presence
//   - Xiaomi miio devices (plugs and robot vacuums) over UDP
//
// Each bridge publishes retained state and health on the standard
// graylogic/{state,health}/{protocol}/... topics and executes commands
// received on graylogic/command/{protocol}/...
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-bridges/migrations"

	"github.com/nerrad567/gray-logic-bridges/internal/api"
	"github.com/nerrad567/gray-logic-bridges/internal/bridges/presence"
	"github.com/nerrad567/gray-logic-bridges/internal/bridges/xiaomi"
	"github.com/nerrad567/gray-logic-bridges/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bridges/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-bridges/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-bridges/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-bridges/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-bridges/internal/miio"
	"github.com/nerrad567/gray-logic-bridges/internal/ubus"
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

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Bridges",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

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
	mqttClient.SetLogger(log)
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
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start presence bridge (if enabled)
	var presenceBridge *presence.Bridge
	var presenceRepo *presence.Repository
	if cfg.Presence.Enabled {
		presenceRepo = presence.NewRepository(db)

		var leaseWatcher io.Closer
		presenceBridge, leaseWatcher, err = startPresenceBridge(ctx, cfg, mqttClient, presenceRepo, influxClient, log)
		if err != nil {
			return fmt.Errorf("starting presence bridge: %w", err)
		}
		defer func() {
			log.Info("stopping presence bridge")
			presenceBridge.Stop()
			if leaseWatcher != nil {
				if closeErr := leaseWatcher.Close(); closeErr != nil {
					log.Error("error closing lease watcher", "error", closeErr)
				}
			}
		}()
	} else {
		log.Info("presence bridge disabled")
	}

	// Start xiaomi bridge (if enabled)
	var xiaomiBridge *xiaomi.Bridge
	if cfg.Xiaomi.Enabled && len(cfg.Xiaomi.Devices) > 0 {
		xiaomiBridge, err = startXiaomiBridge(ctx, cfg, mqttClient, influxClient, log)
		if err != nil {
			return fmt.Errorf("starting xiaomi bridge: %w", err)
		}
		defer func() {
			log.Info("stopping xiaomi bridge")
			xiaomiBridge.Stop()
		}()
	} else {
		log.Info("xiaomi bridge disabled")
	}

	// Start status API (if enabled)
	if cfg.API.Enabled {
		apiDeps := api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Version: version,
		}
		if presenceBridge != nil {
			apiDeps.Presence = presenceBridge
			apiDeps.Clients = presenceRepo
		}
		if xiaomiBridge != nil {
			apiDeps.Devices = xiaomiBridge
		}

		apiServer, apiErr := api.New(apiDeps)
		if apiErr != nil {
			return fmt.Errorf("creating status API: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting status API: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing status API", "error", closeErr)
			}
		}()
	} else {
		log.Info("status API disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Status API (if enabled)
	// 2. Xiaomi bridge (if enabled)
	// 3. Presence bridge (if enabled)
	// 4. InfluxDB (if enabled)
	// 5. MQTT
	// 6. Database

	log.Info("Gray Logic Bridges stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
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

	// Bridge health is published continuously on the MQTT health topics;
	// the router and miio devices are reported there rather than blocking
	// startup on their reachability.

	return nil
}

// startPresenceBridge builds the ubus client, lease source, and scanner,
// then starts the presence bridge. The returned io.Closer is non-nil when
// a local lease file watcher was started and must be closed on shutdown.
func startPresenceBridge(
	ctx context.Context,
	cfg *config.Config,
	mqttClient *mqtt.Client,
	repo *presence.Repository,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*presence.Bridge, io.Closer, error) {
	router := ubus.NewClient(ubus.Config{
		Host:     cfg.Presence.Router.Host,
		Username: cfg.Presence.Router.Username,
		Password: cfg.Presence.Router.Password,
		Timeout:  time.Duration(cfg.Presence.Router.Timeout) * time.Second,
	})

	scannerOpts := presence.ScannerOptions{
		Router:    router,
		LeaseFile: cfg.Presence.LeaseFile,
		Logger:    log,
	}

	// When running on the router itself the lease file is read and watched
	// locally instead of being fetched over ubus on every scan.
	var leaseWatcher *presence.LocalLeaseFile
	if cfg.Presence.LocalLeaseFile {
		if cfg.Presence.LeaseFile == "" {
			return nil, nil, fmt.Errorf("local_lease_file requires lease_file to be set")
		}
		var err error
		leaseWatcher, err = presence.NewLocalLeaseFile(cfg.Presence.LeaseFile, log)
		if err != nil {
			return nil, nil, fmt.Errorf("watching lease file: %w", err)
		}
		scannerOpts.Leases = leaseWatcher
	}

	opts := presence.BridgeOptions{
		Config: presence.Config{
			ScanInterval:   time.Duration(cfg.Presence.ScanInterval) * time.Second,
			AwayTimeout:    time.Duration(cfg.Presence.AwayTimeout) * time.Second,
			HealthInterval: time.Duration(cfg.Presence.HealthInterval) * time.Second,
			Version:        version,
		},
		MQTTClient: mqttClient,
		Scanner:    presence.NewScanner(scannerOpts),
		Logger:     log,
		Repository: repo,
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	bridge, err := presence.NewBridge(opts)
	if err != nil {
		closeLeaseWatcher(leaseWatcher, log)
		return nil, nil, err
	}
	if err := bridge.Start(ctx); err != nil {
		closeLeaseWatcher(leaseWatcher, log)
		return nil, nil, err
	}

	log.Info("presence bridge started",
		"router", cfg.Presence.Router.Host,
		"scan_interval", cfg.Presence.ScanInterval,
	)
	if leaseWatcher != nil {
		return bridge, leaseWatcher, nil
	}
	return bridge, nil, nil
}

// closeLeaseWatcher closes the watcher if one was started, logging failures.
func closeLeaseWatcher(watcher *presence.LocalLeaseFile, log *logging.Logger) {
	if watcher == nil {
		return
	}
	if err := watcher.Close(); err != nil {
		log.Error("error closing lease watcher", "error", err)
	}
}

// startXiaomiBridge dials each configured miio device and starts the
// xiaomi bridge.
func startXiaomiBridge(
	ctx context.Context,
	cfg *config.Config,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*xiaomi.Bridge, error) {
	var metrics xiaomi.MetricsWriter
	if influxClient != nil {
		metrics = influxClient
	}

	entities := make([]xiaomi.ManagedEntity, 0, len(cfg.Xiaomi.Devices))
	closeEntities := func() {
		for _, e := range entities {
			if closeErr := e.Entity.Close(); closeErr != nil {
				log.Error("error closing device", "device_id", e.Entity.ID(), "error", closeErr)
			}
		}
	}

	for _, dev := range cfg.Xiaomi.Devices {
		device, err := miio.Dial(dev.Host, dev.Token)
		if err != nil {
			closeEntities()
			return nil, fmt.Errorf("device %s: %w", dev.ID, err)
		}

		var entity xiaomi.Entity
		switch dev.Kind {
		case "switch":
			entity = xiaomi.NewSwitchEntity(dev.ID, dev.Name, miio.NewPlug(device), metrics, log)
		case "vacuum":
			entity = xiaomi.NewVacuumEntity(dev.ID, dev.Name, miio.NewVacuum(device, dev.Model), metrics, log)
		case "sensor":
			properties := make([]xiaomi.PropertySpec, len(dev.Properties))
			for i, prop := range dev.Properties {
				properties[i] = xiaomi.PropertySpec{
					Name:     prop.Name,
					Property: prop.Property,
					Invert:   prop.Invert,
				}
			}
			entity, err = xiaomi.NewSensorEntity(dev.ID, dev.Name, device, properties, metrics, log)
			if err != nil {
				_ = device.Close()
				closeEntities()
				return nil, fmt.Errorf("device %s: %w", dev.ID, err)
			}
		default:
			_ = device.Close()
			closeEntities()
			return nil, fmt.Errorf("device %s: unknown kind %q", dev.ID, dev.Kind)
		}

		pollInterval := dev.PollInterval
		if pollInterval == 0 {
			pollInterval = cfg.Xiaomi.PollInterval
		}
		entities = append(entities, xiaomi.ManagedEntity{
			Entity:       entity,
			PollInterval: time.Duration(pollInterval) * time.Second,
		})
	}

	bridge, err := xiaomi.NewBridge(xiaomi.BridgeOptions{
		Config: xiaomi.Config{
			PollTimeout:    time.Duration(cfg.Xiaomi.PollTimeout) * time.Second,
			CommandTimeout: time.Duration(cfg.Xiaomi.CommandTimeout) * time.Second,
			HealthInterval: time.Duration(cfg.Xiaomi.HealthInterval) * time.Second,
			Version:        version,
		},
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Entities:   entities,
		Logger:     log,
	})
	if err != nil {
		closeEntities()
		return nil, err
	}
	if err := bridge.Start(ctx); err != nil {
		closeEntities()
		return nil, err
	}

	log.Info("xiaomi bridge started", "devices", len(entities))
	return bridge, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the xiaomi
// bridge's MQTTClient interface. The only difference is the Subscribe
// handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Xiaomi bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements xiaomi.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements xiaomi.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (bridge handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements xiaomi.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
