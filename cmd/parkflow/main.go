// ParkFlow Core - AGV park automation engine
//
// This is the main entry point for the ParkFlow Core application. It loads
// the configuration, opens the park database, and wires the fieldbus
// gateway, point cache sync, automation runner and dispatch client behind
// the HTTP API. MQTT and InfluxDB are optional side channels.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	_ "github.com/parkflow/parkflow-core/migrations"

	"github.com/parkflow/parkflow-core/internal/api"
	"github.com/parkflow/parkflow-core/internal/audit"
	"github.com/parkflow/parkflow-core/internal/automation"
	"github.com/parkflow/parkflow-core/internal/dispatch"
	"github.com/parkflow/parkflow-core/internal/fieldbus"
	"github.com/parkflow/parkflow-core/internal/infrastructure/config"
	"github.com/parkflow/parkflow-core/internal/infrastructure/database"
	"github.com/parkflow/parkflow-core/internal/infrastructure/influxdb"
	"github.com/parkflow/parkflow-core/internal/infrastructure/logging"
	"github.com/parkflow/parkflow-core/internal/infrastructure/mqtt"
	"github.com/parkflow/parkflow-core/internal/park"
	"github.com/parkflow/parkflow-core/internal/pointcache"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// stopTimeout bounds how long shutdown waits for in-flight chains.
const stopTimeout = 15 * time.Second

func main() {
	flags := pflag.NewFlagSet("parkflow", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", getConfigPath(), "path to the YAML configuration file")
	showVersion := flags.BoolP("version", "v", false, "print version information and exit")
	_ = flags.Parse(os.Args[1:]) //nolint:errcheck // ExitOnError

	if *showVersion {
		fmt.Printf("parkflow %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	// Cancel on Ctrl+C or SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown once ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting ParkFlow Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site", cfg.Site.ID,
		"devices", len(cfg.Fieldbus.Devices),
	)

	// Database
	db, err := database.Open(ctx, database.Config{
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	parks := park.NewSQLiteRepository(db.DB)
	points := pointcache.NewSQLiteStore(db.DB)
	events := audit.NewSQLiteRepository(db.DB)
	flows := automation.NewSQLiteRepository(db.DB)
	devices := devicesFromConfig(cfg.Fieldbus.Devices)

	// Optional side channels
	mqttClient, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	influxClient, err := connectInflux(cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// Console stream hub, shared by the runner and the API server
	hub := api.NewHub(cfg.WebSocket, log)
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	// Fieldbus and point cache
	gateway := fieldbus.NewGateway(cfg.Fieldbus.Timeout, fieldbus.WithLogger(log.Component("fieldbus")))
	syncer := pointcache.NewSyncer(gateway, points, cfg.Fieldbus.PollInterval)
	syncer.SetLogger(log.Component("pointcache"))

	// Automation
	journal := automation.NewJournal(events, log.Component("journal"))
	console := automation.MultiSink{journal, hub}
	orders := automation.OrderRecorders{journal}

	if mqttClient != nil {
		console = append(console, mqttConsole(mqttClient, log))
		syncer.Observe(mqttPointObserver(mqttClient, log))
	}
	if influxClient != nil {
		syncer.Observe(influxPointObserver(influxClient))
		orders = append(orders, influxOrderRecorder(influxClient))
	}

	dispatcher := dispatch.NewClient(dispatchConfig(cfg.Dispatch))
	if pingErr := dispatcher.Ping(ctx); pingErr != nil {
		log.Warn("dispatch service not reachable, orders will retry", "url", cfg.Dispatch.BaseURL, "error", pingErr)
	}

	runner := automation.NewRunner(automation.RunnerConfig{
		TriggerInterval: cfg.Flow.TriggerInterval,
		States:          parkStates(cfg.Park),
	}, automation.RunnerDeps{
		Flows:      flows,
		Parks:      parks,
		Points:     points,
		Syncer:     syncer,
		Devices:    devices,
		Dispatcher: dispatcher,
		Console:    console,
		Orders:     orders,
	})
	runner.SetLogger(log.Component("automation"))
	runner.OnStatus(hub.PublishStatus)
	defer func() {
		log.Info("stopping flow runner")
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if stopErr := runner.Stop(stopCtx); stopErr != nil {
			log.Error("error stopping flow runner", "error", stopErr)
		}
	}()

	if mqttClient != nil {
		runner.OnStatus(mqttStatusPublisher(mqttClient, log))
		if subErr := mqttClient.SubscribeFlowCommands(flowCommandHandler(ctx, runner, cfg.Flow.DefaultID, log)); subErr != nil {
			return fmt.Errorf("subscribing to flow commands: %w", subErr)
		}
	}

	// HTTP API
	server, err := api.New(api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Logger:        log,
		Parks:         parks,
		Points:        points,
		Fieldbus:      gateway,
		Devices:       devices,
		Flows:         flows,
		Runner:        runner,
		Reservations:  runner.Locks(),
		Audit:         events,
		DefaultFlowID: cfg.Flow.DefaultID,
		ExternalHub:   hub,
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	syncer.Observe(server.PointObserver())
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if cfg.Flow.AutoStart {
		if startErr := runner.Start(ctx, cfg.Flow.DefaultID); startErr != nil {
			log.Error("auto start failed", "flow_id", cfg.Flow.DefaultID, "error", startErr)
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API server, runner, hub, InfluxDB, MQTT, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PARKFLOW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PARKFLOW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMQTT connects to the broker when MQTT is enabled. It returns a nil
// client when it is not.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil, nil
	}

	client, err := mqtt.Connect(cfg.MQTT, cfg.Site.ID)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// connectInflux connects to InfluxDB when enabled. It returns a nil client
// when it is not.
func connectInflux(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err *influxdb.WriteError) {
		log.Error("InfluxDB write error", "site", err.Site, "bucket", err.Bucket, "error", err.Err)
	})
	log.Info("InfluxDB connected",
		"site", client.Site(),
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// healthCheck verifies the infrastructure connections. MQTT and InfluxDB
// are only checked when enabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
