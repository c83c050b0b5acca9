// Gray Logic Conduit - Device Connection Service
//
// Conduit owns the persistent TCP connections to AV and control devices
// on the site LAN. It multiplexes UI commands onto pooled connections,
// rides out device restarts with automatic reconnection, and fans
// connection lifecycle and device state out over MQTT, WebSocket, and a
// REST API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-conduit/internal/api"
	"github.com/nerrad567/gray-logic-conduit/internal/bridge"
	"github.com/nerrad567/gray-logic-conduit/internal/driver/avtcp"
	"github.com/nerrad567/gray-logic-conduit/internal/history"
	"github.com/nerrad567/gray-logic-conduit/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-conduit/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-conduit/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-conduit/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-conduit/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-conduit/internal/journal"
	"github.com/nerrad567/gray-logic-conduit/internal/pool"
	"github.com/nerrad567/gray-logic-conduit/migrations"
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

// statsInterval is how often pool counters are written to telemetry.
const statsInterval = 30 * time.Second

// warmupTimeout bounds the initial connection attempt per endpoint.
// A device that is powered off at boot must not hold up startup.
const warmupTimeout = 30 * time.Second

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Conduit",
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
	if migrateErr := db.Migrate(ctx, migrations.Files); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Event journal
	journalRepo := journal.NewSQLiteRepository(db.DB)
	journalRecorder := journal.NewRecorder(journalRepo, log)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var historyWriter *history.Writer
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		historyWriter = history.NewWriter(influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connection pool with the AV TCP driver
	factory := avtcp.Factory(avtcp.Config{
		DialTimeout:  cfg.DriverDialTimeout(),
		WriteTimeout: cfg.DriverWriteTimeout(),
	}, log)

	poolMgr := pool.NewManager(pool.Config{
		MaxRetries:     cfg.Pool.MaxRetries,
		RetryDelay:     cfg.PoolRetryDelay(),
		ConnectTimeout: cfg.PoolConnectTimeout(),
		EventQueueSize: cfg.Pool.EventQueueSize,
	}, factory)
	poolMgr.SetLogger(log)
	defer func() {
		log.Info("closing connection pool")
		if closeErr := poolMgr.Close(); closeErr != nil {
			log.Error("error closing pool", "error", closeErr)
		}
	}()

	// MQTT bridge (optional, follows MQTT)
	var mqttBridge *bridge.Bridge
	if mqttClient != nil {
		mqttBridge, err = bridge.New(bridge.Options{
			MQTT:   mqttClient,
			Pool:   poolMgr,
			Logger: log,
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		if startErr := mqttBridge.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Stop()
		}()
		log.Info("MQTT bridge started")
	}

	// REST API and WebSocket server
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Pool:     poolMgr,
		Journal:  journalRepo,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Fan pool events out to every consumer. The pool delivers events
	// from a single dispatch goroutine; each sink must not block.
	hub := apiServer.Hub()
	poolMgr.SetOnEvent(func(ev pool.Event) {
		journalRecorder.Record(ev)
		if historyWriter != nil {
			historyWriter.Record(ev)
		}
		if mqttBridge != nil {
			mqttBridge.HandleEvent(ev)
		}
		hub.BroadcastPoolEvent(ev)
	})

	// Periodic pool counters to telemetry
	if historyWriter != nil {
		go historyWriter.RunStatsLoop(ctx, poolMgr, statsInterval)
	}

	// Warm up configured endpoints. A dead device logs and moves on;
	// the pool will reconnect it when it comes back.
	warmupEndpoints(ctx, cfg.Endpoints, poolMgr, log)

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
	// 1. API server
	// 2. MQTT bridge
	// 3. Connection pool
	// 4. InfluxDB (if enabled)
	// 5. MQTT (if enabled)
	// 6. Database

	log.Info("Gray Logic Conduit stopped")
	return nil
}

// warmupEndpoints connects the endpoints marked for warm-up. Failures
// are logged, not fatal: the endpoint stays in the pool and reconnects
// when the device appears.
func warmupEndpoints(ctx context.Context, endpoints []config.EndpointConfig, poolMgr *pool.Manager, log *logging.Logger) {
	for _, ep := range endpoints {
		if !ep.Warmup {
			continue
		}

		connCtx, cancel := context.WithTimeout(ctx, warmupTimeout)
		_, err := poolMgr.Acquire(connCtx, ep.Address)
		cancel()

		if err != nil {
			log.Warn("endpoint warm-up failed",
				"name", ep.Name,
				"address", ep.Address,
				"error", err,
			)
			continue
		}
		log.Info("endpoint connected", "name", ep.Name, "address", ep.Address)
	}
}

// getConfigPath returns the configuration file path.
// Uses CONDUIT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CONDUIT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
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
