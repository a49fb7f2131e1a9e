// Doorgate is the access gateway for a network-attached door controller.
//
// It authenticates users over a REST API, blocks brute-force attempts per
// client IP, issues opaque session tokens and relays open/close commands
// to the controller. Access events are kept in SQLite and optionally
// mirrored to MQTT and InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/doorgate/internal/api"
	"github.com/nerrad567/doorgate/internal/audit"
	"github.com/nerrad567/doorgate/internal/auth"
	"github.com/nerrad567/doorgate/internal/device"
	"github.com/nerrad567/doorgate/internal/events"
	"github.com/nerrad567/doorgate/internal/infrastructure/config"
	"github.com/nerrad567/doorgate/internal/infrastructure/database"
	"github.com/nerrad567/doorgate/internal/infrastructure/influxdb"
	"github.com/nerrad567/doorgate/internal/infrastructure/logging"
	"github.com/nerrad567/doorgate/internal/infrastructure/mqtt"
	"github.com/nerrad567/doorgate/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configPathEnv     = "DOORGATE_CONFIG"

	// accessLogBuffer is the number of access log entries queued before
	// new ones are dropped.
	accessLogBuffer = 256
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application lifecycle, separated from main for testability.
// It returns nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting doorgate",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, cfg.Database)
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Authentication
	users := auth.NewUserRepository(db.DB)
	codec := auth.NewCodec(cfg.Security.Credentials.SaltLengthBytes)
	if _, seedErr := auth.SeedAdmin(ctx, users, codec, cfg.Security.Bootstrap.AdminUsername, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin: %w", seedErr)
	}

	tracker := auth.NewLockoutTracker(auth.LockoutConfig{
		MaxAttempts:   cfg.Security.Lockout.MaxAttempts,
		Duration:      cfg.LockoutDuration(),
		MaxTrackedIPs: cfg.Security.Lockout.MaxTrackedIPs,
	})
	sessions := auth.NewSessionAuthority(users)
	coordinator, err := auth.NewCoordinator(users, codec, tracker, sessions, auth.CoordinatorConfig{
		MinPasswordLength: cfg.Security.Credentials.MinPasswordLength,
	}, log.Logger)
	if err != nil {
		return fmt.Errorf("creating auth coordinator: %w", err)
	}

	// Access log
	accessLogs := audit.NewSQLiteRepository(db.DB)
	accessWriter := audit.NewWriter(accessLogs, accessLogBuffer, log.Logger)
	// The writer outlives ctx so entries from requests still draining at
	// shutdown are kept; Close stops it.
	accessWriter.Start(context.WithoutCancel(ctx))
	defer func() {
		log.Info("flushing access log")
		accessWriter.Close()
	}()

	dispatcherOpts := []events.Option{events.WithAccessLog(accessWriter)}
	optional := make(map[string]api.HealthChecker)

	// MQTT (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		dispatcherOpts = append(dispatcherOpts, events.WithPublisher(mqttClient))
		optional["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		dispatcherOpts = append(dispatcherOpts, events.WithTelemetry(influxClient))
		optional["influxdb"] = influxClient
	}

	dispatcher := events.NewDispatcher(log.Logger, dispatcherOpts...)
	defer func() {
		log.Info("flushing event queue")
		dispatcher.Close()
	}()
	tracker.SetOnBlocked(dispatcher.Blocked)

	// Door controller
	relay := device.NewRelay(device.Config{
		Host:    cfg.Device.Host,
		Port:    cfg.Device.Port,
		Timeout: cfg.DeviceTimeout(),
	})
	relay.SetLogger(log)
	relay.AddSink(dispatcher)
	log.Info("door controller configured", "address", relay.Address())

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		RateLimit:   cfg.Security.RateLimit,
		Logger:      log,
		Coordinator: coordinator,
		Sessions:    sessions,
		Tracker:     tracker,
		Users:       users,
		Relay:       relay,
		AccessLogs:  accessLogs,
		Events:      dispatcher,
		Database:    db,
		Optional:    optional,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if checkErr := healthCheck(ctx, db, optional); checkErr != nil {
		log.Warn("startup health check failed", "error", checkErr)
	}

	go runStatsLoop(ctx, cfg.StatsInterval(), tracker, dispatcher)

	log.Info("doorgate started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred closes run in reverse: API server, InfluxDB, MQTT, access
	// log flush, database.
	log.Info("doorgate stopped")
	return nil
}

// runStatsLoop prunes expired lockout records and reports tracker totals
// every interval until ctx is cancelled.
func runStatsLoop(ctx context.Context, interval time.Duration, tracker *auth.LockoutTracker, dispatcher *events.Dispatcher) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tracker.Prune()
			dispatcher.LockoutStats(tracker.StatsSnapshot())
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses DOORGATE_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the database and every optional connection.
// Returns the first failure.
func healthCheck(ctx context.Context, db *database.DB, optional map[string]api.HealthChecker) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	for name, checker := range optional {
		if err := checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
