// BA Core - Device Health Monitoring Service
//
// This is the main entry point for the monitoring service. It polls
// building devices over Modbus TCP, tracks consecutive failures,
// drives the alert lifecycle, and pushes real-time events to
// dashboards over WebSocket (and optionally MQTT).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/yenshow/ba-backend-sub000/migrations"

	"github.com/yenshow/ba-backend-sub000/internal/alert"
	"github.com/yenshow/ba-backend-sub000/internal/api"
	"github.com/yenshow/ba-backend-sub000/internal/device"
	"github.com/yenshow/ba-backend-sub000/internal/infrastructure/config"
	"github.com/yenshow/ba-backend-sub000/internal/infrastructure/database"
	"github.com/yenshow/ba-backend-sub000/internal/infrastructure/logging"
	"github.com/yenshow/ba-backend-sub000/internal/infrastructure/mqtt"
	"github.com/yenshow/ba-backend-sub000/internal/infrastructure/tsdb"
	"github.com/yenshow/ba-backend-sub000/internal/modbus"
	"github.com/yenshow/ba-backend-sub000/internal/monitor"
	"github.com/yenshow/ba-backend-sub000/internal/notify"
	"github.com/yenshow/ba-backend-sub000/internal/threshold"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting BA Core",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and run migrations
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Device registry
	deviceRepo := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(deviceRepo)
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}

	// Notification hub
	hub := notify.NewHub(cfg.WebSocket, log)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	// Optional MQTT mirror: alert and device-status events are copied
	// to the integration bus for external head-ends.
	var notifier alert.Broadcaster = hub
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		mqttClient.SetLogger(log)
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
		notifier = mqtt.NewMirror(hub, mqttClient, log)
	} else {
		log.Info("MQTT disabled")
	}

	// Alert lifecycle
	alertRepo := alert.NewSQLiteRepository(db.DB)
	alerts := alert.NewService(alert.Deps{
		Repo:            alertRepo,
		Notifier:        notifier,
		Logger:          log,
		RecountDebounce: cfg.Monitor.GetRecountDebounce(),
	})
	defer alerts.Close()

	tracker := alert.NewTracker(alert.TrackerDeps{
		Repo:             alertRepo,
		Alerts:           alerts,
		Resolver:         registry,
		Logger:           log,
		DefaultThreshold: cfg.Monitor.DefaultErrorThreshold,
	})

	evaluator := threshold.NewEvaluator(alerts, alertRepo, log)

	// Modbus connection pool
	pool := modbus.NewPool(modbus.Options{
		ConnectTimeout: cfg.Modbus.GetConnectTimeout(),
		ReadTimeout:    cfg.Modbus.GetReadTimeout(),
		WriteTimeout:   cfg.Modbus.GetWriteTimeout(),
		Logger:         log,
	})
	defer pool.CloseAll()

	// Optional telemetry
	var telemetry monitor.TelemetrySink
	if cfg.InfluxDB.Enabled {
		tsdbClient, tsdbErr := tsdb.Connect(cfg.InfluxDB)
		if tsdbErr != nil && !errors.Is(tsdbErr, tsdb.ErrDisabled) {
			return fmt.Errorf("connecting to InfluxDB: %w", tsdbErr)
		}
		if tsdbClient != nil {
			tsdbClient.SetOnError(func(err error) {
				log.Error("telemetry write error", "error", err)
			})
			defer func() {
				log.Info("closing telemetry connection")
				if closeErr := tsdbClient.Close(); closeErr != nil {
					log.Error("error closing telemetry", "error", closeErr)
				}
			}()
			log.Info("telemetry connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
			telemetry = tsdbClient
		}
	} else {
		log.Info("telemetry disabled")
	}

	// Monitoring scheduler and pollers
	scheduler := monitor.NewScheduler(cfg.Monitor.GetTickInterval(), log)

	pollerDeps := monitor.PollerDeps{
		Bus:         pool,
		Devices:     registry,
		Tracker:     tracker,
		Notifier:    notifier,
		Logger:      log,
		PollTimeout: cfg.Monitor.GetPollTimeout(),
		Telemetry:   telemetry,
	}

	controllerPoller := monitor.NewControllerPoller(pollerDeps)
	scheduler.Register(controllerPoller.Name(), controllerPoller.Poll, 0)

	sensorDeps := pollerDeps
	sensorDeps.Evaluator = evaluator
	sensorPoller := monitor.NewSensorPoller(sensorDeps)
	scheduler.Register(sensorPoller.Name(), sensorPoller.Poll, 0)

	lightingPoller := monitor.NewLightingPoller(pollerDeps)
	scheduler.Register(lightingPoller.Name(), lightingPoller.Poll, 0)

	if startErr := scheduler.Start(ctx); startErr != nil {
		return fmt.Errorf("starting scheduler: %w", startErr)
	}
	defer scheduler.Stop()

	// HTTP API
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Alerts:    alerts,
		Registry:  registry,
		Scheduler: scheduler,
		Hub:       hub,
		Version:   version,
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

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API server,
	// scheduler (waits for in-flight polls), Modbus pool, telemetry,
	// alert service, MQTT, database.

	log.Info("BA Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BACORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BACORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
